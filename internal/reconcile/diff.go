package reconcile

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// FileStat counts line-level changes for one file.
type FileStat struct {
	Path      string
	Additions int
	Deletions int
}

func diffStat(path, before, after string) FileStat {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	stat := FileStat{Path: path}
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stat.Additions += n
		case diffmatchpatch.DiffDelete:
			stat.Deletions += n
		}
	}
	return stat
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
