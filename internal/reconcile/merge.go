package reconcile

import (
	"path"
	"strings"

	"github.com/splax/previewd/internal/domain"
)

// DefaultExplanation is used when a response carries no explanation section.
const DefaultExplanation = "Applied automated fixes to resolve the reported issue."

// Outcome is the result of merging a response onto a file set.
type Outcome struct {
	Files domain.FileSet
	// Changed lists paths whose content differs from the original, in merge order.
	// It includes Created.
	Changed     []string
	Created     []string
	Skipped     []string
	Explanation string
	Stats       []FileStat
}

// Additions sums added lines across changed files.
func (o Outcome) Additions() int {
	n := 0
	for _, s := range o.Stats {
		n += s.Additions
	}
	return n
}

// Deletions sums removed lines across changed files.
func (o Outcome) Deletions() int {
	n := 0
	for _, s := range o.Stats {
		n += s.Deletions
	}
	return n
}

// Apply merges the code blocks in response onto original. It never fails:
// malformed output degrades to zero changes.
func Apply(original domain.FileSet, response string) Outcome {
	p := parse(response)
	merged := original.Clone()
	out := Outcome{Skipped: p.skipped, Explanation: p.explanation}
	if out.Explanation == "" {
		out.Explanation = DefaultExplanation
	}

	touched := make([]string, 0, len(p.blocks))
	seen := make(map[string]bool, len(p.blocks))
	for _, b := range p.blocks {
		target, existing := MatchPath(original, b.Path)
		var content string
		if existing {
			content = mergeContent(mustGet(original, target), b)
		} else {
			target = normalizePath(b.Path)
			content = toLF(b.Content)
		}
		merged.Put(target, content)
		if !seen[target] {
			seen[target] = true
			touched = append(touched, target)
		}
	}

	for _, name := range touched {
		next, _ := merged.Get(name)
		prev, existed := original.Get(name)
		if existed && prev == next {
			continue
		}
		out.Changed = append(out.Changed, name)
		if !existed {
			out.Created = append(out.Created, name)
		}
		out.Stats = append(out.Stats, diffStat(name, prev, next))
	}
	out.Files = merged
	return out
}

// MatchPath resolves candidate against the paths in files. Matching prefers an
// exact path, then a leading-slash normalized path, then a path suffix and
// finally the bare filename; ties go to the earliest file in the set.
func MatchPath(files domain.FileSet, candidate string) (string, bool) {
	if files.Has(candidate) {
		return candidate, true
	}
	paths := files.Paths()
	norm := normalizePath(candidate)
	for _, p := range paths {
		if normalizePath(p) == norm {
			return p, true
		}
	}
	if strings.Contains(norm, "/") {
		for _, p := range paths {
			if strings.HasSuffix(normalizePath(p), "/"+norm) {
				return p, true
			}
		}
	}
	base := path.Base(norm)
	for _, p := range paths {
		if path.Base(normalizePath(p)) == base {
			return p, true
		}
	}
	return "", false
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.TrimLeft(p, "/")
}

// Rendered is content as it is written inside a prompt code block: terminated
// by exactly the line break it already has, or one added newline.
func Rendered(content string) string {
	if strings.HasSuffix(content, "\n") {
		return content
	}
	return content + "\n"
}

// mergeContent returns the new content for an existing file. A block that
// echoes prev as rendered, in either line-ending style, keeps prev byte for
// byte. Otherwise prev's line endings and final line break carry over.
func mergeContent(prev string, b Block) string {
	rendered := Rendered(prev)
	if b.body == rendered || toLF(b.body) == toLF(rendered) {
		return prev
	}
	next := b.Content
	crlf := strings.Contains(prev, "\r\n")
	if !crlf {
		next = toLF(next)
	}
	switch {
	case strings.HasSuffix(next, "\n"):
	case crlf && strings.HasSuffix(prev, "\r\n"):
		next += "\r\n"
	case strings.HasSuffix(prev, "\n"):
		next += "\n"
	}
	return next
}

func toLF(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func mustGet(files domain.FileSet, p string) string {
	content, _ := files.Get(p)
	return content
}
