// Package reconcile turns free-text repair output into file changes merged onto a FileSet.
package reconcile

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

const hardEndMarker = "```END"

var (
	blockStartRegex  = regexp.MustCompile("^\\s*[>|]*```\\s*([A-Za-z0-9_+.-]*)")
	explanationRegex = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*)?\s*explanation\s*(?:\*\*)?\s*:?\s*(?:\*\*)?\s*(.*)$`)
)

var extensionless = map[string]bool{
	"containerfile": true,
	"dockerfile":    true,
	"gemfile":       true,
	"license":       true,
	"makefile":      true,
	"procfile":      true,
}

// Block is one labeled code block extracted from a response.
type Block struct {
	Path     string
	Language string
	// Content is the block body without its final line break.
	Content string
	body    string
}

type parsed struct {
	blocks      []Block
	skipped     []string
	explanation string
}

// ParseBlocks extracts labeled code blocks from response. Blocks without a usable
// path, and blocks that elide content with "... unchanged" placeholders, are dropped.
func ParseBlocks(response string) []Block {
	return parse(response).blocks
}

func parse(response string) parsed {
	var out parsed
	lines := strings.Split(sanitize(response), "\n")

	var (
		inBlock     bool
		current     Block
		body        strings.Builder
		partial     bool
		explanation []string
		inExplain   bool
	)
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !inBlock {
			lang, isStart := blockStart(line)
			if isStart {
				inExplain = false
				p := headerPath(line)
				if p == "" && i+1 < len(lines) {
					if next := headerPath(lines[i+1]); next != "" {
						p = next
						i++
					}
				}
				inBlock = true
				current = Block{Path: p, Language: lang}
				body.Reset()
				partial = false
				continue
			}
			if m := explanationRegex.FindStringSubmatch(line); m != nil {
				inExplain = true
				explanation = explanation[:0]
				if rest := strings.TrimSpace(m[1]); rest != "" {
					explanation = append(explanation, rest)
				}
				continue
			}
			if inExplain {
				explanation = append(explanation, strings.TrimRight(line, "\r"))
			}
			continue
		}

		if isBlockEnd(line, current.Language) {
			inBlock = false
			switch {
			case current.Path == "":
			case partial:
				out.skipped = append(out.skipped, current.Path)
			default:
				current.body = body.String()
				current.Content = strings.TrimSuffix(strings.TrimSuffix(current.body, "\n"), "\r")
				out.blocks = append(out.blocks, current)
			}
			continue
		}
		if isPartialMarker(line) {
			partial = true
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	out.explanation = strings.TrimSpace(strings.Join(explanation, "\n"))
	return out
}

func blockStart(line string) (string, bool) {
	if strings.TrimSpace(line) == hardEndMarker {
		return "", false
	}
	m := blockStartRegex.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

func isBlockEnd(line, language string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == hardEndMarker {
		return true
	}
	if trimmed == "```" {
		return language != "markdown" && language != "md"
	}
	return false
}

func isPartialMarker(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	idx := strings.Index(lower, "...")
	if idx == -1 {
		idx = strings.Index(lower, "…")
	}
	return idx != -1 && strings.Contains(lower[idx:], "unchanged")
}

// headerPath reads a "# path" label from line, returning "" when none is usable.
func headerPath(line string) string {
	idx := strings.LastIndex(line, "#")
	if idx == -1 {
		return ""
	}
	rest := strings.TrimSpace(line[idx+1:])
	if rest == "" {
		return ""
	}
	candidate := strings.Trim(strings.Fields(rest)[0], "`'\"")
	if !validPath(candidate) {
		return ""
	}
	return candidate
}

func validPath(p string) bool {
	if p == "" || strings.HasSuffix(p, "/") || strings.ContainsAny(p, "\\") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	base := path.Base(p)
	if extensionless[strings.ToLower(base)] {
		return true
	}
	dot := strings.LastIndex(base, ".")
	return dot >= 0 && dot < len(base)-1
}

// sanitize drops control characters other than line breaks and tab. Carriage
// returns stay in block bodies; fence detection trims them.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
