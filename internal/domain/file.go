package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/splax/previewd/pkg/crypto"
)

// GeneratedFile is a single source file identified by its path.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileSet is an ordered collection of files with unique paths. Putting an
// existing path replaces its content in place; the original position is kept.
type FileSet struct {
	order []string
	files map[string]string
}

// NewFileSet builds a set from files; later duplicates overwrite earlier ones.
func NewFileSet(files ...GeneratedFile) FileSet {
	var fs FileSet
	for _, f := range files {
		fs.Put(f.Path, f.Content)
	}
	return fs
}

// Put inserts or replaces the file at path.
func (fs *FileSet) Put(path, content string) {
	if fs.files == nil {
		fs.files = make(map[string]string)
	}
	if _, ok := fs.files[path]; !ok {
		fs.order = append(fs.order, path)
	}
	fs.files[path] = content
}

// Get returns the content stored at path.
func (fs FileSet) Get(path string) (string, bool) {
	content, ok := fs.files[path]
	return content, ok
}

// Has reports whether path is present.
func (fs FileSet) Has(path string) bool {
	_, ok := fs.files[path]
	return ok
}

// Len returns the number of files.
func (fs FileSet) Len() int { return len(fs.order) }

// Paths returns paths in insertion order.
func (fs FileSet) Paths() []string {
	out := make([]string, len(fs.order))
	copy(out, fs.order)
	return out
}

// Files returns the files in insertion order.
func (fs FileSet) Files() []GeneratedFile {
	out := make([]GeneratedFile, 0, len(fs.order))
	for _, p := range fs.order {
		out = append(out, GeneratedFile{Path: p, Content: fs.files[p]})
	}
	return out
}

// Clone returns a deep copy that can be mutated independently.
func (fs FileSet) Clone() FileSet {
	out := FileSet{
		order: make([]string, len(fs.order)),
		files: make(map[string]string, len(fs.files)),
	}
	copy(out.order, fs.order)
	for k, v := range fs.files {
		out.files[k] = v
	}
	return out
}

// Fingerprint digests paths and contents in order.
func (fs FileSet) Fingerprint() string {
	fp := crypto.NewFingerprint()
	for _, p := range fs.order {
		fp.Add(p, fs.files[p])
	}
	return fp.Sum()
}

// TotalBytes sums the content size of every file.
func (fs FileSet) TotalBytes() int {
	total := 0
	for _, c := range fs.files {
		total += len(c)
	}
	return total
}

// Validate reports ErrInvalidInput for an empty set or unusable paths.
func (fs FileSet) Validate() error {
	if fs.Len() == 0 {
		return fmt.Errorf("%w: file set is empty", ErrInvalidInput)
	}
	for _, p := range fs.order {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			return fmt.Errorf("%w: file with empty path", ErrInvalidInput)
		}
		if strings.HasSuffix(trimmed, "/") {
			return fmt.Errorf("%w: path %q names a directory", ErrInvalidInput, p)
		}
		for _, seg := range strings.Split(strings.TrimPrefix(trimmed, "/"), "/") {
			if seg == ".." {
				return fmt.Errorf("%w: path %q escapes the project root", ErrInvalidInput, p)
			}
		}
	}
	return nil
}

// MarshalJSON encodes the set as an ordered array of files.
func (fs FileSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(fs.Files())
}

// UnmarshalJSON decodes an array of files, applying last-write-wins.
func (fs *FileSet) UnmarshalJSON(data []byte) error {
	var files []GeneratedFile
	if err := json.Unmarshal(data, &files); err != nil {
		return err
	}
	*fs = NewFileSet(files...)
	return nil
}
