package docker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/splax/previewd/internal/domain"
)

// workspaces owns per-deployment build directories under a common root.
type workspaces struct {
	root string
}

func newWorkspaces(root string) (*workspaces, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &workspaces{root: root}, nil
}

// prepare creates a clean directory for id and writes files into it.
func (w *workspaces) prepare(id string, files domain.FileSet, extra map[string]string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("workspace identifier cannot be empty")
	}
	dir := filepath.Join(w.root, id)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	for _, f := range files.Files() {
		if err := writeFile(dir, f.Path, f.Content, 0o644); err != nil {
			return "", err
		}
	}
	for path, content := range extra {
		if content == "" {
			continue
		}
		if err := writeFile(dir, path, content, 0o755); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func writeFile(dir, name, content string, mode os.FileMode) error {
	target := filepath.Join(dir, filepath.FromSlash(strings.TrimLeft(name, "/")))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%w: path %q escapes the workspace", domain.ErrInvalidInput, name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(target, []byte(content), mode); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// cleanup removes the workspace for id, refusing paths outside the root.
func (w *workspaces) cleanup(id string) error {
	if id == "" {
		return nil
	}
	path := filepath.Join(w.root, id)
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}
