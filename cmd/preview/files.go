package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	apiclient "github.com/splax/previewd/pkg/api/client"
)

const maxUploadFileSize = 1 << 20

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".next":        true,
	".vercel":      true,
	"dist":         true,
	"build":        true,
	"out":          true,
	".turbo":       true,
	".cache":       true,
}

// readProject collects the text files under dir as upload entries with
// slash-separated relative paths. Binary and oversized files are skipped.
func readProject(dir string) ([]apiclient.File, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var files []apiclient.File
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxUploadFileSize {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, apiclient.File{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no source files found under %s", dir)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// writeProject writes files back under dir, touching only entries whose
// content differs. It returns the paths it wrote.
func writeProject(dir string, files []apiclient.File) ([]string, error) {
	var written []string
	for _, f := range files {
		clean := path.Clean(strings.TrimPrefix(f.Path, "/"))
		if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
			return written, fmt.Errorf("refusing to write outside %s: %q", dir, f.Path)
		}
		target := filepath.Join(dir, filepath.FromSlash(clean))
		existing, err := os.ReadFile(target)
		if err == nil && string(existing) == f.Content {
			continue
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return written, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return written, err
		}
		written = append(written, clean)
	}
	return written, nil
}
