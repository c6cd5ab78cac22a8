// Package fsutil finds image stack files on disk and watches directories for new ones.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var stackExts = map[string]struct{}{
	".tif":  {},
	".tiff": {},
	".btf":  {},
	".lsm":  {},
}

// IsStackFile reports whether path has a multi-page image extension.
// Hidden files and editor temporaries are ignored.
func IsStackFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	_, ok := stackExts[strings.ToLower(filepath.Ext(base))]
	return ok
}

// ListStacks returns all stack files under root in lexical order.
func ListStacks(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsStackFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// ExpandPaths replaces each directory in paths with the stack files below it.
// Plain files are kept as given, whatever their extension. Duplicates are dropped.
func ExpandPaths(paths []string) (files, dirs []string, err error) {
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		dirs = append(dirs, p)
		found, err := ListStacks(p)
		if err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", p, err)
		}
		for _, f := range found {
			add(f)
		}
	}
	return files, dirs, nil
}
