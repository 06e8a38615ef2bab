// Package diffengine computes file-level differences between two folder
// snapshots. The repair loop uses it to turn a staged patch folder into an
// auditable pull-request change-set.
package diffengine

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/MichaLL27/shipfix/internal/models"
)

// MaxDiffBytes is the per-file content cap. Larger files still produce a
// FileDiff entry but their content is replaced by models.OversizeMarker.
const MaxDiffBytes = 48 * 1024

// skipDirs are dependency and VCS directories excluded from snapshots.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"__pycache__":  true,
	"vendor":       true,
}

// Diff compares two folder trees and returns one FileDiff per changed file,
// ordered by path. Unchanged files produce no entry.
func Diff(oldDir, newDir string) ([]models.FileDiff, error) {
	oldFiles, err := snapshot(oldDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot old tree: %w", err)
	}
	newFiles, err := snapshot(newDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot new tree: %w", err)
	}

	paths := make(map[string]bool, len(oldFiles)+len(newFiles))
	for p := range oldFiles {
		paths[p] = true
	}
	for p := range newFiles {
		paths[p] = true
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var diffs []models.FileDiff
	for _, rel := range sorted {
		inOld := oldFiles[rel]
		inNew := newFiles[rel]

		switch {
		case inOld && !inNew:
			content, err := readCapped(filepath.Join(oldDir, rel))
			if err != nil {
				return nil, err
			}
			diffs = append(diffs, models.FileDiff{Path: rel, Change: models.ChangeRemoved, Before: content})

		case !inOld && inNew:
			content, err := readCapped(filepath.Join(newDir, rel))
			if err != nil {
				return nil, err
			}
			diffs = append(diffs, models.FileDiff{Path: rel, Change: models.ChangeAdded, After: content})

		default:
			oldBytes, err := os.ReadFile(filepath.Join(oldDir, rel))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", rel, err)
			}
			newBytes, err := os.ReadFile(filepath.Join(newDir, rel))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", rel, err)
			}
			if bytes.Equal(oldBytes, newBytes) {
				continue
			}
			diffs = append(diffs, models.FileDiff{
				Path:   rel,
				Change: models.ChangeModified,
				Before: capContent(oldBytes),
				After:  capContent(newBytes),
			})
		}
	}
	return diffs, nil
}

// snapshot returns the set of relative file paths under root, excluding
// dependency and VCS directories. A missing root yields an empty set.
func snapshot(root string) (map[string]bool, error) {
	files := make(map[string]bool)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return files, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[rel] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// CopyTree copies every file under src into dst, overwriting existing files
// and creating directories as needed. Dependency and VCS directories are
// skipped, matching what Diff compares.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != src {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func readCapped(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return capContent(data), nil
}

func capContent(data []byte) string {
	if len(data) > MaxDiffBytes {
		return models.OversizeMarker
	}
	return string(data)
}
