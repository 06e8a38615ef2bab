package autofix

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var envRefRes = []*regexp.Regexp{
	regexp.MustCompile(`process\.env\.([A-Z][A-Z0-9_]*)`),
	regexp.MustCompile(`process\.env\[['"]([A-Z][A-Z0-9_]*)['"]\]`),
	regexp.MustCompile(`os\.environ\[['"]([A-Z][A-Z0-9_]*)['"]\]`),
	regexp.MustCompile(`os\.environ\.get\(['"]([A-Z][A-Z0-9_]*)['"]`),
	regexp.MustCompile(`os\.Getenv\("([A-Z][A-Z0-9_]*)"\)`),
}

// Runtime-provided variables that should not be synced to providers.
var envScanIgnore = map[string]bool{
	"PORT":     true,
	"NODE_ENV": true,
	"PATH":     true,
	"HOME":     true,
	"PWD":      true,
}

var envScanExts = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".mjs": true, ".cjs": true, ".py": true, ".go": true,
}

var envSkipDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true,
	"build": true, "__pycache__": true, ".next": true, "vendor": true,
}

// DiscoverEnvVars scans source files under dir for environment-variable
// references and returns the sorted, de-duplicated names.
func DiscoverEnvVars(dir string) ([]string, error) {
	found := make(map[string]bool)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if envSkipDirs[d.Name()] && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !envScanExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content := string(data)
		for _, re := range envRefRes {
			for _, m := range re.FindAllStringSubmatch(content, -1) {
				if !envScanIgnore[m[1]] {
					found[m[1]] = true
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
