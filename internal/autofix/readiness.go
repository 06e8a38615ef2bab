package autofix

import (
	"os"
	"path/filepath"

	"github.com/MichaLL27/shipfix/internal/models"
)

// entryFiles lists, per project type, the files of which at least one must
// exist for the project to be considered deployable. This is a structural
// assertion, not a build result.
var entryFiles = map[models.ProjectType][]string{
	models.ProjectTypeNode:   {"package.json"},
	models.ProjectTypeStatic: {"index.html"},
	models.ProjectTypePython: {"main.py", "app.py", "wsgi.py"},
	models.ProjectTypeGo:     {"go.mod"},
}

// ReadyForDeploy checks that a project's normalized folder has the minimum
// files required for its type. Unknown types pass if the folder is non-empty.
func ReadyForDeploy(projectType models.ProjectType, dir string) bool {
	candidates, ok := entryFiles[projectType]
	if !ok {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) > 0
	}
	for _, f := range candidates {
		if _, err := os.Stat(filepath.Join(dir, f)); err == nil {
			return true
		}
	}
	return false
}
