package diffengine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichaLL27/shipfix/internal/models"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDiff_IdenticalTrees(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	writeFile(t, oldDir, "src/a.js", "same")
	writeFile(t, newDir, "src/a.js", "same")

	diffs, err := Diff(oldDir, newDir)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestDiff_SingleModifiedFile(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	writeFile(t, oldDir, "src/x.txt", "A")
	writeFile(t, newDir, "src/x.txt", "B")

	diffs, err := Diff(oldDir, newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, filepath.Join("src", "x.txt"), diffs[0].Path)
	assert.Equal(t, models.ChangeModified, diffs[0].Change)
	assert.Equal(t, "A", diffs[0].Before)
	assert.Equal(t, "B", diffs[0].After)
}

func TestDiff_AddedFile(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	writeFile(t, newDir, "new.txt", "fresh")

	diffs, err := Diff(oldDir, newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, models.ChangeAdded, diffs[0].Change)
	assert.Empty(t, diffs[0].Before)
	assert.Equal(t, "fresh", diffs[0].After)
}

func TestDiff_RemovedFile(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	writeFile(t, oldDir, "gone.txt", "bye")

	diffs, err := Diff(oldDir, newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, models.ChangeRemoved, diffs[0].Change)
	assert.Equal(t, "bye", diffs[0].Before)
	assert.Empty(t, diffs[0].After)
}

func TestDiff_SkipsDependencyDirs(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	writeFile(t, oldDir, "node_modules/pkg/index.js", "old")
	writeFile(t, newDir, "node_modules/pkg/index.js", "new")
	writeFile(t, oldDir, ".git/config", "x")

	diffs, err := Diff(oldDir, newDir)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestDiff_OversizeContentReplaced(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	big := strings.Repeat("x", MaxDiffBytes+1)
	writeFile(t, oldDir, "big.bin", big)
	writeFile(t, newDir, "big.bin", big+"y")

	diffs, err := Diff(oldDir, newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, models.OversizeMarker, diffs[0].Before)
	assert.Equal(t, models.OversizeMarker, diffs[0].After)
}

func TestDiff_MissingOldTreeIsAllAdded(t *testing.T) {
	newDir := t.TempDir()
	writeFile(t, newDir, "a.txt", "1")

	diffs, err := Diff(filepath.Join(t.TempDir(), "nonexistent"), newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, models.ChangeAdded, diffs[0].Change)
}
