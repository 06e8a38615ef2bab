package pr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func setupProjectWithPR(t *testing.T, s store.Store) (*models.Project, *models.PullRequest, string) {
	t.Helper()
	ctx := context.Background()

	normalized := t.TempDir()
	patch := t.TempDir()
	writeFile(t, normalized, "src/app.js", "old content")
	writeFile(t, normalized, "obsolete.js", "delete me")
	writeFile(t, patch, "src/app.js", "fixed content")
	writeFile(t, patch, "src/new.js", "brand new")

	project := &models.Project{Name: "merge-target", NormalizedPath: normalized}
	require.NoError(t, s.CreateProject(ctx, project))

	diff := []models.FileDiff{
		{Path: "src/app.js", Change: models.ChangeModified, Before: "old content", After: "fixed content"},
		{Path: "src/new.js", Change: models.ChangeAdded, After: "brand new"},
		{Path: "obsolete.js", Change: models.ChangeRemoved, Before: "delete me"},
	}
	pullReq, err := Open(ctx, s, project.ID, "Auto-fix changes", "repair loop output", diff, patch)
	require.NoError(t, err)
	assert.Equal(t, 1, pullReq.PRNumber)

	return project, pullReq, normalized
}

func TestMerge_AppliesPatchAndRemovals(t *testing.T) {
	s := newTestStore(t)
	_, pullReq, normalized := setupProjectWithPR(t, s)

	merged, err := Merge(context.Background(), s, pullReq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PRStatusMerged, merged.Status)
	require.NotNil(t, merged.ClosedAt)

	assert.Equal(t, "fixed content", readFile(t, normalized, "src/app.js"))
	assert.Equal(t, "brand new", readFile(t, normalized, "src/new.js"))
	_, err = os.Stat(filepath.Join(normalized, "obsolete.js"))
	assert.True(t, os.IsNotExist(err), "removed path should be deleted")
}

func TestMerge_TerminalStatusRejected(t *testing.T) {
	s := newTestStore(t)
	_, pullReq, _ := setupProjectWithPR(t, s)
	ctx := context.Background()

	_, err := Merge(ctx, s, pullReq.ID)
	require.NoError(t, err)

	// Merged is terminal: never reopened, never merged twice.
	_, err = Merge(ctx, s, pullReq.ID)
	assert.ErrorContains(t, err, "already merged")
	_, err = Close(ctx, s, pullReq.ID)
	assert.ErrorContains(t, err, "already merged")
}

func TestClose_NoFilesystemEffect(t *testing.T) {
	s := newTestStore(t)
	_, pullReq, normalized := setupProjectWithPR(t, s)

	closed, err := Close(context.Background(), s, pullReq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PRStatusClosed, closed.Status)

	// Target tree untouched
	assert.Equal(t, "old content", readFile(t, normalized, "src/app.js"))
	_, err = os.Stat(filepath.Join(normalized, "obsolete.js"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(normalized, "src/new.js"))
	assert.True(t, os.IsNotExist(err))
}
