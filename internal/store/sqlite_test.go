package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichaLL27/shipfix/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{
		Name:           "demo-app",
		NormalizedPath: "/tmp/demo-app",
		ProjectType:    models.ProjectTypeNode,
		BuildCmd:       "npm run build",
		EnvVars: map[string]models.EnvVar{
			"API_KEY": {Value: "secret", IsSecret: true},
		},
	}
	require.NoError(t, s.CreateProject(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, models.ProjectStatusRegistered, p.Status)
	assert.Equal(t, models.AutoFixStatusNone, p.AutoFixStatus)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo-app", got.Name)
	assert.Equal(t, models.ProjectTypeNode, got.ProjectType)
	assert.Equal(t, "secret", got.EnvVars["API_KEY"].Value)
	assert.True(t, got.EnvVars["API_KEY"].IsSecret)

	byName, err := s.GetProjectByName(ctx, "demo-app")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	got.Status = models.ProjectStatusDeployed
	got.DeployedURL = "https://demo-app.example.dev"
	got.HealthFailures = 2
	require.NoError(t, s.UpdateProject(ctx, got))

	updated, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusDeployed, updated.Status)
	assert.Equal(t, "https://demo-app.example.dev", updated.DeployedURL)
	assert.Equal(t, 2, updated.HealthFailures)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	_, err = s.GetProject(ctx, p.ID)
	assert.Error(t, err)
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject(context.Background(), "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestListProjectsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deployed := &models.Project{Name: "a", Status: models.ProjectStatusDeployed}
	registered := &models.Project{Name: "b"}
	require.NoError(t, s.CreateProject(ctx, deployed))
	require.NoError(t, s.CreateProject(ctx, registered))

	got, err := s.ListProjectsByStatus(ctx, models.ProjectStatusDeployed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)

	all, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreatePullRequest_SequentialNumbers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "seq"}
	require.NoError(t, s.CreateProject(ctx, p))

	pr1 := &models.PullRequest{
		ProjectID: p.ID,
		Title:     "Auto-fix changes",
		Diff: []models.FileDiff{
			{Path: "src/index.js", Change: models.ChangeModified, Before: "a", After: "b"},
		},
	}
	require.NoError(t, s.CreatePullRequest(ctx, pr1))
	assert.Equal(t, 1, pr1.PRNumber)
	assert.Equal(t, models.PRStatusOpen, pr1.Status)

	pr2 := &models.PullRequest{ProjectID: p.ID, Title: "Second pass"}
	require.NoError(t, s.CreatePullRequest(ctx, pr2))
	assert.Equal(t, 2, pr2.PRNumber)

	// Counter is persisted on the project
	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LastPRNumber)

	// Diff round-trips
	stored, err := s.GetPullRequest(ctx, pr1.ID)
	require.NoError(t, err)
	require.Len(t, stored.Diff, 1)
	assert.Equal(t, models.ChangeModified, stored.Diff[0].Change)
	assert.Equal(t, "a", stored.Diff[0].Before)
}

func TestCreatePullRequest_UnknownProject(t *testing.T) {
	s := newTestStore(t)
	err := s.CreatePullRequest(context.Background(), &models.PullRequest{ProjectID: "missing"})
	assert.ErrorContains(t, err, "not found")
}

func TestDeleteProject_CascadesPullRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "cascade"}
	require.NoError(t, s.CreateProject(ctx, p))
	pr := &models.PullRequest{ProjectID: p.ID}
	require.NoError(t, s.CreatePullRequest(ctx, pr))

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	prs, err := s.ListPullRequests(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, prs)
}

func TestUpdatePullRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "upd"}
	require.NoError(t, s.CreateProject(ctx, p))
	pr := &models.PullRequest{ProjectID: p.ID}
	require.NoError(t, s.CreatePullRequest(ctx, pr))

	pr.Status = models.PRStatusMerged
	require.NoError(t, s.UpdatePullRequest(ctx, pr))

	got, err := s.GetPullRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PRStatusMerged, got.Status)
}
