package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichaLL27/shipfix/internal/autofix"
	"github.com/MichaLL27/shipfix/internal/deploy"
	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/orchestrator"
	"github.com/MichaLL27/shipfix/internal/store"
)

type stubFixer struct{}

func (stubFixer) Do(_ context.Context, p *models.Project) *autofix.Report {
	return &autofix.Report{
		Status:         models.AutoFixStatusSuccess,
		BuildSucceeded: true,
		ReadyForDeploy: true,
		Actions:        []string{"build succeeded on cycle 1"},
	}
}

type stubCoordinator struct {
	s store.Store
}

func (c stubCoordinator) Deploy(ctx context.Context, p *models.Project) (*deploy.Result, error) {
	p.Status = models.ProjectStatusDeployed
	p.DeployedURL = "http://localhost:4321"
	if err := c.s.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return &deploy.Result{Provider: "local", DeployedURL: p.DeployedURL, Status: "live"}, nil
}

func newTestServer(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	orch := orchestrator.New(s, stubFixer{}, stubCoordinator{s: s}, nil)
	return NewServer(s, orch).Router(), s
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProject(t *testing.T, rec *httptest.ResponseRecorder) models.Project {
	t.Helper()
	var p models.Project
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func nodeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"demo"}`), 0644))
	return dir
}

func TestCreateProject_DetectsTypeAndDefaults(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects", map[string]any{
		"Name":           "demo",
		"NormalizedPath": nodeDir(t),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	p := decodeProject(t, rec)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, models.ProjectStatusRegistered, p.Status)
	assert.Equal(t, models.ProjectTypeNode, p.ProjectType)
	assert.Equal(t, "npm install", p.InstallCmd)
	assert.Equal(t, "npm start", p.StartCmd)
}

func TestCreateProject_RequiresNameAndPath(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects", map[string]any{"Name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProject_NotFound(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProject_PatchesCommands(t *testing.T) {
	h, s := newTestServer(t)
	p := &models.Project{Name: "demo", NormalizedPath: nodeDir(t), BuildCmd: "npm run build"}
	require.NoError(t, s.CreateProject(context.Background(), p))

	rec := doRequest(t, h, http.MethodPut, "/api/v1/projects/"+p.ID, map[string]any{
		"BuildCmd": "npm run build:prod",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decodeProject(t, rec)
	assert.Equal(t, "npm run build:prod", updated.BuildCmd)
	assert.Equal(t, "demo", updated.Name, "absent keys are untouched")
}

func TestUpdateEnv_MergesVars(t *testing.T) {
	h, s := newTestServer(t)
	p := &models.Project{
		Name:           "demo",
		NormalizedPath: nodeDir(t),
		EnvVars:        map[string]models.EnvVar{"KEEP": {Value: "1"}},
	}
	require.NoError(t, s.CreateProject(context.Background(), p))

	rec := doRequest(t, h, http.MethodPut, "/api/v1/projects/"+p.ID+"/env", map[string]models.EnvVar{
		"API_KEY": {Value: "secret", IsSecret: true},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decodeProject(t, rec)
	assert.Equal(t, "1", updated.EnvVars["KEEP"].Value)
	assert.Equal(t, "secret", updated.EnvVars["API_KEY"].Value)
	assert.True(t, updated.EnvVars["API_KEY"].IsSecret)
}

func TestDeleteProject_RemovesArtifacts(t *testing.T) {
	h, s := newTestServer(t)
	dir := nodeDir(t)
	p := &models.Project{Name: "demo", NormalizedPath: dir}
	require.NoError(t, s.CreateProject(context.Background(), p))

	rec := doRequest(t, h, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.NoDirExists(t, dir)
	_, err := s.GetProject(context.Background(), p.ID)
	assert.Error(t, err)
}

func TestTransition_AutoFixAccepted(t *testing.T) {
	h, s := newTestServer(t)
	p := &models.Project{Name: "demo", NormalizedPath: nodeDir(t)}
	require.NoError(t, s.CreateProject(context.Background(), p))

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/"+p.ID+"/autofix", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The response carries the in-progress marker; the terminal state
	// lands asynchronously.
	accepted := decodeProject(t, rec)
	assert.Equal(t, models.AutoFixStatusRunning, accepted.AutoFixStatus)

	require.Eventually(t, func() bool {
		saved, err := s.GetProject(context.Background(), p.ID)
		return err == nil && saved.AutoFixStatus == models.AutoFixStatusSuccess
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTransition_IllegalStateConflict(t *testing.T) {
	h, s := newTestServer(t)
	p := &models.Project{Name: "demo", NormalizedPath: nodeDir(t), Status: models.ProjectStatusRegistered}
	require.NoError(t, s.CreateProject(context.Background(), p))

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/"+p.ID+"/deploy", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not allow deploy")
}

func TestTransition_DeployAccepted(t *testing.T) {
	h, s := newTestServer(t)
	p := &models.Project{Name: "demo", NormalizedPath: nodeDir(t), Status: models.ProjectStatusQAPassed}
	require.NoError(t, s.CreateProject(context.Background(), p))

	rec := doRequest(t, h, http.MethodPost, "/api/v1/projects/"+p.ID+"/deploy", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		saved, err := s.GetProject(context.Background(), p.ID)
		return err == nil && saved.Status == models.ProjectStatusDeployed
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPullRequestEndpoints(t *testing.T) {
	h, s := newTestServer(t)
	ctx := context.Background()

	normalized := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(normalized, "app.js"), []byte("old"), 0644))
	patch := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(patch, "app.js"), []byte("new"), 0644))

	p := &models.Project{Name: "demo", NormalizedPath: normalized}
	require.NoError(t, s.CreateProject(ctx, p))

	pullReq := &models.PullRequest{
		ProjectID: p.ID,
		Title:     "Auto-fix: 1 file(s) changed",
		Status:    models.PRStatusOpen,
		Diff: []models.FileDiff{
			{Path: "app.js", Change: models.ChangeModified, Before: "old", After: "new"},
		},
		PatchPath: patch,
	}
	require.NoError(t, s.CreatePullRequest(ctx, pullReq))

	rec := doRequest(t, h, http.MethodGet, "/api/v1/projects/"+p.ID+"/prs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prs []models.PullRequest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prs))
	require.Len(t, prs, 1)
	assert.Equal(t, 1, prs[0].PRNumber)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/prs/"+pullReq.ID+"/merge", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data, err := os.ReadFile(filepath.Join(normalized, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	// Merged is terminal.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/prs/"+pullReq.ID+"/close", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusOverview(t *testing.T) {
	h, s := newTestServer(t)
	ctx := context.Background()

	for i, status := range []models.ProjectStatus{
		models.ProjectStatusRegistered,
		models.ProjectStatusDeployed,
		models.ProjectStatusDeployed,
	} {
		p := &models.Project{Name: fmt.Sprintf("p%d", i), NormalizedPath: nodeDir(t), Status: status}
		require.NoError(t, s.CreateProject(ctx, p))
	}

	rec := doRequest(t, h, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var overview struct {
		Total    int            `json:"total"`
		Deployed int            `json:"deployed"`
		ByStatus map[string]int `json:"byStatus"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&overview))
	assert.Equal(t, 3, overview.Total)
	assert.Equal(t, 2, overview.Deployed)
	assert.Equal(t, 1, overview.ByStatus["registered"])
}
