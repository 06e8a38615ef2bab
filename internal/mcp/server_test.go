package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichaLL27/shipfix/internal/autofix"
	"github.com/MichaLL27/shipfix/internal/deploy"
	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/orchestrator"
	"github.com/MichaLL27/shipfix/internal/store"
)

type stubFixer struct{}

func (stubFixer) Do(context.Context, *models.Project) *autofix.Report {
	return &autofix.Report{Status: models.AutoFixStatusSuccess, ReadyForDeploy: true}
}

type stubCoordinator struct{ s store.Store }

func (c stubCoordinator) Deploy(ctx context.Context, p *models.Project) (*deploy.Result, error) {
	p.Status = models.ProjectStatusDeployed
	if err := c.s.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return &deploy.Result{Provider: "local", Status: "live"}, nil
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	orch := orchestrator.New(s, stubFixer{}, stubCoordinator{s: s}, nil)
	return NewServer(s, orch), s
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text
}

func seedProject(t *testing.T, s store.Store, mutate func(*models.Project)) *models.Project {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{}`), 0644))
	p := &models.Project{
		Name:           "demo",
		ProjectType:    models.ProjectTypeNode,
		NormalizedPath: dir,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestHandleListProjects(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, nil)

	res, err := srv.handleListProjects(context.Background(), callRequest(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "demo", out[0]["name"])
	assert.Equal(t, "registered", out[0]["status"])
}

func TestHandleListProjects_StatusFilter(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, nil)

	res, err := srv.handleListProjects(context.Background(),
		callRequest(map[string]any{"status": "deployed"}))
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Empty(t, out)
}

func TestHandleProjectStatus(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, func(p *models.Project) {
		p.QAReport = "verdict: pass\n"
	})

	res, err := srv.handleProjectStatus(context.Background(),
		callRequest(map[string]any{"project": "demo"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "demo", out["name"])
	assert.Equal(t, "verdict: pass\n", out["qaReport"])
}

func TestHandleProjectStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	res, err := srv.handleProjectStatus(context.Background(),
		callRequest(map[string]any{"project": "ghost"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTransitionTool_IllegalStateReported(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, nil) // registered: deploy is illegal

	handler := srv.transitionHandler(orchestrator.ActionDeploy)
	res, err := handler(context.Background(), callRequest(map[string]any{"project": "demo"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "does not allow deploy")
}

func TestTransitionTool_StartsAutofix(t *testing.T) {
	srv, s := newTestServer(t)
	p := seedProject(t, s, nil)

	handler := srv.transitionHandler(orchestrator.ActionAutoFix)
	res, err := handler(context.Background(), callRequest(map[string]any{"project": "demo"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "autofix started")

	saved, err := s.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.AutoFixStatusNone, saved.AutoFixStatus)
}

func TestHandleListPRsAndMerge(t *testing.T) {
	srv, s := newTestServer(t)
	p := seedProject(t, s, nil)
	ctx := context.Background()

	patch := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(patch, "app.js"), []byte("fixed"), 0644))
	pullReq := &models.PullRequest{
		ProjectID: p.ID,
		Title:     "Auto-fix: 1 file(s) changed",
		Diff:      []models.FileDiff{{Path: "app.js", Change: models.ChangeAdded, After: "fixed"}},
		PatchPath: patch,
	}
	require.NoError(t, s.CreatePullRequest(ctx, pullReq))

	res, err := srv.handleListPRs(ctx, callRequest(map[string]any{"project": "demo"}))
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.Len(t, out, 1)
	assert.Equal(t, float64(1), out[0]["prNumber"])

	res, err = srv.handleMergePR(ctx, callRequest(map[string]any{"pr_id": pullReq.ID}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "merged pull request #1")

	data, err := os.ReadFile(filepath.Join(p.NormalizedPath, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "fixed", string(data))
}

func TestHandleMergePR_MissingParam(t *testing.T) {
	srv, _ := newTestServer(t)
	res, err := srv.handleMergePR(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
