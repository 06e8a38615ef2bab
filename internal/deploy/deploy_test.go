package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/retry"
	"github.com/MichaLL27/shipfix/internal/runner"
)

type memStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
}

func newMemStore(projects ...*models.Project) *memStore {
	s := &memStore{projects: make(map[string]*models.Project)}
	for _, p := range projects {
		cp := *p
		s.projects[p.ID] = &cp
	}
	return s
}

func (s *memStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project not found: %s", id)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) UpdateProject(_ context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) snapshot(id string) *models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.projects[id]
	return &cp
}

func noRetry() retry.Policy { return retry.Policy{MaxAttempts: 1} }

func staticSiteProject(t *testing.T) *models.Project {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>hi</html>"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0644))
	return &models.Project{
		ID:             "p1",
		Name:           "demo",
		Status:         models.ProjectStatusDeploying,
		ProjectType:    models.ProjectTypeStatic,
		NormalizedPath: dir,
	}
}

func TestCoordinator_StaticDeploy_UploadsMissingBlobs(t *testing.T) {
	var mu sync.Mutex
	var uploaded []string
	deployCalls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v13/deployments":
			mu.Lock()
			deployCalls++
			call := deployCalls
			mu.Unlock()

			var req deploymentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Files, 2)

			if call == 1 {
				// Remote has none of the blobs yet.
				missing := []string{req.Files[0].SHA, req.Files[1].SHA}
				json.NewEncoder(w).Encode(map[string]any{
					"id": "dpl_1", "missingFiles": missing,
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": "dpl_2", "url": "demo.vercel.app",
			})

		case r.Method == http.MethodPost && r.URL.Path == "/v2/files":
			mu.Lock()
			uploaded = append(uploaded, r.Header.Get("x-vercel-digest"))
			mu.Unlock()
			w.WriteHeader(http.StatusOK)

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	project := staticSiteProject(t)
	store := newMemStore(project)

	static := NewStaticProvider("tok")
	static.BaseURL = srv.URL
	static.Retry = noRetry()

	c := NewCoordinator(store, static, nil, nil)
	res, err := c.Deploy(context.Background(), project)
	require.NoError(t, err)

	assert.Equal(t, "https://demo.vercel.app", res.DeployedURL)
	assert.Equal(t, "dpl_2", res.DeployID)
	assert.Len(t, uploaded, 2)
	assert.Equal(t, 2, deployCalls)

	saved := store.snapshot("p1")
	assert.Equal(t, models.ProjectStatusDeployed, saved.Status)
	assert.Equal(t, "live", saved.LastDeployStatus)
	assert.Equal(t, int64(1), saved.DeployGeneration)
	assert.Contains(t, saved.DeployLog, "content-addressed upload")
	assert.Contains(t, saved.DeployLog, "missing 2 blob(s)")
}

func TestCoordinator_StaticFailureIsStrict(t *testing.T) {
	staticSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "internal", "message": "boom"},
		})
	}))
	defer staticSrv.Close()

	renderHits := 0
	renderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renderHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer renderSrv.Close()

	project := staticSiteProject(t)
	store := newMemStore(project)

	static := NewStaticProvider("tok")
	static.BaseURL = staticSrv.URL
	static.Retry = noRetry()
	render := NewRenderProvider("key")
	render.BaseURL = renderSrv.URL
	render.Retry = noRetry()

	c := NewCoordinator(store, static, render, nil)
	_, err := c.Deploy(context.Background(), project)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "static", provErr.Provider)
	assert.True(t, provErr.Strict)
	// Strict failure never falls through to the next provider.
	assert.Equal(t, 0, renderHits)
	assert.Equal(t, "deploy_failed", store.snapshot("p1").LastDeployStatus)
}

func renderServer(t *testing.T, statuses []string) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	polls := 0
	pollCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return polls
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/services":
			json.NewEncoder(w).Encode(map[string]any{
				"id":             "srv_1",
				"serviceDetails": map[string]any{"url": "https://demo.onrender.com"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/postgres":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "db_1"})
		case r.Method == http.MethodPost && r.URL.Path == "/services/srv_1/deploys":
			json.NewEncoder(w).Encode(map[string]any{"id": "dep_1", "status": "pending"})
		case r.Method == http.MethodGet && r.URL.Path == "/services/srv_1/deploys/dep_1":
			mu.Lock()
			idx := polls
			if idx >= len(statuses) {
				idx = len(statuses) - 1
			}
			polls++
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"id": "dep_1", "status": statuses[idx]})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	return srv, pollCount
}

func TestCoordinator_RenderDeploy_PollsToLive(t *testing.T) {
	srv, _ := renderServer(t, []string{"building", "live"})
	defer srv.Close()

	project := &models.Project{
		ID:          "p1",
		Name:        "demo",
		Status:      models.ProjectStatusDeploying,
		ProjectType: models.ProjectTypeNode,
		StartCmd:    "npm start",
	}
	store := newMemStore(project)

	render := NewRenderProvider("key")
	render.BaseURL = srv.URL
	render.Retry = noRetry()

	c := NewCoordinator(store, nil, render, nil)
	c.PollInterval = 5 * time.Millisecond

	res, err := c.Deploy(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, "deploying", res.Status)
	assert.Equal(t, "dep_1", res.DeployID)
	assert.Equal(t, "https://demo.onrender.com", res.DeployedURL)

	require.Eventually(t, func() bool {
		return store.snapshot("p1").Status == models.ProjectStatusDeployed
	}, 2*time.Second, 5*time.Millisecond)

	saved := store.snapshot("p1")
	assert.Equal(t, "live", saved.LastDeployStatus)
	assert.Equal(t, "srv_1", saved.RenderServiceID)
}

func TestCoordinator_RenderDeploy_FailureStatusTerminal(t *testing.T) {
	srv, _ := renderServer(t, []string{"building", "build_failed"})
	defer srv.Close()

	project := &models.Project{
		ID:     "p1",
		Name:   "demo",
		Status: models.ProjectStatusDeploying,
	}
	store := newMemStore(project)

	render := NewRenderProvider("key")
	render.BaseURL = srv.URL
	render.Retry = noRetry()

	c := NewCoordinator(store, nil, render, nil)
	c.PollInterval = 5 * time.Millisecond

	_, err := c.Deploy(context.Background(), project)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.snapshot("p1").Status == models.ProjectStatusDeployFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "build_failed", store.snapshot("p1").LastDeployStatus)
}

func TestCoordinator_StalePollSuperseded(t *testing.T) {
	srv, polls := renderServer(t, []string{"live"})
	defer srv.Close()

	project := &models.Project{
		ID:     "p1",
		Name:   "demo",
		Status: models.ProjectStatusDeploying,
	}
	store := newMemStore(project)

	render := NewRenderProvider("key")
	render.BaseURL = srv.URL
	render.Retry = noRetry()

	c := NewCoordinator(store, nil, render, nil)
	c.PollInterval = 20 * time.Millisecond

	_, err := c.Deploy(context.Background(), project)
	require.NoError(t, err)

	// A newer deploy bumps the generation before the first poll lands.
	newer := store.snapshot("p1")
	newer.DeployGeneration++
	require.NoError(t, store.UpdateProject(context.Background(), newer))

	require.Eventually(t, func() bool { return polls() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// The stale poller saw the bumped generation and gave up without
	// flipping the project to deployed.
	saved := store.snapshot("p1")
	assert.NotEqual(t, models.ProjectStatusDeployed, saved.Status)
	assert.Equal(t, 1, polls())
}

func TestCoordinator_LocalFallback(t *testing.T) {
	dir := t.TempDir()
	project := &models.Project{
		ID:             "p1",
		Name:           "demo",
		Status:         models.ProjectStatusDeploying,
		NormalizedPath: dir,
		StartCmd:       "sleep 30",
	}
	store := newMemStore(project)

	local := NewLocalRunner(runner.New())
	c := NewCoordinator(store, nil, nil, local)
	defer local.Stop("p1")

	res, err := c.Deploy(context.Background(), project)
	require.NoError(t, err)

	assert.Equal(t, "local", res.Provider)
	assert.True(t, strings.HasPrefix(res.DeployedURL, "http://localhost:"))

	saved := store.snapshot("p1")
	assert.Equal(t, models.ProjectStatusDeployed, saved.Status)
	assert.Contains(t, saved.DeployLog, "allocated local port")
}

func TestLocalRunner_OnExitReportsCrash(t *testing.T) {
	dir := t.TempDir()
	project := &models.Project{
		ID:             "p1",
		Name:           "demo",
		NormalizedPath: dir,
		StartCmd:       "exit 3",
	}

	var mu sync.Mutex
	var exited []string
	local := NewLocalRunner(runner.New())
	local.OnExit = func(projectID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			exited = append(exited, projectID)
		}
	}

	_, err := local.Deploy(context.Background(), project, func(string, ...any) {})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exited) == 1 && exited[0] == "p1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalRunner_StopSuppressesExitCallback(t *testing.T) {
	dir := t.TempDir()
	project := &models.Project{
		ID:             "p1",
		Name:           "demo",
		NormalizedPath: dir,
		StartCmd:       "sleep 30",
	}

	var mu sync.Mutex
	calls := 0
	local := NewLocalRunner(runner.New())
	local.OnExit = func(string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	_, err := local.Deploy(context.Background(), project, func(string, ...any) {})
	require.NoError(t, err)

	local.Stop("p1")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestRailwayClient_PublishEnvVars(t *testing.T) {
	var got graphQLRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"variableCollectionUpsert": true}})
	}))
	defer srv.Close()

	client := NewRailwayClient("tok")
	client.Endpoint = srv.URL
	client.Retry = noRetry()

	project := &models.Project{Name: "demo", RailwayServiceID: "rail_1"}
	vars := map[string]models.EnvVar{
		"API_KEY": {Value: "secret", IsSecret: true},
	}
	require.NoError(t, client.PublishEnvVars(context.Background(), project, vars))

	assert.Contains(t, got.Query, "variableCollectionUpsert")
	input := got.Variables["input"].(map[string]any)
	assert.Equal(t, "rail_1", input["serviceId"])
	assert.Equal(t, map[string]any{"API_KEY": "secret"}, input["variables"])
}

func TestRailwayClient_RequiresServiceID(t *testing.T) {
	client := NewRailwayClient("tok")
	err := client.PublishEnvVars(context.Background(), &models.Project{Name: "demo"},
		map[string]models.EnvVar{"A": {Value: "1"}})
	assert.ErrorContains(t, err, "no railway service")
}

func TestRailwayClient_GraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "service not found"}},
		})
	}))
	defer srv.Close()

	client := NewRailwayClient("tok")
	client.Endpoint = srv.URL
	client.Retry = noRetry()

	err := client.PublishEnvVars(context.Background(),
		&models.Project{Name: "demo", RailwayServiceID: "rail_x"},
		map[string]models.EnvVar{"A": {Value: "1"}})
	assert.ErrorContains(t, err, "service not found")
}

func TestCoordinator_NoProviderConfigured(t *testing.T) {
	project := &models.Project{ID: "p1", Name: "demo"}
	store := newMemStore(project)

	c := NewCoordinator(store, nil, nil, nil)
	_, err := c.Deploy(context.Background(), project)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "none", provErr.Provider)
	assert.Equal(t, "deploy_failed", store.snapshot("p1").LastDeployStatus)
}
