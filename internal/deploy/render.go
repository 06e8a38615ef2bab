package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/retry"
)

// RenderProvider drives a managed-service host: service creation on first
// deploy, deploy triggering, and deploy-status reads for the poller.
type RenderProvider struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
	Retry   retry.Policy
}

// NewRenderProvider returns a provider pointed at the hosted API.
func NewRenderProvider(apiKey string) *RenderProvider {
	return &RenderProvider{
		APIKey:  apiKey,
		BaseURL: "https://api.render.com/v1",
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Retry:   retry.DefaultHTTP,
	}
}

// Configured reports whether credentials are present.
func (p *RenderProvider) Configured() bool { return p != nil && p.APIKey != "" }

// Name identifies the provider in env-sync reports.
func (p *RenderProvider) Name() string { return "render" }

type renderService struct {
	ID             string `json:"id"`
	ServiceDetails struct {
		URL string `json:"url"`
	} `json:"serviceDetails"`
}

type renderDeploy struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type renderEnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// EnsureService returns the remote service id for the project, creating the
// service on first use. Database provisioning is best effort and never fails
// the deploy.
func (p *RenderProvider) EnsureService(ctx context.Context, project *models.Project, logf func(string, ...any)) (string, string, error) {
	if project.RenderServiceID != "" {
		return project.RenderServiceID, project.DeployedURL, nil
	}

	payload := map[string]any{
		"type":           "web_service",
		"name":           project.Name,
		"buildCommand":   project.BuildCmd,
		"startCommand":   project.StartCmd,
		"envVars":        envVarList(project.EnvVars),
		"serviceDetails": map[string]any{"env": runtimeFor(project.ProjectType)},
	}

	var svc renderService
	if err := p.doJSON(ctx, http.MethodPost, "/services", payload, &svc); err != nil {
		return "", "", fmt.Errorf("create service: %w", err)
	}
	logf("created service %s", svc.ID)

	if dbErr := p.provisionDatabase(ctx, project); dbErr != nil {
		logf("warning: database provisioning skipped: %v", dbErr)
	}

	return svc.ID, svc.ServiceDetails.URL, nil
}

// provisionDatabase creates a database for project types that commonly need
// one. Static sites get nothing.
func (p *RenderProvider) provisionDatabase(ctx context.Context, project *models.Project) error {
	switch project.ProjectType {
	case models.ProjectTypeNode, models.ProjectTypePython, models.ProjectTypeGo:
	default:
		return nil
	}
	payload := map[string]any{
		"name": project.Name + "-db",
		"plan": "free",
	}
	return p.doJSON(ctx, http.MethodPost, "/postgres", payload, nil)
}

// TriggerDeploy starts a deploy of the service and returns its id and the
// provider's initial status.
func (p *RenderProvider) TriggerDeploy(ctx context.Context, serviceID string) (string, string, error) {
	var dep renderDeploy
	path := fmt.Sprintf("/services/%s/deploys", serviceID)
	if err := p.doJSON(ctx, http.MethodPost, path, map[string]any{}, &dep); err != nil {
		return "", "", fmt.Errorf("trigger deploy: %w", err)
	}
	if dep.Status == "" {
		dep.Status = "pending"
	}
	return dep.ID, dep.Status, nil
}

// GetDeploy fetches the current status of a deploy.
func (p *RenderProvider) GetDeploy(ctx context.Context, serviceID, deployID string) (string, error) {
	var dep renderDeploy
	path := fmt.Sprintf("/services/%s/deploys/%s", serviceID, deployID)
	if err := p.doJSON(ctx, http.MethodGet, path, nil, &dep); err != nil {
		return "", fmt.Errorf("get deploy status: %w", err)
	}
	return dep.Status, nil
}

// PublishEnvVars replaces the service's environment with the given variables.
func (p *RenderProvider) PublishEnvVars(ctx context.Context, project *models.Project, vars map[string]models.EnvVar) error {
	if project.RenderServiceID == "" {
		return fmt.Errorf("project %s has no render service yet", project.Name)
	}
	path := fmt.Sprintf("/services/%s/env-vars", project.RenderServiceID)
	return p.doJSON(ctx, http.MethodPut, path, envVarList(vars), nil)
}

func envVarList(vars map[string]models.EnvVar) []renderEnvVar {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]renderEnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, renderEnvVar{Key: k, Value: vars[k].Value})
	}
	return out
}

func runtimeFor(t models.ProjectType) string {
	switch t {
	case models.ProjectTypePython:
		return "python"
	case models.ProjectTypeGo:
		return "go"
	case models.ProjectTypeStatic:
		return "static"
	default:
		return "node"
	}
}

func (p *RenderProvider) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	return p.Retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
