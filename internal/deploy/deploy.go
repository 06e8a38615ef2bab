// Package deploy executes project deployments through a strict provider
// priority chain: content-addressed static hosting first, a managed-service
// provider second, and a supervised local process as the last resort.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MichaLL27/shipfix/internal/models"
)

// ProviderError wraps a deploy-provider failure. Strict providers forbid
// falling through to the next provider in the chain.
type ProviderError struct {
	Provider string
	Strict   bool
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Result is the outcome of one deploy attempt. A managed-service deploy
// returns Status "deploying" and resolves asynchronously via the poller.
type Result struct {
	Provider    string
	DeployedURL string
	DeployID    string
	Status      string
}

// ProjectStore is the subset of store.Store the coordinator needs.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
}

// Coordinator picks a provider and runs one deploy attempt. Nil providers are
// treated as unconfigured and skipped.
type Coordinator struct {
	Store  ProjectStore
	Static *StaticProvider
	Render *RenderProvider
	Local  *LocalRunner
	Logger *slog.Logger

	PollInterval    time.Duration
	MaxPollAttempts int

	now func() time.Time
}

// NewCoordinator wires the provider chain with default polling bounds.
func NewCoordinator(store ProjectStore, static *StaticProvider, render *RenderProvider, local *LocalRunner) *Coordinator {
	return &Coordinator{
		Store:           store,
		Static:          static,
		Render:          render,
		Local:           local,
		Logger:          slog.Default(),
		PollInterval:    15 * time.Second,
		MaxPollAttempts: 20,
	}
}

// logf appends a timestamped line to the project's deploy log and mirrors it
// to the structured logger.
func (c *Coordinator) logf(p *models.Project, format string, args ...any) {
	ts := time.Now().UTC()
	if c.now != nil {
		ts = c.now()
	}
	msg := fmt.Sprintf(format, args...)
	p.DeployLog += fmt.Sprintf("[%s] %s\n", ts.Format(time.RFC3339), msg)
	c.Logger.Info(msg, "project", p.Name)
}

// Deploy runs one attempt of the provider chain. It mutates and persists the
// project record: the deploy log is cleared at the start of every attempt and
// the deploy generation is bumped so stale pollers can detect supersession.
func (c *Coordinator) Deploy(ctx context.Context, project *models.Project) (*Result, error) {
	project.DeployLog = ""
	project.DeployGeneration++
	gen := project.DeployGeneration
	c.logf(project, "deploy attempt started (generation %d)", gen)

	if c.Static != nil && c.Static.Configured() {
		return c.deployStatic(ctx, project)
	}
	if c.Render != nil && c.Render.Configured() {
		return c.deployRender(ctx, project, gen)
	}
	if c.Local != nil {
		return c.deployLocal(ctx, project)
	}

	err := &ProviderError{Provider: "none", Err: errors.New("no deploy provider configured")}
	c.logf(project, "deploy failed: %v", err)
	project.LastDeployStatus = "deploy_failed"
	c.persist(ctx, project)
	return nil, err
}

func (c *Coordinator) deployStatic(ctx context.Context, project *models.Project) (*Result, error) {
	c.logf(project, "using static provider (content-addressed upload)")

	res, err := c.Static.Deploy(ctx, project, func(format string, args ...any) {
		c.logf(project, format, args...)
	})
	if err != nil {
		// Strict provider: failure is terminal, never fall through.
		c.logf(project, "static deploy failed: %v", err)
		project.LastDeployStatus = "deploy_failed"
		c.persist(ctx, project)
		return nil, &ProviderError{Provider: "static", Strict: true, Err: err}
	}

	project.DeployedURL = res.DeployedURL
	project.LastDeployID = res.DeployID
	project.LastDeployStatus = "live"
	project.Status = models.ProjectStatusDeployed
	c.logf(project, "static deploy live at %s", res.DeployedURL)
	if err := c.persist(ctx, project); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) deployRender(ctx context.Context, project *models.Project, gen int64) (*Result, error) {
	c.logf(project, "using managed-service provider")

	serviceID, url, err := c.Render.EnsureService(ctx, project, func(format string, args ...any) {
		c.logf(project, format, args...)
	})
	if err != nil {
		c.logf(project, "managed-service setup failed: %v", err)
		return c.fallbackLocal(ctx, project, err)
	}
	project.RenderServiceID = serviceID
	if url != "" {
		project.DeployedURL = url
	}

	deployID, status, err := c.Render.TriggerDeploy(ctx, serviceID)
	if err != nil {
		c.logf(project, "deploy trigger failed: %v", err)
		return c.fallbackLocal(ctx, project, err)
	}

	project.LastDeployID = deployID
	project.LastDeployStatus = status
	c.logf(project, "deploy %s triggered, status %s; polling in background", deployID, status)
	if err := c.persist(ctx, project); err != nil {
		return nil, err
	}

	go c.pollDeploy(project.ID, serviceID, deployID, gen)

	return &Result{
		Provider:    "render",
		DeployedURL: project.DeployedURL,
		DeployID:    deployID,
		Status:      "deploying",
	}, nil
}

func (c *Coordinator) fallbackLocal(ctx context.Context, project *models.Project, cause error) (*Result, error) {
	if c.Local == nil {
		project.LastDeployStatus = "deploy_failed"
		c.persist(ctx, project)
		return nil, &ProviderError{Provider: "render", Err: cause}
	}
	c.logf(project, "falling back to local process deploy")
	return c.deployLocal(ctx, project)
}

func (c *Coordinator) deployLocal(ctx context.Context, project *models.Project) (*Result, error) {
	res, err := c.Local.Deploy(ctx, project, func(format string, args ...any) {
		c.logf(project, format, args...)
	})
	if err != nil {
		c.logf(project, "local deploy failed: %v", err)
		project.LastDeployStatus = "deploy_failed"
		c.persist(ctx, project)
		return nil, &ProviderError{Provider: "local", Err: err}
	}

	project.DeployedURL = res.DeployedURL
	project.LastDeployID = res.DeployID
	project.LastDeployStatus = "live"
	project.Status = models.ProjectStatusDeployed
	c.logf(project, "local process serving at %s", res.DeployedURL)
	if err := c.persist(ctx, project); err != nil {
		return nil, err
	}
	return res, nil
}

// pollDeploy follows an async managed-service deploy to a terminal status.
// Bounded by MaxPollAttempts; every persisted transition re-checks the deploy
// generation so a newer deploy supersedes this poll instead of racing it.
func (c *Coordinator) pollDeploy(projectID, serviceID, deployID string, gen int64) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	attempts := c.MaxPollAttempts
	if attempts <= 0 {
		attempts = 20
	}

	ctx := context.Background()
	for i := 0; i < attempts; i++ {
		time.Sleep(interval)

		status, err := c.Render.GetDeploy(ctx, serviceID, deployID)
		if err != nil {
			c.Logger.Warn("deploy status poll failed", "deploy", deployID, "error", err)
			continue
		}

		project, err := c.Store.GetProject(ctx, projectID)
		if err != nil {
			c.Logger.Warn("deploy poll lost project", "project", projectID, "error", err)
			return
		}
		if project.DeployGeneration != gen {
			c.Logger.Info("deploy poll superseded by newer deploy", "deploy", deployID)
			return
		}

		project.LastDeployStatus = status
		if models.IsTerminalDeployStatus(status) {
			if status == "live" {
				project.Status = models.ProjectStatusDeployed
				c.logf(project, "deploy %s is live", deployID)
			} else {
				project.Status = models.ProjectStatusDeployFailed
				c.logf(project, "deploy %s ended with status %s", deployID, status)
			}
			c.persist(ctx, project)
			return
		}
		c.persist(ctx, project)
	}

	// Attempts exhausted without a terminal status.
	project, err := c.Store.GetProject(ctx, projectID)
	if err != nil || project.DeployGeneration != gen {
		return
	}
	project.Status = models.ProjectStatusDeployFailed
	project.LastDeployStatus = "deploy_failed"
	c.logf(project, "deploy %s did not reach a terminal status within %d polls", deployID, attempts)
	c.persist(ctx, project)
}

func (c *Coordinator) persist(ctx context.Context, p *models.Project) error {
	if err := c.Store.UpdateProject(ctx, p); err != nil {
		c.Logger.Error("persist project after deploy step", "project", p.Name, "error", err)
		return fmt.Errorf("persist project: %w", err)
	}
	return nil
}
