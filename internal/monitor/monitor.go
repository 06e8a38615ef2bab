// Package monitor implements self-healing for deployed projects: a recurring
// liveness probe over every deployed URL, with persisted per-project failure
// counters and automatic redeployment once a failure threshold is reached.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MichaLL27/shipfix/internal/models"
)

// Deployer triggers a redeploy through the regular lifecycle path, so monitor
// recoveries contend for the same per-project lock as user requests.
type Deployer interface {
	Deploy(ctx context.Context, projectID string) error
}

// Store is the subset of store.Store the monitor needs.
type Store interface {
	ListProjectsByStatus(ctx context.Context, status models.ProjectStatus) ([]*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
}

// Monitor probes deployed projects on a fixed interval. Failure counters are
// persisted on the project record so restarts do not forget partial failure
// streaks.
type Monitor struct {
	Store    Store
	Deployer Deployer
	HTTP     *http.Client
	Logger   *slog.Logger

	Interval  time.Duration
	Threshold int
}

// New returns a monitor with default probe settings.
func New(s Store, d Deployer) *Monitor {
	return &Monitor{
		Store:     s,
		Deployer:  d,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		Logger:    slog.Default(),
		Interval:  30 * time.Second,
		Threshold: 3,
	}
}

// Run ticks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick probes every deployed project once. Exported so the scan is testable
// without the timer.
func (m *Monitor) Tick(ctx context.Context) {
	projects, err := m.Store.ListProjectsByStatus(ctx, models.ProjectStatusDeployed)
	if err != nil {
		m.Logger.Error("monitor scan failed", "error", err)
		return
	}

	for _, p := range projects {
		if p.DeployedURL == "" {
			continue
		}
		if m.probe(ctx, p.DeployedURL) {
			if p.HealthFailures != 0 {
				p.HealthFailures = 0
				if err := m.Store.UpdateProject(ctx, p); err != nil {
					m.Logger.Error("reset failure counter", "project", p.Name, "error", err)
				}
			}
			continue
		}
		m.recordFailure(ctx, p)
	}
}

// probe treats any 2xx as alive; everything else, including transport errors,
// is a failure.
func (m *Monitor) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// recordFailure bumps the persisted counter and, at the threshold, resets it
// and triggers exactly one recovery deploy. A failed recovery is recorded and
// left for the next tick to re-detect.
func (m *Monitor) recordFailure(ctx context.Context, p *models.Project) {
	p.HealthFailures++
	m.Logger.Warn("liveness probe failed",
		"project", p.Name, "failures", p.HealthFailures, "threshold", m.Threshold)

	if p.HealthFailures < m.Threshold {
		if err := m.Store.UpdateProject(ctx, p); err != nil {
			m.Logger.Error("persist failure counter", "project", p.Name, "error", err)
		}
		return
	}

	p.HealthFailures = 0
	p.LastDeployStatus = "recovering"
	if err := m.Store.UpdateProject(ctx, p); err != nil {
		m.Logger.Error("persist recovery marker", "project", p.Name, "error", err)
		return
	}

	m.Logger.Info("failure threshold reached, redeploying", "project", p.Name)
	if err := m.Deployer.Deploy(ctx, p.ID); err != nil {
		m.Logger.Error("recovery deploy failed", "project", p.Name, "error", err)
	}
}

// NotifyProcessExit is called by the local deploy runner when a supervised
// process exits, so a crash is detected immediately instead of on the next
// probe.
func (m *Monitor) NotifyProcessExit(projectID string, exitErr error) {
	ctx := context.Background()
	p, err := m.Store.GetProject(ctx, projectID)
	if err != nil {
		m.Logger.Error("process exit for unknown project", "project", projectID, "error", err)
		return
	}
	if p.Status != models.ProjectStatusDeployed {
		return
	}

	reason := "clean exit"
	if exitErr != nil {
		reason = fmt.Sprintf("crash: %v", exitErr)
	}
	m.Logger.Warn("local process exited", "project", p.Name, "reason", reason)
	m.recordFailure(ctx, p)
}
