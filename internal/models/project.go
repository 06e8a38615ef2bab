package models

import "time"

// ProjectStatus represents where a project is in its deployment lifecycle.
type ProjectStatus string

const (
	ProjectStatusRegistered   ProjectStatus = "registered"
	ProjectStatusQARunning    ProjectStatus = "qa_running"
	ProjectStatusQAPassed     ProjectStatus = "qa_passed"
	ProjectStatusQAFailed     ProjectStatus = "qa_failed"
	ProjectStatusDeploying    ProjectStatus = "deploying"
	ProjectStatusDeployed     ProjectStatus = "deployed"
	ProjectStatusDeployFailed ProjectStatus = "deploy_failed"
)

// AutoFixStatus is the sub-state of the repair loop, independent of Status.
// QA may only run once auto-fix has reported success.
type AutoFixStatus string

const (
	AutoFixStatusNone    AutoFixStatus = "none"
	AutoFixStatusRunning AutoFixStatus = "running"
	AutoFixStatusSuccess AutoFixStatus = "success"
	AutoFixStatusFailed  AutoFixStatus = "failed"
)

// ProjectType drives build/start defaults and the readiness check.
type ProjectType string

const (
	ProjectTypeNode    ProjectType = "node"
	ProjectTypeStatic  ProjectType = "static"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeUnknown ProjectType = "unknown"
)

// EnvVar is a single environment variable synced out to deploy providers.
type EnvVar struct {
	Value    string `json:"value"`
	IsSecret bool   `json:"is_secret"`
}

// Project represents one tracked codebase moving through the lifecycle.
type Project struct {
	ID            string
	Name          string
	Status        ProjectStatus
	AutoFixStatus AutoFixStatus
	ProjectType   ProjectType

	// NormalizedPath is the canonical source tree produced by normalization.
	// Empty means the code is unavailable on disk.
	NormalizedPath string

	InstallCmd string
	BuildCmd   string
	TestCmd    string
	StartCmd   string

	EnvVars map[string]EnvVar

	DeployedURL      string
	LastDeployID     string
	LastDeployStatus string
	RenderServiceID  string
	RailwayServiceID string

	// HealthFailures counts consecutive liveness probe failures. Persisted so
	// the self-healing monitor survives restarts.
	HealthFailures int

	// DeployGeneration increments on every deploy attempt. A status poller
	// that observes a newer generation stops writing back.
	DeployGeneration int64

	QAReport      string
	AutoFixReport string
	DeployLog     string

	// LastPRNumber is the per-project sequential PR counter, owned by the
	// pull-request subsystem.
	LastPRNumber int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminalDeployStatus reports whether a remote deploy status needs no
// further polling.
func IsTerminalDeployStatus(s string) bool {
	switch s {
	case "live", "build_failed", "update_failed", "deploy_failed", "canceled":
		return true
	}
	return false
}
