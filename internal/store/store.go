package store

import (
	"context"

	"github.com/MichaLL27/shipfix/internal/models"
)

// Store defines the persistence interface for shipfix.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	ListProjectsByStatus(ctx context.Context, status models.ProjectStatus) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Pull requests
	CreatePullRequest(ctx context.Context, pr *models.PullRequest) error
	GetPullRequest(ctx context.Context, id string) (*models.PullRequest, error)
	ListPullRequests(ctx context.Context, projectID string) ([]*models.PullRequest, error)
	UpdatePullRequest(ctx context.Context, pr *models.PullRequest) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
