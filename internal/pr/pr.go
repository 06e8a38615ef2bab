// Package pr manages the pull requests that record what the auto-fix repair
// loop changed. Merging applies the staged patch folder to the project's
// normalized tree; closing discards the change-set without filesystem effect.
package pr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MichaLL27/shipfix/internal/diffengine"
	"github.com/MichaLL27/shipfix/internal/models"
)

// PRStore is the subset of store.Store needed for pull-request operations.
type PRStore interface {
	GetPullRequest(ctx context.Context, id string) (*models.PullRequest, error)
	UpdatePullRequest(ctx context.Context, pr *models.PullRequest) error
	CreatePullRequest(ctx context.Context, pr *models.PullRequest) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Open creates a pull request recording an auto-fix change-set. The diff must
// already be computed against the staged patch folder.
func Open(ctx context.Context, s PRStore, projectID, title, summary string, diff []models.FileDiff, patchPath string) (*models.PullRequest, error) {
	pr := &models.PullRequest{
		ProjectID: projectID,
		Title:     title,
		Summary:   summary,
		Status:    models.PRStatusOpen,
		Diff:      diff,
		PatchPath: patchPath,
	}
	if err := s.CreatePullRequest(ctx, pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// Merge applies a PR's staged snapshot to the project's normalized folder:
// every file under the patch folder is copied over the target, then every
// path tagged removed in the diff is deleted. Merged is terminal.
func Merge(ctx context.Context, s PRStore, prID string) (*models.PullRequest, error) {
	pr, err := s.GetPullRequest(ctx, prID)
	if err != nil {
		return nil, err
	}
	if pr.Status != models.PRStatusOpen {
		return nil, fmt.Errorf("pull request #%d is already %s", pr.PRNumber, pr.Status)
	}

	project, err := s.GetProject(ctx, pr.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.NormalizedPath == "" {
		return nil, fmt.Errorf("project %s has no normalized folder to merge into", project.Name)
	}

	if err := diffengine.CopyTree(pr.PatchPath, project.NormalizedPath); err != nil {
		return nil, fmt.Errorf("apply patch folder: %w", err)
	}

	for _, d := range pr.Diff {
		if d.Change != models.ChangeRemoved {
			continue
		}
		target := filepath.Join(project.NormalizedPath, d.Path)
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove %s: %w", d.Path, err)
		}
	}

	pr.Status = models.PRStatusMerged
	now := time.Now().UTC()
	pr.ClosedAt = &now
	if err := s.UpdatePullRequest(ctx, pr); err != nil {
		return nil, fmt.Errorf("update pull request: %w", err)
	}
	return pr, nil
}

// Close discards an open pull request. Pure status mutation; the filesystem
// is untouched.
func Close(ctx context.Context, s PRStore, prID string) (*models.PullRequest, error) {
	pr, err := s.GetPullRequest(ctx, prID)
	if err != nil {
		return nil, err
	}
	if pr.Status != models.PRStatusOpen {
		return nil, fmt.Errorf("pull request #%d is already %s", pr.PRNumber, pr.Status)
	}

	pr.Status = models.PRStatusClosed
	now := time.Now().UTC()
	pr.ClosedAt = &now
	if err := s.UpdatePullRequest(ctx, pr); err != nil {
		return nil, fmt.Errorf("update pull request: %w", err)
	}
	return pr, nil
}
