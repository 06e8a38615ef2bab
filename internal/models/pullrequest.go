package models

import "time"

// PRStatus represents the state of a pull request. Merged and closed are
// terminal; a PR is never reopened.
type PRStatus string

const (
	PRStatusOpen   PRStatus = "open"
	PRStatusMerged PRStatus = "merged"
	PRStatusClosed PRStatus = "closed"
)

// PullRequest records one auto-fix change-set against a project.
type PullRequest struct {
	ID        string
	ProjectID string

	// PRNumber is sequential per project, starting at 1, never reused.
	PRNumber int

	Title   string
	Summary string
	Status  PRStatus

	// Diff is the ordered set of file-level changes in this change-set.
	Diff []FileDiff

	// PatchPath is the staged post-fix snapshot. It is copied on merge and
	// never mutated.
	PatchPath string

	CreatedAt time.Time
	ClosedAt  *time.Time
}
