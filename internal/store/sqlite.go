package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MichaLL27/shipfix/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, so
	// background tasks and API requests don't hit "database is locked".
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

const projectColumns = `id, name, status, auto_fix_status, project_type, normalized_path,
	install_cmd, build_cmd, test_cmd, start_cmd, env_vars, deployed_url, last_deploy_id,
	last_deploy_status, render_service_id, railway_service_id, health_failures,
	deploy_generation, qa_report, auto_fix_report, deploy_log, last_pr_number,
	created_at, updated_at`

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusRegistered
	}
	if p.AutoFixStatus == "" {
		p.AutoFixStatus = models.AutoFixStatusNone
	}
	if p.ProjectType == "" {
		p.ProjectType = models.ProjectTypeUnknown
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	envJSON, err := marshalEnvVars(p.EnvVars)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Status), string(p.AutoFixStatus), string(p.ProjectType),
		p.NormalizedPath, p.InstallCmd, p.BuildCmd, p.TestCmd, p.StartCmd, envJSON,
		p.DeployedURL, p.LastDeployID, p.LastDeployStatus,
		p.RenderServiceID, p.RailwayServiceID, p.HealthFailures, p.DeployGeneration,
		p.QAReport, p.AutoFixReport, p.DeployLog, p.LastPRNumber,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return s.queryProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
}

func (s *SQLiteStore) ListProjectsByStatus(ctx context.Context, status models.ProjectStatus) ([]*models.Project, error) {
	return s.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE status = ? ORDER BY name`, string(status))
}

func (s *SQLiteStore) queryProjects(ctx context.Context, query string, args ...any) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanProject(row scannable) (*models.Project, error) {
	p := &models.Project{}
	var status, autoFixStatus, projectType, envJSON string

	err := row.Scan(&p.ID, &p.Name, &status, &autoFixStatus, &projectType,
		&p.NormalizedPath, &p.InstallCmd, &p.BuildCmd, &p.TestCmd, &p.StartCmd, &envJSON,
		&p.DeployedURL, &p.LastDeployID, &p.LastDeployStatus,
		&p.RenderServiceID, &p.RailwayServiceID, &p.HealthFailures, &p.DeployGeneration,
		&p.QAReport, &p.AutoFixReport, &p.DeployLog, &p.LastPRNumber,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = models.ProjectStatus(status)
	p.AutoFixStatus = models.AutoFixStatus(autoFixStatus)
	p.ProjectType = models.ProjectType(projectType)
	if err := json.Unmarshal([]byte(envJSON), &p.EnvVars); err != nil {
		return nil, fmt.Errorf("decode env vars: %w", err)
	}
	return p, nil
}

func marshalEnvVars(vars map[string]models.EnvVar) (string, error) {
	if vars == nil {
		return "{}", nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encode env vars: %w", err)
	}
	return string(data), nil
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()

	envJSON, err := marshalEnvVars(p.EnvVars)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=?, status=?, auto_fix_status=?, project_type=?,
		normalized_path=?, install_cmd=?, build_cmd=?, test_cmd=?, start_cmd=?, env_vars=?,
		deployed_url=?, last_deploy_id=?, last_deploy_status=?,
		render_service_id=?, railway_service_id=?, health_failures=?,
		deploy_generation=?, qa_report=?, auto_fix_report=?, deploy_log=?,
		last_pr_number=?, updated_at=?
		WHERE id=?`,
		p.Name, string(p.Status), string(p.AutoFixStatus), string(p.ProjectType),
		p.NormalizedPath, p.InstallCmd, p.BuildCmd, p.TestCmd, p.StartCmd, envJSON,
		p.DeployedURL, p.LastDeployID, p.LastDeployStatus,
		p.RenderServiceID, p.RailwayServiceID, p.HealthFailures,
		p.DeployGeneration, p.QAReport, p.AutoFixReport, p.DeployLog,
		p.LastPRNumber, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("project not found: %s", id)
	}
	return nil
}

// --- Pull requests ---

const prColumns = `id, project_id, pr_number, title, summary, status, diff_json, patch_path, created_at, closed_at`

// CreatePullRequest allocates the next sequential PR number for the project
// and inserts the record in one transaction.
func (s *SQLiteStore) CreatePullRequest(ctx context.Context, pr *models.PullRequest) error {
	if pr.ID == "" {
		pr.ID = newULID()
	}
	if pr.Status == "" {
		pr.Status = models.PRStatusOpen
	}
	pr.CreatedAt = time.Now().UTC()

	diffJSON, err := json.Marshal(pr.Diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastNumber int
	err = tx.QueryRowContext(ctx,
		"SELECT last_pr_number FROM projects WHERE id = ?", pr.ProjectID).Scan(&lastNumber)
	if err == sql.ErrNoRows {
		return fmt.Errorf("project not found: %s", pr.ProjectID)
	}
	if err != nil {
		return fmt.Errorf("read pr counter: %w", err)
	}

	pr.PRNumber = lastNumber + 1
	if _, err := tx.ExecContext(ctx,
		"UPDATE projects SET last_pr_number = ?, updated_at = ? WHERE id = ?",
		pr.PRNumber, time.Now().UTC(), pr.ProjectID); err != nil {
		return fmt.Errorf("bump pr counter: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pull_requests (`+prColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.ProjectID, pr.PRNumber, pr.Title, pr.Summary,
		string(pr.Status), string(diffJSON), pr.PatchPath, pr.CreatedAt, pr.ClosedAt,
	); err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPullRequest(ctx context.Context, id string) (*models.PullRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prColumns+` FROM pull_requests WHERE id = ?`, id)
	pr, err := scanPullRequest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pull request not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return pr, nil
}

func (s *SQLiteStore) ListPullRequests(ctx context.Context, projectID string) ([]*models.PullRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prColumns+` FROM pull_requests WHERE project_id = ? ORDER BY pr_number DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prs []*models.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

func scanPullRequest(row scannable) (*models.PullRequest, error) {
	pr := &models.PullRequest{}
	var status, diffJSON string
	var closedAt sql.NullTime

	err := row.Scan(&pr.ID, &pr.ProjectID, &pr.PRNumber, &pr.Title, &pr.Summary,
		&status, &diffJSON, &pr.PatchPath, &pr.CreatedAt, &closedAt)
	if err != nil {
		return nil, err
	}

	pr.Status = models.PRStatus(status)
	if closedAt.Valid {
		pr.ClosedAt = &closedAt.Time
	}
	if err := json.Unmarshal([]byte(diffJSON), &pr.Diff); err != nil {
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	return pr, nil
}

func (s *SQLiteStore) UpdatePullRequest(ctx context.Context, pr *models.PullRequest) error {
	diffJSON, err := json.Marshal(pr.Diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET title=?, summary=?, status=?, diff_json=?, patch_path=?, closed_at=?
		WHERE id=?`,
		pr.Title, pr.Summary, string(pr.Status), string(diffJSON), pr.PatchPath, pr.ClosedAt, pr.ID,
	)
	if err != nil {
		return fmt.Errorf("update pull request: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pull request not found: %s", pr.ID)
	}
	return nil
}
