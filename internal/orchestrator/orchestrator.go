// Package orchestrator is the lifecycle state machine: it validates
// transition requests against the legality table, flips the persisted
// in-progress marker, and runs the target component as a detached task that
// always writes back a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/MichaLL27/shipfix/internal/autofix"
	"github.com/MichaLL27/shipfix/internal/deploy"
	"github.com/MichaLL27/shipfix/internal/diffengine"
	"github.com/MichaLL27/shipfix/internal/llm"
	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/pr"
	"github.com/MichaLL27/shipfix/internal/store"
)

// Action is a lifecycle transition request.
type Action string

const (
	ActionAutoFix Action = "autofix"
	ActionRunQA   Action = "qa"
	ActionDeploy  Action = "deploy"
)

// Repairer runs the auto-fix loop. Satisfied by *autofix.Fixer.
type Repairer interface {
	Do(ctx context.Context, p *models.Project) *autofix.Report
}

// DeployCoordinator runs one deploy attempt. Satisfied by
// *deploy.Coordinator.
type DeployCoordinator interface {
	Deploy(ctx context.Context, p *models.Project) (*deploy.Result, error)
}

// Analyzer is the QA analysis service. Satisfied by *llm.Client.
type Analyzer interface {
	AnalyzeProject(ctx context.Context, inventory string, sources map[string]string) (*llm.QAVerdict, error)
}

// Orchestrator coordinates lifecycle transitions. A per-project busy set
// gives at-most-one long operation per project: a second request while one is
// running is rejected, not raced.
type Orchestrator struct {
	Store       store.Store
	Fixer       Repairer
	Coordinator DeployCoordinator
	Analyzer    Analyzer
	Logger      *slog.Logger

	// StateDir holds staged patch folders for pull requests.
	StateDir string

	mu   sync.Mutex
	busy map[string]Action
}

// New wires an orchestrator over its collaborators.
func New(s store.Store, fixer Repairer, coordinator DeployCoordinator, analyzer Analyzer) *Orchestrator {
	return &Orchestrator{
		Store:       s,
		Fixer:       fixer,
		Coordinator: coordinator,
		Analyzer:    analyzer,
		Logger:      slog.Default(),
		busy:        make(map[string]Action),
	}
}

// Request validates a transition, persists the in-progress marker, and
// launches the component in the background. It returns as soon as the marker
// is persisted; the terminal state arrives asynchronously.
func (o *Orchestrator) Request(ctx context.Context, projectID string, action Action) error {
	p, err := o.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := checkLegal(p, action); err != nil {
		return err
	}

	if !o.acquire(projectID, action) {
		o.mu.Lock()
		running := o.busy[projectID]
		o.mu.Unlock()
		return &InvalidStateError{
			ProjectID: projectID,
			Action:    action,
			Reason:    fmt.Sprintf("%s is already running", running),
		}
	}

	switch action {
	case ActionAutoFix:
		p.AutoFixStatus = models.AutoFixStatusRunning
	case ActionRunQA:
		p.Status = models.ProjectStatusQARunning
	case ActionDeploy:
		p.Status = models.ProjectStatusDeploying
	}
	if err := o.Store.UpdateProject(ctx, p); err != nil {
		o.release(projectID)
		return fmt.Errorf("persist in-progress state: %w", err)
	}

	o.Logger.Info("transition started", "project", p.Name, "action", action)
	go o.run(projectID, action)
	return nil
}

// Deploy satisfies the monitor's redeploy hook: recoveries go through the
// same legality check and per-project lock as user requests.
func (o *Orchestrator) Deploy(ctx context.Context, projectID string) error {
	return o.Request(ctx, projectID, ActionDeploy)
}

func checkLegal(p *models.Project, action Action) error {
	reject := func(reason string) error {
		return &InvalidStateError{ProjectID: p.ID, Action: action, Reason: reason}
	}

	switch action {
	case ActionAutoFix:
		if p.NormalizedPath == "" {
			return reject("project has no normalized folder")
		}
		if p.AutoFixStatus == models.AutoFixStatusRunning {
			return reject("auto-fix is already running")
		}
	case ActionRunQA:
		if p.AutoFixStatus != models.AutoFixStatusSuccess {
			return reject(fmt.Sprintf("auto-fix must succeed first (currently %s)", p.AutoFixStatus))
		}
		if p.Status != models.ProjectStatusRegistered && p.Status != models.ProjectStatusQAFailed {
			return reject(fmt.Sprintf("status %s does not allow qa", p.Status))
		}
	case ActionDeploy:
		switch p.Status {
		case models.ProjectStatusQAPassed, models.ProjectStatusDeployed,
			models.ProjectStatusDeployFailed, models.ProjectStatusQAFailed:
		default:
			return reject(fmt.Sprintf("status %s does not allow deploy", p.Status))
		}
	default:
		return reject("unknown action")
	}
	return nil
}

func (o *Orchestrator) acquire(projectID string, action Action) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, taken := o.busy[projectID]; taken {
		return false
	}
	o.busy[projectID] = action
	return true
}

func (o *Orchestrator) release(projectID string) {
	o.mu.Lock()
	delete(o.busy, projectID)
	o.mu.Unlock()
}

// run executes the detached task. Whatever happens, including a panic, a
// terminal state is persisted so no project is left "running" forever.
func (o *Orchestrator) run(projectID string, action Action) {
	defer o.release(projectID)
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			o.Logger.Error("background task panicked", "project", projectID, "action", action, "panic", r)
			o.writeTerminalFailure(ctx, projectID, action, fmt.Sprintf("internal error: %v", r))
		}
	}()

	switch action {
	case ActionAutoFix:
		o.runAutoFix(ctx, projectID)
	case ActionRunQA:
		o.runQA(ctx, projectID)
	case ActionDeploy:
		o.runDeploy(ctx, projectID)
	}
}

func (o *Orchestrator) writeTerminalFailure(ctx context.Context, projectID string, action Action, note string) {
	p, err := o.Store.GetProject(ctx, projectID)
	if err != nil {
		o.Logger.Error("terminal failure write lost project", "project", projectID, "error", err)
		return
	}
	switch action {
	case ActionAutoFix:
		p.AutoFixStatus = models.AutoFixStatusFailed
		p.AutoFixReport += note + "\n"
	case ActionRunQA:
		p.Status = models.ProjectStatusQAFailed
		p.QAReport += note + "\n"
	case ActionDeploy:
		p.Status = models.ProjectStatusDeployFailed
		p.DeployLog += note + "\n"
	}
	if err := o.Store.UpdateProject(ctx, p); err != nil {
		o.Logger.Error("terminal failure write failed", "project", projectID, "error", err)
	}
}

// runAutoFix snapshots the tree, runs the repair loop, persists the report,
// and on a successful pass that changed files stages a patch folder and opens
// a pull request recording the change-set.
func (o *Orchestrator) runAutoFix(ctx context.Context, projectID string) {
	p, err := o.Store.GetProject(ctx, projectID)
	if err != nil {
		o.Logger.Error("autofix lost project", "project", projectID, "error", err)
		return
	}

	before, err := os.MkdirTemp("", "shipfix-before-*")
	if err == nil {
		defer os.RemoveAll(before)
		if copyErr := diffengine.CopyTree(p.NormalizedPath, before); copyErr != nil {
			o.Logger.Warn("pre-fix snapshot failed, skipping diff", "project", p.Name, "error", copyErr)
			before = ""
		}
	} else {
		before = ""
	}

	report := o.Fixer.Do(ctx, p)
	p.AutoFixStatus = report.Status
	p.AutoFixReport = report.Render()
	if err := o.Store.UpdateProject(ctx, p); err != nil {
		o.Logger.Error("persist autofix result", "project", p.Name, "error", err)
		return
	}
	o.Logger.Info("autofix finished", "project", p.Name, "status", report.Status)

	if report.Status != models.AutoFixStatusSuccess || before == "" {
		return
	}

	diff, err := diffengine.Diff(before, p.NormalizedPath)
	if err != nil {
		o.Logger.Warn("post-fix diff failed", "project", p.Name, "error", err)
		return
	}
	if len(diff) == 0 {
		return
	}

	patch, err := o.stagePatch(p)
	if err != nil {
		o.Logger.Warn("stage patch folder", "project", p.Name, "error", err)
		return
	}

	title := fmt.Sprintf("Auto-fix: %d file(s) changed", len(diff))
	if _, err := pr.Open(ctx, o.Store, p.ID, title, report.Render(), diff, patch); err != nil {
		o.Logger.Error("open pull request", "project", p.Name, "error", err)
	}
}

func (o *Orchestrator) stagePatch(p *models.Project) (string, error) {
	base := o.StateDir
	if base != "" {
		base = filepath.Join(base, "patches")
		if err := os.MkdirAll(base, 0755); err != nil {
			return "", err
		}
	}
	patch, err := os.MkdirTemp(base, "patch-*")
	if err != nil {
		return "", err
	}
	if err := diffengine.CopyTree(p.NormalizedPath, patch); err != nil {
		os.RemoveAll(patch)
		return "", err
	}
	return patch, nil
}

// runQA sends a project snapshot to the analysis service and persists the
// verdict.
func (o *Orchestrator) runQA(ctx context.Context, projectID string) {
	p, err := o.Store.GetProject(ctx, projectID)
	if err != nil {
		o.Logger.Error("qa lost project", "project", projectID, "error", err)
		return
	}

	if o.Analyzer == nil {
		o.finishQA(ctx, p, nil, fmt.Errorf("analysis service not configured"))
		return
	}

	inventory, sources, err := collectQAInputs(p.NormalizedPath)
	if err != nil {
		o.finishQA(ctx, p, nil, fmt.Errorf("collect project snapshot: %w", err))
		return
	}

	verdict, err := o.Analyzer.AnalyzeProject(ctx, inventory, sources)
	o.finishQA(ctx, p, verdict, err)
}

func (o *Orchestrator) finishQA(ctx context.Context, p *models.Project, verdict *llm.QAVerdict, err error) {
	if err != nil {
		p.Status = models.ProjectStatusQAFailed
		p.QAReport = fmt.Sprintf("analysis failed: %v\n", err)
	} else {
		p.QAReport = formatVerdict(verdict)
		if verdict.Passed() {
			p.Status = models.ProjectStatusQAPassed
		} else {
			p.Status = models.ProjectStatusQAFailed
		}
	}
	if uerr := o.Store.UpdateProject(ctx, p); uerr != nil {
		o.Logger.Error("persist qa result", "project", p.Name, "error", uerr)
		return
	}
	o.Logger.Info("qa finished", "project", p.Name, "status", p.Status)
}

func formatVerdict(v *llm.QAVerdict) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "verdict: %s\n", strings.ToLower(v.Verdict))
	if v.Summary != "" {
		fmt.Fprintf(&sb, "%s\n", v.Summary)
	}
	for _, f := range v.Findings {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", f.Severity, f.File, f.Detail)
	}
	return sb.String()
}

// runDeploy hands off to the coordinator, which owns the provider chain and
// its own persistence. The orchestrator only settles the project status when
// the attempt fails synchronously.
func (o *Orchestrator) runDeploy(ctx context.Context, projectID string) {
	p, err := o.Store.GetProject(ctx, projectID)
	if err != nil {
		o.Logger.Error("deploy lost project", "project", projectID, "error", err)
		return
	}

	if _, err := o.Coordinator.Deploy(ctx, p); err != nil {
		o.Logger.Error("deploy failed", "project", p.Name, "error", err)
		p.Status = models.ProjectStatusDeployFailed
		if uerr := o.Store.UpdateProject(ctx, p); uerr != nil {
			o.Logger.Error("persist deploy failure", "project", p.Name, "error", uerr)
		}
		return
	}
	o.Logger.Info("deploy attempt finished", "project", p.Name, "status", p.Status)
}

// qaSourceBudget bounds how much file content is sent to the analysis
// service.
const (
	qaMaxSources    = 10
	qaMaxSourceSize = 8 * 1024
)

var qaKeyFiles = map[string]bool{
	"package.json": true, "index.html": true, "requirements.txt": true,
	"main.py": true, "app.py": true, "go.mod": true,
}

var qaSkipDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true,
	"build": true, "__pycache__": true, ".next": true, "vendor": true,
}

var qaSourceExts = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".go": true, ".html": true,
}

// collectQAInputs builds the file inventory plus a bounded set of key source
// files for analysis.
func collectQAInputs(root string) (string, map[string]string, error) {
	var inventory strings.Builder
	sources := make(map[string]string)
	var candidates []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if qaSkipDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(&inventory, "%s (%d bytes)\n", rel, info.Size())

		if qaKeyFiles[filepath.Base(path)] || qaSourceExts[strings.ToLower(filepath.Ext(path))] {
			candidates = append(candidates, rel)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	// Key files first, then shallow paths, so the budget favors entry points.
	sort.Slice(candidates, func(i, j int) bool {
		ki, kj := qaKeyFiles[filepath.Base(candidates[i])], qaKeyFiles[filepath.Base(candidates[j])]
		if ki != kj {
			return ki
		}
		di, dj := strings.Count(candidates[i], "/"), strings.Count(candidates[j], "/")
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})

	for _, rel := range candidates {
		if len(sources) >= qaMaxSources {
			break
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if len(data) > qaMaxSourceSize {
			data = data[:qaMaxSourceSize]
		}
		sources[rel] = string(data)
	}

	return inventory.String(), sources, nil
}
