// Package autofix implements the iterative build-diagnose-patch loop that
// turns a non-building project into a buildable one. Deterministic fixes for
// known error signatures are tried first; an AI repair service is the
// fallback for everything else.
package autofix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/runner"
)

// ErrMissingArtifact indicates the normalized folder is absent, which
// short-circuits the repair loop to a failed report.
var ErrMissingArtifact = errors.New("normalized folder missing")

// RepairService is the code-repair AI boundary.
type RepairService interface {
	RepairFile(ctx context.Context, filePath, errorText, fileContent string) (string, error)
}

// EnvPublisher pushes environment variables to one deploy provider.
// Publish failures are warnings for the repair loop, never aborts.
type EnvPublisher interface {
	Name() string
	PublishEnvVars(ctx context.Context, project *models.Project, vars map[string]models.EnvVar) error
}

// CommandRunner executes a shell command in a directory. Satisfied by
// *runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, dir, cmdline string, timeout time.Duration, extraEnv map[string]string) (string, error)
}

// Fixer runs the bounded repair loop.
type Fixer struct {
	Runner     CommandRunner
	Repair     RepairService // nil disables the AI fallback
	Publishers []EnvPublisher
	Logger     *slog.Logger

	MaxCycles      int
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
	TestTimeout    time.Duration
}

// New returns a Fixer with default bounds.
func New(r *runner.Runner, repair RepairService) *Fixer {
	return &Fixer{
		Runner:         r,
		Repair:         repair,
		Logger:         slog.Default(),
		MaxCycles:      3,
		InstallTimeout: 5 * time.Minute,
		BuildTimeout:   5 * time.Minute,
		TestTimeout:    3 * time.Minute,
	}
}

// Report is the ordered record of everything the repair loop did.
type Report struct {
	Status         models.AutoFixStatus
	BuildSucceeded bool
	ReadyForDeploy bool
	Actions        []string
}

func (r *Report) log(format string, args ...any) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

// Render formats the report as a numbered, human-readable action log.
func (r *Report) Render() string {
	var sb strings.Builder
	for i, a := range r.Actions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, a)
	}
	fmt.Fprintf(&sb, "auto-fix: %s, ready for deploy: %v\n", r.Status, r.ReadyForDeploy)
	return sb.String()
}

// Do runs the full repair pass: the bounded build loop, a single-pass test
// repair, the deterministic browser-config rewrite, env-var discovery and
// provider sync, and the structural readiness check. It always terminates
// and always produces a report.
func (f *Fixer) Do(ctx context.Context, project *models.Project) *Report {
	report := &Report{Status: models.AutoFixStatusFailed}

	dir := project.NormalizedPath
	if dir == "" {
		report.log("unrecoverable: %v", ErrMissingArtifact)
		return report
	}
	if _, err := os.Stat(dir); err != nil {
		report.log("unrecoverable: %v: %s", ErrMissingArtifact, dir)
		return report
	}

	buildEnv := map[string]string{}
	success := f.buildLoop(ctx, project, dir, buildEnv, report)

	f.repairTests(ctx, project, dir, buildEnv, report)
	f.fixBrowserTestConfig(dir, report)
	f.syncEnvVars(ctx, project, dir, report)

	report.BuildSucceeded = success
	report.ReadyForDeploy = ReadyForDeploy(project.ProjectType, dir)
	if report.ReadyForDeploy {
		report.log("readiness check passed for project type %s", project.ProjectType)
	} else {
		report.log("readiness check failed: entry file for type %s not found", project.ProjectType)
	}

	if success {
		report.Status = models.AutoFixStatusSuccess
	}
	return report
}

func (f *Fixer) maxCycles() int {
	if f.MaxCycles < 1 {
		return 3
	}
	return f.MaxCycles
}

// buildLoop runs the bounded build→classify→remediate cycle. Returns true
// when a build succeeded.
func (f *Fixer) buildLoop(ctx context.Context, project *models.Project, dir string, buildEnv map[string]string, report *Report) bool {
	buildCmd := strings.TrimSpace(project.BuildCmd)
	if buildCmd == "" {
		report.log("no build step declared; skipping build repair")
		return true
	}

	max := f.maxCycles()
	for cycle := 1; cycle <= max; cycle++ {
		out, err := f.Runner.Run(ctx, dir, buildCmd, f.BuildTimeout, buildEnv)
		if err == nil {
			report.log("build succeeded on cycle %d", cycle)
			return true
		}

		errText := commandOutput(err, out)
		report.log("cycle %d: build failed", cycle)
		f.Logger.Debug("build failed", "project", project.Name, "cycle", cycle, "error", err)

		if sig, ok := Classify(errText); ok {
			f.applySignatureFix(ctx, project, dir, sig, buildEnv, report)
			continue
		}

		f.aiRepair(ctx, dir, errText, "build", report)
	}

	report.log("exhausted %d repair cycles without a successful build", max)
	return false
}

// applySignatureFix runs the deterministic remediation for a classified
// error. Remediation failures are logged and the loop continues.
func (f *Fixer) applySignatureFix(ctx context.Context, project *models.Project, dir string, sig Signature, buildEnv map[string]string, report *Report) {
	report.log("classified error: %s", sig.Description())

	switch sig.Kind {
	case SigMissingModule:
		cmdline := installCommand(project.ProjectType, sig.Module)
		if _, err := f.Runner.Run(ctx, dir, cmdline, f.InstallTimeout, buildEnv); err != nil {
			report.log("dependency install failed: %v", err)
			return
		}
		report.log("installed dependency %s", sig.Module)

	case SigExportIncompat:
		if sig.Module == "" {
			// No specific package identified; reinstall to settle versions.
			if _, err := f.Runner.Run(ctx, dir, "npm install", f.InstallTimeout, buildEnv); err != nil {
				report.log("dependency reinstall failed: %v", err)
				return
			}
			report.log("reinstalled dependencies to resolve export mismatch")
			return
		}
		cmdline := fmt.Sprintf("npm install %s@latest", sig.Module)
		if _, err := f.Runner.Run(ctx, dir, cmdline, f.InstallTimeout, buildEnv); err != nil {
			report.log("dependency upgrade failed: %v", err)
			return
		}
		report.log("upgraded dependency %s to resolve export mismatch", sig.Module)

	case SigStylesheetClash:
		disabled := false
		for _, name := range []string{"postcss.config.js", "postcss.config.cjs"} {
			src := filepath.Join(dir, name)
			if _, err := os.Stat(src); err == nil {
				if err := os.Rename(src, src+".disabled"); err != nil {
					report.log("could not disable %s: %v", name, err)
					continue
				}
				report.log("disabled conflicting %s", name)
				disabled = true
			}
		}
		if !disabled {
			report.log("stylesheet conflict detected but no postcss config found to disable")
		}

	case SigLegacyCrypto:
		buildEnv["NODE_OPTIONS"] = "--openssl-legacy-provider"
		report.log("enabled legacy OpenSSL provider for subsequent builds")

	case SigCacheCorrupt:
		if _, err := f.Runner.Run(ctx, dir, "rm -rf node_modules package-lock.json", time.Minute, nil); err != nil {
			report.log("cache clear failed: %v", err)
			return
		}
		install := project.InstallCmd
		if install == "" {
			install = "npm install"
		}
		if _, err := f.Runner.Run(ctx, dir, install, f.InstallTimeout, buildEnv); err != nil {
			report.log("dependency reinstall after cache clear failed: %v", err)
			return
		}
		report.log("cleared and reinstalled dependency cache")
	}
}

func installCommand(t models.ProjectType, module string) string {
	if t == models.ProjectTypePython {
		return fmt.Sprintf("pip install %s", module)
	}
	return fmt.Sprintf("npm install %s", module)
}

// aiRepair identifies the file implicated by the error text, sends it to the
// repair service, and overwrites it with the returned content.
func (f *Fixer) aiRepair(ctx context.Context, dir, errText, phase string, report *Report) {
	rel := ExtractFilePath(errText)
	if rel == "" {
		report.log("no known signature matched and no file path recognized in %s output", phase)
		return
	}
	if f.Repair == nil {
		report.log("file %s implicated by %s error but no repair service is configured", rel, phase)
		return
	}

	full := filepath.Join(dir, rel)
	content, err := os.ReadFile(full)
	if err != nil {
		report.log("could not read %s for AI repair: %v", rel, err)
		return
	}

	fixed, err := f.Repair.RepairFile(ctx, rel, errText, string(content))
	if err != nil {
		report.log("AI repair of %s failed: %v", rel, err)
		return
	}
	if err := os.WriteFile(full, []byte(fixed), 0644); err != nil {
		report.log("could not write repaired %s: %v", rel, err)
		return
	}
	report.log("applied AI repair to %s (%s error)", rel, phase)
}

// repairTests is a single-pass test repair scoped to test-failure stack
// traces. It never loops.
func (f *Fixer) repairTests(ctx context.Context, project *models.Project, dir string, buildEnv map[string]string, report *Report) {
	testCmd := strings.TrimSpace(project.TestCmd)
	if testCmd == "" {
		return
	}

	testEnv := map[string]string{"CI": "true"}
	for k, v := range buildEnv {
		testEnv[k] = v
	}

	out, err := f.Runner.Run(ctx, dir, testCmd, f.TestTimeout, testEnv)
	if err == nil {
		report.log("tests passed")
		return
	}
	report.log("tests failed")
	f.aiRepair(ctx, dir, commandOutput(err, out), "test", report)
}

// fixBrowserTestConfig deterministically rewrites headless-test
// configuration. No AI call is involved.
func (f *Fixer) fixBrowserTestConfig(dir string, report *Report) {
	path := filepath.Join(dir, "jest.config.js")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	content := string(data)
	if strings.Contains(content, "testEnvironment") {
		return
	}

	marker := "module.exports = {"
	idx := strings.Index(content, marker)
	if idx < 0 {
		return
	}
	insert := idx + len(marker)
	patched := content[:insert] + "\n  testEnvironment: 'jsdom'," + content[insert:]
	if err := os.WriteFile(path, []byte(patched), 0644); err != nil {
		report.log("could not rewrite jest.config.js: %v", err)
		return
	}
	report.log("set jest testEnvironment to jsdom for headless runs")
}

// syncEnvVars discovers environment-variable references in the source and
// pushes them to every configured provider. Failures are warnings.
func (f *Fixer) syncEnvVars(ctx context.Context, project *models.Project, dir string, report *Report) {
	names, err := DiscoverEnvVars(dir)
	if err != nil {
		report.log("warning: env var scan failed: %v", err)
		return
	}
	if len(names) == 0 {
		return
	}

	if project.EnvVars == nil {
		project.EnvVars = make(map[string]models.EnvVar)
	}
	added := 0
	for _, name := range names {
		if _, exists := project.EnvVars[name]; !exists {
			project.EnvVars[name] = models.EnvVar{}
			added++
		}
	}
	report.log("discovered %d env var reference(s): %s", len(names), strings.Join(names, ", "))

	for _, pub := range f.Publishers {
		if err := pub.PublishEnvVars(ctx, project, project.EnvVars); err != nil {
			report.log("warning: env sync to %s failed: %v", pub.Name(), err)
			continue
		}
		report.log("synced env vars to %s", pub.Name())
	}
}

// commandOutput prefers the captured subprocess output for classification,
// falling back to the error string.
func commandOutput(err error, out string) string {
	var cmdErr *runner.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Output != "" {
		return cmdErr.Output
	}
	if out != "" {
		return out
	}
	return err.Error()
}
