package deploy

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/runner"
)

// LocalRunner is the last-resort deploy target: it serves the project as a
// supervised child process on a free local port. Process exit is reported via
// OnExit so the self-healing monitor learns about crashes promptly.
type LocalRunner struct {
	Runner *runner.Runner

	// OnExit is called when a supervised process exits, with the project id
	// and the exit error (nil for a clean exit). May be nil.
	OnExit func(projectID string, err error)

	InstallTimeout time.Duration
	BuildTimeout   time.Duration

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// NewLocalRunner returns a runner with default timeouts.
func NewLocalRunner(r *runner.Runner) *LocalRunner {
	return &LocalRunner{
		Runner:         r,
		InstallTimeout: 5 * time.Minute,
		BuildTimeout:   5 * time.Minute,
		procs:          make(map[string]*exec.Cmd),
	}
}

// Deploy installs, builds, and starts the project locally. A previous process
// for the same project is stopped first so a redeploy replaces it.
func (l *LocalRunner) Deploy(ctx context.Context, project *models.Project, logf func(string, ...any)) (*Result, error) {
	if project.StartCmd == "" {
		return nil, fmt.Errorf("project %s has no start command", project.Name)
	}
	dir := project.NormalizedPath
	if dir == "" {
		return nil, fmt.Errorf("project %s has no normalized folder", project.Name)
	}

	l.Stop(project.ID)

	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}
	logf("allocated local port %d", port)

	env := map[string]string{"PORT": strconv.Itoa(port)}

	if project.InstallCmd != "" {
		logf("installing dependencies: %s", project.InstallCmd)
		if _, err := l.Runner.Run(ctx, dir, project.InstallCmd, l.InstallTimeout, env); err != nil {
			return nil, fmt.Errorf("install: %w", err)
		}
	}
	if project.BuildCmd != "" {
		logf("building: %s", project.BuildCmd)
		if _, err := l.Runner.Run(ctx, dir, project.BuildCmd, l.BuildTimeout, env); err != nil {
			return nil, fmt.Errorf("build: %w", err)
		}
	}

	logf("starting: %s", project.StartCmd)
	cmd := exec.Command("sh", "-c", project.StartCmd)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port))
	for k, v := range project.EnvVars {
		cmd.Env = append(cmd.Env, k+"="+v.Value)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	l.mu.Lock()
	l.procs[project.ID] = cmd
	l.mu.Unlock()

	go l.supervise(project.ID, cmd)

	url := fmt.Sprintf("http://localhost:%d", port)
	return &Result{
		Provider:    "local",
		DeployedURL: url,
		DeployID:    fmt.Sprintf("local-%d", cmd.Process.Pid),
		Status:      "live",
	}, nil
}

func (l *LocalRunner) supervise(projectID string, cmd *exec.Cmd) {
	err := cmd.Wait()

	l.mu.Lock()
	// Only report if this is still the current process; a replacement
	// deploy takes ownership of the slot.
	current := l.procs[projectID] == cmd
	if current {
		delete(l.procs, projectID)
	}
	l.mu.Unlock()

	if current && l.OnExit != nil {
		l.OnExit(projectID, err)
	}
}

// Stop kills the supervised process for a project, if any.
func (l *LocalRunner) Stop(projectID string) {
	l.mu.Lock()
	cmd := l.procs[projectID]
	delete(l.procs, projectID)
	l.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// freePort asks the kernel for an ephemeral port and releases it immediately.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
