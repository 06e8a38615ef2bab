// Package runner executes project build, test, and install commands as
// subprocesses with bounded timeouts, capturing combined output for the
// repair loop to classify.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandError reports a non-zero subprocess exit. The captured output drives
// error classification in the repair loop, so it is carried on the error.
type CommandError struct {
	Cmd      string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Cmd, e.ExitCode)
}

// Runner runs shell commands in project directories.
type Runner struct {
	// Shell defaults to "sh". Overridable for tests.
	Shell string
}

// New returns a Runner with default settings.
func New() *Runner {
	return &Runner{Shell: "sh"}
}

// Run executes cmdline via the shell in dir, with the given timeout and extra
// environment variables appended to the current environment. It returns the
// combined stdout+stderr. A non-zero exit returns *CommandError; a timeout
// returns an error wrapping context.DeadlineExceeded.
func (r *Runner) Run(ctx context.Context, dir, cmdline string, timeout time.Duration, env map[string]string) (string, error) {
	if strings.TrimSpace(cmdline) == "" {
		return "", fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", cmdline)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.CombinedOutput()
	output := string(out)

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("command %q timed out after %s: %w", cmdline, timeout, context.DeadlineExceeded)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, &CommandError{Cmd: cmdline, ExitCode: exitErr.ExitCode(), Output: output}
		}
		return output, fmt.Errorf("run %q: %w", cmdline, err)
	}
	return output, nil
}
