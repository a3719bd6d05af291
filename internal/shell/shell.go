package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when the context deadline expires before the
	// command exits. The whole process group has been killed by then.
	ErrTimeout = errors.New("command timed out")
	// ErrUnavailable is returned when the shell or the invoked tool is missing.
	ErrUnavailable = errors.New("command not available")
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

// Runner executes command strings through the host shell.
type Runner struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// process group is killed.
	WaitDelay time.Duration
}

// New returns a Runner with default settings.
func New() *Runner {
	return &Runner{WaitDelay: time.Second}
}

// Run executes command and returns its stdout. The child runs in its own
// process group so a pipeline is killed as a whole when ctx expires.
func (r *Runner) Run(ctx context.Context, command string) (string, error) {
	cmd := shellCommand(ctx, command)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.String(), fmt.Errorf("%w: %s", ErrTimeout, command)
	}
	if err == nil {
		return stdout.String(), nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(stderr.String())
		if isNotFound(ee.ExitCode(), msg) {
			return stdout.String(), fmt.Errorf("%w: %s", ErrUnavailable, msg)
		}
		return stdout.String(), &ExitError{Code: ee.ExitCode(), Stderr: msg}
	}

	return stdout.String(), err
}
