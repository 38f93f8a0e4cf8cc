package cmdgate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// ProcessOutput is what a finished process left behind.
type ProcessOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ProcessRunner spawns argv[0] with the remaining elements as its arguments
// and waits for it. A process that ran and exited non-zero is not an error:
// its exit code is reported in ProcessOutput. Errors mean the process could
// not be started, or was stopped because ctx ended, in which case the
// returned error wraps ctx.Err().
type ProcessRunner interface {
	Run(ctx context.Context, dir string, argv []string) (ProcessOutput, error)
}

// ExecRunner runs processes with os/exec. No shell is involved.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes to close after
	// the process was killed.
	WaitDelay time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, dir string, argv []string) (ProcessOutput, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := ProcessOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	return out, err
}
