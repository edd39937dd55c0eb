package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Runner executes one job command.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) Result
}

// Result describes how a command ended. Exactly one of the failure fields
// explains a failed run.
type Result struct {
	ExitCode    int
	Stderr      string
	TimedOut    bool
	Interrupted bool
	Err         error // the command could not be started or waited on

	Timeout time.Duration
}

func (r Result) Success() bool {
	return r.Err == nil && !r.TimedOut && !r.Interrupted && r.ExitCode == 0
}

// FailureMessage is the text recorded as the job's last error.
func (r Result) FailureMessage() string {
	switch {
	case r.TimedOut:
		return fmt.Sprintf("command timed out after %s", r.Timeout)
	case r.Interrupted:
		return "command interrupted: worker shutting down"
	case r.Err != nil:
		return r.Err.Error()
	}
	if msg := strings.TrimSpace(r.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit code %d", r.ExitCode)
}

// ShellRunner runs commands with `sh -c`, capturing stderr. Cancelling ctx or
// hitting the timeout kills the command and anything it spawned.
type ShellRunner struct {
	Shell string
	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed.
	WaitDelay time.Duration
}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: "sh", WaitDelay: 2 * time.Second}
}

func (r *ShellRunner) Run(ctx context.Context, command string, timeout time.Duration) Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.Shell, "-c", command)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	killProcessGroup(cmd)

	err := cmd.Run()
	res := Result{Stderr: stderr.String(), Timeout: timeout}
	if err == nil {
		return res
	}

	switch {
	case ctx.Err() != nil:
		res.Interrupted = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.Err = err
		}
	}
	return res
}
