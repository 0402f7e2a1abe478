// Package execx runs external programs with a bounded timeout.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/ngbi/ijbatch/internal/command"
)

// ErrTimeout is returned when a program outlives its deadline.
var ErrTimeout = errors.New("execx: timed out")

// Result is the outcome of a program that ran to completion.
// A non-zero ExitCode is not an error at this level.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Options adjust a single invocation.
type Options struct {
	// Stdout receives standard output instead of Result.Stdout when set.
	Stdout io.Writer
	Dir    string
}

// Runner executes commands. Implementations must honour ctx cancellation.
type Runner interface {
	Run(ctx context.Context, cmd command.Command, opts Options) (*Result, error)
}

// DefaultWaitDelay is how long Run waits for output pipes to close once the
// program has exited or been killed.
const DefaultWaitDelay = 5 * time.Second

// Executor is the os/exec backed Runner.
type Executor struct {
	// Timeout bounds every invocation. Zero means the caller's context only.
	Timeout time.Duration
	// WaitDelay bounds the wait for descendants that left the process group
	// but still hold stdout or stderr open.
	WaitDelay time.Duration
}

// NewExecutor creates an Executor with the given per-call timeout.
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{Timeout: timeout, WaitDelay: DefaultWaitDelay}
}

// Run starts cmd and waits for it. On timeout or cancellation the whole
// process group is killed so that children of shell scripts do not linger.
func (e *Executor) Run(ctx context.Context, cmd command.Command, opts Options) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = opts.Dir
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.WaitDelay = e.WaitDelay

	var stdout, stderr bytes.Buffer
	if opts.Stdout != nil {
		c.Stdout = opts.Stdout
	} else {
		c.Stdout = &stdout
	}
	c.Stderr = &stderr

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("execx: start %s: %w", cmd.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if c.Process != nil {
			_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		}
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, time.Since(start).Round(time.Millisecond), cmd.Path)
		}
		return nil, fmt.Errorf("execx: %s cancelled: %w", cmd.Path, ctx.Err())
	case err = <-done:
	}

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("execx: wait %s: %w", cmd.Path, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}
