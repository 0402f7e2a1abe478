// Package scheduler hands generated descriptors to a remote batch scheduler.
package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ngbi/ijbatch/internal/command"
	"github.com/ngbi/ijbatch/internal/execx"
)

// ErrRejected means the submission command ran but did not accept the job.
var ErrRejected = errors.New("scheduler: submission rejected")

// LocalSystem runs the submission command on this host instead of over ssh.
const LocalSystem = "local"

// Submitter dispatches a descriptor and returns the scheduler's job id.
type Submitter interface {
	Submit(ctx context.Context, descriptorPath string) (string, error)
}

// RemoteSubmitter runs the submission command on System over ssh.
type RemoteSubmitter struct {
	System        string
	SubmitCommand string
	SSH           string
	Runner        execx.Runner
}

// NewRemoteSubmitter creates a RemoteSubmitter using the ssh on PATH.
func NewRemoteSubmitter(system, submitCommand string, runner execx.Runner) *RemoteSubmitter {
	return &RemoteSubmitter{
		System:        system,
		SubmitCommand: submitCommand,
		SSH:           "ssh",
		Runner:        runner,
	}
}

// Command returns the invocation for descriptorPath. The remote half is
// quoted as a single word because ssh re-joins its arguments into a shell
// line on the far side.
func (s *RemoteSubmitter) Command(descriptorPath string) command.Command {
	submit := command.New(s.SubmitCommand, descriptorPath)
	if s.System == "" || s.System == LocalSystem {
		return submit
	}
	return command.New(s.SSH, "-o", "BatchMode=yes", s.System, submit.String())
}

// Submit runs the submission once. There is no retry: any failure is
// returned to the caller.
func (s *RemoteSubmitter) Submit(ctx context.Context, descriptorPath string) (string, error) {
	if err := command.CheckArg(descriptorPath); err != nil {
		return "", fmt.Errorf("scheduler: descriptor path: %w", err)
	}
	res, err := s.Runner.Run(ctx, s.Command(descriptorPath), execx.Options{})
	if err != nil {
		return "", fmt.Errorf("scheduler: submit to %s: %w", s.systemName(), err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w by %s: exit %d: %s", ErrRejected, s.systemName(), res.ExitCode,
			strings.TrimSpace(string(res.Stderr)))
	}
	return JobID(res.Stdout), nil
}

func (s *RemoteSubmitter) systemName() string {
	if s.System == "" {
		return LocalSystem
	}
	return s.System
}

// JobID extracts the job identifier qsub prints as the first non-empty line.
func JobID(stdout []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
