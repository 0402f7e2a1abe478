// Package joblist renders per-frame processing invocations and writes them
// to a run's job-list file, one line per frame.
package joblist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ngbi/ijbatch/internal/command"
)

// Delimiter joins the input path, output directory and macro selection into
// the single argument the processing macro splits on.
const Delimiter = "*"

var (
	ErrUnsafePath = errors.New("joblist: path contains the argument delimiter")
	ErrMalformed  = errors.New("joblist: malformed job line")
)

// Tool is the fixed part of every job line: the display wrapper, the
// processing binary, its heap ceiling and the driver macro.
type Tool struct {
	Wrapper string
	Binary  string
	Heap    string
	Macro   string
}

// Line is one frame's worth of work.
type Line struct {
	InputPath      string
	OutputDir      string
	MacroSelection string
	OutputPath     string
}

// CheckPath rejects paths that would corrupt the delimited macro argument
// or the line-oriented job file.
func CheckPath(p string) error {
	if p == "" {
		return fmt.Errorf("joblist: empty path")
	}
	if strings.Contains(p, Delimiter) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return command.CheckArg(p)
}

// MacroArgs joins the three run-time paths with Delimiter.
func (l Line) MacroArgs() string {
	return l.InputPath + Delimiter + strings.TrimRight(l.OutputDir, "/") + "/" + Delimiter + l.MacroSelection
}

// Command builds the invocation for l. All paths are validated first.
func (t Tool) Command(l Line) (command.Command, error) {
	for _, p := range []string{l.InputPath, l.OutputDir, l.MacroSelection, l.OutputPath} {
		if err := CheckPath(p); err != nil {
			return command.Command{}, err
		}
	}
	cmd := command.New(t.Wrapper,
		"-a", t.Binary,
		"-Xmx"+t.Heap,
		"--",
		"-macro", t.Macro,
		l.MacroArgs(),
		"-batch:"+l.OutputPath+":0",
	)
	if err := cmd.Validate(); err != nil {
		return command.Command{}, err
	}
	return cmd, nil
}

// Render returns the shell line for l.
func (t Tool) Render(l Line) (string, error) {
	cmd, err := t.Command(l)
	if err != nil {
		return "", err
	}
	return cmd.String(), nil
}

// Parsed is a job line split back into its parts.
type Parsed struct {
	Tool Tool
	Line Line
}

// ParseLine is the inverse of Tool.Render.
func ParseLine(s string) (Parsed, error) {
	cmd, err := command.Parse(strings.TrimSpace(s))
	if err != nil {
		return Parsed{}, err
	}
	a := cmd.Args
	if len(a) != 8 || a[0] != "-a" || !strings.HasPrefix(a[2], "-Xmx") || a[3] != "--" || a[4] != "-macro" {
		return Parsed{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	parts := strings.Split(a[6], Delimiter)
	if len(parts) != 3 {
		return Parsed{}, fmt.Errorf("%w: macro argument %q", ErrMalformed, a[6])
	}
	batch := a[7]
	if !strings.HasPrefix(batch, "-batch:") || !strings.HasSuffix(batch, ":0") {
		return Parsed{}, fmt.Errorf("%w: batch argument %q", ErrMalformed, batch)
	}
	return Parsed{
		Tool: Tool{
			Wrapper: cmd.Path,
			Binary:  a[1],
			Heap:    strings.TrimPrefix(a[2], "-Xmx"),
			Macro:   a[5],
		},
		Line: Line{
			InputPath:      parts[0],
			OutputDir:      strings.TrimSuffix(parts[1], "/"),
			MacroSelection: parts[2],
			OutputPath:     strings.TrimSuffix(strings.TrimPrefix(batch, "-batch:"), ":0"),
		},
	}, nil
}
