// Package descriptor produces the batch-scheduler script for a run by
// invoking an external generator with a fixed list of positional arguments.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ngbi/ijbatch/internal/command"
	"github.com/ngbi/ijbatch/internal/execx"
)

var (
	ErrGeneratorFailed = errors.New("descriptor: generator exited non-zero")
	ErrEmptyDescriptor = errors.New("descriptor: generator produced no output")
)

// Params are the fully resolved inputs of one descriptor.
type Params struct {
	User          string
	DatasetID     int64
	ImageName     string
	RunID         string
	MacroPath     string
	OutputDir     string
	WallTime      string
	PrivateMemory string
	JobListPath   string
	Nodes         int
}

// StackArgs is the output directory with a trailing slash, as the
// generator expects for its stack argument.
func (p Params) StackArgs() string {
	return strings.TrimRight(p.OutputDir, "/") + "/"
}

// Args returns the generator's positional arguments in their fixed order:
// user, dataset, image name, run id, macro, stack args, output dir, wall
// time, private memory, job-list path, node count.
func (p Params) Args() []string {
	return []string{
		p.User,
		strconv.FormatInt(p.DatasetID, 10),
		p.ImageName,
		p.RunID,
		p.MacroPath,
		p.StackArgs(),
		p.OutputDir,
		p.WallTime,
		p.PrivateMemory,
		p.JobListPath,
		strconv.Itoa(p.Nodes),
	}
}

// Generator writes a descriptor for params to outPath.
type Generator interface {
	Generate(ctx context.Context, params Params, outPath string) error
}

// ScriptGenerator runs a generator shell script through a Runner.
type ScriptGenerator struct {
	Shell  string
	Script string
	Runner execx.Runner
}

// NewScriptGenerator creates a generator for script, run by /bin/sh.
func NewScriptGenerator(script string, runner execx.Runner) *ScriptGenerator {
	return &ScriptGenerator{Shell: "/bin/sh", Script: script, Runner: runner}
}

// Command returns the invocation used for params.
func (g *ScriptGenerator) Command(params Params) command.Command {
	return command.New(g.Shell, g.Script).With(params.Args()...)
}

// Generate runs the script with stdout redirected to outPath. The descriptor
// counts as generated only if the script exits 0 and outPath is non-empty.
func (g *ScriptGenerator) Generate(ctx context.Context, params Params, outPath string) error {
	if params.Nodes < 1 {
		return fmt.Errorf("descriptor: invalid node count %d", params.Nodes)
	}
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("descriptor: create %s: %w", outPath, err)
	}

	res, runErr := g.Runner.Run(ctx, g.Command(params), execx.Options{Stdout: out})
	if cerr := out.Close(); cerr != nil && runErr == nil {
		runErr = fmt.Errorf("descriptor: close %s: %w", outPath, cerr)
	}
	if runErr != nil {
		return fmt.Errorf("descriptor: run %s: %w", g.Script, runErr)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: exit %d: %s", ErrGeneratorFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("descriptor: stat %s: %w", outPath, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyDescriptor, outPath)
	}
	return nil
}
