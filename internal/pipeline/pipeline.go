// Package pipeline drives each selected image through frame export,
// job-list construction, resource planning, descriptor generation and
// submission. Images are handled one after another; a failing image is
// recorded and the batch moves on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ngbi/ijbatch/internal/config"
	"github.com/ngbi/ijbatch/internal/descriptor"
	"github.com/ngbi/ijbatch/internal/execx"
	"github.com/ngbi/ijbatch/internal/frames"
	"github.com/ngbi/ijbatch/internal/joblist"
	"github.com/ngbi/ijbatch/internal/logging"
	"github.com/ngbi/ijbatch/internal/model"
	"github.com/ngbi/ijbatch/internal/omero"
	"github.com/ngbi/ijbatch/internal/planner"
	"github.com/ngbi/ijbatch/internal/scheduler"
	"github.com/ngbi/ijbatch/internal/workspace"
)

// Observer is told about every state a run enters.
type Observer interface {
	Observe(ctx context.Context, run *model.Run)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, run *model.Run)

func (f ObserverFunc) Observe(ctx context.Context, run *model.Run) { f(ctx, run) }

// Job holds the per-batch choices of the submitting user.
type Job struct {
	BatchID       string
	User          string
	SessionID     string
	Selection     model.Selection
	Macro         string
	WallTime      string
	PrivateMemory string
}

// Outcome is the end state of one image.
type Outcome struct {
	RunID          string         `json:"runId" yaml:"runId"`
	ImageID        int64          `json:"imageId" yaml:"imageId"`
	ImageName      string         `json:"imageName" yaml:"imageName"`
	Depth          int            `json:"depth" yaml:"depth"`
	State          model.RunState `json:"state" yaml:"state"`
	Nodes          int            `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	JobListPath    string         `json:"jobListPath,omitempty" yaml:"jobListPath,omitempty"`
	DescriptorPath string         `json:"descriptorPath,omitempty" yaml:"descriptorPath,omitempty"`
	SchedulerJobID string         `json:"schedulerJobId,omitempty" yaml:"schedulerJobId,omitempty"`
	Err            error          `json:"-" yaml:"-"`
	Error          string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report collects the outcomes of a batch in processing order.
type Report struct {
	BatchID  string     `json:"batchId" yaml:"batchId"`
	Outcomes []*Outcome `json:"outcomes" yaml:"outcomes"`
}

// Count returns how many outcomes ended in state s.
func (r *Report) Count(s model.RunState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == s {
			n++
		}
	}
	return n
}

// Status summarises the batch: failed if nothing was submitted while
// something failed, partial if both happened.
func (r *Report) Status() model.BatchStatus {
	submitted, failed := r.Count(model.RunStateSubmitted), r.Count(model.RunStateFailed)
	switch {
	case failed == 0:
		return model.BatchStatusSucceeded
	case submitted == 0:
		return model.BatchStatusFailed
	default:
		return model.BatchStatusPartial
	}
}

// Processor runs the pipeline. Build one with New or FromConfig.
type Processor struct {
	Repo        omero.Repository
	Generator   descriptor.Generator
	Submitter   scheduler.Submitter
	Policy      planner.Policy
	Tool        joblist.Tool
	StackMacro  string
	ScratchRoot string
	KeepAlive   time.Duration
	Observer    Observer
	Log         *logging.Logger
	Now         func() time.Time

	// Used when a Job leaves them empty.
	WallTime      string
	PrivateMemory string
}

// FromConfig wires a Processor from configuration, submitting to system.
func FromConfig(cfg *config.Config, repo omero.Repository, runner execx.Runner, system string, log *logging.Logger) *Processor {
	if system == "" {
		system = cfg.Scheduler.System
	}
	return &Processor{
		Repo:      repo,
		Generator: descriptor.NewScriptGenerator(cfg.Paths.DescriptorGenerator, runner),
		Submitter: scheduler.NewRemoteSubmitter(system, cfg.Paths.SubmitCommand, runner),
		Policy: planner.Policy{
			SlotsPerNode: cfg.Scheduler.SlotsPerNode,
			FrameCost:    cfg.Scheduler.FrameCost,
		},
		Tool: joblist.Tool{
			Wrapper: cfg.Paths.DisplayWrapper,
			Binary:  cfg.Paths.ToolPath,
			Heap:    cfg.Scheduler.Heap,
			Macro:   cfg.Paths.DriverMacro,
		},
		StackMacro:    cfg.Paths.StackMacro,
		ScratchRoot:   cfg.Paths.ScratchRoot,
		KeepAlive:     cfg.Scheduler.KeepAlive,
		WallTime:      cfg.Scheduler.WallTime,
		PrivateMemory: cfg.Scheduler.PrivateMemory,
		Log:           log,
	}
}

// ProcessBatch resolves the selection and processes every image in order.
// It returns an error only when nothing could be selected or ctx ends;
// per-image failures are reported in the outcomes. Selected image ids the
// repository does not know are recorded as skipped.
func (p *Processor) ProcessBatch(ctx context.Context, job Job) (*Report, error) {
	if err := p.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	report := &Report{BatchID: job.BatchID}

	images, err := p.Repo.ListImages(ctx, job.Selection)
	var missing *omero.MissingError
	if errors.As(err, &missing) {
		p.Log.Warn("selected objects not found", "type", missing.DataType, "ids", missing.IDs)
		if missing.DataType == model.DataTypeImage {
			for _, id := range missing.IDs {
				report.Outcomes = append(report.Outcomes, p.skipMissing(ctx, id, job))
			}
		}
		if len(images) == 0 {
			return report, fail(ErrInput, 0, err)
		}
		err = nil
	}
	if err != nil {
		return report, fail(ErrInput, 0, err)
	}
	if len(images) == 0 {
		return report, fail(ErrInput, 0, errors.New("no images selected"))
	}
	p.Log.Info("batch started", "batch", job.BatchID, "images", len(images))

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o := p.ProcessImage(ctx, img, job)
		report.Outcomes = append(report.Outcomes, o)

		switch {
		case o.Err == nil:
			p.Log.Info("image submitted", "image", img.ID, "nodes", o.Nodes, "job", o.SchedulerJobID)
		case errors.Is(o.Err, ErrInput):
			p.Log.Warn("image skipped", "image", img.ID, "reason", o.Err)
		default:
			p.Log.Error("image failed", "image", img.ID, "error", o.Err)
		}
	}

	p.Log.Info("batch finished", "batch", job.BatchID, "status", report.Status(),
		"submitted", report.Count(model.RunStateSubmitted),
		"failed", report.Count(model.RunStateFailed),
		"skipped", report.Count(model.RunStateSkipped))
	return report, nil
}

// ProcessImage takes one image from enumeration to submission. The returned
// outcome always carries a terminal state.
func (p *Processor) ProcessImage(ctx context.Context, img model.Image, job Job) *Outcome {
	r := p.newRunner(ctx, img, job)
	if err := r.build(img, job); err != nil {
		if errors.Is(err, ErrInput) {
			r.finish(model.RunStateSkipped, err)
		} else {
			r.finish(model.RunStateFailed, err)
		}
	}
	return r.outcome()
}

// skipMissing records an image id the repository does not know as skipped.
func (p *Processor) skipMissing(ctx context.Context, id int64, job Job) *Outcome {
	r := p.newRunner(ctx, model.Image{ID: id}, job)
	r.finish(model.RunStateSkipped, fail(ErrInput, id, omero.ErrNotFound))
	return r.outcome()
}

func (p *Processor) newRunner(ctx context.Context, img model.Image, job Job) *runner {
	r := &runner{p: p, ctx: ctx, run: &model.Run{
		ID:        uuid.New().String(),
		BatchID:   job.BatchID,
		ImageID:   img.ID,
		ImageName: img.Name,
		DatasetID: img.DatasetID,
		Depth:     img.SizeZ,
		State:     model.RunStateEnumerated,
		CreatedAt: p.now(),
	}}
	r.observe()
	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// runner carries one image through the state machine.
type runner struct {
	p   *Processor
	ctx context.Context
	run *model.Run
	err error
}

func (r *runner) build(img model.Image, job Job) error {
	p := r.p
	// An empty job-list is still well formed (joblist.Write), but there is
	// nothing to submit for a stack without planes.
	if img.SizeZ <= 0 {
		return fail(ErrInput, img.ID, fmt.Errorf("stack depth is %d", img.SizeZ))
	}
	seq, err := frames.New(img.SizeZ)
	if err != nil {
		return fail(ErrInput, img.ID, err)
	}

	ws, err := workspace.New(p.ScratchRoot)
	if err != nil {
		return fail(ErrWorkspace, img.ID, err)
	}
	r.run.Workspace = ws.OutputDir

	it := seq.Iter()
	for f, ok := it.Next(); ok; f, ok = it.Next() {
		if err := p.Repo.RenderFrame(r.ctx, img.ID, f.Index, f.InputPath(ws.InputDir)); err != nil {
			return fail(ErrWorkspace, img.ID, fmt.Errorf("export plane %d: %w", f.Index, err))
		}
	}

	spec := joblist.Spec{
		Tool:           p.Tool,
		InputDir:       ws.InputDir,
		OutputDir:      ws.OutputDir,
		MacroSelection: job.Macro,
	}
	n, err := joblist.Write(ws.JobListPath(), seq, spec)
	if err != nil {
		return fail(ErrJobList, img.ID, err)
	}
	if n != img.SizeZ {
		return fail(ErrJobList, img.ID, fmt.Errorf("wrote %d lines for depth %d", n, img.SizeZ))
	}
	r.run.JobListPath = ws.JobListPath()
	if err := r.advance(model.RunStateJobListWritten); err != nil {
		return err
	}

	plan := p.Policy.Plan(img.SizeZ)
	r.run.Nodes = plan.Nodes
	if err := r.advance(model.RunStatePlanComputed); err != nil {
		return err
	}

	params := descriptor.Params{
		User:          job.User,
		DatasetID:     img.DatasetID,
		ImageName:     img.Name,
		RunID:         job.SessionID,
		MacroPath:     p.StackMacro,
		OutputDir:     ws.OutputDir,
		WallTime:      orDefault(job.WallTime, p.WallTime),
		PrivateMemory: orDefault(job.PrivateMemory, p.PrivateMemory),
		JobListPath:   ws.JobListPath(),
		Nodes:         plan.Nodes,
	}
	if err := p.Generator.Generate(r.ctx, params, ws.DescriptorPath()); err != nil {
		return fail(ErrDescriptor, img.ID, err)
	}
	r.run.DescriptorPath = ws.DescriptorPath()
	if err := r.advance(model.RunStateDescriptorGenerated); err != nil {
		return err
	}

	if p.KeepAlive > 0 {
		if err := p.Repo.KeepAlive(r.ctx, p.KeepAlive); err != nil {
			p.Log.Warn("session keep-alive failed", "image", img.ID, "error", err)
		}
	}

	jobID, err := p.Submitter.Submit(r.ctx, ws.DescriptorPath())
	if err != nil {
		return fail(ErrSubmission, img.ID, err)
	}
	r.run.SchedulerJobID = jobID
	if err := r.advance(model.RunStateSubmitted); err != nil {
		return err
	}
	now := r.p.now()
	r.run.CompletedAt = &now
	r.observe()
	return nil
}

// advance moves the run to state to, refusing illegal transitions.
func (r *runner) advance(to model.RunState) error {
	if !r.run.State.CanTransition(to) {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", r.run.State, to)
	}
	r.run.State = to
	if to != model.RunStateSubmitted {
		r.observe()
	}
	return nil
}

func (r *runner) finish(state model.RunState, err error) {
	r.err = err
	msg := err.Error()
	r.run.Error = &msg
	if r.run.State.CanTransition(state) {
		r.run.State = state
	} else {
		r.run.State = model.RunStateFailed
	}
	now := r.p.now()
	r.run.CompletedAt = &now
	r.observe()
}

func (r *runner) observe() {
	if r.p.Observer != nil {
		r.p.Observer.Observe(r.ctx, r.run)
	}
}

func (r *runner) outcome() *Outcome {
	o := &Outcome{
		RunID:          r.run.ID,
		ImageID:        r.run.ImageID,
		ImageName:      r.run.ImageName,
		Depth:          r.run.Depth,
		State:          r.run.State,
		Nodes:          r.run.Nodes,
		JobListPath:    r.run.JobListPath,
		DescriptorPath: r.run.DescriptorPath,
		SchedulerJobID: r.run.SchedulerJobID,
		Err:            r.err,
	}
	if r.err != nil {
		o.Error = r.err.Error()
	}
	return o
}
