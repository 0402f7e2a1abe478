package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngbi/ijbatch/internal/descriptor"
	"github.com/ngbi/ijbatch/internal/joblist"
	"github.com/ngbi/ijbatch/internal/logging"
	"github.com/ngbi/ijbatch/internal/model"
	"github.com/ngbi/ijbatch/internal/omero"
	"github.com/ngbi/ijbatch/internal/planner"
	"github.com/ngbi/ijbatch/internal/workspace"
)

type fakeRepo struct {
	mu        sync.Mutex
	images    []model.Image
	listErr   error
	failPlane map[int64]int
	pings     int
}

func (r *fakeRepo) ListImages(ctx context.Context, sel model.Selection) ([]model.Image, error) {
	return r.images, r.listErr
}

func (r *fakeRepo) RenderFrame(ctx context.Context, imageID int64, z int, path string) error {
	if plane, ok := r.failPlane[imageID]; ok && plane == z {
		return errors.New("render failed")
	}
	return os.WriteFile(path, []byte("tiff"), 0o644)
}

func (r *fakeRepo) KeepAlive(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pings++
	return nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	failOn map[string]bool
	params []descriptor.Params
}

func (g *fakeGenerator) Generate(ctx context.Context, params descriptor.Params, outPath string) error {
	g.mu.Lock()
	g.params = append(g.params, params)
	g.mu.Unlock()
	if g.failOn[params.ImageName] {
		return descriptor.ErrGeneratorFailed
	}
	return os.WriteFile(outPath, []byte(fmt.Sprintf("#PBS -l nodes=%d\n", params.Nodes)), 0o644)
}

type fakeSubmitter struct {
	mu    sync.Mutex
	err   error
	paths []string
}

func (s *fakeSubmitter) Submit(ctx context.Context, descriptorPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, descriptorPath)
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("%d.cvrsvc", len(s.paths)), nil
}

type recorder struct {
	mu     sync.Mutex
	states map[string][]model.RunState
}

func (r *recorder) Observe(ctx context.Context, run *model.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[string][]model.RunState)
	}
	r.states[run.ID] = append(r.states[run.ID], run.State)
}

type fixture struct {
	root      string
	repo      *fakeRepo
	gen       *fakeGenerator
	sub       *fakeSubmitter
	rec       *recorder
	processor *Processor
}

func newFixture(t *testing.T, images ...model.Image) *fixture {
	t.Helper()
	f := &fixture{
		root: t.TempDir(),
		repo: &fakeRepo{images: images},
		gen:  &fakeGenerator{failOn: map[string]bool{}},
		sub:  &fakeSubmitter{},
		rec:  &recorder{},
	}
	f.processor = &Processor{
		Repo:      f.repo,
		Generator: f.gen,
		Submitter: f.sub,
		Policy:    planner.DefaultPolicy(),
		Tool: joblist.Tool{
			Wrapper: "/opt/res/scripts/xvfb-run",
			Binary:  "/opt/res/ImageJ/ImageJ-linux64",
			Heap:    "2g",
			Macro:   "/opt/res/macros/weka_tfmq.ijm",
		},
		StackMacro:  "/opt/res/macros/stack_out.ijm",
		ScratchRoot: f.root,
		KeepAlive:   72 * time.Hour,
		Observer:    f.rec,
		Log:         logging.Discard(),
	}
	return f
}

func testJob() Job {
	return Job{
		BatchID:       "batch-1",
		User:          "jcorrea",
		SessionID:     "session-uuid",
		Selection:     model.Selection{DataType: model.DataTypeImage, IDs: []int64{1}},
		Macro:         "/opt/res/macros/classify.ijm",
		WallTime:      "0:30:00",
		PrivateMemory: "4GB",
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	require.NoError(t, sc.Err())
	return n
}

func TestProcessBatch_SubmitsEveryImage(t *testing.T) {
	f := newFixture(t,
		model.Image{ID: 1, DatasetID: 7, Name: "a.tif", SizeZ: 3},
		model.Image{ID: 2, DatasetID: 7, Name: "b.tif", SizeZ: 48},
	)

	report, err := f.processor.ProcessBatch(context.Background(), testJob())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, model.BatchStatusSucceeded, report.Status())

	for i, want := range []struct{ depth, nodes int }{{3, 1}, {48, 3}} {
		o := report.Outcomes[i]
		require.NoError(t, o.Err)
		assert.Equal(t, model.RunStateSubmitted, o.State)
		assert.Equal(t, want.nodes, o.Nodes)
		assert.Equal(t, want.depth, countLines(t, o.JobListPath))
		assert.Equal(t, workspace.SuffixOf(o.JobListPath), workspace.SuffixOf(o.DescriptorPath))
		assert.Equal(t, f.root, filepath.Dir(o.JobListPath))
		assert.Equal(t, fmt.Sprintf("%d.cvrsvc", i+1), o.SchedulerJobID)

		assert.Equal(t, []model.RunState{
			model.RunStateEnumerated,
			model.RunStateJobListWritten,
			model.RunStatePlanComputed,
			model.RunStateDescriptorGenerated,
			model.RunStateSubmitted,
		}, f.rec.states[o.RunID])
	}
	assert.Equal(t, 2, f.repo.pings)
}

func TestProcessImage_DescriptorParams(t *testing.T) {
	f := newFixture(t)
	o := f.processor.ProcessImage(context.Background(), model.Image{ID: 3, DatasetID: 51, Name: "c.tif", SizeZ: 480}, testJob())
	require.NoError(t, o.Err)

	require.Len(t, f.gen.params, 1)
	p := f.gen.params[0]
	assert.Equal(t, "jcorrea", p.User)
	assert.Equal(t, int64(51), p.DatasetID)
	assert.Equal(t, "c.tif", p.ImageName)
	assert.Equal(t, "session-uuid", p.RunID)
	assert.Equal(t, "/opt/res/macros/stack_out.ijm", p.MacroPath)
	assert.Equal(t, o.JobListPath, p.JobListPath)
	assert.Equal(t, 22, p.Nodes)
	assert.Equal(t, workspace.SuffixOf(o.JobListPath), filepath.Base(p.OutputDir))
}

func TestProcessBatch_GeneratorFailureDoesNotSubmit(t *testing.T) {
	f := newFixture(t,
		model.Image{ID: 1, Name: "bad.tif", SizeZ: 4},
		model.Image{ID: 2, Name: "good.tif", SizeZ: 4},
	)
	f.gen.failOn["bad.tif"] = true

	report, err := f.processor.ProcessBatch(context.Background(), testJob())
	require.NoError(t, err)

	bad, good := report.Outcomes[0], report.Outcomes[1]
	assert.Equal(t, model.RunStateFailed, bad.State)
	assert.True(t, errors.Is(bad.Err, ErrDescriptor))
	assert.True(t, errors.Is(bad.Err, descriptor.ErrGeneratorFailed))
	assert.Equal(t, model.RunStateSubmitted, good.State)

	require.Len(t, f.sub.paths, 1)
	assert.Equal(t, good.DescriptorPath, f.sub.paths[0])
	assert.Equal(t, model.BatchStatusPartial, report.Status())
}

func TestProcessBatch_ZeroDepthIsSkipped(t *testing.T) {
	f := newFixture(t, model.Image{ID: 1, Name: "empty.tif", SizeZ: 0})

	report, err := f.processor.ProcessBatch(context.Background(), testJob())
	require.NoError(t, err)

	o := report.Outcomes[0]
	assert.Equal(t, model.RunStateSkipped, o.State)
	assert.True(t, errors.Is(o.Err, ErrInput))
	assert.Empty(t, f.gen.params)
	assert.Empty(t, f.sub.paths)

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, model.BatchStatusSucceeded, report.Status())
}

func TestProcessBatch_NoImages(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.ProcessBatch(context.Background(), testJob())
	assert.True(t, errors.Is(err, ErrInput))
}

func TestProcessBatch_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.listErr = errors.New("session expired")

	_, err := f.processor.ProcessBatch(context.Background(), testJob())
	assert.True(t, errors.Is(err, ErrInput))
	assert.Contains(t, err.Error(), "session expired")
}

func TestProcessBatch_MissingImageDoesNotStopOthers(t *testing.T) {
	f := newFixture(t,
		model.Image{ID: 13, Name: "a.tif", SizeZ: 3},
		model.Image{ID: 15, Name: "b.tif", SizeZ: 5},
	)
	f.repo.listErr = &omero.MissingError{DataType: model.DataTypeImage, IDs: []int64{404}}

	report, err := f.processor.ProcessBatch(context.Background(), testJob())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)

	skipped := report.Outcomes[0]
	assert.Equal(t, int64(404), skipped.ImageID)
	assert.Equal(t, model.RunStateSkipped, skipped.State)
	assert.True(t, errors.Is(skipped.Err, ErrInput))
	assert.True(t, errors.Is(skipped.Err, omero.ErrNotFound))
	assert.Equal(t, []model.RunState{model.RunStateEnumerated, model.RunStateSkipped}, f.rec.states[skipped.RunID])

	for _, o := range report.Outcomes[1:] {
		assert.Equal(t, model.RunStateSubmitted, o.State)
	}
	assert.Len(t, f.sub.paths, 2)
	assert.Equal(t, model.BatchStatusSucceeded, report.Status())
}

func TestProcessBatch_EverySelectedImageMissing(t *testing.T) {
	f := newFixture(t)
	f.repo.listErr = &omero.MissingError{DataType: model.DataTypeImage, IDs: []int64{404, 405}}

	report, err := f.processor.ProcessBatch(context.Background(), testJob())
	assert.True(t, errors.Is(err, ErrInput))
	assert.True(t, errors.Is(err, omero.ErrNotFound))
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, 2, report.Count(model.RunStateSkipped))
	assert.Empty(t, f.sub.paths)
}

func TestProcessBatch_MissingDatasetIsOnlyLogged(t *testing.T) {
	f := newFixture(t, model.Image{ID: 1, DatasetID: 9, Name: "a.tif", SizeZ: 2})
	f.repo.listErr = &omero.MissingError{DataType: model.DataTypeDataset, IDs: []int64{8}}

	report, err := f.processor.ProcessBatch(context.Background(), testJob())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, model.RunStateSubmitted, report.Outcomes[0].State)
}

func TestProcessBatch_SubmissionFailure(t *testing.T) {
	f := newFixture(t, model.Image{ID: 1, Name: "a.tif", SizeZ: 2}, model.Image{ID: 2, Name: "b.tif", SizeZ: 2})
	f.sub.err = errors.New("qsub: Unauthorized Request")

	report, err := f.processor.ProcessBatch(context.Background(), testJob())
	require.NoError(t, err)
	for _, o := range report.Outcomes {
		assert.Equal(t, model.RunStateFailed, o.State)
		assert.True(t, errors.Is(o.Err, ErrSubmission))
		assert.FileExists(t, o.DescriptorPath)
	}
	assert.Len(t, f.sub.paths, 2)
	assert.Equal(t, model.BatchStatusFailed, report.Status())
}

func TestProcessImage_RenderFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.failPlane = map[int64]int{9: 1}

	o := f.processor.ProcessImage(context.Background(), model.Image{ID: 9, Name: "x.tif", SizeZ: 3}, testJob())
	assert.Equal(t, model.RunStateFailed, o.State)
	assert.True(t, errors.Is(o.Err, ErrWorkspace))
	assert.Empty(t, o.JobListPath)
	assert.Empty(t, f.gen.params)
}

func TestProcessImage_UnsafeMacroFailsJobList(t *testing.T) {
	f := newFixture(t)
	job := testJob()
	job.Macro = "/opt/res/macros/a*b.ijm"

	o := f.processor.ProcessImage(context.Background(), model.Image{ID: 1, Name: "a.tif", SizeZ: 3}, job)
	assert.Equal(t, model.RunStateFailed, o.State)
	assert.True(t, errors.Is(o.Err, ErrJobList))
	assert.True(t, errors.Is(o.Err, joblist.ErrUnsafePath))
	assert.Empty(t, f.gen.params)
	assert.Empty(t, f.sub.paths)
}

func TestProcessBatch_CanceledContext(t *testing.T) {
	f := newFixture(t, model.Image{ID: 1, Name: "a.tif", SizeZ: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.processor.ProcessBatch(ctx, testJob())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Outcomes)
}

func TestProcessImage_ConcurrentRunsNeverShareArtifacts(t *testing.T) {
	f := newFixture(t)
	const runs = 16

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img := model.Image{ID: int64(i + 1), Name: fmt.Sprintf("img-%d.tif", i), SizeZ: 5}
			outcomes[i] = f.processor.ProcessImage(context.Background(), img, testJob())
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.False(t, seen[o.JobListPath], "job-list reused: %s", o.JobListPath)
		assert.False(t, seen[o.DescriptorPath], "descriptor reused: %s", o.DescriptorPath)
		seen[o.JobListPath] = true
		seen[o.DescriptorPath] = true
		assert.Equal(t, 5, countLines(t, o.JobListPath))
	}
}

func TestReportStatus(t *testing.T) {
	r := &Report{}
	assert.Equal(t, model.BatchStatusSucceeded, r.Status())

	r.Outcomes = []*Outcome{{State: model.RunStateFailed}}
	assert.Equal(t, model.BatchStatusFailed, r.Status())

	r.Outcomes = append(r.Outcomes, &Outcome{State: model.RunStateSubmitted})
	assert.Equal(t, model.BatchStatusPartial, r.Status())
}

func TestError(t *testing.T) {
	cause := errors.New("boom")
	err := fail(ErrSubmission, 12, cause)

	assert.Equal(t, "image 12: submission error: boom", err.Error())
	assert.True(t, errors.Is(err, ErrSubmission))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrDescriptor))
}

func TestProcessImage_SchedulerDefaults(t *testing.T) {
	f := newFixture(t)
	f.processor.WallTime = "0:30:00"
	f.processor.PrivateMemory = "4GB"
	job := testJob()
	job.WallTime = ""
	job.PrivateMemory = "8GB"

	o := f.processor.ProcessImage(context.Background(), model.Image{ID: 1, Name: "a.tif", SizeZ: 1}, job)
	require.NoError(t, o.Err)
	require.Len(t, f.gen.params, 1)
	assert.Equal(t, "0:30:00", f.gen.params[0].WallTime)
	assert.Equal(t, "8GB", f.gen.params[0].PrivateMemory)
}
