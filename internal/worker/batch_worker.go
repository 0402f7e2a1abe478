package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ngbi/ijbatch/internal/archive"
	"github.com/ngbi/ijbatch/internal/logging"
	"github.com/ngbi/ijbatch/internal/model"
	"github.com/ngbi/ijbatch/internal/pipeline"
	"github.com/ngbi/ijbatch/internal/service"
	"github.com/ngbi/ijbatch/internal/store"
)

// Notifier receives live batch events. *websocket.Hub implements it.
type Notifier interface {
	PublishRun(run *model.Run)
	PublishComplete(batchID string, status model.BatchStatus, result interface{})
	PublishError(batchID, code, message string)
}

// ProcessorFactory builds a pipeline submitting to system.
type ProcessorFactory func(system string) *pipeline.Processor

// BatchWorker runs queued batches through the pipeline.
type BatchWorker struct {
	store        store.Store
	newProcessor ProcessorFactory
	hub          Notifier
	archiver     *archive.Archiver
	log          *logging.Logger
}

// NewBatchWorker creates a batch worker. archiver may be nil.
func NewBatchWorker(s store.Store, factory ProcessorFactory, hub Notifier, archiver *archive.Archiver, log *logging.Logger) *BatchWorker {
	return &BatchWorker{
		store:        s,
		newProcessor: factory,
		hub:          hub,
		archiver:     archiver,
		log:          log,
	}
}

// ProcessTask handles batch task processing
func (w *BatchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.BatchTask
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	batch, err := w.store.GetBatch(ctx, payload.BatchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", payload.BatchID, err)
	}
	w.log.Info("starting batch", "batch", batch.ID, "owner", batch.Owner)

	now := time.Now()
	batch.Status = model.BatchStatusRunning
	batch.StartedAt = &now
	w.saveBatch(ctx, batch)

	p := w.newProcessor(batch.Request.System)
	p.Observer = pipeline.ObserverFunc(func(ctx context.Context, run *model.Run) {
		w.observe(ctx, batch, run)
	})

	req := batch.Request
	report, err := p.ProcessBatch(ctx, pipeline.Job{
		BatchID:       batch.ID,
		User:          batch.Owner,
		SessionID:     req.SessionID,
		Selection:     req.Selection,
		Macro:         req.Macro,
		WallTime:      req.WallTime,
		PrivateMemory: req.PrivateMemory,
	})
	if err != nil {
		w.failBatch(ctx, batch, err)
		return fmt.Errorf("batch %s: %w", batch.ID, err)
	}

	if w.archiver != nil {
		w.archive(ctx, report)
	}

	done := time.Now()
	batch.Status = report.Status()
	batch.Submitted = report.Count(model.RunStateSubmitted)
	batch.Failed = report.Count(model.RunStateFailed)
	batch.Skipped = report.Count(model.RunStateSkipped)
	batch.CompletedAt = &done
	w.saveBatch(ctx, batch)
	w.hub.PublishComplete(batch.ID, batch.Status, report)

	w.log.Info("batch completed", "batch", batch.ID, "status", batch.Status)
	return nil
}

func (w *BatchWorker) observe(ctx context.Context, batch *model.Batch, run *model.Run) {
	if err := w.store.SaveRun(ctx, run); err != nil {
		w.log.Error("failed to save run", "run", run.ID, "error", err)
	}
	if run.State == model.RunStateEnumerated {
		batch.RunIDs = append(batch.RunIDs, run.ID)
		w.saveBatch(ctx, batch)
	}
	w.hub.PublishRun(run)
}

func (w *BatchWorker) archive(ctx context.Context, report *pipeline.Report) {
	for _, o := range report.Outcomes {
		if o.State != model.RunStateSubmitted {
			continue
		}
		run, err := w.store.GetRun(ctx, o.RunID)
		if err != nil {
			w.log.Error("failed to load run for archiving", "run", o.RunID, "error", err)
			continue
		}
		urls, err := w.archiver.Archive(ctx, run)
		if err != nil {
			w.log.Error("failed to archive run artifacts", "run", o.RunID, "error", err)
			continue
		}
		w.log.Debug("archived run artifacts", "run", o.RunID, "objects", len(urls))
	}
}

func (w *BatchWorker) failBatch(ctx context.Context, batch *model.Batch, cause error) {
	now := time.Now()
	batch.Status = model.BatchStatusFailed
	batch.CompletedAt = &now
	w.saveBatch(ctx, batch)
	w.hub.PublishError(batch.ID, "BATCH_FAILED", cause.Error())
	w.log.Error("batch failed", "batch", batch.ID, "error", cause)
}

func (w *BatchWorker) saveBatch(ctx context.Context, batch *model.Batch) {
	if err := w.store.SaveBatch(ctx, batch); err != nil {
		w.log.Error("failed to save batch", "batch", batch.ID, "error", err)
	}
}
