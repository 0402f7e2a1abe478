package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ngbi/ijbatch/internal/macros"
	"github.com/ngbi/ijbatch/internal/model"
	"github.com/ngbi/ijbatch/internal/store"
)

const (
	TaskTypeBatch = "batch:process"
	QueueBatches  = "batches"
)

var (
	ErrNotFound  = errors.New("batch not found")
	ErrForbidden = errors.New("batch belongs to another user")
)

// Enqueuer is the part of *asynq.Client the service needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// BatchTask is the asynq payload of a queued batch.
type BatchTask struct {
	BatchID string `json:"batchId"`
}

// BatchService queues batches and reports on them.
type BatchService struct {
	store   store.Store
	queue   Enqueuer
	catalog *macros.Catalog
}

func NewBatchService(s store.Store, queue Enqueuer, catalog *macros.Catalog) *BatchService {
	return &BatchService{store: s, queue: queue, catalog: catalog}
}

// StartBatch records a new batch for owner and queues it. The macro is
// resolved against the catalogue before anything is stored.
func (s *BatchService) StartBatch(ctx context.Context, owner string, req *model.SubmitRequest) (*model.BatchStartResponse, error) {
	macro, err := s.catalog.Resolve(req.Macro)
	if err != nil {
		return nil, err
	}
	req.Macro = macro
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	batch := &model.Batch{
		ID:        uuid.New().String(),
		Owner:     owner,
		Status:    model.BatchStatusQueued,
		Request:   *req,
		RunIDs:    []string{},
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}

	task, err := NewBatchTask(batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	// A batch must never be submitted twice.
	_, err = s.queue.Enqueue(task,
		asynq.Queue(QueueBatches),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.BatchStartResponse{
		BatchID:   batch.ID,
		Status:    batch.Status,
		CreatedAt: batch.CreatedAt,
	}, nil
}

// GetStatus returns the batch and its runs, if owner may see it.
func (s *BatchService) GetStatus(ctx context.Context, owner, batchID string) (*model.BatchStatusResponse, error) {
	batch, err := s.getBatch(ctx, owner, batchID)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return &model.BatchStatusResponse{Batch: batch, Runs: runs}, nil
}

// GetRun returns a single run, if owner may see its batch.
func (s *BatchService) GetRun(ctx context.Context, owner, runID string) (*model.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if _, err := s.getBatch(ctx, owner, run.BatchID); err != nil {
		return nil, err
	}
	return run, nil
}

// Macros lists the selectable macros.
func (s *BatchService) Macros() ([]string, error) {
	return s.catalog.List()
}

func (s *BatchService) getBatch(ctx context.Context, owner, batchID string) (*model.Batch, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if batch.Owner != owner {
		return nil, ErrForbidden
	}
	return batch, nil
}

// NewBatchTask builds the asynq task for batchID.
func NewBatchTask(batchID string) (*asynq.Task, error) {
	data, err := json.Marshal(BatchTask{BatchID: batchID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBatch, data), nil
}
