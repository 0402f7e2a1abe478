// Package store persists batch and run records.
package store

import (
	"context"
	"errors"

	"github.com/ngbi/ijbatch/internal/model"
)

var ErrNotFound = errors.New("record not found")

// Store keeps batches and the runs they spawned.
type Store interface {
	SaveBatch(ctx context.Context, b *model.Batch) error
	GetBatch(ctx context.Context, id string) (*model.Batch, error)
	SaveRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// ListRuns returns the runs of a batch in the order they were created.
	ListRuns(ctx context.Context, batchID string) ([]*model.Run, error)
}
