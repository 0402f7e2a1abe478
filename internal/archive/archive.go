// Package archive copies the job-list and descriptor of submitted runs to
// object storage, so they outlive the scratch janitor.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/ngbi/ijbatch/internal/model"
)

// ObjectStore uploads a single object and returns where it can be found.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// Archiver uploads run artifacts under <Prefix>/<batch id>/.
type Archiver struct {
	Store  ObjectStore
	Prefix string
}

func NewArchiver(store ObjectStore) *Archiver {
	return &Archiver{Store: store, Prefix: "batches"}
}

// Key is the object key of an artifact of run.
func (a *Archiver) Key(run *model.Run, artifact string) string {
	batch := run.BatchID
	if batch == "" {
		batch = run.ID
	}
	return path.Join(a.Prefix, batch, filepath.Base(artifact))
}

// Archive uploads whatever artifacts run has produced and returns their URLs.
// Runs without artifacts are a no-op.
func (a *Archiver) Archive(ctx context.Context, run *model.Run) ([]string, error) {
	var urls []string
	for _, p := range []string{run.JobListPath, run.DescriptorPath} {
		if p == "" {
			continue
		}
		url, err := a.upload(ctx, run, p)
		if err != nil {
			return urls, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (a *Archiver) upload(ctx context.Context, run *model.Run, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	url, err := a.Store.Upload(ctx, a.Key(run, p), f, "text/plain; charset=utf-8")
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", filepath.Base(p), err)
	}
	return url, nil
}
