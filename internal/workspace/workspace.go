// Package workspace manages per-run scratch directories under a shared root.
//
// Every run gets two freshly created directories, one for exported input
// frames and one for processed output. Names come from os.MkdirTemp, which
// creates the directory atomically, so concurrent runs on the same root never
// share a name. The output directory's base name is the run suffix from which
// the job-list and descriptor paths are derived.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Prefix starts every directory and artifact created under the scratch root.
const Prefix = "ijb-"

const (
	JobListExt    = ".job"
	DescriptorExt = ".pbs"
)

// Workspace is the scratch area of a single run.
type Workspace struct {
	Root      string
	InputDir  string
	OutputDir string
}

// New creates a workspace under root.
func New(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace: empty scratch root")
	}
	in, err := os.MkdirTemp(root, Prefix)
	if err != nil {
		return nil, fmt.Errorf("workspace: create input dir: %w", err)
	}
	out, err := os.MkdirTemp(root, Prefix)
	if err != nil {
		return nil, fmt.Errorf("workspace: create output dir: %w", err)
	}
	return &Workspace{Root: root, InputDir: in, OutputDir: out}, nil
}

// Suffix is the unique name shared by the output dir, job-list and descriptor.
func (w *Workspace) Suffix() string {
	return filepath.Base(w.OutputDir)
}

// JobListPath is <root>/<suffix>.job.
func (w *Workspace) JobListPath() string {
	return filepath.Join(w.Root, w.Suffix()+JobListExt)
}

// DescriptorPath is <root>/<suffix>.pbs.
func (w *Workspace) DescriptorPath() string {
	return filepath.Join(w.Root, w.Suffix()+DescriptorExt)
}

// SuffixOf returns the run suffix of a job-list or descriptor path.
func SuffixOf(artifact string) string {
	base := filepath.Base(artifact)
	return strings.TrimSuffix(strings.TrimSuffix(base, JobListExt), DescriptorExt)
}
