package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Janitor removes run directories and artifacts older than Retention.
// A zero Retention disables cleanup.
type Janitor struct {
	Root      string
	Retention time.Duration
	Now       func() time.Time
	// DryRun reports what would be removed without removing it.
	DryRun bool
}

// NewJanitor creates a Janitor for root.
func NewJanitor(root string, retention time.Duration) *Janitor {
	return &Janitor{Root: root, Retention: retention, Now: time.Now}
}

// Clean removes expired entries and returns the paths it deleted. Entries not
// created by this program (no Prefix) are never touched.
func (j *Janitor) Clean() ([]string, error) {
	if j.Retention <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(j.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", j.Root, err)
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().Add(-j.Retention)

	var removed []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, Prefix) {
			continue
		}
		if !e.IsDir() && !strings.HasSuffix(name, JobListExt) && !strings.HasSuffix(name, DescriptorExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.Root, name)
		if j.DryRun {
			removed = append(removed, path)
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("workspace: remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
