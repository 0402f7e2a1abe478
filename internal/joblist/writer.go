package joblist

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ngbi/ijbatch/internal/frames"
)

// Spec is everything needed to turn a frame sequence into job lines.
type Spec struct {
	Tool           Tool
	InputDir       string
	OutputDir      string
	MacroSelection string
}

// LineFor builds the job line for a single frame.
func (s Spec) LineFor(f frames.Frame) Line {
	return Line{
		InputPath:      f.InputPath(s.InputDir),
		OutputDir:      s.OutputDir,
		MacroSelection: s.MacroSelection,
		OutputPath:     f.OutputPath(s.OutputDir),
	}
}

// Write creates the job-list at path and writes one line per frame of seq.
// The file is created exclusively, so a job-list is never appended to by two
// runs. An empty sequence produces an empty file. It returns the number of
// lines written; on error the partial file is left in place and the caller
// must not submit it.
func Write(path string, seq frames.Sequence, spec Spec) (n int, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("joblist: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("joblist: close %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	it := seq.Iter()
	for fr, ok := it.Next(); ok; fr, ok = it.Next() {
		line, rerr := spec.Tool.Render(spec.LineFor(fr))
		if rerr != nil {
			return n, fmt.Errorf("joblist: frame %d: %w", fr.Index, rerr)
		}
		if _, werr := w.WriteString(line + "\n"); werr != nil {
			return n, fmt.Errorf("joblist: write %s: %w", path, werr)
		}
		n++
	}
	if ferr := w.Flush(); ferr != nil {
		return n, fmt.Errorf("joblist: flush %s: %w", path, ferr)
	}
	return n, nil
}
