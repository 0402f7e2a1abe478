// Package frames enumerates the z-planes of an image stack.
//
// Frame names are zero-padded to two digits (plane_00.tiff .. plane_99.tiff).
// Stacks with 100 or more planes still get unique names, but plane_100.tiff
// sorts before plane_11.tiff lexicographically. Consumers that need ordering
// must use Frame.Index, not the file name.
package frames

import (
	"fmt"
	"path/filepath"
)

// NameWidth is the zero-padding width of plane indices in file names.
const NameWidth = 2

// Frame describes one plane of a stack and its deterministic file names.
type Frame struct {
	Index      int
	InputName  string
	OutputName string
}

// Name returns the file name used for plane z.
func Name(z int) string {
	return fmt.Sprintf("plane_%0*d.tiff", NameWidth, z)
}

// InputPath resolves the frame's input file inside dir.
func (f Frame) InputPath(dir string) string {
	return filepath.Join(dir, f.InputName)
}

// OutputPath resolves the frame's output file inside dir.
func (f Frame) OutputPath(dir string) string {
	return filepath.Join(dir, f.OutputName)
}

// Sequence is a finite, restartable sequence of frames 0..depth-1.
type Sequence struct {
	depth int
}

// New returns the frame sequence for a stack of the given depth.
func New(depth int) (Sequence, error) {
	if depth < 0 {
		return Sequence{}, fmt.Errorf("frames: negative depth %d", depth)
	}
	return Sequence{depth: depth}, nil
}

// Len returns the number of frames in the sequence.
func (s Sequence) Len() int {
	return s.depth
}

// At returns frame z without bounds checking against the depth.
func (s Sequence) At(z int) Frame {
	name := Name(z)
	return Frame{Index: z, InputName: name, OutputName: name}
}

// Iter starts a new pass over the sequence. Each call is independent.
func (s Sequence) Iter() *Cursor {
	return &Cursor{seq: s}
}

// Cursor walks a Sequence lazily.
type Cursor struct {
	seq  Sequence
	next int
}

// Next returns the next frame, or false once the sequence is exhausted.
func (c *Cursor) Next() (Frame, bool) {
	if c.next >= c.seq.depth {
		return Frame{}, false
	}
	f := c.seq.At(c.next)
	c.next++
	return f, true
}
