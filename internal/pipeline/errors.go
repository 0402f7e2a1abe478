package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInput      = errors.New("input error")
	ErrWorkspace  = errors.New("workspace error")
	ErrJobList    = errors.New("job-list error")
	ErrDescriptor = errors.New("descriptor generation error")
	ErrSubmission = errors.New("submission error")
)

// Error is the failure of a single image. It matches both its Kind and the
// underlying cause.
type Error struct {
	Kind    error
	ImageID int64
	Err     error
}

func (e *Error) Error() string {
	if e.ImageID == 0 {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("image %d: %v: %v", e.ImageID, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func fail(kind error, imageID int64, err error) *Error {
	return &Error{Kind: kind, ImageID: imageID, Err: err}
}
