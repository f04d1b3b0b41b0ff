package curation

import (
	"errors"
	"fmt"
)

// ArchiveError reports an unreadable or corrupt archive, or an unsafe member path
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// FileError is a single failed file operation within a batch
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// MoveError aggregates the per-file failures of a move or copy batch.
// Files that succeeded before or after a failure stay where they were put.
type MoveError struct {
	Failures []*FileError
	Total    int
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("%d of %d files failed to relocate: %v", len(e.Failures), e.Total, errors.Join(e.Unwrap()...))
}

func (e *MoveError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// DetectionError reports that the detector could not judge an image,
// either because the call failed or because it found no face
type DetectionError struct {
	Name string
	Err  error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed for %s: %v", e.Name, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// errNoDetections is the DetectionError cause when the detector returns nothing
var errNoDetections = errors.New("no detections")

// ValueError reports an invalid parameter
type ValueError struct {
	Param  string
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}
