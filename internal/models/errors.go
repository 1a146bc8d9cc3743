package models

import (
	"errors"
	"fmt"
)

// ErrNoFrames is the cause of an ExtractionError when the transcoder wrote nothing.
var ErrNoFrames = errors.New("no frames extracted")

// ErrNoScorableFrames is returned when every extracted frame failed to score.
var ErrNoScorableFrames = errors.New("no frame could be scored")

// ErrNotFound is returned by storage reads for a missing row.
var ErrNotFound = errors.New("not found")

// FetchError represents a failed download of the source video
type FetchError struct {
	URL        string
	StatusCode int // 0 for transport errors
	Err        error
	Permanent  bool // set for failures no retry can fix, such as an oversized body
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt could succeed. 4xx responses are final.
func (e *FetchError) Retryable() bool {
	if e.Permanent {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// ExtractionError represents a transcoder failure or an empty frame set
type ExtractionError struct {
	VideoPath string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract frames from %s: %v", e.VideoPath, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ScoreError represents a single unreadable frame. It never fails a job.
type ScoreError struct {
	Path string
	Err  error
}

func (e *ScoreError) Error() string {
	return fmt.Sprintf("score %s: %v", e.Path, e.Err)
}

func (e *ScoreError) Unwrap() error { return e.Err }

// EnrichmentError represents any failure inside the transcript/social pipeline.
// It is always absorbed into a nil enrichment.
type EnrichmentError struct {
	Step string
	Err  error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment %s: %v", e.Step, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// UploadError represents a failed upload to object storage
type UploadError struct {
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PersistenceError represents a failed write to the relational store
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CleanupError is only ever logged.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// IsFatal reports whether err belongs to a class that fails the job and
// should be retried by the queue.
func IsFatal(err error) bool {
	var (
		fetchErr   *FetchError
		extractErr *ExtractionError
		uploadErr  *UploadError
		persistErr *PersistenceError
	)
	switch {
	case errors.As(err, &fetchErr), errors.As(err, &extractErr),
		errors.As(err, &uploadErr), errors.As(err, &persistErr):
		return true
	case errors.Is(err, ErrNoScorableFrames):
		return true
	}
	return false
}
