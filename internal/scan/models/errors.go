package models

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid arguments")
	ErrTooLarge        = errors.New("payload too large")
	ErrQueueFull       = errors.New("scan queue is full")

	ErrDecode           = errors.New("decode error")
	ErrAnalysis         = errors.New("analysis error")
	ErrScoring          = errors.New("scoring error")
	ErrInsufficientData = errors.New("insufficient data")
	ErrThumbnailWrite   = errors.New("thumbnail write error")
	ErrTimeout          = errors.New("scan timed out")
	ErrCanceled         = errors.New("scan canceled")
)

// ErrorKind names the failure class recorded on a FAILED scan.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled):
		return "Canceled"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, ErrDecode):
		return "DecodeError"
	case errors.Is(err, ErrAnalysis):
		return "AnalysisError"
	case errors.Is(err, ErrScoring):
		return "ScoringError"
	case errors.Is(err, ErrInsufficientData):
		return "InsufficientDataError"
	case errors.Is(err, ErrQueueFull):
		return "QueueFull"
	default:
		return "Internal"
	}
}
