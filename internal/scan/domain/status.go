package domain

import (
	"fmt"

	"github.com/romariotrain/media-forensics/internal/scan/models"
)

// CanTransition is the single transition table for the scan lifecycle:
// QUEUED -> PROCESSING -> {DONE, FAILED}. QUEUED -> FAILED is the one extra
// edge: a queued scan that is canceled, or that the worker queue cannot take,
// fails without ever running. No scan reaches DONE without PROCESSING.
func CanTransition(from, to models.Status) bool {
	switch from {
	case models.QueuedStatus:
		return to == models.ProcessingStatus || to == models.FailedStatus
	case models.ProcessingStatus:
		return to == models.DoneStatus || to == models.FailedStatus
	case models.DoneStatus:
		return false
	case models.FailedStatus:
		return false
	default:
		return false
	}
}

// ValidateTransition also accepts rewrites within the same non-terminal state.
// Terminal records are frozen.
func ValidateTransition(from, to models.Status) error {
	if from == to && !from.IsTerminal() && isKnown(from) {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func isKnown(s models.Status) bool {
	switch s {
	case models.QueuedStatus, models.ProcessingStatus, models.DoneStatus, models.FailedStatus:
		return true
	}
	return false
}
