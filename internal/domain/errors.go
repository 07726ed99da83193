package domain

import "errors"

// Validation failures. Every one of these is a rejection of malformed input;
// callers match them with errors.Is and decide whether to ask for resubmission.
var (
	ErrInvalidCoordinates       = errors.New("invalid coordinates")
	ErrIncompleteEvidence       = errors.New("incomplete evidence")
	ErrInsufficientStakeholders = errors.New("insufficient stakeholders")
	ErrInvalidBudget            = errors.New("invalid budget")
	ErrNoCandidateRegions       = errors.New("no candidate regions")
)

// Store and lifecycle failures.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUncorroborated     = errors.New("verified event requires corroborating evidence")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrSubmitterSuspended = errors.New("submitter is suspended")
	ErrSubmissionConflict = errors.New("submission belongs to another submitter")
)
