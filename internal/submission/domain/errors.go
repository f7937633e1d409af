package domain

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrStorageFailure      = errors.New("storage failure")
	ErrNotReady            = errors.New("store not ready")
	ErrSubmissionNotFound  = errors.New("submission not found")
)
