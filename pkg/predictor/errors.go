package predictor

import "errors"

// Error kinds, attached with %w so callers can classify with errors.Is.
var (
	// ErrInit marks setup failures. The session is unusable and must be
	// closed by the caller; retrying without changing the config will not
	// help.
	ErrInit = errors.New("session init failed")

	// ErrRun marks failures inside Run. Check ErrInvalidInput and
	// ErrInternal to decide between fixing the inputs and recreating the
	// session.
	ErrRun = errors.New("run failed")

	// ErrClone marks resource allocation failures during Clone. Retryable.
	ErrClone = errors.New("clone failed")

	// ErrMarshal marks type or shape incompatibilities between a caller
	// tensor and its graph variable. Always a caller-input error.
	ErrMarshal = errors.New("tensor marshal failed")

	// ErrInvalidInput classifies an error as recoverable by the caller
	// correcting their inputs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal classifies an error as a graph/metadata desync: the
	// session should be thrown away and recreated.
	ErrInternal = errors.New("internal state desync")
)
