package pipeline

import "errors"

// Failure classes recorded on State.Errors. None of them aborts a run.
var (
	ErrRetrieval   = errors.New("retrieval failed")
	ErrModel       = errors.New("model call failed")
	ErrPersistence = errors.New("persistence failed")
	// ErrTransport is the class of every notification delivery failure.
	ErrTransport = errors.New("transport failed")
)
