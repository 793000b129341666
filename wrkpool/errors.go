package wrkpool

import "errors"

// Sentinel errors for worker pool operations
var (
	// ErrWorkerClosed indicates a task was submitted to a closed worker
	ErrWorkerClosed = errors.New("worker closed")

	// ErrStopTimeout indicates the pool didn't stop within the timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
