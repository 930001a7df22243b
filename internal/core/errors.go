package core

import (
	"errors"
	"fmt"
)

// Error classes surfaced to API callers. Services wrap them with context
// using fmt.Errorf("...: %w", err); callers test with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")

	// ErrNodeNotReady is returned when a deployment targets a node whose
	// stored status is not online.
	ErrNodeNotReady = fmt.Errorf("%w: node is not online", ErrBadRequest)

	// ErrInvalidTransition is returned when a status change would move a
	// deployment backwards.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
)

// UpstreamError reports a failed dispatch to a node agent. The failure has
// already been recorded on the deployment when this error is returned.
type UpstreamError struct {
	DeploymentID int64
	Err          error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("dispatch deployment %d: %v", e.DeploymentID, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Detail returns the agent failure without the deployment prefix.
func (e *UpstreamError) Detail() string {
	return e.Err.Error()
}
