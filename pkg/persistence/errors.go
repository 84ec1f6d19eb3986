// Package persistence defines the versioned flow store and its
// standardized error types.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates no version exists for the given flow id.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrVersionNotFound indicates the flow exists but the requested
	// version does not.
	ErrVersionNotFound = errors.New("flow version not found")

	// ErrNoPublishedVersion indicates no version of the flow is active.
	ErrNoPublishedVersion = errors.New("no published flow version")

	// ErrVersionActive indicates an attempt to delete the active version.
	ErrVersionActive = errors.New("cannot delete the active flow version")

	// ErrVersionNotPublished indicates a rollback to a version that was
	// never published.
	ErrVersionNotPublished = errors.New("flow version was never published")
)

// FlowError wraps flow store errors with operation context.
type FlowError struct {
	Op      string // operation being performed, e.g. "Publish", "Delete"
	FlowID  string
	Version int
	Err     error
}

func (e *FlowError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for flow %s version %d: %v", e.Op, e.FlowID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a flow error with context.
func NewFlowError(op, flowID string, version int, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Version: version, Err: err}
}

// IsFlowNotFound checks if an error indicates a missing flow.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsVersionNotFound checks if an error indicates a missing version.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}
