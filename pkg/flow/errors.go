package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFlow is the sentinel wrapped by every validation failure.
	ErrInvalidFlow = errors.New("invalid flow")
	// ErrNodeNotFound reports a lookup of an id the plan does not contain.
	ErrNodeNotFound = errors.New("node not found")
)

// InvalidFlowError carries the individual validation failures of a flow
// document.
type InvalidFlowError struct {
	FlowID string
	Issues []string
}

func (e *InvalidFlowError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid flow %s: %s", e.FlowID, e.Issues[0])
	}

	return fmt.Sprintf("invalid flow %s: %d validation issues, first: %s", e.FlowID, len(e.Issues), e.Issues[0])
}

func (e *InvalidFlowError) Unwrap() error {
	return ErrInvalidFlow
}
