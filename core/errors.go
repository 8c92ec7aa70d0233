package core

import "fmt"

// PlanError reports a malformed or unsupported operator composition,
// detected at plan-build time before any execution side effects.
type PlanError struct {
	Stage  string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan error at %s: %s", e.Stage, e.Reason)
}

// InvalidFrameSpecError reports a window frame whose bounds cannot form a
// valid range, detected at plan time.
type InvalidFrameSpecError struct {
	Reason string
}

func (e *InvalidFrameSpecError) Error() string {
	return fmt.Sprintf("invalid frame spec: %s", e.Reason)
}

// AggregateOverflowError reports numeric overflow while folding a SUM or
// COUNT accumulator. The query fails rather than wrapping silently.
type AggregateOverflowError struct {
	Function string
	Column   string
}

func (e *AggregateOverflowError) Error() string {
	return fmt.Sprintf("aggregate overflow in %s(%s)", e.Function, e.Column)
}

// stageError wraps an execution failure with the operator stage it
// occurred in, so every surfaced error names where it happened.
func stageError(stage string, err error) error {
	return fmt.Errorf("stage %s: %w", stage, err)
}
