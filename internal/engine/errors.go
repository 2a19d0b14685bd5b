package engine

import "fmt"

// InvalidTransitionError signals an illegal status change.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// PreconditionFailedError signals an evidence or approval gate that is not
// satisfied for the requested transition.
type PreconditionFailedError struct {
	Gate   string
	Reason string
}

func (e PreconditionFailedError) Error() string {
	return fmt.Sprintf("%s gate not satisfied: %s", e.Gate, e.Reason)
}

// ValidationError signals malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
