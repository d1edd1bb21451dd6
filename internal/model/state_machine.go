package model

import "fmt"

// transitions is the canonical edge set of the transaction lifecycle.
// The key is the current status, the value the set of legal targets.
//
// The captured -> captured self-edge re-affirms a payment's status when a
// partial refund leaves balance remaining; captured -> refunded fires once
// cumulative refunds consume the full captured amount.
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusAuthorized, StatusFailed, StatusCancelled},
	StatusAuthorized: {StatusCaptured, StatusFailed, StatusCancelled},
	StatusCaptured:   {StatusCaptured, StatusRefunded, StatusCancelled},
	StatusFailed:     {},
	StatusRefunded:   {},
	StatusCancelled:  {},
}

// CanTransition reports whether current -> target is a legal edge.
func CanTransition(current, target TransactionStatus) bool {
	for _, s := range transitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status rejects every further transition.
func IsTerminal(status TransactionStatus) bool {
	return len(transitions[status]) == 0
}

// InvalidTransitionError is returned when an operation would move a
// transaction along an edge the machine does not define.
type InvalidTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
	Hint string
}

func (e *InvalidTransitionError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid transition %s -> %s: %s", e.From, e.To, e.Hint)
	}
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// ValidateTransition returns an InvalidTransitionError for illegal edges.
func ValidateTransition(current, target TransactionStatus) error {
	if !CanTransition(current, target) {
		return &InvalidTransitionError{From: current, To: target}
	}
	return nil
}
