package beam

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a non-positive beam width or step limit.
	// It is returned before any oracle call is made.
	ErrInvalidArgument = errors.New("beam: invalid argument")

	// ErrBadDistribution reports a degenerate oracle distribution: empty,
	// containing negative entries, or not summing to a positive finite
	// value.
	ErrBadDistribution = errors.New("beam: degenerate probability distribution")
)

// StepError wraps an oracle failure with the round at which it occurred.
// The decode aborts immediately; no partial result accompanies it.
type StepError struct {
	Round int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("beam: decoder step failed at round %d: %v", e.Round, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
