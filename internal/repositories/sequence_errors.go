package repositories

import "fmt"

// SequenceFailure says why an id could not be drawn from a sequence.
type SequenceFailure string

const (
	SequenceInvalid   SequenceFailure = "invalid"
	SequenceExhausted SequenceFailure = "exhausted"
)

// SequenceError is returned by SequenceRepository. An exhausted sequence reports itself as
// unavailable so services answer 503 instead of silently reusing ids.
type SequenceError struct {
	Sequence string
	Failure  SequenceFailure
	Detail   string
}

var _ RepositoryError = (*SequenceError)(nil)

func (e *SequenceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sequence %q %s", e.Sequence, e.Failure)
	}
	return fmt.Sprintf("sequence %q %s: %s", e.Sequence, e.Failure, e.Detail)
}

func (e *SequenceError) IsNotFound() bool    { return false }
func (e *SequenceError) IsConflict() bool    { return false }
func (e *SequenceError) IsUnavailable() bool { return e.Failure == SequenceExhausted }
