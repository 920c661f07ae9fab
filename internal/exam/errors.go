package exam

import (
	"errors"
	"fmt"

	"github.com/pavelanni/answergrader/internal/model"
)

var (
	// ErrNoAnswers is returned when a batch holds no gradable answer.
	// Nothing is persisted and the attempt state does not change.
	ErrNoAnswers = errors.New("no answers to grade")
	// ErrPoolTooSmall is returned when the question pool cannot fill a sample.
	ErrPoolTooSmall = errors.New("question pool smaller than sample size")
	// ErrPersistence is returned when scores could not be committed. Nothing
	// was written and the submission may be retried.
	ErrPersistence = errors.New("could not persist scores")
	// ErrMissingStudent is returned when no student identity is supplied.
	ErrMissingStudent = errors.New("student identity is required")
)

// ValidationError describes a single submitted entry that was skipped.
type ValidationError struct {
	QuestionID int64
	Reason     model.SkipReason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("answer to question %d skipped: %s", e.QuestionID, e.Reason)
}
