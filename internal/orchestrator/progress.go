package orchestrator

import (
	"context"
	"errors"
)

// ErrAborted is returned when the operator declines to continue conflict resolution.
var ErrAborted = errors.New("backport aborted by operator")

// Progress reports operator-facing stage transitions. The labels passed to Start are
// part of the observable output, not free-form logging.
type Progress interface {
	Start(label string) Step
}

// Step is one running stage. Exactly one of Succeed or Fail is called.
type Step interface {
	Succeed()
	Fail(err error)
}

// Prompter blocks until the operator acknowledges message. It returns false when the
// operator declines, and ctx.Err() when ctx is cancelled while waiting.
type Prompter interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

type nopProgress struct{}

func (nopProgress) Start(string) Step { return nopStep{} }

type nopStep struct{}

func (nopStep) Succeed() {}

func (nopStep) Fail(error) {}

// finish closes step according to err and passes err through.
func finish(step Step, err error) error {
	if err != nil {
		step.Fail(err)
		return err
	}
	step.Succeed()
	return nil
}
