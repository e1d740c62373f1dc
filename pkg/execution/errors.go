package execution

import (
	"errors"
	"fmt"

	"github.com/dukex/courier/pkg/models"
)

var (
	ErrInvalidTransition = errors.New("invalid execution transition")
	ErrEmptyContactSet   = errors.New("no contacts to run the flow for")
	ErrNotCampaign       = errors.New("execution is not a campaign execution")
)

// TransitionError is returned when an operation is not legal from the execution's
// current status.
type TransitionError struct {
	ExecutionID string
	From        models.ExecutionStatus
	To          models.ExecutionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move execution %s from %s to %s", e.ExecutionID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
