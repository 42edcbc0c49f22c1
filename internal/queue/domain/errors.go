package domain

import "errors"

var (
	// ErrItemNotFound is returned when a queue item cannot be found in the database
	ErrItemNotFound = errors.New("queue item not found")

	// ErrInvalidTransition is returned when an operation is applied to an item
	// whose current status does not allow it
	ErrInvalidTransition = errors.New("invalid queue item status transition")

	// ErrStoreUnavailable matches every failure of the durable store itself
	ErrStoreUnavailable = errors.New("queue store unavailable")

	// ErrInvalidSubmission is returned when a submission fails validation
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrEmptyLocation is returned when completion is recorded without a storage location
	ErrEmptyLocation = errors.New("storage location is empty")
)

// StoreError wraps a driver or transaction failure of the durable store
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes every StoreError match ErrStoreUnavailable
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreError creates a new store error for the named operation
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
