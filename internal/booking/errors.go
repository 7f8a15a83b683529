package booking

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error kinds. Match with errors.Is.
var (
	ErrInvalidRequest      = errors.New("invalid booking request")
	ErrDuplicateBooking    = errors.New("duplicate booking")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrNoScheduleForSlot   = errors.New("no schedule for slot")
	ErrSlotFull            = errors.New("slot is full")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrStoreFailure        = errors.New("store failure")

	// ErrAppointmentNotFound is returned by Tx.FindAppointment when no booking exists.
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Error is a classified failure. Msg is safe to show to the caller.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func reject(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Conflict marks a store error as a retryable concurrent-write conflict or lock timeout.
func Conflict(op string, cause error) error {
	return &Error{
		Kind:  ErrTransactionConflict,
		Msg:   "the slot is busy, please retry",
		Cause: errors.Wrap(cause, op),
	}
}

// StoreFailure marks any other persistence error.
func StoreFailure(op string, cause error) error {
	return &Error{
		Kind:  ErrStoreFailure,
		Msg:   "platform error",
		Cause: errors.Wrap(cause, op),
	}
}

// Duplicate reports a booking that already exists for the exact appointment key.
func Duplicate(key AppointmentKey) error {
	return reject(ErrDuplicateBooking, "You'd already taken appointment for %s %s.",
		key.Date.Format(DateLayout), key.StartTime)
}

// IsRetryable reports whether the caller may retry the whole booking attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}

// classify leaves classified errors alone and turns anything else into a
// conflict (deadline) or a store failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Conflict(op, err)
	}
	return StoreFailure(op, err)
}

// KindOf returns the error kind of err, or nil if err is not classified.
func KindOf(err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return nil
}
