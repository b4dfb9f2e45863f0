package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/visit-booking/internal/calendar"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrConflict          = errors.New("slot is already booked")
	ErrInvalidSlot       = errors.New("slot is not bookable")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrForbidden         = errors.New("caller may not perform this action")
	ErrTransientStorage  = errors.New("storage temporarily unavailable")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownStatus     = errors.New("unknown appointment status")

	// errStatusChanged is returned by stores when a compare-and-set update
	// finds the row in a different status than expected.
	errStatusChanged = errors.New("appointment status changed concurrently")
)

// InvalidSlotError means the date or time fails the calendar rules.
// Verdict.Suggested holds the closest bookable date when the date was the problem.
type InvalidSlotError struct {
	Slot    Slot
	Verdict calendar.Verdict
	Cause   error
}

func (e *InvalidSlotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidSlot, e.Slot, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s, next bookable date %s)", ErrInvalidSlot, e.Slot, e.Verdict.Reason, e.Verdict.Suggested)
}

func (e *InvalidSlotError) Is(target error) bool { return target == ErrInvalidSlot }
func (e *InvalidSlotError) Unwrap() error         { return e.Cause }

// ConflictError means another live appointment already occupies the slot.
type ConflictError struct {
	Slot Slot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict, e.Slot)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IllegalTransitionError means the event is not allowed from the current status,
// or the caller is not the party the event belongs to (Cause is ErrForbidden).
type IllegalTransitionError struct {
	AppointmentID uuid.UUID
	From          Status
	Event         EventKind
	Cause         error
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s from %s on appointment %s", ErrIllegalTransition, e.Event, e.From, e.AppointmentID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }
func (e *IllegalTransitionError) Unwrap() error         { return e.Cause }

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStorage, err)
}
