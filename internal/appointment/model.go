package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/visit-booking/internal/calendar"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
	StatusProposed  Status = "PROPOSED"
)

// ParseStatus accepts the four known statuses in any letter case.
// Anything else is an error; there is no default.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusProposed:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// IsLive reports whether an appointment in this status holds a slot.
func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusProposed
}

// IsTerminal reports whether no further event is legal.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Slot is one bookable unit: a facility at a date and grid time.
type Slot struct {
	Facility string
	Date     calendar.Date
	Time     string
}

func (s Slot) String() string {
	return fmt.Sprintf("%s@%s %s", s.Facility, s.Date, s.Time)
}

// Proposal is a staff counter-offer that is not yet effective.
type Proposal struct {
	Date calendar.Date
	Time string
}

type Appointment struct {
	ID            uuid.UUID
	SubjectID     string
	Facility      string
	Date          calendar.Date
	Time          string
	Status        Status
	Proposal      *Proposal
	AttachmentRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CurrentSlot is the slot the appointment is effectively booked for.
func (a Appointment) CurrentSlot() Slot {
	return Slot{Facility: a.Facility, Date: a.Date, Time: a.Time}
}

// OccupiedSlot is the slot this appointment blocks for everybody else.
// A proposed appointment blocks its proposed slot, not its current one.
func (a Appointment) OccupiedSlot() (Slot, bool) {
	switch a.Status {
	case StatusPending, StatusConfirmed:
		return a.CurrentSlot(), true
	case StatusProposed:
		if a.Proposal == nil {
			return Slot{}, false
		}
		return Slot{Facility: a.Facility, Date: a.Proposal.Date, Time: a.Proposal.Time}, true
	}
	return Slot{}, false
}

func (a Appointment) clone() Appointment {
	if a.Proposal != nil {
		p := *a.Proposal
		a.Proposal = &p
	}
	return a
}

// Actor is the caller on whose behalf an event is applied.
type Actor struct {
	SubjectID  string
	Privileged bool
}

type EventKind string

const (
	EventConfirm        EventKind = "confirm"
	EventReject         EventKind = "reject"
	EventPropose        EventKind = "propose"
	EventAcceptProposal EventKind = "acceptProposal"
	EventRejectProposal EventKind = "rejectProposal"
)

// Event is one negotiation step. Date and Time are only read for EventPropose.
type Event struct {
	Kind  EventKind
	Actor Actor
	Date  calendar.Date
	Time  string
}

// CreateRequest carries a patient's booking request.
type CreateRequest struct {
	SubjectID     string
	Facility      string
	Date          calendar.Date
	Time          string
	AttachmentRef string
}

// EventLog is an audit record written in the same transaction as the change it describes.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
