package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/calendar"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAppointmentProposed  = "APPOINTMENT_PROPOSED"
	EventProposalAccepted     = "APPOINTMENT_PROPOSAL_ACCEPTED"
	EventProposalRejected     = "APPOINTMENT_PROPOSAL_REJECTED"
)

// Service is the entry point for callers acting on behalf of a patient or a
// staff member. It checks who may do what, previews slot freedom against the
// availability index, and hands every write to the ledger.
type Service struct {
	ledger       *Ledger
	availability *Availability
	log          *zap.Logger
}

func NewService(ledger *Ledger, availability *Availability, log *zap.Logger) *Service {
	return &Service{
		ledger:       ledger,
		availability: availability,
		log:          log,
	}
}

// CalendarPreview describes bookability of a date as of now.
type CalendarPreview struct {
	MinBookableDate calendar.Date
	Verdict         calendar.Verdict
	Slots           []string
}

// Calendar previews a date for the booking form. The ledger re-checks on write.
func (s *Service) Calendar(date calendar.Date) CalendarPreview {
	now := s.ledger.Now()
	preview := CalendarPreview{
		MinBookableDate: calendar.MinBookableDate(now),
		Slots:           calendar.Slots(),
	}
	if !date.IsZero() {
		preview.Verdict = calendar.Check(now, date)
	}
	return preview
}

// Book creates a PENDING appointment for the calling patient.
func (s *Service) Book(ctx context.Context, actor Actor, facility string, date calendar.Date, slotTime, attachmentRef string) (*Appointment, error) {
	return s.ledger.Create(ctx, CreateRequest{
		SubjectID:     actor.SubjectID,
		Facility:      facility,
		Date:          date,
		Time:          slotTime,
		AttachmentRef: attachmentRef,
	})
}

// SetStatus maps a staff decision onto confirm or reject.
func (s *Service) SetStatus(ctx context.Context, actor Actor, id uuid.UUID, status Status) (*Appointment, error) {
	switch status {
	case StatusConfirmed:
		return s.Confirm(ctx, actor, id)
	case StatusRejected:
		return s.Reject(ctx, actor, id)
	}
	return nil, fmt.Errorf("%w: status must be %s or %s", ErrInvalidInput, StatusConfirmed, StatusRejected)
}

func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.ledger.Transition(ctx, id, Event{Kind: EventConfirm, Actor: actor})
}

func (s *Service) Reject(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.ledger.Transition(ctx, id, Event{Kind: EventReject, Actor: actor})
}

// Propose offers the patient a different slot at the same facility.
func (s *Service) Propose(ctx context.Context, actor Actor, id uuid.UUID, date calendar.Date, slotTime string) (*Appointment, error) {
	appt, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ev := Event{Kind: EventPropose, Actor: actor, Date: date, Time: slotTime}
	if _, err := Apply(*appt, ev, s.ledger.Now()); err != nil {
		return nil, err
	}

	target := Slot{Facility: appt.Facility, Date: date, Time: slotTime}
	if err := validateSlot(s.ledger.Now(), target); err != nil {
		return nil, err
	}
	free, err := s.availability.IsFree(ctx, target, appt.ID)
	if err != nil {
		return nil, err
	}
	if !free {
		s.log.Debug("proposal target already taken",
			zap.String("appointment_id", id.String()),
			zap.String("slot", target.String()),
		)
		return nil, &ConflictError{Slot: target}
	}

	return s.ledger.Transition(ctx, id, ev)
}

func (s *Service) AcceptProposal(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.ledger.Transition(ctx, id, Event{Kind: EventAcceptProposal, Actor: actor})
}

func (s *Service) RejectProposal(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.ledger.Transition(ctx, id, Event{Kind: EventRejectProposal, Actor: actor})
}

// GetAppointment returns an appointment to its owner or to staff.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged && actor.SubjectID != appt.SubjectID {
		// Do not reveal other patients' appointment ids.
		return nil, ErrNotFound
	}
	return appt, nil
}

// ListMine lists the caller's appointments, latest slot first.
func (s *Service) ListMine(ctx context.Context, actor Actor) ([]Appointment, error) {
	if actor.SubjectID == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	return s.ledger.ListBySubject(ctx, actor.SubjectID)
}

// ListAll lists every appointment. Staff only.
func (s *Service) ListAll(ctx context.Context, actor Actor) ([]Appointment, error) {
	if !actor.Privileged {
		return nil, ErrForbidden
	}
	return s.ledger.ListAll(ctx)
}

// BookedTimes lists occupied grid times for the availability endpoint.
func (s *Service) BookedTimes(ctx context.Context, facility string, date calendar.Date) ([]string, error) {
	return s.availability.BookedTimes(ctx, facility, date)
}

func (s *Service) AvailabilityGrid(ctx context.Context, facility string, date calendar.Date) ([]SlotState, error) {
	return s.availability.Grid(ctx, facility, date)
}
