package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/calendar"
)

// Ledger is the only writer of appointments. Every write that makes an
// appointment occupy a slot runs its conflict check and its commit inside the
// slot lock for (facility, date), and the store re-enforces uniqueness.
type Ledger struct {
	store   Store
	locker  Locker
	log     *zap.Logger
	now     func() time.Time
	loc     *time.Location
	timeout time.Duration
}

type LedgerOption func(*Ledger)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the location in which "today" is computed.
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *Ledger) { l.loc = loc }
}

// WithStoreTimeout bounds every store call and lock acquisition.
func WithStoreTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.timeout = d }
}

func NewLedger(store Store, locker Locker, log *zap.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:   store,
		locker:  locker,
		log:     log,
		now:     time.Now,
		loc:     time.UTC,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time in its configured location.
func (l *Ledger) Now() time.Time {
	return l.now().In(l.loc)
}

// Create books a new PENDING appointment.
func (l *Ledger) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if err := validateFacility(req.Facility); err != nil {
		return nil, err
	}

	now := l.Now()
	slot := Slot{Facility: req.Facility, Date: req.Date, Time: req.Time}
	if err := validateSlot(now, slot); err != nil {
		return nil, err
	}

	appt := Appointment{
		ID:            uuid.New(),
		SubjectID:     req.SubjectID,
		Facility:      req.Facility,
		Date:          req.Date,
		Time:          req.Time,
		Status:        StatusPending,
		AttachmentRef: req.AttachmentRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := l.withSlotLock(ctx, slot, func(lockCtx context.Context) error {
		existing, err := l.store.ListByFacilityAndDate(lockCtx, slot.Facility, slot.Date)
		if err != nil {
			return storeError("check slot occupancy", err)
		}
		if occupant(existing, slot, uuid.Nil) != nil {
			return &ConflictError{Slot: slot}
		}

		ev := l.event(EventAppointmentCreated, appt, map[string]any{
			"subject_id": appt.SubjectID,
			"facility":   appt.Facility,
			"date":       appt.Date.String(),
			"time":       appt.Time,
		})
		if err := l.store.Insert(lockCtx, appt, ev); err != nil {
			if errors.Is(err, ErrConflict) {
				return &ConflictError{Slot: slot}
			}
			return storeError("insert appointment", err)
		}
		return nil
	})
	if err != nil {
		l.log.Info("booking refused",
			zap.String("facility", slot.Facility),
			zap.String("date", slot.Date.String()),
			zap.String("time", slot.Time),
			zap.Error(err),
		)
		return nil, err
	}

	l.log.Info("appointment created",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("facility", slot.Facility),
		zap.String("date", slot.Date.String()),
		zap.String("time", slot.Time),
	)
	return &appt, nil
}

// Transition applies one negotiation event to an appointment.
func (l *Ledger) Transition(ctx context.Context, id uuid.UUID, ev Event) (*Appointment, error) {
	current, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := l.Now()
	next, err := Apply(*current, ev, now)
	if err != nil {
		return nil, err
	}

	if ev.Kind == EventPropose {
		target, _ := next.OccupiedSlot()
		if err := validateSlot(now, target); err != nil {
			return nil, err
		}
	}

	var committed Appointment
	commit := func(ctx context.Context) error {
		fresh, err := l.store.Get(ctx, id)
		if err != nil {
			return storeError("reload appointment", err)
		}
		next, err := Apply(*fresh, ev, now)
		if err != nil {
			return err
		}

		if introducesSlot(ev.Kind) {
			target, _ := next.OccupiedSlot()
			existing, err := l.store.ListByFacilityAndDate(ctx, target.Facility, target.Date)
			if err != nil {
				return storeError("check slot occupancy", err)
			}
			if occupant(existing, target, id) != nil {
				return &ConflictError{Slot: target}
			}
		}

		if err := l.store.Update(ctx, next, fresh.Status, l.transitionEvent(ev, *fresh, next)); err != nil {
			switch {
			case errors.Is(err, errStatusChanged):
				return l.illegalAfterRace(ctx, id, ev)
			case errors.Is(err, ErrConflict):
				target, _ := next.OccupiedSlot()
				return &ConflictError{Slot: target}
			}
			return storeError("update appointment", err)
		}
		committed = next
		return nil
	}

	if introducesSlot(ev.Kind) {
		target, _ := next.OccupiedSlot()
		err = l.withSlotLock(ctx, target, commit)
	} else {
		ctx, cancel := withTimeout(ctx, l.timeout)
		err = commit(ctx)
		cancel()
	}
	if err != nil {
		l.log.Info("transition refused",
			zap.String("appointment_id", id.String()),
			zap.String("event", string(ev.Kind)),
			zap.Error(err),
		)
		return nil, err
	}

	l.log.Info("appointment transitioned",
		zap.String("appointment_id", id.String()),
		zap.String("event", string(ev.Kind)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(committed.Status)),
	)
	return &committed, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	appt, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, storeError("get appointment", err)
	}
	return appt, nil
}

func (l *Ledger) ListBySubject(ctx context.Context, subjectID string) ([]Appointment, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	appts, err := l.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, storeError("list appointments by subject", err)
	}
	return appts, nil
}

func (l *Ledger) ListAll(ctx context.Context) ([]Appointment, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	appts, err := l.store.ListAll(ctx)
	if err != nil {
		return nil, storeError("list appointments", err)
	}
	return appts, nil
}

func (l *Ledger) ListByFacilityAndDate(ctx context.Context, facility string, date calendar.Date) ([]Appointment, error) {
	if err := validateFacility(facility); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	appts, err := l.store.ListByFacilityAndDate(ctx, facility, date)
	if err != nil {
		return nil, storeError("list appointments by facility and date", err)
	}
	return appts, nil
}

func (l *Ledger) withSlotLock(ctx context.Context, slot Slot, fn func(ctx context.Context) error) error {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	err := l.locker.WithSlotLock(ctx, SlotLockKey(slot.Facility, slot.Date), fn)
	if err == nil || errors.Is(err, ErrTransientStorage) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return transient("slot lock", err)
	}
	return err
}

// illegalAfterRace reports the transition as illegal from whatever status won the race.
func (l *Ledger) illegalAfterRace(ctx context.Context, id uuid.UUID, ev Event) error {
	fresh, err := l.store.Get(ctx, id)
	if err != nil {
		return storeError("reload appointment", err)
	}
	return &IllegalTransitionError{AppointmentID: id, From: fresh.Status, Event: ev.Kind}
}

func (l *Ledger) transitionEvent(ev Event, before, after Appointment) EventLog {
	payload := map[string]any{
		"from": string(before.Status),
		"to":   string(after.Status),
		"date": after.Date.String(),
		"time": after.Time,
	}
	if after.Proposal != nil {
		payload["proposed_date"] = after.Proposal.Date.String()
		payload["proposed_time"] = after.Proposal.Time
	}
	if ev.Actor.SubjectID != "" {
		payload["actor"] = ev.Actor.SubjectID
	}
	return l.event(eventType(ev.Kind), after, payload)
}

func (l *Ledger) event(eventType string, appt Appointment, payload map[string]any) EventLog {
	data, err := json.Marshal(payload)
	if err != nil {
		l.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}
	apptID := appt.ID
	return EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     appt.UpdatedAt,
	}
}

func validateSlot(now time.Time, slot Slot) error {
	if !calendar.IsSlot(slot.Time) {
		return &InvalidSlotError{Slot: slot, Cause: fmt.Errorf("%w: %q", calendar.ErrUnknownTime, slot.Time)}
	}
	if slot.Date.IsZero() {
		return &InvalidSlotError{Slot: slot, Cause: calendar.ErrMalformedDate}
	}
	if v := calendar.Check(now, slot.Date); !v.Valid {
		return &InvalidSlotError{Slot: slot, Verdict: v}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// storeError keeps domain errors as they are and turns deadline overruns into
// transient failures the caller may retry.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, errStatusChanged),
		errors.Is(err, ErrTransientStorage),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
