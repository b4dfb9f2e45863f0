package appointment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/visit-booking/internal/calendar"
)

const uniqueViolation = "23505"

const appointmentColumns = `id, subject_id, facility, slot_date, slot_time, status,
	proposed_date, proposed_time, attachment_ref, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a            Appointment
		slotDate     time.Time
		proposedDate *time.Time
		proposedTime *string
	)

	err := row.Scan(
		&a.ID,
		&a.SubjectID,
		&a.Facility,
		&slotDate,
		&a.Time,
		&a.Status,
		&proposedDate,
		&proposedTime,
		&a.AttachmentRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Date = calendar.DateOf(slotDate)
	if proposedDate != nil && proposedTime != nil {
		a.Proposal = &Proposal{Date: calendar.DateOf(*proposedDate), Time: *proposedTime}
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func proposalArgs(a Appointment) (*time.Time, *string) {
	if a.Proposal == nil {
		return nil, nil
	}
	d := a.Proposal.Date.Time()
	t := a.Proposal.Time
	return &d, &t
}

// lockSlot takes a transaction-scoped advisory lock on the occupied slot's
// (facility, date) so that writers in other processes serialize here too.
func lockSlot(ctx context.Context, tx pgx.Tx, a Appointment) error {
	slot, ok := a.OccupiedSlot()
	if !ok {
		return nil
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, SlotLockKey(slot.Facility, slot.Date))
	return err
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev EventLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// Interface methods

func (r *PgRepository) Insert(ctx context.Context, a Appointment, ev EventLog) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockSlot(ctx, tx, a); err != nil {
			return err
		}
		proposedDate, proposedTime := proposalArgs(a)
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, a.ID, a.SubjectID, a.Facility, a.Date.Time(), a.Time, a.Status,
			proposedDate, proposedTime, a.AttachmentRef, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	return classify(err)
}

func (r *PgRepository) Update(ctx context.Context, next Appointment, from Status, ev EventLog) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockSlot(ctx, tx, next); err != nil {
			return err
		}
		proposedDate, proposedTime := proposalArgs(next)
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = $2,
			    slot_date = $3,
			    slot_time = $4,
			    proposed_date = $5,
			    proposed_time = $6,
			    updated_at = $7
			WHERE id = $1
			  AND status = $8
		`, next.ID, next.Status, next.Date.Time(), next.Time, proposedDate, proposedTime, next.UpdatedAt, from)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return errStatusChanged
		}
		return insertEvent(ctx, tx, ev)
	})
	return classify(err)
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, classify(err)
	}
	return a, nil
}

func (r *PgRepository) ListBySubject(ctx context.Context, subjectID string) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE subject_id = $1
		ORDER BY slot_date DESC, slot_time DESC, created_at DESC
	`, subjectID)
}

func (r *PgRepository) ListAll(ctx context.Context) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY slot_date DESC, slot_time DESC, created_at DESC
	`)
}

func (r *PgRepository) ListByFacilityAndDate(ctx context.Context, facility string, date calendar.Date) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE facility = $1
		  AND (slot_date = $2 OR proposed_date = $2)
		ORDER BY slot_date DESC, slot_time DESC, created_at DESC
	`, facility, date.Time())
}

func (r *PgRepository) FetchUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at, published_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			return nil, classify(err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (r *PgRepository) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE event_logs
		SET published_at = $2
		WHERE id = ANY($1)
		  AND published_at IS NULL
	`, ids, at)
	return classify(err)
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, classify(err)
	}
	return appts, nil
}

// classify maps driver errors onto the ledger's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, errStatusChanged) || errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return ErrConflict
		case isRetryableSQLState(pgErr.Code):
			return transient("postgres", err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return transient("postgres", err)
	}
	return err
}

// isRetryableSQLState covers connection failures, serialization/deadlock
// aborts, resource exhaustion, and server shutdown.
func isRetryableSQLState(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "57":
		return true
	}
	return code == "40001" || code == "40P01"
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
