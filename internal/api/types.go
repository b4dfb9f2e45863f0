package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/calendar"
)

type CreateAppointmentRequest struct {
	Facility      string `json:"facility" validate:"required,max=128"`
	Date          string `json:"date" validate:"required,ymd"`
	Time          string `json:"time" validate:"required,hhmm"`
	AttachmentRef string `json:"attachment_ref" validate:"omitempty,max=512"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type ProposeRequest struct {
	ProposedDate string `json:"proposed_date" validate:"required,ymd"`
	ProposedTime string `json:"proposed_time" validate:"required,hhmm"`
}

type AppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	SubjectID     string    `json:"subject_id"`
	Facility      string    `json:"facility"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status"`
	ProposedDate  *string   `json:"proposed_date,omitempty"`
	ProposedTime  *string   `json:"proposed_time,omitempty"`
	AttachmentRef string    `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:            a.ID,
		SubjectID:     a.SubjectID,
		Facility:      a.Facility,
		Date:          a.Date.String(),
		Time:          a.Time,
		Status:        string(a.Status),
		AttachmentRef: a.AttachmentRef,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.Proposal != nil {
		d, t := a.Proposal.Date.String(), a.Proposal.Time
		resp.ProposedDate = &d
		resp.ProposedTime = &t
	}
	return resp
}

func toResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toResponse(&appts[i]))
	}
	return out
}

type CalendarResponse struct {
	MinBookableDate string   `json:"min_bookable_date"`
	Slots           []string `json:"slots"`
	Date            string   `json:"date,omitempty"`
	Valid           *bool    `json:"valid,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	SuggestedDate   string   `json:"suggested_date,omitempty"`
}

func toCalendarResponse(p appointment.CalendarPreview) CalendarResponse {
	resp := CalendarResponse{
		MinBookableDate: p.MinBookableDate.String(),
		Slots:           p.Slots,
	}
	if !p.Verdict.Requested.IsZero() {
		valid := p.Verdict.Valid
		resp.Date = p.Verdict.Requested.String()
		resp.Valid = &valid
		resp.Reason = string(p.Verdict.Reason)
		resp.SuggestedDate = p.Verdict.Suggested.String()
	}
	return resp
}

type AttachmentResponse struct {
	AttachmentRef string `json:"attachment_ref"`
	ContentType   string `json:"content_type,omitempty"`
	Size          int64  `json:"size"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	Reason        string `json:"reason,omitempty"`
	SuggestedDate string `json:"suggested_date,omitempty"`
}

func suggestedDate(v calendar.Verdict) string {
	if v.Suggested.IsZero() {
		return ""
	}
	return v.Suggested.String()
}
