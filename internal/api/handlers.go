package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/attachment"
	"github.com/hackgods/visit-booking/internal/auth"
	"github.com/hackgods/visit-booking/internal/calendar"
	redisclient "github.com/hackgods/visit-booking/internal/redis"
)

const maxJSONBody = 1 << 20

func availabilityHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		date, err := calendar.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		if q.Get("view") == "grid" {
			grid, err := svc.AvailabilityGrid(r.Context(), q.Get("facility"), date)
			if err != nil {
				handleServiceError(w, r, log, err)
				return
			}
			writeJSON(w, http.StatusOK, grid)
			return
		}

		booked, err := svc.BookedTimes(r.Context(), q.Get("facility"), date)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, booked)
	}
}

func calendarHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var date calendar.Date
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := calendar.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
				return
			}
			date = d
		}
		writeJSON(w, http.StatusOK, toCalendarResponse(svc.Calendar(date)))
	}
}

func createAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		actor := actorFrom(r)
		if req.AttachmentRef != "" && !attachment.OwnedBy(req.AttachmentRef, actor.SubjectID) {
			writeError(w, http.StatusBadRequest, "invalid_attachment_ref", "attachment_ref was not uploaded by the caller")
			return
		}

		date, _ := calendar.ParseDate(req.Date)
		appt, err := svc.Book(r.Context(), actor, req.Facility, date, slotTime(req.Time), req.AttachmentRef)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toResponse(appt))
	}
}

func listMyAppointmentsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListMine(r.Context(), actorFrom(r))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponses(appts))
	}
}

func listAllAppointmentsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListAll(r.Context(), actorFrom(r))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponses(appts))
	}
}

func getAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func updateStatusHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		status, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}

		appt, err := svc.SetStatus(r.Context(), actorFrom(r), id, status)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func proposeHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req ProposeRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		date, _ := calendar.ParseDate(req.ProposedDate)
		appt, err := svc.Propose(r.Context(), actorFrom(r), id, date, slotTime(req.ProposedTime))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

type transitionFunc func(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)

// transitionHandler serves the body-less accept and reject endpoints.
func transitionHandler(fn transitionFunc, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := fn(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func uploadAttachmentHandler(store attachment.Storage, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, attachment.MaxSize+maxJSONBody)
		if err := r.ParseMultipartForm(maxJSONBody); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "attachment_too_large", err.Error())
				return
			}
			writeError(w, http.StatusBadRequest, "invalid_multipart", err.Error())
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		obj, err := store.Upload(r.Context(), actorFrom(r).SubjectID, header.Filename, contentType, file, header.Size)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, AttachmentResponse{
			AttachmentRef: obj.Ref,
			ContentType:   obj.ContentType,
			Size:          obj.Size,
		})
	}
}

func downloadAttachmentHandler(svc *appointment.Service, store attachment.Storage, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := svc.GetAppointment(r.Context(), actorFrom(r), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		if appt.AttachmentRef == "" {
			writeError(w, http.StatusNotFound, "attachment_not_found", "appointment has no attachment")
			return
		}

		body, obj, err := store.Open(r.Context(), appt.AttachmentRef)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		defer body.Close()

		if obj.ContentType != "" {
			w.Header().Set("Content-Type", obj.ContentType)
		}
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(obj.Ref)))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			log.Warn("attachment stream interrupted",
				zap.String("appointment_id", id.String()),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err),
			)
		}
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var invalid *appointment.InvalidSlotError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:         "invalid_slot",
			Details:       err.Error(),
			Reason:        string(invalid.Verdict.Reason),
			SuggestedDate: suggestedDate(invalid.Verdict),
		})
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, attachment.ErrNotFound):
		writeError(w, http.StatusNotFound, "attachment_not_found", err.Error())
	case errors.Is(err, attachment.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "attachment_too_large", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput), errors.Is(err, appointment.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrTransientStorage),
		errors.Is(err, redisclient.ErrLockNotAcquired),
		errors.Is(err, context.DeadlineExceeded):
		log.Warn("transient failure",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "please retry shortly")
	default:
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", formatValidationErrors(err))
		return false
	}
	return true
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// actorFrom is only called behind auth.Middleware.
func actorFrom(r *http.Request) appointment.Actor {
	actor, _ := auth.ActorFrom(r.Context())
	return actor
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
