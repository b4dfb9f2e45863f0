package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/visit-booking/internal/appointment"
	"github.com/hackgods/visit-booking/internal/attachment"
	"github.com/hackgods/visit-booking/internal/auth"
)

type RouterConfig struct {
	Service     *appointment.Service
	Attachments attachment.Storage
	// Probes back /health/ready. The memory store and the local locker have none.
	Probes      []Probe
	Log         *zap.Logger
	SigningKey  []byte
	CORSOrigins []string
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit int
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Second))
	}

	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Probes...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc, log := cfg.Service, cfg.Log
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.SigningKey))

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/availability", availabilityHandler(svc, log))
			r.Get("/calendar", calendarHandler(svc))
			r.Post("/", createAppointmentHandler(svc, log))
			r.Get("/", listMyAppointmentsHandler(svc, log))
			r.With(auth.RequireStaff).Get("/admin/all", listAllAppointmentsHandler(svc, log))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", getAppointmentHandler(svc, log))
				r.Put("/status", updateStatusHandler(svc, log))
				r.Put("/propose", proposeHandler(svc, log))
				r.Put("/accept", transitionHandler(svc.AcceptProposal, log))
				r.Put("/reject", transitionHandler(svc.RejectProposal, log))
				if cfg.Attachments != nil {
					r.With(auth.RequireStaff).Get("/attachment", downloadAttachmentHandler(svc, cfg.Attachments, log))
				}
			})
		})

		if cfg.Attachments != nil {
			r.Post("/attachments", uploadAttachmentHandler(cfg.Attachments, log))
		}
	})

	return r
}
