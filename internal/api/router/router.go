package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking-engine/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Booking        *handlers.BookingHandler
	MetricsHandler http.Handler
	// Recorder receives per-route request counts (optional).
	Recorder httpmiddleware.RequestRecorder
	// RateLimiter guards the booking operations (optional).
	RateLimiter httpmiddleware.Limiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.Recorder))

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Booking.Health)
		public.Get("/config", cfg.Booking.Config)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Booking operations
	r.Group(func(ops chi.Router) {
		if cfg.RateLimiter != nil {
			ops.Use(httpmiddleware.RateLimit(cfg.RateLimiter, cfg.Logger))
		}
		ops.Use(middleware.AllowContentType("application/json"))
		ops.Post("/search_availability", cfg.Booking.SearchAvailability)
		ops.Post("/search_user", cfg.Booking.SearchPatient)
		ops.Post("/create_user", cfg.Booking.CreatePatient)
		ops.Post("/schedule_appointment", cfg.Booking.ScheduleAppointment)
		ops.Post("/cancel_appointment", cfg.Booking.CancelAppointment)
		ops.Post("/get_patient_treatments", cfg.Booking.PatientTreatments)
		ops.Post("/create_user_and_schedule", cfg.Booking.CreatePatientAndSchedule)
	})

	return r
}
