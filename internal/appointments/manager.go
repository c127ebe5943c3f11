// Package appointments orchestrates bookings, cancellations and patient
// lookups across the practice-management backends.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/internal/crm"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Router is the routing surface the manager needs. *backend.Router implements it.
type Router interface {
	Resolve(target backend.Target) ([]backend.Adapter, error)
	ProbeOrder() []backend.Adapter
	LookupOrder() []backend.Adapter
}

// Dispatcher receives confirmed bookings for CRM mirroring. *crm.Dispatcher implements it.
type Dispatcher interface {
	DispatchAsync(job crm.Job) string
}

// Observer receives per-operation and per-attempt measurements.
type Observer interface {
	backend.Observer
	ObserveOperation(op, outcome string, seconds float64)
}

// Manager runs the appointment lifecycle. It holds no state between calls.
type Manager struct {
	router     Router
	dispatcher Dispatcher
	observer   Observer
	logger     *logging.Logger
	location   *time.Location
	now        func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDispatcher enables CRM mirroring of new bookings.
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

// WithObserver attaches metrics.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithLocation sets the clinic civil timezone.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager over router.
func NewManager(router Router, opts ...Option) *Manager {
	m := &Manager{
		router:   router,
		logger:   logging.Default(),
		location: time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest asks for a new appointment.
type CreateRequest struct {
	PatientID      int
	ProfessionalID int
	BranchID       int
	Date           string // 2006-01-02
	StartTime      string // 15:04
	// DurationMinutes is optional; the professional's interval is used when zero.
	DurationMinutes int
	Comment         string
	// ContactID is the CRM contact to mirror the booking to.
	ContactID string
}

// Booking is a created (or recovered) appointment.
type Booking struct {
	Appointment backend.Appointment
	BackendName string
	Backend     string // display label
	// Recovered is set when the backend already held the appointment.
	Recovered bool
	CRMJobID  string
}

// Create books an appointment on the branch's backend, failing over to the
// alternate on incompatible, not-found and transient errors.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (booking *Booking, err error) {
	defer m.observe("create", time.Now(), &err)

	if err := validateCreate(&req); err != nil {
		return nil, err
	}
	backends, err := m.router.Resolve(backend.Target{BranchID: req.BranchID, ProfessionalID: req.ProfessionalID})
	if err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration, err = m.professionalInterval(ctx, backends, req.ProfessionalID)
		if err != nil {
			return nil, err
		}
	}

	areq := backend.AppointmentRequest{
		PatientID:       req.PatientID,
		ProfessionalID:  req.ProfessionalID,
		BranchID:        req.BranchID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: duration,
		Comment:         req.Comment,
	}

	recovered := false
	res, err := backend.WithFailover(ctx, backends, backend.FailoverOptions{Op: "create appointment", Observer: m.observer},
		func(ctx context.Context, a backend.Adapter) (*backend.Appointment, error) {
			appt, err := a.CreateAppointment(ctx, areq)
			if !errors.Is(err, backend.ErrDuplicate) {
				return appt, err
			}
			existing, findErr := a.FindAppointment(ctx, areq)
			if findErr != nil {
				m.logger.Warn("appointments: duplicate create could not be recovered",
					"backend", a.Profile().Name, "error", findErr)
				return nil, err
			}
			recovered = true
			return existing, nil
		})
	if err != nil {
		return nil, err
	}

	booking = &Booking{
		Appointment: *res.Value,
		BackendName: res.Backend.Profile().Name,
		Backend:     res.Backend.Profile().Label(),
		Recovered:   recovered,
	}
	m.logger.Info("appointments: appointment booked",
		"appointment_id", booking.Appointment.ID,
		"backend", booking.BackendName,
		"recovered", recovered,
	)
	booking.CRMJobID = m.mirror(booking, req, duration)
	return booking, nil
}

func (m *Manager) mirror(b *Booking, req CreateRequest, duration int) string {
	if m.dispatcher == nil {
		return ""
	}
	if strings.TrimSpace(req.ContactID) == "" {
		m.logger.Warn("appointments: no CRM contact id, skipping CRM mirroring", "appointment_id", b.Appointment.ID)
		return ""
	}
	return m.dispatcher.DispatchAsync(crm.Job{
		ContactID:       req.ContactID,
		Backend:         b.BackendName,
		AppointmentID:   b.Appointment.ID,
		ProfessionalID:  req.ProfessionalID,
		BranchID:        req.BranchID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: duration,
		Comment:         req.Comment,
	})
}

// professionalInterval returns the first positive interval any backend reports.
func (m *Manager) professionalInterval(ctx context.Context, backends []backend.Adapter, professionalID int) (int, error) {
	for _, a := range backends {
		p, err := a.GetProfessional(ctx, professionalID)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			m.logger.Debug("appointments: professional lookup failed",
				"backend", a.Profile().Name, "professional_id", professionalID, "error", err)
			continue
		}
		if p.IntervalMinutes > 0 {
			return p.IntervalMinutes, nil
		}
	}
	return 0, fmt.Errorf("professional %d: %w", professionalID, backend.ErrMissingDuration)
}

func validateCreate(req *CreateRequest) error {
	var missing []string
	if req.PatientID <= 0 {
		missing = append(missing, "patient id")
	}
	if req.ProfessionalID <= 0 {
		missing = append(missing, "professional id")
	}
	if req.BranchID <= 0 {
		missing = append(missing, "branch id")
	}
	if strings.TrimSpace(req.Date) == "" {
		missing = append(missing, "date")
	}
	if strings.TrimSpace(req.StartTime) == "" {
		missing = append(missing, "start time")
	}
	if len(missing) > 0 {
		return backend.Validationf("missing %s", strings.Join(missing, ", "))
	}
	if req.DurationMinutes < 0 {
		return backend.Validationf("duration cannot be negative")
	}
	if _, err := time.Parse(dateLayout, req.Date); err != nil {
		return backend.Validationf("date %q must be YYYY-MM-DD", req.Date)
	}
	start := strings.TrimSpace(req.StartTime)
	if len(start) > len(clockLayout) {
		start = start[:len(clockLayout)]
	}
	if _, err := time.Parse(clockLayout, start); err != nil {
		return backend.Validationf("start time %q must be HH:MM", req.StartTime)
	}
	req.StartTime = start
	return nil
}

func (m *Manager) observe(op string, began time.Time, err *error) {
	if m.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil && *err != nil {
		outcome = backend.Outcome(*err)
	}
	m.observer.ObserveOperation(op, outcome, time.Since(began).Seconds())
}
