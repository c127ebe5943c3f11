package appointments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
)

// NoFutureAppointmentsMessage is the soft answer when a patient has nothing to cancel.
const NoFutureAppointmentsMessage = "No se encontraron citas futuras activas para cancelar"

// CancelRequest cancels by appointment id or by the patient's national id.
// AppointmentID wins when both are set.
type CancelRequest struct {
	AppointmentID int
	NationalID    string
}

// CancellationOutcome describes a cancelled appointment. When Cancelled is
// false nothing was cancelled and Message explains why.
type CancellationOutcome struct {
	Cancelled     bool
	AppointmentID int
	Date          string
	StartTime     string
	Backend       string
	Message       string
}

// Cancel dispatches to CancelByID or CancelByNationalID.
func (m *Manager) Cancel(ctx context.Context, req CancelRequest) (*CancellationOutcome, error) {
	switch {
	case req.AppointmentID > 0:
		return m.CancelByID(ctx, req.AppointmentID)
	case strings.TrimSpace(req.NationalID) != "":
		return m.CancelByNationalID(ctx, req.NationalID)
	default:
		return nil, backend.Validationf("an appointment id or a national id is required")
	}
}

// CancelByID probes the backends in probe order. Any failure moves on to the
// next backend; the appointment is reported missing only when every backend
// said it does not hold it.
func (m *Manager) CancelByID(ctx context.Context, id int) (*CancellationOutcome, error) {
	if id <= 0 {
		return nil, backend.Validationf("appointment id must be positive")
	}
	return m.cancelOn(ctx, m.router.ProbeOrder(), id)
}

func (m *Manager) cancelOn(ctx context.Context, order []backend.Adapter, id int) (outcome *CancellationOutcome, err error) {
	defer m.observe("cancel", time.Now(), &err)

	res, err := backend.WithFailover(ctx, order, backend.FailoverOptions{
		Op:            "cancel appointment",
		ShouldTryNext: func(error) bool { return true },
		Observer:      m.observer,
	}, func(ctx context.Context, a backend.Adapter) (*backend.Appointment, error) {
		appt, err := a.GetAppointment(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := a.CancelAppointment(ctx, id); err != nil {
			return nil, err
		}
		return appt, nil
	})
	if err != nil {
		var exhausted *backend.ExhaustedError
		if errors.As(err, &exhausted) && exhausted.AllAbsent() {
			return nil, fmt.Errorf("appointment %d: %w", id, backend.ErrNotFound)
		}
		return nil, err
	}

	m.logger.Info("appointments: appointment cancelled", "appointment_id", id, "backend", res.Backend.Profile().Name)
	return &CancellationOutcome{
		Cancelled:     true,
		AppointmentID: id,
		Date:          res.Value.Date,
		StartTime:     res.Value.StartTime,
		Backend:       res.Backend.Profile().Label(),
	}, nil
}

type candidate struct {
	appt    backend.Appointment
	adapter backend.Adapter
}

// CancelByNationalID cancels the patient's earliest active future appointment
// across every backend. No such appointment is a soft outcome, not an error.
func (m *Manager) CancelByNationalID(ctx context.Context, nationalID string) (*CancellationOutcome, error) {
	rut := NormalizeNationalID(nationalID)
	if rut == "" {
		return nil, backend.Validationf("national id is required")
	}
	now := m.now().In(m.location)

	var best *candidate
	for _, a := range m.router.LookupOrder() {
		patient, err := a.SearchPatient(ctx, rut)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Debug("appointments: patient not on backend", "backend", a.Profile().Name, "error", err)
			continue
		}
		appts, err := a.ListPatientAppointments(ctx, *patient)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("appointments: patient appointments unavailable", "backend", a.Profile().Name, "error", err)
			continue
		}
		if next, ok := m.earliestFuture(appts, now); ok {
			if best == nil || before(next, best.appt) {
				best = &candidate{appt: next, adapter: a}
			}
		}
	}

	if best == nil {
		return &CancellationOutcome{Message: NoFutureAppointmentsMessage}, nil
	}

	order := backend.Preferring(m.router.ProbeOrder(), best.adapter.Profile().Name)
	outcome, err := m.cancelOn(ctx, order, best.appt.ID)
	if err != nil {
		return nil, err
	}
	if outcome.Date == "" {
		outcome.Date = best.appt.Date
	}
	if outcome.StartTime == "" {
		outcome.StartTime = best.appt.StartTime
	}
	return outcome, nil
}

// earliestFuture picks the first active appointment strictly after now.
func (m *Manager) earliestFuture(appts []backend.Appointment, now time.Time) (backend.Appointment, bool) {
	future := make([]backend.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Cancelled || a.ID <= 0 {
			continue
		}
		start, ok := m.startOf(a)
		if !ok || !start.After(now) {
			continue
		}
		future = append(future, a)
	}
	if len(future) == 0 {
		return backend.Appointment{}, false
	}
	sort.SliceStable(future, func(i, j int) bool { return before(future[i], future[j]) })
	return future[0], true
}

func (m *Manager) startOf(a backend.Appointment) (time.Time, bool) {
	clock := strings.TrimSpace(a.StartTime)
	for _, layout := range []string{"15:04:05", clockLayout} {
		if t, err := time.ParseInLocation(dateLayout+" "+layout, a.Date+" "+clock, m.location); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func before(a, b backend.Appointment) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	return normalizeClock(a.StartTime) < normalizeClock(b.StartTime)
}

// normalizeClock pads "9:00" style times so string order matches time order.
func normalizeClock(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ":"); i == 1 {
		s = "0" + s
	}
	return s
}
