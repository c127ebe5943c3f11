package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
)

// Messages reported with patient outcomes.
const (
	PatientCreatedMessage      = "Paciente creado exitosamente"
	PatientExistsMessage       = "Paciente ya existe"
	PatientAlreadyExistMessage = "Paciente ya existía"
)

// PatientOutcome is a found or created patient.
type PatientOutcome struct {
	Patient backend.Patient
	Backend string
	// Existing is set when no new record was written.
	Existing bool
	Message  string
}

// NewPatientRequest creates a patient, optionally scoped to a branch's backends.
type NewPatientRequest struct {
	FirstName  string
	LastName   string
	NationalID string
	Phone      string
	Email      string
	BirthDate  string
	BranchID   int
}

// TreatmentsOutcome lists a patient's treatments.
type TreatmentsOutcome struct {
	Patient    backend.Patient
	Treatments []backend.Treatment
	Backend    string
}

// patientBackends returns only the branch's primary backend when a branch is
// given, else every backend in lookup order.
func (m *Manager) patientBackends(branchID int) ([]backend.Adapter, error) {
	if branchID <= 0 {
		return m.router.LookupOrder(), nil
	}
	backends, err := m.router.Resolve(backend.Target{BranchID: branchID})
	if err != nil {
		return nil, err
	}
	return backends[:1], nil
}

// SearchPatient finds a patient by national id.
func (m *Manager) SearchPatient(ctx context.Context, nationalID string, branchID int) (outcome *PatientOutcome, err error) {
	defer m.observe("search_patient", time.Now(), &err)

	rut := NormalizeNationalID(nationalID)
	if rut == "" {
		return nil, backend.Validationf("national id is required")
	}
	backends, err := m.patientBackends(branchID)
	if err != nil {
		return nil, err
	}
	return m.findPatient(ctx, backends, rut)
}

func (m *Manager) findPatient(ctx context.Context, backends []backend.Adapter, rut string) (*PatientOutcome, error) {
	res, err := backend.WithFailover(ctx, backends, backend.FailoverOptions{Op: "search patient", Observer: m.observer},
		func(ctx context.Context, a backend.Adapter) (*backend.Patient, error) {
			return a.SearchPatient(ctx, rut)
		})
	if err != nil {
		var exhausted *backend.ExhaustedError
		if errors.As(err, &exhausted) && exhausted.AllAbsent() {
			return nil, fmt.Errorf("patient %s: %w", rut, backend.ErrNotFound)
		}
		return nil, err
	}
	return &PatientOutcome{
		Patient:  *res.Value,
		Backend:  res.Backend.Profile().Label(),
		Existing: true,
		Message:  PatientExistsMessage,
	}, nil
}

// CreatePatient returns the existing patient when the national id is already
// registered, otherwise creates it with failover. A create answered with
// "already exists" is resolved by searching the same backend again.
func (m *Manager) CreatePatient(ctx context.Context, req NewPatientRequest) (outcome *PatientOutcome, err error) {
	defer m.observe("create_patient", time.Now(), &err)

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	rut := NormalizeNationalID(req.NationalID)
	if req.FirstName == "" || req.LastName == "" || rut == "" {
		return nil, backend.Validationf("first name, last name and national id are required")
	}

	var backends []backend.Adapter
	if req.BranchID > 0 {
		backends, err = m.router.Resolve(backend.Target{BranchID: req.BranchID})
		if err != nil {
			return nil, err
		}
	} else {
		backends = m.router.LookupOrder()
	}

	if existing, err := m.findPatient(ctx, backends, rut); err == nil {
		return existing, nil
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	preq := backend.PatientRequest{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		NationalID: rut,
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.TrimSpace(req.Email),
		BirthDate:  strings.TrimSpace(req.BirthDate),
	}
	existed := false
	res, err := backend.WithFailover(ctx, backends, backend.FailoverOptions{Op: "create patient", Observer: m.observer},
		func(ctx context.Context, a backend.Adapter) (*backend.Patient, error) {
			p, err := a.CreatePatient(ctx, preq)
			if !errors.Is(err, backend.ErrDuplicate) {
				return p, err
			}
			found, searchErr := a.SearchPatient(ctx, rut)
			if searchErr != nil {
				return nil, err
			}
			existed = true
			return found, nil
		})
	if err != nil {
		return nil, err
	}

	outcome = &PatientOutcome{Patient: *res.Value, Backend: res.Backend.Profile().Label(), Existing: existed}
	if existed {
		outcome.Message = PatientAlreadyExistMessage
	} else {
		outcome.Message = PatientCreatedMessage
		m.logger.Info("appointments: patient created", "patient_id", outcome.Patient.ID, "backend", res.Backend.Profile().Name)
	}
	return outcome, nil
}

// Treatments returns the patient's treatments from the first backend that
// holds both the patient and a treatment listing.
func (m *Manager) Treatments(ctx context.Context, nationalID string) (outcome *TreatmentsOutcome, err error) {
	defer m.observe("treatments", time.Now(), &err)

	rut := NormalizeNationalID(nationalID)
	if rut == "" {
		return nil, backend.Validationf("national id is required")
	}

	res, err := backend.WithFailover(ctx, m.router.LookupOrder(), backend.FailoverOptions{Op: "list treatments", Observer: m.observer},
		func(ctx context.Context, a backend.Adapter) (*TreatmentsOutcome, error) {
			p, err := a.SearchPatient(ctx, rut)
			if err != nil {
				return nil, err
			}
			treatments, err := a.ListTreatments(ctx, *p)
			if err != nil {
				return nil, err
			}
			return &TreatmentsOutcome{Patient: *p, Treatments: treatments, Backend: a.Profile().Label()}, nil
		})
	if err != nil {
		var exhausted *backend.ExhaustedError
		if errors.As(err, &exhausted) && exhausted.AllAbsent() {
			return nil, fmt.Errorf("treatments for %s: %w", rut, backend.ErrNotFound)
		}
		return nil, err
	}
	return res.Value, nil
}

// NewPatientBooking creates (or finds) a patient and books in one call.
type NewPatientBooking struct {
	Patient         NewPatientRequest
	ProfessionalID  int
	BranchID        int
	Date            string
	StartTime       string
	DurationMinutes int
	Comment         string
	ContactID       string
}

// ScheduleWithNewPatient runs CreatePatient then Create on the branch's backends.
func (m *Manager) ScheduleWithNewPatient(ctx context.Context, req NewPatientBooking) (*PatientOutcome, *Booking, error) {
	req.Patient.BranchID = req.BranchID
	patient, err := m.CreatePatient(ctx, req.Patient)
	if err != nil {
		return nil, nil, err
	}
	booking, err := m.Create(ctx, CreateRequest{
		PatientID:       patient.Patient.ID,
		ProfessionalID:  req.ProfessionalID,
		BranchID:        req.BranchID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Comment:         req.Comment,
		ContactID:       req.ContactID,
	})
	if err != nil {
		return patient, nil, err
	}
	return patient, booking, nil
}
