// Package backendtest provides an in-memory backend.Adapter for tests.
package backendtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
)

// Fake is a scriptable backend.Adapter. Nil funcs answer with ErrNotFound.
type Fake struct {
	P backend.Profile

	ListSlotsFn               func(ctx context.Context, q backend.SlotQuery) (*backend.SlotListing, error)
	GetProfessionalFn         func(ctx context.Context, id int) (*backend.Professional, error)
	GetBranchFn               func(ctx context.Context, id int) (*backend.Branch, error)
	CreateAppointmentFn       func(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error)
	FindAppointmentFn         func(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error)
	GetAppointmentFn          func(ctx context.Context, id int) (*backend.Appointment, error)
	CancelAppointmentFn       func(ctx context.Context, id int) error
	SearchPatientFn           func(ctx context.Context, nationalID string) (*backend.Patient, error)
	CreatePatientFn           func(ctx context.Context, req backend.PatientRequest) (*backend.Patient, error)
	ListPatientAppointmentsFn func(ctx context.Context, p backend.Patient) ([]backend.Appointment, error)
	ListTreatmentsFn          func(ctx context.Context, p backend.Patient) ([]backend.Treatment, error)

	mu    sync.Mutex
	calls []string
}

// New returns a Fake with a profile named name.
func New(name string) *Fake {
	return &Fake{P: backend.Profile{Name: name, DisplayName: name}}
}

var _ backend.Adapter = (*Fake)(nil)

// Calls returns the recorded method calls in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fake) notFound(op string) error {
	return fmt.Errorf("%s %s: %w", f.P.Name, op, backend.ErrNotFound)
}

func (f *Fake) Profile() backend.Profile { return f.P }

func (f *Fake) ListSlots(ctx context.Context, q backend.SlotQuery) (*backend.SlotListing, error) {
	f.record("ListSlots %s", q.From.Format("2006-01-02"))
	if f.ListSlotsFn == nil {
		return nil, f.notFound("list slots")
	}
	return f.ListSlotsFn(ctx, q)
}

func (f *Fake) GetProfessional(ctx context.Context, id int) (*backend.Professional, error) {
	f.record("GetProfessional %d", id)
	if f.GetProfessionalFn == nil {
		return nil, f.notFound("get professional")
	}
	return f.GetProfessionalFn(ctx, id)
}

func (f *Fake) GetBranch(ctx context.Context, id int) (*backend.Branch, error) {
	f.record("GetBranch %d", id)
	if f.GetBranchFn == nil {
		return nil, f.notFound("get branch")
	}
	return f.GetBranchFn(ctx, id)
}

func (f *Fake) CreateAppointment(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
	f.record("CreateAppointment %d", req.ProfessionalID)
	if f.CreateAppointmentFn == nil {
		return nil, f.notFound("create appointment")
	}
	return f.CreateAppointmentFn(ctx, req)
}

func (f *Fake) FindAppointment(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
	f.record("FindAppointment %d", req.PatientID)
	if f.FindAppointmentFn == nil {
		return nil, f.notFound("find appointment")
	}
	return f.FindAppointmentFn(ctx, req)
}

func (f *Fake) GetAppointment(ctx context.Context, id int) (*backend.Appointment, error) {
	f.record("GetAppointment %d", id)
	if f.GetAppointmentFn == nil {
		return nil, f.notFound("get appointment")
	}
	return f.GetAppointmentFn(ctx, id)
}

func (f *Fake) CancelAppointment(ctx context.Context, id int) error {
	f.record("CancelAppointment %d", id)
	if f.CancelAppointmentFn == nil {
		return f.notFound("cancel appointment")
	}
	return f.CancelAppointmentFn(ctx, id)
}

func (f *Fake) SearchPatient(ctx context.Context, nationalID string) (*backend.Patient, error) {
	f.record("SearchPatient %s", nationalID)
	if f.SearchPatientFn == nil {
		return nil, f.notFound("search patient")
	}
	return f.SearchPatientFn(ctx, nationalID)
}

func (f *Fake) CreatePatient(ctx context.Context, req backend.PatientRequest) (*backend.Patient, error) {
	f.record("CreatePatient %s", req.NationalID)
	if f.CreatePatientFn == nil {
		return nil, f.notFound("create patient")
	}
	return f.CreatePatientFn(ctx, req)
}

func (f *Fake) ListPatientAppointments(ctx context.Context, p backend.Patient) ([]backend.Appointment, error) {
	f.record("ListPatientAppointments %d", p.ID)
	if f.ListPatientAppointmentsFn == nil {
		return nil, f.notFound("list appointments")
	}
	return f.ListPatientAppointmentsFn(ctx, p)
}

func (f *Fake) ListTreatments(ctx context.Context, p backend.Patient) ([]backend.Treatment, error) {
	f.record("ListTreatments %d", p.ID)
	if f.ListTreatmentsFn == nil {
		return nil, f.notFound("list treatments")
	}
	return f.ListTreatmentsFn(ctx, p)
}

// Status builds a classified status error as a real adapter would.
func Status(name, op string, status int, body string) error {
	return backend.NewStatusError(name, op, status, body)
}
