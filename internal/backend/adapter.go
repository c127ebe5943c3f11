package backend

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Adapter hides one backend's dialect behind a common set of operations.
// Implementations classify failures with the sentinels in errors.go.
type Adapter interface {
	Profile() Profile

	// ListSlots returns the raw per-professional, per-date slot payload.
	ListSlots(ctx context.Context, q SlotQuery) (*SlotListing, error)
	GetProfessional(ctx context.Context, id int) (*Professional, error)
	GetBranch(ctx context.Context, id int) (*Branch, error)

	CreateAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error)
	// FindAppointment locates an existing appointment matching req. Used to
	// recover when a create is answered with "already exists".
	FindAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error)
	GetAppointment(ctx context.Context, id int) (*Appointment, error)
	CancelAppointment(ctx context.Context, id int) error

	SearchPatient(ctx context.Context, nationalID string) (*Patient, error)
	CreatePatient(ctx context.Context, req PatientRequest) (*Patient, error)
	ListPatientAppointments(ctx context.Context, p Patient) ([]Appointment, error)
	ListTreatments(ctx context.Context, p Patient) ([]Treatment, error)
}

// SlotQuery asks for free slots in an inclusive civil date range.
type SlotQuery struct {
	ProfessionalIDs []int
	BranchID        int
	From            time.Time
	To              time.Time
}

// SlotListing is a backend's slot payload before normalization: an object
// keyed by professional id, then by date, holding slot entries.
type SlotListing struct {
	Backend string
	Data    json.RawMessage
}

// Professional is a directory entry.
type Professional struct {
	ID              int
	FirstName       string
	LastName        string
	IntervalMinutes int
	Backend         string
}

// FullName joins first and last name.
func (p Professional) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Branch is a clinic location.
type Branch struct {
	ID   int
	Name string
}

// AppointmentRequest carries everything needed to book in any dialect.
type AppointmentRequest struct {
	PatientID       int
	ProfessionalID  int
	BranchID        int
	Date            string // 2006-01-02
	StartTime       string // 15:04
	DurationMinutes int
	Comment         string
}

// Appointment is a booked slot as stored by a backend.
type Appointment struct {
	ID              int
	PatientID       int
	ProfessionalID  int
	BranchID        int
	Date            string
	StartTime       string
	EndTime         string
	DurationMinutes int
	Comment         string
	Status          string
	Cancelled       bool
	Backend         string
}

// Link is a HATEOAS link attached to backend records.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Patient is a backend patient record.
type Patient struct {
	ID         int
	FirstName  string
	LastName   string
	NationalID string
	Phone      string
	Email      string
	Links      []Link
	Backend    string
}

// FullName joins first name and surnames.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Link returns the href for rel, or "".
func (p Patient) Link(rel string) string {
	for _, l := range p.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

// PatientRequest is the input for creating a patient.
type PatientRequest struct {
	FirstName  string
	LastName   string
	NationalID string
	Phone      string
	Email      string
	BirthDate  string
}

// Treatment is a treatment plan (Dentalink) or attention (Medilink).
type Treatment struct {
	ID               int
	Name             string
	Kind             string // Medilink tipo_atencion
	Date             string
	StartTime        string // first non-cancelled appointment start
	ProfessionalID   int
	ProfessionalName string
	BranchID         int
	BranchName       string
	Finished         bool
	Locked           bool
	Total            float64
	Paid             float64
	Debt             float64
	Appointments     []Appointment
	Backend          string
}
