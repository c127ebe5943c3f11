package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const crmTimeLayout = "2006-01-02T15:04:05-07:00"

// Step names used in logs and metrics.
const (
	StepResolveNames      = "resolve_names"
	StepUpdateContact     = "update_contact"
	StepResolveAssignee   = "resolve_assignee"
	StepCreateAppointment = "create_appointment"
)

// Directory finds the adapter that owns a booking.
type Directory interface {
	Adapter(name string) (backend.Adapter, bool)
}

// GHL is the CRM surface the processor drives. *Client implements it.
type GHL interface {
	UpdateContactCustomFields(ctx context.Context, contactID string, fields []CustomField) error
	GetCalendar(ctx context.Context, calendarID string) (*Calendar, error)
	CreateAppointment(ctx context.Context, in AppointmentInput) (*CreatedAppointment, error)
}

// Observer receives per-step outcomes.
type Observer interface {
	ObserveCRMStep(step, outcome string)
}

// ProcessorConfig holds the CRM account settings.
type ProcessorConfig struct {
	CalendarID string
	LocationID string
	// ProfessionalCalendars overrides CalendarID per professional.
	ProfessionalCalendars map[int]string
	Location              *time.Location
}

// Processor runs the CRM steps for one job.
type Processor struct {
	directory Directory
	ghl       GHL
	cfg       ProcessorConfig
	logger    *logging.Logger
	observer  Observer
}

// NewProcessor builds a Processor. observer may be nil.
func NewProcessor(directory Directory, ghl GHL, cfg ProcessorConfig, logger *logging.Logger, observer Observer) *Processor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{directory: directory, ghl: ghl, cfg: cfg, logger: logger, observer: observer}
}

// Process mirrors one booking into the CRM. Name lookups degrade to labels;
// a failing CRM call stops the remaining steps.
func (p *Processor) Process(ctx context.Context, job Job) error {
	logger := p.logger.With("job_id", job.ID, "contact_id", job.ContactID, "appointment_id", job.AppointmentID)

	professional, branch := p.resolveNames(ctx, job)

	fields := []CustomField{
		{Key: "doctor", FieldValue: professional},
		{Key: "clinica", FieldValue: branch},
	}
	if strings.TrimSpace(job.Comment) != "" {
		fields = append(fields, CustomField{Key: "comentario", FieldValue: job.Comment})
	}
	if err := p.ghl.UpdateContactCustomFields(ctx, job.ContactID, fields); err != nil {
		p.observe(StepUpdateContact, err)
		return fmt.Errorf("%s: %w", StepUpdateContact, err)
	}
	p.observe(StepUpdateContact, nil)

	calendarID := p.calendarFor(job.ProfessionalID)
	assignee, err := p.assignee(ctx, calendarID)
	p.observe(StepResolveAssignee, err)
	if err != nil {
		return fmt.Errorf("%s: %w", StepResolveAssignee, err)
	}

	start, end, err := p.window(job)
	if err != nil {
		p.observe(StepCreateAppointment, err)
		return fmt.Errorf("%s: %w", StepCreateAppointment, err)
	}
	created, err := p.ghl.CreateAppointment(ctx, AppointmentInput{
		Title:                    appointmentTitle,
		OverrideLocationConfig:   true,
		AppointmentStatus:        "new",
		IgnoreDateRange:          true,
		IgnoreFreeSlotValidation: true,
		CalendarID:               calendarID,
		LocationID:               p.cfg.LocationID,
		AssignedUserID:           assignee,
		ContactID:                job.ContactID,
		StartTime:                start,
		EndTime:                  end,
	})
	p.observe(StepCreateAppointment, err)
	if err != nil {
		return fmt.Errorf("%s: %w", StepCreateAppointment, err)
	}

	logger.Info("crm: appointment mirrored", "crm_appointment_id", created.ID, "calendar_id", calendarID)
	return nil
}

func (p *Processor) resolveNames(ctx context.Context, job Job) (string, string) {
	professional := fmt.Sprintf("Professional %d", job.ProfessionalID)
	branch := fmt.Sprintf("Branch %d", job.BranchID)

	adapter, ok := p.directory.Adapter(job.Backend)
	if !ok {
		p.logger.Warn("crm: unknown backend, using fallback names", "backend", job.Backend)
		p.observe(StepResolveNames, fmt.Errorf("unknown backend %q", job.Backend))
		return professional, branch
	}

	var failed error
	if prof, err := adapter.GetProfessional(ctx, job.ProfessionalID); err != nil {
		failed = err
		p.logger.Warn("crm: professional name unavailable", "professional_id", job.ProfessionalID, "error", err)
	} else if name := prof.FullName(); name != "" {
		professional = name
	}
	if br, err := adapter.GetBranch(ctx, job.BranchID); err != nil {
		failed = err
		p.logger.Warn("crm: branch name unavailable", "branch_id", job.BranchID, "error", err)
	} else if br.Name != "" {
		branch = br.Name
	}
	p.observe(StepResolveNames, failed)
	return professional, branch
}

func (p *Processor) calendarFor(professionalID int) string {
	if id, ok := p.cfg.ProfessionalCalendars[professionalID]; ok && id != "" {
		return id
	}
	return p.cfg.CalendarID
}

func (p *Processor) assignee(ctx context.Context, calendarID string) (string, error) {
	cal, err := p.ghl.GetCalendar(ctx, calendarID)
	if err != nil {
		return "", err
	}
	for _, m := range cal.TeamMembers {
		if m.UserID != "" {
			return m.UserID, nil
		}
	}
	return "", ErrNoAssignee
}

// window formats start and end in the clinic timezone with its UTC offset.
func (p *Processor) window(job Job) (string, string, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", job.Date+" "+clock(job.StartTime), p.cfg.Location)
	if err != nil {
		return "", "", fmt.Errorf("invalid appointment time %q %q: %w", job.Date, job.StartTime, err)
	}
	end := start.Add(time.Duration(job.DurationMinutes) * time.Minute)
	return start.Format(crmTimeLayout), end.Format(crmTimeLayout), nil
}

// clock trims "HH:MM:SS" to "HH:MM".
func clock(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

func (p *Processor) observe(step string, err error) {
	if p.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.observer.ObserveCRMStep(step, outcome)
}
