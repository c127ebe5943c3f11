package healthatom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
)

// ListSlots fetches horariosdisponibles. The endpoint is tried with and
// without a trailing slash because deployments differ.
func (c *Client) ListSlots(ctx context.Context, q backend.SlotQuery) (*backend.SlotListing, error) {
	if len(q.ProfessionalIDs) == 0 {
		return nil, backend.Validationf("at least one professional id is required")
	}
	query, body := c.slotRequest(q)

	var lastErr error
	for _, path := range []string{"horariosdisponibles/", "horariosdisponibles"} {
		var raw json.RawMessage
		err := c.do(ctx, call{
			op:     "list slots",
			method: http.MethodGet,
			path:   path,
			query:  query,
			body:   body,
			accept: []int{http.StatusOK},
		}, &raw)
		if err == nil {
			return &backend.SlotListing{Backend: c.name(), Data: raw}, nil
		}
		lastErr = err
		if !errors.Is(err, backend.ErrNotFound) {
			break
		}
	}
	return nil, lastErr
}

// GetProfessional looks a professional up in the dialect's directory.
func (c *Client) GetProfessional(ctx context.Context, id int) (*backend.Professional, error) {
	if c.isDentalink() {
		var list []professionalRecord
		if err := c.do(ctx, call{op: "list dentists", method: http.MethodGet, path: "dentistas", accept: []int{http.StatusOK}}, &list); err != nil {
			return nil, err
		}
		for _, rec := range list {
			if int(rec.ID) == id {
				p := rec.toProfessional(c.name())
				return &p, nil
			}
		}
		return nil, fmt.Errorf("%s: professional %d: %w", c.name(), id, backend.ErrNotFound)
	}

	var rec professionalRecord
	if err := c.do(ctx, call{op: "get professional", method: http.MethodGet, path: "profesionales/" + strconv.Itoa(id), accept: []int{http.StatusOK}}, &rec); err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		rec.ID = flexInt(id)
	}
	p := rec.toProfessional(c.name())
	return &p, nil
}

// GetBranch fetches a sucursal.
func (c *Client) GetBranch(ctx context.Context, id int) (*backend.Branch, error) {
	var rec struct {
		ID     flexInt `json:"id"`
		Nombre string  `json:"nombre"`
	}
	if err := c.do(ctx, call{op: "get branch", method: http.MethodGet, path: "sucursales/" + strconv.Itoa(id), accept: []int{http.StatusOK}}, &rec); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.Nombre) == "" {
		return nil, fmt.Errorf("%s: branch %d has no name: %w", c.name(), id, backend.ErrNotFound)
	}
	return &backend.Branch{ID: id, Name: rec.Nombre}, nil
}

// CreateAppointment posts a cita in this backend's dialect.
func (c *Client) CreateAppointment(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
	var rec appointmentRecord
	if err := c.do(ctx, call{
		op:     "create appointment",
		method: http.MethodPost,
		path:   "citas/",
		body:   c.createAppointmentPayload(req),
		accept: []int{http.StatusCreated, http.StatusOK},
	}, &rec); err != nil {
		return nil, err
	}
	appt := rec.toAppointment(c.name())
	fillFromRequest(&appt, req)
	if appt.ID == 0 {
		return nil, fmt.Errorf("%s create appointment: %w: response without id", c.name(), backend.ErrTransient)
	}
	return &appt, nil
}

// FindAppointment searches the patient's citas for one matching req.
func (c *Client) FindAppointment(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
	var list []appointmentRecord
	q := url.Values{}
	q.Set("q", eqFilter("id_paciente", req.PatientID, "fecha", req.Date))
	if err := c.do(ctx, call{op: "find appointment", method: http.MethodGet, path: "citas", query: q, accept: []int{http.StatusOK}}, &list); err != nil {
		return nil, err
	}
	for _, rec := range list {
		appt := rec.toAppointment(c.name())
		if appt.Cancelled || appt.Date != req.Date {
			continue
		}
		if !strings.HasPrefix(appt.StartTime, req.StartTime) {
			continue
		}
		if appt.ProfessionalID != 0 && appt.ProfessionalID != req.ProfessionalID {
			continue
		}
		fillFromRequest(&appt, req)
		return &appt, nil
	}
	return nil, fmt.Errorf("%s: no appointment for patient %d at %s %s: %w",
		c.name(), req.PatientID, req.Date, req.StartTime, backend.ErrNotFound)
}

func fillFromRequest(appt *backend.Appointment, req backend.AppointmentRequest) {
	if appt.PatientID == 0 {
		appt.PatientID = req.PatientID
	}
	if appt.ProfessionalID == 0 {
		appt.ProfessionalID = req.ProfessionalID
	}
	if appt.BranchID == 0 {
		appt.BranchID = req.BranchID
	}
	if appt.Date == "" {
		appt.Date = req.Date
	}
	if appt.StartTime == "" {
		appt.StartTime = req.StartTime
	}
	if appt.DurationMinutes == 0 {
		appt.DurationMinutes = req.DurationMinutes
	}
	if appt.Comment == "" {
		appt.Comment = req.Comment
	}
}

// GetAppointment reads citas/{id}.
func (c *Client) GetAppointment(ctx context.Context, id int) (*backend.Appointment, error) {
	var rec appointmentRecord
	if err := c.do(ctx, call{op: "get appointment", method: http.MethodGet, path: "citas/" + strconv.Itoa(id), accept: []int{http.StatusOK}}, &rec); err != nil {
		return nil, err
	}
	appt := rec.toAppointment(c.name())
	if appt.ID == 0 {
		appt.ID = id
	}
	return &appt, nil
}

// CancelAppointment moves citas/{id} to the cancelled state.
func (c *Client) CancelAppointment(ctx context.Context, id int) error {
	return c.do(ctx, call{
		op:     "cancel appointment",
		method: http.MethodPut,
		path:   "citas/" + strconv.Itoa(id),
		body:   c.cancelPayload(),
		accept: []int{http.StatusOK},
	}, nil)
}

// SearchPatient finds a patient by national id (RUT).
func (c *Client) SearchPatient(ctx context.Context, nationalID string) (*backend.Patient, error) {
	var list []patientRecord
	q := url.Values{}
	q.Set("q", eqFilter("rut", nationalID))
	if err := c.do(ctx, call{op: "search patient", method: http.MethodGet, path: "pacientes", query: q, accept: []int{http.StatusOK}}, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s: patient %s: %w", c.name(), nationalID, backend.ErrNotFound)
	}
	p := list[0].toPatient(c.name())
	return &p, nil
}

// CreatePatient posts a paciente. A 400 mentioning "existe" surfaces as ErrDuplicate.
func (c *Client) CreatePatient(ctx context.Context, req backend.PatientRequest) (*backend.Patient, error) {
	payload := map[string]any{
		"nombre":    req.FirstName,
		"apellidos": req.LastName,
		"rut":       req.NationalID,
		"celular":   req.Phone,
		"email":     req.Email,
	}
	if req.BirthDate != "" {
		payload["fecha_nacimiento"] = req.BirthDate
	}
	var rec patientRecord
	if err := c.do(ctx, call{op: "create patient", method: http.MethodPost, path: "pacientes/", body: payload, accept: []int{http.StatusCreated}}, &rec); err != nil {
		return nil, err
	}
	p := rec.toPatient(c.name())
	if p.NationalID == "" {
		p.NationalID = req.NationalID
	}
	if p.FirstName == "" {
		p.FirstName, p.LastName = req.FirstName, req.LastName
	}
	return &p, nil
}

// ListPatientAppointments follows the patient's "citas" link.
func (c *Client) ListPatientAppointments(ctx context.Context, p backend.Patient) ([]backend.Appointment, error) {
	href := p.Link("citas")
	if href == "" {
		href = fmt.Sprintf("pacientes/%d/citas", p.ID)
	}
	return c.listAppointments(ctx, href)
}

func (c *Client) listAppointments(ctx context.Context, href string) ([]backend.Appointment, error) {
	var list []appointmentRecord
	if err := c.do(ctx, call{op: "list appointments", method: http.MethodGet, path: href, accept: []int{http.StatusOK}}, &list); err != nil {
		return nil, err
	}
	out := make([]backend.Appointment, 0, len(list))
	for _, rec := range list {
		out = append(out, rec.toAppointment(c.name()))
	}
	return out, nil
}

// ListTreatments follows the dialect's treatment rel, falling back to the
// other rel and then to a constructed URL. Each treatment is enriched with
// its appointments; a failing appointment lookup leaves it without them.
func (c *Client) ListTreatments(ctx context.Context, p backend.Patient) ([]backend.Treatment, error) {
	preferred, alternate := c.treatmentRels()
	href := p.Link(preferred)
	if href == "" {
		href = p.Link(alternate)
	}
	if href == "" {
		href = fmt.Sprintf("pacientes/%d/%s", p.ID, preferred)
	}

	var list []treatmentRecord
	if err := c.do(ctx, call{op: "list treatments", method: http.MethodGet, path: href, accept: []int{http.StatusOK}}, &list); err != nil {
		return nil, err
	}

	out := make([]backend.Treatment, 0, len(list))
	for _, rec := range list {
		t := rec.toTreatment(c.name())
		if citas := linkFor(rec.Links, "citas"); citas != "" {
			appts, err := c.listAppointments(ctx, citas)
			if err != nil {
				c.logger.Warn("healthatom: treatment appointments unavailable",
					"backend", c.name(), "treatment_id", t.ID, "error", err)
			} else {
				t.Appointments = appts
				for _, a := range appts {
					if !a.Cancelled {
						t.StartTime = a.StartTime
						break
					}
				}
			}
		}
		out = append(out, t)
	}
	return out, nil
}
