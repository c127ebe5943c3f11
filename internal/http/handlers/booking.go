package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-engine/internal/appointments"
	"github.com/wolfman30/clinic-booking-engine/internal/availability"
	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const (
	noDataMessage       = "No se proporcionaron datos"
	nationalIDRequired  = "RUT es requerido"
	scheduledTemplate   = "Cita agendada exitosamente en %s"
	createdAndScheduled = "Paciente creado/encontrado y cita agendada exitosamente"
	cancelledMessage    = "Cita cancelada exitosamente"
)

// AvailabilitySearcher runs the weekly window search. *availability.Searcher implements it.
type AvailabilitySearcher interface {
	Search(ctx context.Context, req availability.SearchRequest) (*availability.SearchResult, error)
}

// Lifecycle is the appointment and patient surface. *appointments.Manager implements it.
type Lifecycle interface {
	SearchPatient(ctx context.Context, nationalID string, branchID int) (*appointments.PatientOutcome, error)
	CreatePatient(ctx context.Context, req appointments.NewPatientRequest) (*appointments.PatientOutcome, error)
	Create(ctx context.Context, req appointments.CreateRequest) (*appointments.Booking, error)
	Cancel(ctx context.Context, req appointments.CancelRequest) (*appointments.CancellationOutcome, error)
	Treatments(ctx context.Context, nationalID string) (*appointments.TreatmentsOutcome, error)
	ScheduleWithNewPatient(ctx context.Context, req appointments.NewPatientBooking) (*appointments.PatientOutcome, *appointments.Booking, error)
}

// ServiceInfo is reported by /health and /config.
type ServiceInfo struct {
	Service             string
	DentalinkBranches   []int
	MedilinkConfigured  bool
	DentalinkConfigured bool
	GHLConfigured       bool
}

// BookingHandler exposes the booking operations over JSON.
type BookingHandler struct {
	searcher  AvailabilitySearcher
	lifecycle Lifecycle
	info      ServiceInfo
	logger    *logging.Logger
	now       func() time.Time
}

// NewBookingHandler wires the handler.
func NewBookingHandler(searcher AvailabilitySearcher, lifecycle Lifecycle, info ServiceInfo, logger *logging.Logger) *BookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if info.Service == "" {
		info.Service = "clinic-booking-engine"
	}
	return &BookingHandler{searcher: searcher, lifecycle: lifecycle, info: info, logger: logger, now: time.Now}
}

type availabilityEntry struct {
	ProfessionalID   int                 `json:"id_profesional"`
	ProfessionalName string              `json:"nombre_profesional"`
	Dates            map[string][]string `json:"fechas"`
}

type patientPayload struct {
	ID         int    `json:"id"`
	Name       string `json:"nombre"`
	Phone      string `json:"celular"`
	Email      string `json:"email"`
	NationalID string `json:"rut"`
}

type patientResult struct {
	ID      int    `json:"id"`
	Message string `json:"mensaje"`
	Backend string `json:"api_utilizada,omitempty"`
}

type appointmentResult struct {
	AppointmentID int    `json:"id_cita"`
	Message       string `json:"mensaje"`
	Backend       string `json:"api_utilizada"`
	Recovered     bool   `json:"recuperada,omitempty"`
}

type appointmentSummary struct {
	ID        int    `json:"id_cita"`
	Date      string `json:"fecha"`
	StartTime string `json:"hora_inicio"`
	EndTime   string `json:"hora_termino"`
	Status    string `json:"estado"`
	Cancelled int    `json:"estado_anulacion"`
}

type treatmentPayload struct {
	ID               int                  `json:"id"`
	Name             string               `json:"nombre"`
	Kind             string               `json:"tipo_atencion,omitempty"`
	Date             string               `json:"fecha"`
	StartTime        string               `json:"hora_inicio"`
	ProfessionalID   int                  `json:"id_profesional"`
	ProfessionalName string               `json:"nombre_profesional"`
	BranchID         int                  `json:"id_sucursal"`
	BranchName       string               `json:"nombre_sucursal"`
	Finished         bool                 `json:"finalizado"`
	Locked           bool                 `json:"bloqueado"`
	Total            float64              `json:"total"`
	Paid             float64              `json:"abonado"`
	Debt             float64              `json:"deuda"`
	Appointments     []appointmentSummary `json:"citas"`
}

// SearchAvailability handles POST /search_availability.
func (h *BookingHandler) SearchAvailability(w http.ResponseWriter, r *http.Request) {
	var req searchAvailabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := make([]int, 0, len(req.ProfessionalIDs))
	for _, id := range req.ProfessionalIDs {
		if id > 0 {
			ids = append(ids, id.Int())
		}
	}
	result, err := h.searcher.Search(r.Context(), availability.SearchRequest{
		ProfessionalIDs: ids,
		BranchID:        req.BranchID.Int(),
		StartDate:       strings.TrimSpace(req.StartDate),
		RequiredMinutes: req.RequiredMinutes.Int(),
	})
	if err != nil {
		h.fail(w, "search_availability", err, failure{summary: "No se pudo consultar la disponibilidad"})
		return
	}
	if !result.Found {
		writeJSON(w, http.StatusOK, map[string]any{
			"mensaje":        result.Message,
			"disponibilidad": []availabilityEntry{},
		})
		return
	}
	entries := make([]availabilityEntry, 0, len(result.Availability))
	for _, pa := range result.Availability {
		entries = append(entries, availabilityEntry{
			ProfessionalID:   pa.ProfessionalID,
			ProfessionalName: pa.ProfessionalName,
			Dates:            pa.Dates,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"disponibilidad": entries,
		"fecha_desde":    result.WindowFrom,
		"fecha_hasta":    result.WindowTo,
		"api_utilizada":  result.Backend,
	})
}

// SearchPatient handles POST /search_user.
func (h *BookingHandler) SearchPatient(w http.ResponseWriter, r *http.Request) {
	var req searchPatientRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.NationalID) == "" {
		writeError(w, http.StatusBadRequest, nationalIDRequired, nil)
		return
	}
	outcome, err := h.lifecycle.SearchPatient(r.Context(), req.NationalID, req.BranchID.Int())
	if err != nil {
		h.fail(w, "search_user", err, failure{
			summary:  "No se pudo buscar el paciente",
			notFound: fmt.Sprintf("Paciente con RUT %s no encontrado", appointments.NormalizeNationalID(req.NationalID)),
		})
		return
	}
	writeJSON(w, http.StatusOK, toPatientPayload(outcome.Patient))
}

// CreatePatient handles POST /create_user.
func (h *BookingHandler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.lifecycle.CreatePatient(r.Context(), req.toDomain())
	if err != nil {
		h.fail(w, "create_user", err, failure{summary: "No se pudo crear el paciente en ninguna API", notFoundStatus: http.StatusBadRequest})
		return
	}
	writeJSON(w, http.StatusOK, toPatientResult(outcome))
}

// ScheduleAppointment handles POST /schedule_appointment.
func (h *BookingHandler) ScheduleAppointment(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if fields := missing(
		"id_paciente", req.PatientID,
		"id_profesional", req.ProfessionalID,
		"id_sucursal", req.BranchID,
		"fecha", req.Date,
		"hora_inicio", req.StartTime,
		"user_id", req.ContactID,
	); len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "Faltan campos obligatorios: "+strings.Join(fields, ", "), nil)
		return
	}
	booking, err := h.lifecycle.Create(r.Context(), appointments.CreateRequest{
		PatientID:       req.PatientID.Int(),
		ProfessionalID:  req.ProfessionalID.Int(),
		BranchID:        req.BranchID.Int(),
		Date:            strings.TrimSpace(req.Date),
		StartTime:       strings.TrimSpace(req.StartTime),
		DurationMinutes: req.DurationMinutes.Int(),
		Comment:         req.Comment,
		ContactID:       strings.TrimSpace(req.ContactID),
	})
	if err != nil {
		h.fail(w, "schedule_appointment", err, failure{summary: "No se pudo agendar la cita en ninguna API", notFoundStatus: http.StatusBadRequest})
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResult(booking))
}

// CancelAppointment handles POST /cancel_appointment.
func (h *BookingHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	outcome, err := h.lifecycle.Cancel(r.Context(), appointments.CancelRequest{
		AppointmentID: req.AppointmentID.Int(),
		NationalID:    req.NationalID,
	})
	if err != nil {
		summary := "No se pudo cancelar la cita"
		if req.AppointmentID > 0 {
			summary = fmt.Sprintf("No se pudo cancelar la cita %d en ninguna API", req.AppointmentID.Int())
		}
		h.fail(w, "cancel_appointment", err, failure{summary: summary, notFound: summary, notFoundStatus: http.StatusBadRequest})
		return
	}
	if !outcome.Cancelled {
		writeJSON(w, http.StatusOK, map[string]any{"mensaje": outcome.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mensaje":       cancelledMessage,
		"id_cita":       outcome.AppointmentID,
		"fecha":         outcome.Date,
		"hora_inicio":   outcome.StartTime,
		"api_utilizada": outcome.Backend,
	})
}

// PatientTreatments handles POST /get_patient_treatments.
func (h *BookingHandler) PatientTreatments(w http.ResponseWriter, r *http.Request) {
	var req treatmentsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.NationalID) == "" {
		writeError(w, http.StatusBadRequest, nationalIDRequired, nil)
		return
	}
	outcome, err := h.lifecycle.Treatments(r.Context(), req.NationalID)
	if err != nil {
		h.fail(w, "get_patient_treatments", err, failure{
			summary:  "No se pudieron obtener los tratamientos",
			notFound: fmt.Sprintf("Paciente con RUT %s no encontrado o sin tratamientos", appointments.NormalizeNationalID(req.NationalID)),
		})
		return
	}
	treatments := make([]treatmentPayload, 0, len(outcome.Treatments))
	for _, t := range outcome.Treatments {
		treatments = append(treatments, toTreatmentPayload(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paciente":           toPatientPayload(outcome.Patient),
		"tratamientos":       treatments,
		"total_tratamientos": len(treatments),
		"api_utilizada":      outcome.Backend,
	})
}

// CreatePatientAndSchedule handles POST /create_user_and_schedule.
func (h *BookingHandler) CreatePatientAndSchedule(w http.ResponseWriter, r *http.Request) {
	var req createAndScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if fields := missing(
		"nombre", req.FirstName,
		"apellidos", req.LastName,
		"rut", req.NationalID,
		"id_profesional", req.ProfessionalID,
		"id_sucursal", req.BranchID,
		"fecha", req.Date,
		"hora_inicio", req.StartTime,
		"user_id", req.ContactID,
	); len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "Faltan campos obligatorios: "+strings.Join(fields, ", "), nil)
		return
	}
	patient, booking, err := h.lifecycle.ScheduleWithNewPatient(r.Context(), appointments.NewPatientBooking{
		Patient:         req.createPatientRequest.toDomain(),
		ProfessionalID:  req.ProfessionalID.Int(),
		BranchID:        req.BranchID.Int(),
		Date:            strings.TrimSpace(req.Date),
		StartTime:       strings.TrimSpace(req.StartTime),
		DurationMinutes: req.DurationMinutes.Int(),
		Comment:         req.Comment,
		ContactID:       strings.TrimSpace(req.ContactID),
	})
	if err != nil {
		summary := "No se pudo agendar la cita en ninguna API"
		if patient == nil {
			summary = "No se pudo crear el paciente en ninguna API"
		}
		h.fail(w, "create_user_and_schedule", err, failure{summary: summary, notFoundStatus: http.StatusBadRequest})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mensaje":  createdAndScheduled,
		"paciente": toPatientResult(patient),
		"cita":     toAppointmentResult(booking),
	})
}

// Health handles GET /health.
func (h *BookingHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   h.info.Service,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Config handles GET /config.
func (h *BookingHandler) Config(w http.ResponseWriter, r *http.Request) {
	branches := h.info.DentalinkBranches
	if branches == nil {
		branches = []int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sucursales_dentalink": branches,
		"medilink_configured":  h.info.MedilinkConfigured,
		"dentalink_configured": h.info.DentalinkConfigured,
		"ghl_configured":       h.info.GHLConfigured,
	})
}

// decode reads a JSON object body; an empty or non-object body is answered with 400.
func (h *BookingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, noDataMessage, nil)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.logger.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, noDataMessage, nil)
		return false
	}
	return true
}

type failure struct {
	summary  string
	notFound string
	// notFoundStatus defaults to 404.
	notFoundStatus int
}

// fail maps engine errors onto the HTTP contract: validation, configuration
// and exhausted writes are 400, records missing everywhere are 404 unless the
// operation says otherwise.
func (h *BookingHandler) fail(w http.ResponseWriter, op string, err error, f failure) {
	var exhausted *backend.ExhaustedError
	switch {
	case errors.Is(err, backend.ErrValidation),
		errors.Is(err, backend.ErrConfiguration),
		errors.Is(err, backend.ErrMissingDuration):
		h.logger.Info("request rejected", "op", op, "error", err)
		writeError(w, http.StatusBadRequest, err.Error(), nil)

	case errors.As(err, &exhausted) && !exhausted.AllAbsent():
		h.logger.Warn("operation failed on every backend", "op", op, "error", err)
		writeError(w, http.StatusBadRequest, f.summary, exhausted.Details())

	case errors.Is(err, backend.ErrNotFound):
		status := f.notFoundStatus
		if status == 0 {
			status = http.StatusNotFound
		}
		msg := f.notFound
		if msg == "" {
			msg = f.summary
		}
		var details []string
		if errors.As(err, &exhausted) {
			details = exhausted.Details()
		}
		writeError(w, status, msg, details)

	default:
		h.logger.Error("operation failed", "op", op, "error", err)
		writeError(w, http.StatusBadRequest, f.summary, []string{err.Error()})
	}
}

func (r createPatientRequest) toDomain() appointments.NewPatientRequest {
	return appointments.NewPatientRequest{
		FirstName:  strings.TrimSpace(r.FirstName),
		LastName:   strings.TrimSpace(r.LastName),
		NationalID: r.NationalID,
		Phone:      strings.TrimSpace(r.Phone),
		Email:      strings.TrimSpace(r.Email),
		BirthDate:  strings.TrimSpace(r.BirthDate),
		BranchID:   r.BranchID.Int(),
	}
}

func toPatientPayload(p backend.Patient) patientPayload {
	return patientPayload{
		ID:         p.ID,
		Name:       p.FullName(),
		Phone:      p.Phone,
		Email:      p.Email,
		NationalID: p.NationalID,
	}
}

func toPatientResult(o *appointments.PatientOutcome) patientResult {
	msg := o.Message
	if !o.Existing && o.Backend != "" {
		msg = fmt.Sprintf("%s en %s", o.Message, o.Backend)
	}
	res := patientResult{ID: o.Patient.ID, Message: msg}
	if !o.Existing {
		res.Backend = o.Backend
	}
	return res
}

func toAppointmentResult(b *appointments.Booking) appointmentResult {
	return appointmentResult{
		AppointmentID: b.Appointment.ID,
		Message:       fmt.Sprintf(scheduledTemplate, b.Backend),
		Backend:       b.Backend,
		Recovered:     b.Recovered,
	}
}

func toTreatmentPayload(t backend.Treatment) treatmentPayload {
	citas := make([]appointmentSummary, 0, len(t.Appointments))
	for _, a := range t.Appointments {
		cancelled := 0
		if a.Cancelled {
			cancelled = 1
		}
		citas = append(citas, appointmentSummary{
			ID:        a.ID,
			Date:      a.Date,
			StartTime: a.StartTime,
			EndTime:   a.EndTime,
			Status:    a.Status,
			Cancelled: cancelled,
		})
	}
	return treatmentPayload{
		ID:               t.ID,
		Name:             t.Name,
		Kind:             t.Kind,
		Date:             t.Date,
		StartTime:        t.StartTime,
		ProfessionalID:   t.ProfessionalID,
		ProfessionalName: t.ProfessionalName,
		BranchID:         t.BranchID,
		BranchName:       t.BranchName,
		Finished:         t.Finished,
		Locked:           t.Locked,
		Total:            t.Total,
		Paid:             t.Paid,
		Debt:             t.Debt,
		Appointments:     citas,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string, details []string) {
	body := map[string]any{"error": message}
	if len(details) > 0 {
		body["detalles"] = details
	}
	writeJSON(w, status, body)
}
