package healthatom

import (
	"net/url"
	"strconv"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
)

const (
	stateConfirmed      = 7
	stateCancelled      = 1
	defaultChair        = 1
	defaultComment      = "Cita agendada por Sistema"
	cancellationComment = "Cita cancelada por sistema"
	dateLayout          = "2006-01-02"
)

func (c *Client) isDentalink() bool {
	return c.profile.Dialect == backend.DialectDentalink
}

// slotRequest returns the query and body for horariosdisponibles. Dentalink
// reads a JSON body on GET; Medilink reads repeated query params.
func (c *Client) slotRequest(q backend.SlotQuery) (url.Values, any) {
	from := q.From.Format(dateLayout)
	to := q.To.Format(dateLayout)
	if c.isDentalink() {
		return nil, map[string]any{
			"ids_dentista": q.ProfessionalIDs,
			"id_sucursal":  q.BranchID,
			"fecha_inicio": from,
			"fecha_fin":    to,
		}
	}
	values := url.Values{}
	for _, id := range q.ProfessionalIDs {
		values.Add("ids_profesional[]", strconv.Itoa(id))
	}
	values.Set("id_sucursal", strconv.Itoa(q.BranchID))
	values.Set("fecha_inicio", from)
	values.Set("fecha_fin", to)
	return values, nil
}

func (c *Client) createAppointmentPayload(req backend.AppointmentRequest) map[string]any {
	comment := req.Comment
	if comment == "" {
		comment = defaultComment
	}
	payload := map[string]any{
		c.profile.IdentifierKind: req.ProfessionalID,
		"id_sucursal":            req.BranchID,
		"id_estado":              stateConfirmed,
		"id_sillon":              defaultChair,
		"id_paciente":            req.PatientID,
		"fecha":                  req.Date,
		"hora_inicio":            req.StartTime,
		"duracion":               req.DurationMinutes,
		"comentario":             comment,
	}
	if !c.isDentalink() {
		payload["videoconsulta"] = 0
	}
	return payload
}

func (c *Client) cancelPayload() map[string]any {
	if c.isDentalink() {
		return map[string]any{
			"id_estado":                stateCancelled,
			"comentarios":              cancellationComment,
			"flag_notificar_anulacion": 1,
		}
	}
	return map[string]any{
		"id_estado":  stateCancelled,
		"comentario": cancellationComment,
	}
}

// treatmentRels lists the patient link rels holding treatments, preferred first.
func (c *Client) treatmentRels() (string, string) {
	if c.isDentalink() {
		return "tratamientos", "atenciones"
	}
	return "atenciones", "tratamientos"
}
