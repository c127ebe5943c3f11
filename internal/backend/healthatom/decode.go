package healthatom

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
)

// flexInt accepts 12, "12", null and "".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Amounts sometimes arrive formatted ("1.200"); they are informational only.
		*f = 0
		return nil
	}
	*f = flexFloat(n)
	return nil
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "si", "sí":
		*f = true
	default:
		*f = false
	}
	return nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type professionalRecord struct {
	ID        flexInt `json:"id"`
	Nombre    string  `json:"nombre"`
	Apellidos string  `json:"apellidos"`
	Apellido  string  `json:"apellido"`
	Intervalo flexInt `json:"intervalo"`
}

func (r professionalRecord) toProfessional(backendName string) backend.Professional {
	last := r.Apellidos
	if last == "" {
		last = r.Apellido
	}
	first := r.Nombre
	if first == "" {
		first = "Desconocido"
	}
	return backend.Professional{
		ID:              int(r.ID),
		FirstName:       first,
		LastName:        last,
		IntervalMinutes: int(r.Intervalo),
		Backend:         backendName,
	}
}

type appointmentRecord struct {
	ID             flexInt `json:"id"`
	IDPaciente     flexInt `json:"id_paciente"`
	IDDentista     flexInt `json:"id_dentista"`
	IDProfesional  flexInt `json:"id_profesional"`
	IDSucursal     flexInt `json:"id_sucursal"`
	Fecha          string  `json:"fecha"`
	HoraInicio     string  `json:"hora_inicio"`
	HoraTermino    string  `json:"hora_termino"`
	Duracion       flexInt `json:"duracion"`
	Comentario     string  `json:"comentario"`
	Comentarios    string  `json:"comentarios"`
	Estado         string  `json:"estado"`
	EstadoCita     string  `json:"estado_cita"`
	EstadoAnulacio flexInt `json:"estado_anulacion"`
}

func (r appointmentRecord) toAppointment(backendName string) backend.Appointment {
	prof := int(r.IDProfesional)
	if prof == 0 {
		prof = int(r.IDDentista)
	}
	comment := r.Comentario
	if comment == "" {
		comment = r.Comentarios
	}
	status := r.Estado
	if status == "" {
		status = r.EstadoCita
	}
	return backend.Appointment{
		ID:              int(r.ID),
		PatientID:       int(r.IDPaciente),
		ProfessionalID:  prof,
		BranchID:        int(r.IDSucursal),
		Date:            r.Fecha,
		StartTime:       r.HoraInicio,
		EndTime:         r.HoraTermino,
		DurationMinutes: int(r.Duracion),
		Comment:         comment,
		Status:          status,
		Cancelled:       r.EstadoAnulacio != 0,
		Backend:         backendName,
	}
}

type patientRecord struct {
	ID        flexInt        `json:"id"`
	Nombre    string         `json:"nombre"`
	Apellidos string         `json:"apellidos"`
	Rut       string         `json:"rut"`
	Celular   string         `json:"celular"`
	Email     string         `json:"email"`
	Links     []backend.Link `json:"links"`
}

func (r patientRecord) toPatient(backendName string) backend.Patient {
	return backend.Patient{
		ID:         int(r.ID),
		FirstName:  r.Nombre,
		LastName:   r.Apellidos,
		NationalID: r.Rut,
		Phone:      r.Celular,
		Email:      r.Email,
		Links:      r.Links,
		Backend:    backendName,
	}
}

type treatmentRecord struct {
	ID                flexInt        `json:"id"`
	Nombre            string         `json:"nombre"`
	TipoAtencion      string         `json:"tipo_atencion"`
	Fecha             string         `json:"fecha"`
	IDDentista        flexInt        `json:"id_dentista"`
	NombreDentista    string         `json:"nombre_dentista"`
	IDProfesional     flexInt        `json:"id_profesional"`
	NombreProfesional string         `json:"nombre_profesional"`
	IDSucursal        flexInt        `json:"id_sucursal"`
	NombreSucursal    string         `json:"nombre_sucursal"`
	Finalizado        flexBool       `json:"finalizado"`
	Bloqueado         flexBool       `json:"bloqueado"`
	Total             flexFloat      `json:"total"`
	Abonado           flexFloat      `json:"abonado"`
	Deuda             flexFloat      `json:"deuda"`
	Links             []backend.Link `json:"links"`
}

func (r treatmentRecord) toTreatment(backendName string) backend.Treatment {
	profID, profName := int(r.IDProfesional), r.NombreProfesional
	if profID == 0 {
		profID, profName = int(r.IDDentista), r.NombreDentista
	}
	return backend.Treatment{
		ID:               int(r.ID),
		Name:             r.Nombre,
		Kind:             r.TipoAtencion,
		Date:             r.Fecha,
		ProfessionalID:   profID,
		ProfessionalName: profName,
		BranchID:         int(r.IDSucursal),
		BranchName:       r.NombreSucursal,
		Finished:         bool(r.Finalizado),
		Locked:           bool(r.Bloqueado),
		Total:            float64(r.Total),
		Paid:             float64(r.Abonado),
		Debt:             float64(r.Deuda),
		Backend:          backendName,
	}
}

func linkFor(links []backend.Link, rel string) string {
	for _, l := range links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}
