package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexibleID accepts a JSON number or a numeric string. Anything else decodes to 0.
type FlexibleID int

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			*id = 0
			return nil
		}
		*id = FlexibleID(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*id = 0
		return nil
	}
	*id = FlexibleID(int(f))
	return nil
}

// Int returns the id as an int.
func (id FlexibleID) Int() int { return int(id) }

type searchAvailabilityRequest struct {
	ProfessionalIDs []FlexibleID `json:"ids_profesionales"`
	BranchID        FlexibleID   `json:"id_sucursal"`
	StartDate       string       `json:"fecha_inicio"`
	RequiredMinutes FlexibleID   `json:"tiempo_cita"`
}

type searchPatientRequest struct {
	NationalID string     `json:"rut"`
	BranchID   FlexibleID `json:"id_sucursal"`
}

type createPatientRequest struct {
	FirstName  string     `json:"nombre"`
	LastName   string     `json:"apellidos"`
	NationalID string     `json:"rut"`
	Phone      string     `json:"telefono"`
	Email      string     `json:"email"`
	BirthDate  string     `json:"fecha_nacimiento"`
	BranchID   FlexibleID `json:"id_sucursal"`
}

type scheduleRequest struct {
	PatientID       FlexibleID `json:"id_paciente"`
	ProfessionalID  FlexibleID `json:"id_profesional"`
	BranchID        FlexibleID `json:"id_sucursal"`
	Date            string     `json:"fecha"`
	StartTime       string     `json:"hora_inicio"`
	DurationMinutes FlexibleID `json:"tiempo_cita"`
	Comment         string     `json:"comentario"`
	ContactID       string     `json:"user_id"`
}

type cancelRequest struct {
	NationalID    string     `json:"rut"`
	AppointmentID FlexibleID `json:"id_cita"`
}

type treatmentsRequest struct {
	NationalID string `json:"rut"`
}

type createAndScheduleRequest struct {
	createPatientRequest
	ProfessionalID  FlexibleID `json:"id_profesional"`
	Date            string     `json:"fecha"`
	StartTime       string     `json:"hora_inicio"`
	DurationMinutes FlexibleID `json:"tiempo_cita"`
	Comment         string     `json:"comentario"`
	ContactID       string     `json:"user_id"`
}

// missing lists the names whose value is blank or a zero id, in order.
func missing(fields ...any) []string {
	var out []string
	for i := 0; i+1 < len(fields); i += 2 {
		name, _ := fields[i].(string)
		switch v := fields[i+1].(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				out = append(out, name)
			}
		case FlexibleID:
			if v <= 0 {
				out = append(out, name)
			}
		}
	}
	return out
}
