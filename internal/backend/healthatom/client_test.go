package healthatom

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
)

func newTestClient(t *testing.T, dialect backend.Dialect, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	profile := backend.MedilinkProfile(srv.URL+"/api/v5/", "secret")
	if dialect == backend.DialectDentalink {
		profile = backend.DentalinkProfile(srv.URL+"/api/v1/", "secret")
	}
	c, err := New(Config{Profile: profile, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		profile backend.Profile
		wantErr bool
	}{
		{"valid dentalink", backend.DentalinkProfile("https://api.dentalink.healthatom.com/api/v1/", "t"), false},
		{"valid medilink", backend.MedilinkProfile("https://api.medilink2.healthatom.com/api/v5/", "t"), false},
		{"missing base URL", backend.Profile{Dialect: backend.DialectMedilink}, true},
		{"unknown dialect", backend.Profile{BaseURL: "https://x", Dialect: "fhir"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{Profile: tt.profile})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestListSlotsDentalinkSendsJSONBody(t *testing.T) {
	c := newTestClient(t, backend.DialectDentalink, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/horariosdisponibles/", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, []any{float64(12), float64(13)}, got["ids_dentista"])
		assert.Equal(t, float64(2), got["id_sucursal"])
		assert.Equal(t, "2025-03-03", got["fecha_inicio"])
		assert.Equal(t, "2025-03-09", got["fecha_fin"])

		writeData(w, http.StatusOK, map[string]any{
			"12": map[string]any{"2025-03-04": []any{map[string]any{"hora_inicio": "09:00:00", "intervalo": 30}}},
		})
	})

	from := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	listing, err := c.ListSlots(context.Background(), backend.SlotQuery{
		ProfessionalIDs: []int{12, 13}, BranchID: 2, From: from, To: from.AddDate(0, 0, 6),
	})
	require.NoError(t, err)
	assert.Equal(t, "dentalink", listing.Backend)
	assert.Contains(t, string(listing.Data), `"hora_inicio":"09:00:00"`)
}

func TestListSlotsMedilinkUsesQueryAndFallsBackWithoutSlash(t *testing.T) {
	var paths []string
	c := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/v5/horariosdisponibles/" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, []string{"7", "8"}, r.URL.Query()["ids_profesional[]"])
		assert.Equal(t, "10", r.URL.Query().Get("id_sucursal"))
		writeData(w, http.StatusOK, map[string]any{})
	})

	from := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	_, err := c.ListSlots(context.Background(), backend.SlotQuery{
		ProfessionalIDs: []int{7, 8}, BranchID: 10, From: from, To: from.AddDate(0, 0, 6),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/v5/horariosdisponibles/", "/api/v5/horariosdisponibles"}, paths)
}

func TestListSlotsNotFoundEverywhere(t *testing.T) {
	c := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.ListSlots(context.Background(), backend.SlotQuery{ProfessionalIDs: []int{1}, BranchID: 1})
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestGetProfessionalDentalinkFiltersDirectory(t *testing.T) {
	c := newTestClient(t, backend.DialectDentalink, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dentistas", r.URL.Path)
		writeData(w, http.StatusOK, []any{
			map[string]any{"id": 1, "nombre": "Ana", "apellidos": "Rojas", "intervalo": 20},
			map[string]any{"id": 2, "nombre": "Luis", "apellido": "Soto", "intervalo": "30"},
		})
	})

	p, err := c.GetProfessional(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Luis Soto", p.FullName())
	assert.Equal(t, 30, p.IntervalMinutes)

	_, err = c.GetProfessional(context.Background(), 99)
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestGetProfessionalMedilink(t *testing.T) {
	c := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/profesionales/5", r.URL.Path)
		writeData(w, http.StatusOK, map[string]any{"nombre": "Carla", "apellidos": "Díaz", "intervalo": 45})
	})
	p, err := c.GetProfessional(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, p.ID)
	assert.Equal(t, "Carla Díaz", p.FullName())
	assert.Equal(t, 45, p.IntervalMinutes)
}

func TestCreateAppointmentPayloadPerDialect(t *testing.T) {
	tests := []struct {
		dialect   backend.Dialect
		idField   string
		videoCall bool
	}{
		{backend.DialectDentalink, "id_dentista", false},
		{backend.DialectMedilink, "id_profesional", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			c := newTestClient(t, tt.dialect, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				var got map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				assert.Equal(t, float64(12), got[tt.idField])
				assert.Equal(t, float64(7), got["id_estado"])
				assert.Equal(t, float64(1), got["id_sillon"])
				assert.Equal(t, float64(60), got["duracion"])
				assert.Equal(t, "Cita agendada por Sistema", got["comentario"])
				_, hasVideo := got["videoconsulta"]
				assert.Equal(t, tt.videoCall, hasVideo)
				writeData(w, http.StatusCreated, map[string]any{"id": 900})
			})

			appt, err := c.CreateAppointment(context.Background(), backend.AppointmentRequest{
				PatientID: 3, ProfessionalID: 12, BranchID: 2, Date: "2025-03-04", StartTime: "09:00", DurationMinutes: 60,
			})
			require.NoError(t, err)
			assert.Equal(t, 900, appt.ID)
			assert.Equal(t, "2025-03-04", appt.Date)
			assert.Equal(t, string(tt.dialect), appt.Backend)
		})
	}
}

func TestCreateAppointmentClassifiesBadRequest(t *testing.T) {
	c := newTestClient(t, backend.DialectDentalink, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"El dentista no pertenece a la sucursal"}}`))
	})
	_, err := c.CreateAppointment(context.Background(), backend.AppointmentRequest{ProfessionalID: 1})
	assert.True(t, errors.Is(err, backend.ErrBackendIncompatible))

	var status *backend.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusBadRequest, status.StatusCode)
}

func TestCancelAppointmentPayloadPerDialect(t *testing.T) {
	c := newTestClient(t, backend.DialectDentalink, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/citas/55", r.URL.Path)
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, float64(1), got["id_estado"])
		assert.Equal(t, "Cita cancelada por sistema", got["comentarios"])
		assert.Equal(t, float64(1), got["flag_notificar_anulacion"])
		writeData(w, http.StatusOK, map[string]any{"id": 55})
	})
	require.NoError(t, c.CancelAppointment(context.Background(), 55))

	m := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Cita cancelada por sistema", got["comentario"])
		_, hasFlag := got["flag_notificar_anulacion"]
		assert.False(t, hasFlag)
		writeData(w, http.StatusOK, nil)
	})
	require.NoError(t, m.CancelAppointment(context.Background(), 55))
}

func TestGetAppointment(t *testing.T) {
	c := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{
			"id": 55, "fecha": "2025-03-04", "hora_inicio": "10:00:00", "id_profesional": 7, "estado_anulacion": 0,
		})
	})
	appt, err := c.GetAppointment(context.Background(), 55)
	require.NoError(t, err)
	assert.Equal(t, "10:00:00", appt.StartTime)
	assert.Equal(t, 7, appt.ProfessionalID)
	assert.False(t, appt.Cancelled)
}

func TestSearchPatientUsesRutFilter(t *testing.T) {
	c := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/pacientes", r.URL.Path)
		assert.JSONEq(t, `{"rut":{"eq":"12345678-K"}}`, r.URL.Query().Get("q"))
		writeData(w, http.StatusOK, []any{map[string]any{
			"id": 31, "nombre": "Pía", "apellidos": "Muñoz", "rut": "12345678-K",
			"links": []any{map[string]any{"rel": "citas", "href": "https://x/api/v5/pacientes/31/citas"}},
		}})
	})
	p, err := c.SearchPatient(context.Background(), "12345678-K")
	require.NoError(t, err)
	assert.Equal(t, 31, p.ID)
	assert.Equal(t, "Pía Muñoz", p.FullName())
	assert.Equal(t, "https://x/api/v5/pacientes/31/citas", p.Link("citas"))
}

func TestSearchPatientEmpty(t *testing.T) {
	c := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, []any{})
	})
	_, err := c.SearchPatient(context.Background(), "1-9")
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestCreatePatientDuplicate(t *testing.T) {
	c := newTestClient(t, backend.DialectMedilink, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"El RUT ya existe"}`))
	})
	_, err := c.CreatePatient(context.Background(), backend.PatientRequest{FirstName: "A", LastName: "B", NationalID: "1-9"})
	assert.True(t, errors.Is(err, backend.ErrDuplicate))
}

func TestListTreatmentsFollowsLinks(t *testing.T) {
	var srvURL string
	c := newTestClient(t, backend.DialectDentalink, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/pacientes/31/tratamientos":
			writeData(w, http.StatusOK, []any{map[string]any{
				"id": 4, "nombre": "Ortodoncia", "id_dentista": 12, "nombre_dentista": "Ana Rojas",
				"finalizado": 0, "total": "150000", "deuda": 20000,
				"links": []any{map[string]any{"rel": "citas", "href": srvURL + "/api/v1/tratamientos/4/citas"}},
			}})
		case "/api/v1/tratamientos/4/citas":
			writeData(w, http.StatusOK, []any{
				map[string]any{"id": 1, "fecha": "2025-01-02", "hora_inicio": "08:00:00", "estado_anulacion": 1},
				map[string]any{"id": 2, "fecha": "2025-01-09", "hora_inicio": "09:30:00", "estado_anulacion": 0},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})
	srvURL = c.baseURL[:len(c.baseURL)-len("/api/v1/")]

	treatments, err := c.ListTreatments(context.Background(), backend.Patient{ID: 31})
	require.NoError(t, err)
	require.Len(t, treatments, 1)
	tr := treatments[0]
	assert.Equal(t, "Ortodoncia", tr.Name)
	assert.Equal(t, 12, tr.ProfessionalID)
	assert.Equal(t, "Ana Rojas", tr.ProfessionalName)
	assert.Equal(t, 150000.0, tr.Total)
	assert.Equal(t, "09:30:00", tr.StartTime)
	assert.Len(t, tr.Appointments, 2)
}

func TestTransportErrorIsTransient(t *testing.T) {
	c, err := New(Config{Profile: backend.MedilinkProfile("http://127.0.0.1:1/api/v5/", "t"), Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.GetBranch(context.Background(), 1)
	assert.True(t, errors.Is(err, backend.ErrTransient))
}
