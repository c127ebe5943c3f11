package appointments_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-engine/internal/appointments"
	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/internal/backend/backendtest"
)

func TestNormalizeNationalID(t *testing.T) {
	tests := map[string]string{
		"12.345.678-k":  "12345678-K",
		"12345678K":     "12345678-K",
		" 9.876.543-2 ": "9876543-2",
		"0012345678-9":  "12345678-9",
		"abc":           "abc",
		"":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, appointments.NormalizeNationalID(in), in)
	}
}

func foundPatient(id int) func(context.Context, string) (*backend.Patient, error) {
	return func(_ context.Context, rut string) (*backend.Patient, error) {
		return &backend.Patient{ID: id, FirstName: "Eva", LastName: "Mora", NationalID: rut}, nil
	}
}

func TestSearchPatientWithBranchOnlyAsksPrimary(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.SearchPatient(context.Background(), "11111111-1", 2)
	assert.True(t, errors.Is(err, backend.ErrNotFound))
	assert.Equal(t, []string{"SearchPatient 11111111-1"}, f.dentalink.Calls())
	assert.Empty(t, f.medilink.Calls())
}

func TestSearchPatientWithoutBranchUsesLookupOrder(t *testing.T) {
	f := newFixture(t)
	f.dentalink.SearchPatientFn = foundPatient(40)

	out, err := f.manager.SearchPatient(context.Background(), "11.111.111-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 40, out.Patient.ID)
	assert.Equal(t, "Dentalink v1", out.Backend)
	assert.Equal(t, []string{"SearchPatient 11111111-1"}, f.medilink.Calls())
}

func TestCreatePatientReturnsExisting(t *testing.T) {
	f := newFixture(t)
	f.medilink.SearchPatientFn = foundPatient(41)

	out, err := f.manager.CreatePatient(context.Background(), appointments.NewPatientRequest{
		FirstName: "Eva", LastName: "Mora", NationalID: "11111111-1",
	})
	require.NoError(t, err)
	assert.True(t, out.Existing)
	assert.Equal(t, appointments.PatientExistsMessage, out.Message)
	assert.NotContains(t, f.medilink.Calls(), "CreatePatient 11111111-1")
}

func TestCreatePatientCreatesWithFailover(t *testing.T) {
	f := newFixture(t)
	f.medilink.CreatePatientFn = func(context.Context, backend.PatientRequest) (*backend.Patient, error) {
		return nil, backendtest.Status("medilink", "create patient", 500, "boom")
	}
	f.dentalink.CreatePatientFn = func(_ context.Context, req backend.PatientRequest) (*backend.Patient, error) {
		assert.Equal(t, "11111111-1", req.NationalID)
		return &backend.Patient{ID: 42, NationalID: req.NationalID}, nil
	}

	out, err := f.manager.CreatePatient(context.Background(), appointments.NewPatientRequest{
		FirstName: "Eva", LastName: "Mora", NationalID: "11.111.111-1", Phone: "+56911112222",
	})
	require.NoError(t, err)
	assert.False(t, out.Existing)
	assert.Equal(t, 42, out.Patient.ID)
	assert.Equal(t, appointments.PatientCreatedMessage, out.Message)
	assert.Equal(t, "Dentalink v1", out.Backend)
}

func TestCreatePatientDuplicateResolvesBySearch(t *testing.T) {
	f := newFixture(t)
	searches := 0
	f.medilink.SearchPatientFn = func(_ context.Context, rut string) (*backend.Patient, error) {
		searches++
		if searches == 1 {
			return nil, backendtest.Status("medilink", "search patient", 404, "")
		}
		return &backend.Patient{ID: 43, NationalID: rut}, nil
	}
	f.medilink.CreatePatientFn = func(context.Context, backend.PatientRequest) (*backend.Patient, error) {
		return nil, backendtest.Status("medilink", "create patient", 400, "El paciente ya existe")
	}

	out, err := f.manager.CreatePatient(context.Background(), appointments.NewPatientRequest{
		FirstName: "Eva", LastName: "Mora", NationalID: "11111111-1", BranchID: 9,
	})
	require.NoError(t, err)
	assert.True(t, out.Existing)
	assert.Equal(t, 43, out.Patient.ID)
	assert.Equal(t, appointments.PatientAlreadyExistMessage, out.Message)
}

func TestCreatePatientExhausted(t *testing.T) {
	f := newFixture(t)
	for _, fake := range []*backendtest.Fake{f.medilink, f.dentalink} {
		name := fake.P.Name
		fake.CreatePatientFn = func(context.Context, backend.PatientRequest) (*backend.Patient, error) {
			return nil, backendtest.Status(name, "create patient", 503, "down")
		}
	}

	_, err := f.manager.CreatePatient(context.Background(), appointments.NewPatientRequest{
		FirstName: "Eva", LastName: "Mora", NationalID: "11111111-1",
	})
	var exhausted *backend.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Details(), 2)
}

func TestCreatePatientValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.CreatePatient(context.Background(), appointments.NewPatientRequest{FirstName: "Eva", NationalID: "1-9"})
	assert.True(t, errors.Is(err, backend.ErrValidation))
}

func TestTreatments(t *testing.T) {
	f := newFixture(t)
	f.dentalink.SearchPatientFn = foundPatient(44)
	f.dentalink.ListTreatmentsFn = func(_ context.Context, p backend.Patient) ([]backend.Treatment, error) {
		return []backend.Treatment{{ID: 1, Name: "Ortodoncia", StartTime: "10:00"}}, nil
	}

	out, err := f.manager.Treatments(context.Background(), "11111111-1")
	require.NoError(t, err)
	assert.Equal(t, 44, out.Patient.ID)
	require.Len(t, out.Treatments, 1)
	assert.Equal(t, "Ortodoncia", out.Treatments[0].Name)
	assert.Equal(t, "Dentalink v1", out.Backend)
}

func TestTreatmentsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Treatments(context.Background(), "11111111-1")
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestScheduleWithNewPatient(t *testing.T) {
	f := newFixture(t)
	f.dentalink.CreatePatientFn = func(_ context.Context, req backend.PatientRequest) (*backend.Patient, error) {
		return &backend.Patient{ID: 45, NationalID: req.NationalID}, nil
	}
	f.dentalink.CreateAppointmentFn = func(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
		assert.Equal(t, 45, req.PatientID)
		return booked("dentalink")(ctx, req)
	}

	patient, booking, err := f.manager.ScheduleWithNewPatient(context.Background(), appointments.NewPatientBooking{
		Patient:         appointments.NewPatientRequest{FirstName: "Eva", LastName: "Mora", NationalID: "11111111-1"},
		ProfessionalID:  7,
		BranchID:        1,
		Date:            "2025-03-04",
		StartTime:       "09:00",
		DurationMinutes: 30,
		ContactID:       "contact-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 45, patient.Patient.ID)
	assert.Equal(t, "Dentalink v1", booking.Backend)
}
