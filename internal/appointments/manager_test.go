package appointments_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-engine/internal/appointments"
	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/internal/backend/backendtest"
	"github.com/wolfman30/clinic-booking-engine/internal/crm"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []crm.Job
}

func (r *recordingDispatcher) DispatchAsync(job crm.Job) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return "job-1"
}

type fixture struct {
	dentalink  *backendtest.Fake
	medilink   *backendtest.Fake
	dispatcher *recordingDispatcher
	manager    *appointments.Manager
}

// 2025-03-03 10:00 in UTC.
var now = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dentalink:  backendtest.New("dentalink"),
		medilink:   backendtest.New("medilink"),
		dispatcher: &recordingDispatcher{},
	}
	f.dentalink.P.DisplayName = "Dentalink v1"
	f.medilink.P.DisplayName = "Medilink v5"

	router, err := backend.NewRouter(backend.RouterConfig{
		Default:        "medilink",
		BranchBackends: map[int]string{1: "dentalink", 2: "dentalink", 3: "dentalink", 4: "dentalink"},
		ProbeOrder:     []string{"dentalink", "medilink"},
		LookupOrder:    []string{"medilink", "dentalink"},
	}, f.dentalink, f.medilink)
	require.NoError(t, err)

	f.manager = appointments.NewManager(router,
		appointments.WithDispatcher(f.dispatcher),
		appointments.WithClock(func() time.Time { return now }),
	)
	return f
}

func booked(backendName string) func(context.Context, backend.AppointmentRequest) (*backend.Appointment, error) {
	return func(_ context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
		return &backend.Appointment{
			ID:              900,
			PatientID:       req.PatientID,
			ProfessionalID:  req.ProfessionalID,
			BranchID:        req.BranchID,
			Date:            req.Date,
			StartTime:       req.StartTime,
			DurationMinutes: req.DurationMinutes,
			Backend:         backendName,
		}, nil
	}
}

func createRequest(branch int) appointments.CreateRequest {
	return appointments.CreateRequest{
		PatientID:       31,
		ProfessionalID:  7,
		BranchID:        branch,
		Date:            "2025-03-04",
		StartTime:       "09:00",
		DurationMinutes: 30,
		ContactID:       "contact-1",
	}
}

func TestCreateBooksOnPrimaryAndMirrors(t *testing.T) {
	f := newFixture(t)
	f.medilink.CreateAppointmentFn = booked("medilink")

	b, err := f.manager.Create(context.Background(), createRequest(9))
	require.NoError(t, err)

	assert.Equal(t, 900, b.Appointment.ID)
	assert.Equal(t, "Medilink v5", b.Backend)
	assert.False(t, b.Recovered)
	assert.Equal(t, "job-1", b.CRMJobID)
	assert.Empty(t, f.dentalink.Calls())

	require.Len(t, f.dispatcher.jobs, 1)
	job := f.dispatcher.jobs[0]
	assert.Equal(t, "medilink", job.Backend)
	assert.Equal(t, 900, job.AppointmentID)
	assert.Equal(t, 30, job.DurationMinutes)
	assert.Equal(t, "contact-1", job.ContactID)
}

func TestCreateFailsOverOnIncompatibleBackend(t *testing.T) {
	f := newFixture(t)
	f.dentalink.CreateAppointmentFn = func(context.Context, backend.AppointmentRequest) (*backend.Appointment, error) {
		return nil, backendtest.Status("dentalink", "create appointment", 400, `{"error":"id_dentista invalido"}`)
	}
	f.medilink.CreateAppointmentFn = booked("medilink")

	b, err := f.manager.Create(context.Background(), createRequest(2))
	require.NoError(t, err)

	assert.Equal(t, "Medilink v5", b.Backend)
	assert.Equal(t, []string{"CreateAppointment 7"}, f.dentalink.Calls())
	assert.Equal(t, []string{"CreateAppointment 7"}, f.medilink.Calls())
}

func TestCreateRejectedIsFinal(t *testing.T) {
	f := newFixture(t)
	f.dentalink.CreateAppointmentFn = func(context.Context, backend.AppointmentRequest) (*backend.Appointment, error) {
		return nil, backendtest.Status("dentalink", "create appointment", 422, "slot taken")
	}

	_, err := f.manager.Create(context.Background(), createRequest(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrRejected))
	assert.Empty(t, f.medilink.Calls())
	assert.Empty(t, f.dispatcher.jobs)
}

func TestCreateRecoversDuplicate(t *testing.T) {
	f := newFixture(t)
	f.medilink.CreateAppointmentFn = func(context.Context, backend.AppointmentRequest) (*backend.Appointment, error) {
		return nil, backendtest.Status("medilink", "create appointment", 400, "la cita ya existe")
	}
	f.medilink.FindAppointmentFn = booked("medilink")

	b, err := f.manager.Create(context.Background(), createRequest(9))
	require.NoError(t, err)
	assert.True(t, b.Recovered)
	assert.Equal(t, 900, b.Appointment.ID)
	assert.Empty(t, f.dentalink.Calls())
}

func TestCreateResolvesDurationFromProfessional(t *testing.T) {
	f := newFixture(t)
	f.medilink.GetProfessionalFn = func(_ context.Context, id int) (*backend.Professional, error) {
		return &backend.Professional{ID: id, IntervalMinutes: 20}, nil
	}
	f.medilink.CreateAppointmentFn = booked("medilink")

	req := createRequest(9)
	req.DurationMinutes = 0
	b, err := f.manager.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 20, b.Appointment.DurationMinutes)
}

func TestCreateWithoutDurationFails(t *testing.T) {
	f := newFixture(t)
	f.medilink.GetProfessionalFn = func(_ context.Context, id int) (*backend.Professional, error) {
		return &backend.Professional{ID: id}, nil
	}

	req := createRequest(9)
	req.DurationMinutes = 0
	_, err := f.manager.Create(context.Background(), req)
	assert.True(t, errors.Is(err, backend.ErrMissingDuration))
	assert.NotContains(t, f.medilink.Calls(), "CreateAppointment 7")
	assert.NotContains(t, f.dentalink.Calls(), "CreateAppointment 7")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	bad := []func(*appointments.CreateRequest){
		func(r *appointments.CreateRequest) { r.PatientID = 0 },
		func(r *appointments.CreateRequest) { r.BranchID = 0 },
		func(r *appointments.CreateRequest) { r.Date = "04-03-2025" },
		func(r *appointments.CreateRequest) { r.StartTime = "9am" },
		func(r *appointments.CreateRequest) { r.DurationMinutes = -1 },
	}
	for _, mutate := range bad {
		req := createRequest(9)
		mutate(&req)
		_, err := f.manager.Create(context.Background(), req)
		assert.True(t, errors.Is(err, backend.ErrValidation), "request %+v", req)
	}
	assert.Empty(t, f.medilink.Calls())
}

func TestCreateWithoutContactSkipsCRM(t *testing.T) {
	f := newFixture(t)
	f.medilink.CreateAppointmentFn = booked("medilink")

	req := createRequest(9)
	req.ContactID = ""
	b, err := f.manager.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, b.CRMJobID)
	assert.Empty(t, f.dispatcher.jobs)
}

func TestCreateAcceptsSecondsInStartTime(t *testing.T) {
	f := newFixture(t)
	var got backend.AppointmentRequest
	f.medilink.CreateAppointmentFn = func(ctx context.Context, req backend.AppointmentRequest) (*backend.Appointment, error) {
		got = req
		return booked("medilink")(ctx, req)
	}

	req := createRequest(9)
	req.StartTime = "09:00:00"
	_, err := f.manager.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "09:00", got.StartTime)
}
