package backend_test

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/internal/backend/backendtest"
)

func newRouter(t *testing.T, cfg backend.RouterConfig) *backend.Router {
	t.Helper()
	r, err := backend.NewRouter(cfg, backendtest.New("dentalink"), backendtest.New("medilink"))
	require.NoError(t, err)
	return r
}

func names(adapters []backend.Adapter) []string {
	out := make([]string, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Profile().Name)
	}
	return out
}

func defaultTable() backend.RouterConfig {
	return backend.RouterConfig{
		Default:        "medilink",
		BranchBackends: map[int]string{1: "dentalink", 2: "dentalink", 3: "dentalink", 4: "dentalink"},
		ProbeOrder:     []string{"dentalink", "medilink"},
		LookupOrder:    []string{"medilink", "dentalink"},
	}
}

func TestResolveBackendsByBranch(t *testing.T) {
	r := newRouter(t, defaultTable())

	tests := []struct {
		name   string
		target backend.Target
		want   []string
	}{
		{"listed branch goes to dentalink", backend.Target{BranchID: 3}, []string{"dentalink", "medilink"}},
		{"unlisted branch goes to default", backend.Target{BranchID: 9}, []string{"medilink", "dentalink"}},
		{"branch wins over professional", backend.Target{BranchID: 1, ProfessionalID: 7}, []string{"dentalink", "medilink"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))

			profiles, err := r.ResolveBackends(tt.target)
			require.NoError(t, err)
			require.Len(t, profiles, 2)
			assert.Equal(t, tt.want[0], profiles[0].Name)
		})
	}
}

func TestResolveBackendsUnresolvable(t *testing.T) {
	r := newRouter(t, defaultTable())

	_, err := r.Resolve(backend.Target{})
	assert.True(t, errors.Is(err, backend.ErrConfiguration))

	_, err = r.Resolve(backend.Target{ProfessionalID: 44})
	assert.True(t, errors.Is(err, backend.ErrConfiguration))
}

func TestResolveByProfessionalMap(t *testing.T) {
	cfg := defaultTable()
	cfg.ProfessionalBackends = map[int]string{44: "dentalink"}
	r := newRouter(t, cfg)

	got, err := r.Resolve(backend.Target{ProfessionalID: 44})
	require.NoError(t, err)
	assert.Equal(t, []string{"dentalink", "medilink"}, names(got))
}

func TestSingleBackendDropsAlternate(t *testing.T) {
	cfg := defaultTable()
	cfg.SingleBackend = true
	r := newRouter(t, cfg)

	got, err := r.Resolve(backend.Target{BranchID: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"medilink"}, names(got))
}

func TestNewRouterRejectsUnknownBackends(t *testing.T) {
	cfg := defaultTable()
	cfg.BranchBackends[5] = "nextech"
	_, err := backend.NewRouter(cfg, backendtest.New("dentalink"), backendtest.New("medilink"))
	assert.True(t, errors.Is(err, backend.ErrConfiguration))

	_, err = backend.NewRouter(backend.RouterConfig{})
	assert.True(t, errors.Is(err, backend.ErrConfiguration))
}

func TestOrdersAreCompletedAndConfigurable(t *testing.T) {
	cfg := defaultTable()
	cfg.ProbeOrder = []string{"medilink"}
	r := newRouter(t, cfg)

	assert.Equal(t, []string{"medilink", "dentalink"}, names(r.ProbeOrder()))
	assert.Equal(t, []string{"medilink", "dentalink"}, names(r.LookupOrder()))
	assert.Equal(t, []string{"dentalink", "medilink"}, names(backend.Preferring(r.LookupOrder(), "dentalink")))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{400, `{"error":"profesional no pertenece"}`, backend.ErrBackendIncompatible},
		{400, `{"error":"El paciente ya existe"}`, backend.ErrDuplicate},
		{404, "", backend.ErrNotFound},
		{503, "", backend.ErrTransient},
		{429, "", backend.ErrTransient},
		{401, "", backend.ErrRejected},
		{422, "", backend.ErrRejected},
	}
	for _, tt := range tests {
		err := backend.NewStatusError("dentalink", "op", tt.status, tt.body)
		assert.True(t, errors.Is(err, tt.want), "status %d body %q", tt.status, tt.body)
	}
}

func TestStatusErrorBodyKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", 299) + "ñandú"
	err := backend.NewStatusError("medilink", "create patient", 400, body)

	assert.True(t, utf8.ValidString(err.Body))
	assert.Equal(t, strings.Repeat("a", 299), err.Body)
	assert.Equal(t, "abc", backend.Truncate("abc", 10))
	assert.Equal(t, "", backend.Truncate("ñ", 1))
}

func TestStatusErrorClassifiesBeyondDisplayedBody(t *testing.T) {
	body := strings.Repeat(" ", 400) + "ya existe"
	err := backend.NewStatusError("dentalink", "create patient", 400, body)
	assert.ErrorIs(t, err, backend.ErrDuplicate)
}
