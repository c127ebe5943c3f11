package bootstrap

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-booking-engine/internal/appointments"
	"github.com/wolfman30/clinic-booking-engine/internal/availability"
	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/internal/backend/healthatom"
	appconfig "github.com/wolfman30/clinic-booking-engine/internal/config"
	"github.com/wolfman30/clinic-booking-engine/internal/crm"
	"github.com/wolfman30/clinic-booking-engine/internal/http/handlers"
	"github.com/wolfman30/clinic-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

// Engine is the fully wired booking engine shared by every binary.
type Engine struct {
	Config     *appconfig.Config
	Location   *time.Location
	Backends   *backend.Router
	Metrics    *metrics.BookingMetrics
	Searcher   *availability.Searcher
	Manager    *appointments.Manager
	Dispatcher *crm.Dispatcher // nil when CRM mirroring is disabled
	Processor  *crm.Processor  // nil when CRM mirroring is disabled
}

// EngineOptions carries the optional collaborators of BuildEngine.
type EngineOptions struct {
	// Queue receives CRM jobs. Without it bookings are not mirrored.
	Queue crm.Queue
	// Registerer for metrics; the default registerer when nil.
	Registerer prometheus.Registerer
	// Adapters replaces the HealthAtom clients (tests).
	Adapters []backend.Adapter
	Logger   *logging.Logger
}

// BuildEngine wires backends, router, search, lifecycle and CRM mirroring from config.
func BuildEngine(cfg *appconfig.Config, opts EngineOptions) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: clinic timezone %q: %w", cfg.ClinicTimezone, err)
	}

	professionalBackends := map[int]string{}
	if path := strings.TrimSpace(cfg.BackendsFile); path != "" {
		file, err := cfg.LoadBackendsFile(path)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		professionalBackends = file.ProfessionalBackends()
		logger.Info("backends file loaded", "path", path, "professionals", len(professionalBackends))
	}

	adapters := opts.Adapters
	if len(adapters) == 0 {
		adapters, err = buildHealthAtomClients(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	branchBackends, err := cfg.BranchBackends()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	router, err := backend.NewRouter(backend.RouterConfig{
		Default:              cfg.DefaultBackend,
		BranchBackends:       branchBackends,
		ProfessionalBackends: professionalBackends,
		ProbeOrder:           cfg.CancelProbeOrder,
		LookupOrder:          cfg.LookupOrder,
		SingleBackend:        cfg.SingleBackend,
	}, adapters...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	m := metrics.NewBookingMetrics(opts.Registerer)
	engine := &Engine{Config: cfg, Location: loc, Backends: router, Metrics: m}

	engine.Searcher = availability.NewSearcher(router,
		availability.WithLocation(loc),
		availability.WithDeadline(cfg.SearchDeadline),
		availability.WithObserver(m),
		availability.WithLogger(logger),
	)

	managerOpts := []appointments.Option{
		appointments.WithLocation(loc),
		appointments.WithObserver(m),
		appointments.WithLogger(logger),
	}
	if cfg.GHLConfigured() && opts.Queue != nil {
		engine.Dispatcher = crm.NewDispatcher(opts.Queue, logger, m)
		engine.Processor = crm.NewProcessor(router, crm.NewClient(crm.ClientConfig{
			BaseURL:     cfg.GHLBaseURL,
			AccessToken: cfg.GHLAccessToken,
			Timeout:     cfg.BackendTimeout,
			Logger:      logger,
		}), crm.ProcessorConfig{
			CalendarID:            cfg.GHLCalendarID,
			LocationID:            cfg.GHLLocationID,
			ProfessionalCalendars: cfg.GHLProfessionalCalendars,
			Location:              loc,
		}, logger, m)
		managerOpts = append(managerOpts, appointments.WithDispatcher(engine.Dispatcher))
		logger.Info("crm mirroring enabled", "queue", cfg.CRMQueue)
	} else {
		logger.Warn("crm mirroring disabled", "ghl_configured", cfg.GHLConfigured(), "queue", opts.Queue != nil)
	}
	engine.Manager = appointments.NewManager(router, managerOpts...)

	logger.Info("booking engine ready",
		"backends", router.Names(),
		"default", cfg.DefaultBackend,
		"timezone", loc.String(),
	)
	return engine, nil
}

// ServiceInfo summarizes the configuration for /health and /config.
func (e *Engine) ServiceInfo() handlers.ServiceInfo {
	var branches []int
	for id, name := range e.Backends.BranchBackends() {
		if name == string(backend.DialectDentalink) {
			branches = append(branches, id)
		}
	}
	sort.Ints(branches)
	return handlers.ServiceInfo{
		Service:             "clinic-booking-engine",
		DentalinkBranches:   branches,
		MedilinkConfigured:  strings.TrimSpace(e.Config.MedilinkToken) != "",
		DentalinkConfigured: strings.TrimSpace(e.Config.DentalinkToken) != "",
		GHLConfigured:       e.Config.GHLConfigured(),
	}
}

// NewCRMWorker returns a worker consuming queue, or nil when mirroring is disabled.
func (e *Engine) NewCRMWorker(queue crm.Queue, logger *logging.Logger) *crm.Worker {
	if e.Processor == nil || queue == nil {
		return nil
	}
	return crm.NewWorker(queue, e.Processor, logger, crm.WithWorkerCount(e.Config.CRMWorkerCount))
}

func buildHealthAtomClients(cfg *appconfig.Config, logger *logging.Logger) ([]backend.Adapter, error) {
	profiles := []backend.Profile{
		backend.DentalinkProfile(cfg.DentalinkAPIURL, cfg.DentalinkToken),
		backend.MedilinkProfile(cfg.MedilinkAPIURL, cfg.MedilinkToken),
	}
	var adapters []backend.Adapter
	for _, p := range profiles {
		if strings.TrimSpace(p.BaseURL) == "" {
			logger.Warn("backend disabled, no base url", "backend", p.Name)
			continue
		}
		if len(p.AuthHeaders) == 0 {
			logger.Warn("backend has no token configured", "backend", p.Name)
		}
		client, err := healthatom.New(healthatom.Config{Profile: p, Timeout: cfg.BackendTimeout, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %s: %w", p.Name, err)
		}
		adapters = append(adapters, client)
	}
	return adapters, nil
}
