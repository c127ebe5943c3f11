package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const (
	defaultMaxIterations = 4
	windowSpanDays       = 6
	windowStepDays       = 7
	defaultDeadline      = 45 * time.Second

	// NoAvailabilityMessage is returned when the whole search horizon is empty.
	NoAvailabilityMessage = "No se encontró disponibilidad en las próximas 4 semanas"
)

// Resolver picks the backends for a target, primary first.
type Resolver interface {
	Resolve(target backend.Target) ([]backend.Adapter, error)
}

// Observer receives search and backend attempt measurements.
type Observer interface {
	backend.Observer
	ObserveSearch(outcome string, iterations int, seconds float64)
}

// SearchRequest is the input of Search.
type SearchRequest struct {
	ProfessionalIDs []int
	BranchID        int
	StartDate       string // optional, 2006-01-02
	RequiredMinutes int    // optional
}

// ProfessionalAvailability lists a professional's bookable starts per date.
// Dates without starts are never present.
type ProfessionalAvailability struct {
	ProfessionalID   int
	ProfessionalName string
	Dates            map[string][]string
}

// SearchResult is either a hit (Found) or an exhausted horizon.
type SearchResult struct {
	Found        bool
	Availability []ProfessionalAvailability
	WindowFrom   string
	WindowTo     string
	Backend      string
	Iterations   int
	Message      string
}

type searchState int

const (
	stateQuery searchState = iota
	stateAdvance
	stateSuccess
	stateExhausted
)

// Searcher runs the bounded week-by-week availability search.
type Searcher struct {
	resolver      Resolver
	normalizer    *Normalizer
	location      *time.Location
	now           func() time.Time
	maxIterations int
	deadline      time.Duration
	observer      Observer
	logger        *logging.Logger
}

// Option customizes a Searcher.
type Option func(*Searcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Searcher) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the clinic civil timezone.
func WithLocation(loc *time.Location) Option {
	return func(s *Searcher) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithDeadline bounds the whole search. Zero or negative disables it.
func WithDeadline(d time.Duration) Option {
	return func(s *Searcher) { s.deadline = d }
}

// WithMaxIterations sets how many weekly windows are tried.
func WithMaxIterations(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithObserver attaches metrics.
func WithObserver(o Observer) Option {
	return func(s *Searcher) { s.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearcher builds a Searcher over resolver.
func NewSearcher(resolver Resolver, opts ...Option) *Searcher {
	s := &Searcher{
		resolver:      resolver,
		location:      time.UTC,
		now:           time.Now,
		maxIterations: defaultMaxIterations,
		deadline:      defaultDeadline,
		logger:        logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.normalizer = NewNormalizer(s.location, s.logger)
	return s
}

// Search walks 7-day windows from the start date until a professional has a
// qualifying start or the iteration ceiling is reached.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	ids := dedupe(req.ProfessionalIDs)
	if len(ids) == 0 {
		return nil, backend.Validationf("at least one professional id is required")
	}
	if req.BranchID <= 0 {
		return nil, backend.Validationf("branch id is required")
	}
	if req.RequiredMinutes < 0 {
		return nil, backend.Validationf("required minutes cannot be negative")
	}

	now := s.now().In(s.location)
	windowStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	if req.StartDate != "" {
		parsed, err := time.ParseInLocation(dateLayout, req.StartDate, s.location)
		if err != nil {
			return nil, backend.Validationf("start date %q must be YYYY-MM-DD", req.StartDate)
		}
		windowStart = parsed
	}

	backends, err := s.resolver.Resolve(backend.Target{BranchID: req.BranchID})
	if err != nil {
		return nil, err
	}

	if s.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}
	began := time.Now()

	names := s.resolveNames(ctx, backends, ids)

	result := &SearchResult{WindowFrom: windowStart.Format(dateLayout)}
	iteration := 1
	state := stateQuery
	for {
		switch state {
		case stateQuery:
			windowEnd := windowStart.AddDate(0, 0, windowSpanDays)
			result.Iterations = iteration
			result.WindowFrom = windowStart.Format(dateLayout)
			result.WindowTo = windowEnd.Format(dateLayout)

			s.logger.Info("availability: querying window",
				"iteration", iteration,
				"from", result.WindowFrom,
				"to", result.WindowTo,
				"branch_id", req.BranchID,
			)
			found, backendName, err := s.query(ctx, backends, ids, req, windowStart, windowEnd, now, names)
			if err != nil {
				s.observe("error", iteration, began)
				return nil, err
			}
			if len(found) > 0 {
				result.Availability = found
				result.Backend = backendName
				state = stateSuccess
			} else {
				state = stateAdvance
			}

		case stateAdvance:
			if iteration >= s.maxIterations {
				state = stateExhausted
				continue
			}
			windowStart = windowStart.AddDate(0, 0, windowStepDays)
			iteration++
			state = stateQuery

		case stateSuccess:
			result.Found = true
			s.observe("found", iteration, began)
			return result, nil

		case stateExhausted:
			result.Message = NoAvailabilityMessage
			result.Availability = []ProfessionalAvailability{}
			s.observe("exhausted", iteration, began)
			return result, nil
		}
	}
}

func (s *Searcher) query(ctx context.Context, backends []backend.Adapter, ids []int, req SearchRequest,
	from, to, now time.Time, names map[int]string) ([]ProfessionalAvailability, string, error) {

	q := backend.SlotQuery{ProfessionalIDs: ids, BranchID: req.BranchID, From: from, To: to}
	res, err := backend.WithFailover(ctx, backends, backend.FailoverOptions{Op: "list slots", Observer: s.observer},
		func(ctx context.Context, a backend.Adapter) (*backend.SlotListing, error) {
			return a.ListSlots(ctx, q)
		})
	if err != nil {
		return nil, "", fmt.Errorf("availability: %w", err)
	}

	normalized := s.normalizer.Normalize(res.Value, ids, now)
	out := make([]ProfessionalAvailability, 0, len(ids))
	for _, id := range ids {
		byDate, ok := normalized[id]
		if !ok {
			continue
		}
		pa := ProfessionalAvailability{ProfessionalID: id, ProfessionalName: names[id], Dates: map[string][]string{}}
		for _, date := range SortedDates(byDate) {
			starts := FilterForDuration(byDate[date], req.RequiredMinutes)
			if len(starts) > 0 {
				pa.Dates[date] = starts
			}
		}
		if len(pa.Dates) > 0 {
			out = append(out, pa)
		}
	}
	return out, res.Backend.Profile().Label(), nil
}

// resolveNames asks each backend in order for professionals not yet named.
// Lookup failures only cost the display name.
func (s *Searcher) resolveNames(ctx context.Context, backends []backend.Adapter, ids []int) map[int]string {
	names := make(map[int]string, len(ids))
	for _, b := range backends {
		for _, id := range ids {
			if _, done := names[id]; done {
				continue
			}
			p, err := b.GetProfessional(ctx, id)
			if err != nil {
				s.logger.Debug("availability: professional not found on backend",
					"backend", b.Profile().Name, "professional_id", id, "error", err)
				continue
			}
			if name := p.FullName(); name != "" {
				names[id] = name
			}
		}
	}
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			names[id] = FallbackProfessionalName(id)
			s.logger.Warn("availability: using fallback professional name", "professional_id", id)
		}
	}
	return names
}

// FallbackProfessionalName labels a professional no backend could name.
func FallbackProfessionalName(id int) string {
	return fmt.Sprintf("Professional %d", id)
}

func (s *Searcher) observe(outcome string, iterations int, began time.Time) {
	if s.observer != nil {
		s.observer.ObserveSearch(outcome, iterations, time.Since(began).Seconds())
	}
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
