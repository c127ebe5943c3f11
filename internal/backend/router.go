package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Target identifies what an operation is addressed to. BranchID wins when both are set.
type Target struct {
	BranchID       int
	ProfessionalID int
}

// RouterConfig is the static routing table.
type RouterConfig struct {
	// Default backend for branches not listed in BranchBackends.
	Default string
	// BranchBackends maps branch ids to a backend name (membership test).
	BranchBackends map[int]string
	// ProfessionalBackends resolves targets that only carry a professional id.
	ProfessionalBackends map[int]string
	// ProbeOrder is the order used to look up an appointment by id.
	ProbeOrder []string
	// LookupOrder is the order used for branch-less patient lookups. It also
	// decides which backend is the alternate of a primary.
	LookupOrder []string
	// SingleBackend disables the alternate backend.
	SingleBackend bool
}

// Router maps branches and professionals onto backends. It is read-only after NewRouter.
type Router struct {
	cfg      RouterConfig
	adapters map[string]Adapter
	names    []string
}

// NewRouter validates the table against the registered adapters.
func NewRouter(cfg RouterConfig, adapters ...Adapter) (*Router, error) {
	r := &Router{cfg: cfg, adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		name := a.Profile().Name
		if name == "" {
			return nil, Configurationf("adapter without profile name")
		}
		if _, dup := r.adapters[name]; dup {
			return nil, Configurationf("duplicate backend %q", name)
		}
		r.adapters[name] = a
		r.names = append(r.names, name)
	}
	if len(r.adapters) == 0 {
		return nil, Configurationf("no backends registered")
	}
	sort.Strings(r.names)

	if r.cfg.Default == "" {
		r.cfg.Default = r.names[0]
	}
	if err := r.known("default", r.cfg.Default); err != nil {
		return nil, err
	}
	for branch, name := range r.cfg.BranchBackends {
		if err := r.known(fmt.Sprintf("branch %d", branch), name); err != nil {
			return nil, err
		}
	}
	for prof, name := range r.cfg.ProfessionalBackends {
		if err := r.known(fmt.Sprintf("professional %d", prof), name); err != nil {
			return nil, err
		}
	}
	var err error
	if r.cfg.ProbeOrder, err = r.completeOrder("probe order", r.cfg.ProbeOrder); err != nil {
		return nil, err
	}
	if r.cfg.LookupOrder, err = r.completeOrder("lookup order", r.cfg.LookupOrder); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Router) known(what, name string) error {
	if _, ok := r.adapters[name]; !ok {
		return Configurationf("%s references unknown backend %q", what, name)
	}
	return nil
}

// completeOrder validates names and appends registered backends that were not listed.
func (r *Router) completeOrder(what string, order []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(r.names))
	for _, raw := range order {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		if err := r.known(what, name); err != nil {
			return nil, err
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, name := range r.names {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// ResolveBackends returns the profiles for target, primary first.
func (r *Router) ResolveBackends(target Target) ([]Profile, error) {
	adapters, err := r.Resolve(target)
	if err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(adapters))
	for _, a := range adapters {
		profiles = append(profiles, a.Profile())
	}
	return profiles, nil
}

// Resolve returns the adapters for target, primary first and at most one alternate.
func (r *Router) Resolve(target Target) ([]Adapter, error) {
	primary, err := r.primaryName(target)
	if err != nil {
		return nil, err
	}
	out := []Adapter{r.adapters[primary]}
	if r.cfg.SingleBackend {
		return out, nil
	}
	for _, name := range r.cfg.LookupOrder {
		if name != primary {
			out = append(out, r.adapters[name])
			break
		}
	}
	return out, nil
}

func (r *Router) primaryName(target Target) (string, error) {
	switch {
	case target.BranchID > 0:
		if name, ok := r.cfg.BranchBackends[target.BranchID]; ok {
			return name, nil
		}
		return r.cfg.Default, nil
	case target.ProfessionalID > 0:
		if name, ok := r.cfg.ProfessionalBackends[target.ProfessionalID]; ok {
			return name, nil
		}
		return "", Configurationf("professional %d is not mapped to a backend", target.ProfessionalID)
	default:
		return "", Configurationf("a branch or professional id is required to pick a backend")
	}
}

// ProbeOrder returns every backend in cancel-by-id probe order.
func (r *Router) ProbeOrder() []Adapter {
	return r.ordered(r.cfg.ProbeOrder)
}

// LookupOrder returns every backend in branch-less lookup order.
func (r *Router) LookupOrder() []Adapter {
	return r.ordered(r.cfg.LookupOrder)
}

// Preferring returns order with the named backend moved to the front.
func Preferring(order []Adapter, name string) []Adapter {
	out := make([]Adapter, 0, len(order))
	for _, a := range order {
		if a.Profile().Name == name {
			out = append(out, a)
		}
	}
	for _, a := range order {
		if a.Profile().Name != name {
			out = append(out, a)
		}
	}
	return out
}

// Adapter returns the adapter registered under name.
func (r *Router) Adapter(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// BranchBackends exposes a copy of the branch table for diagnostics.
func (r *Router) BranchBackends() map[int]string {
	out := make(map[int]string, len(r.cfg.BranchBackends))
	for k, v := range r.cfg.BranchBackends {
		out[k] = v
	}
	return out
}

// Names lists the registered backends sorted by name.
func (r *Router) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Router) ordered(names []string) []Adapter {
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name])
	}
	return out
}
