// Package health aggregates liveness probes for the pipeline's backing
// subsystems (alert store, database) behind a single endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// probeTimeout bounds a full CheckAll pass. A hung store or database must
// not wedge the health endpoint.
const probeTimeout = 5 * time.Second

// Status is the reported health of one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes one subsystem. A nil return means healthy; the error text
// becomes the reported detail.
type Checker func(ctx context.Context) error

// Registry holds named probes and runs them on demand. Probes report in
// registration order; re-registering a name replaces its probe.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	probes map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{probes: make(map[string]Checker)}
}

// Register adds or replaces the probe for a subsystem.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	if _, ok := r.probes[name]; !ok {
		r.order = append(r.order, name)
	}
	r.probes[name] = check
	r.mu.Unlock()
}

// CheckAll runs every probe under a shared deadline and returns the
// aggregate verdict plus per-subsystem statuses. An empty registry is
// healthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	r.mu.RLock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	probes := make(map[string]Checker, len(r.probes))
	for name, check := range r.probes {
		probes[name] = check
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(order))
	for _, name := range order {
		st := Status{Name: name, Healthy: true}
		if err := probes[name](ctx); err != nil {
			st.Healthy = false
			st.Detail = err.Error()
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}
