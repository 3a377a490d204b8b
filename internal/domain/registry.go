package domain

import (
	"context"
	"slices"
	"strings"

	"grimm.is/dynipsets/internal/logging"
)

// Registry owns every Domain, keyed by FQDN.
// It is not safe for concurrent use; the processor goroutine owns it.
type Registry struct {
	domains map[string]*Domain
	logger  *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		domains: make(map[string]*Domain),
		logger:  logging.OrDefault(logger).WithComponent("registry"),
	}
}

// Ingest adds d, or merges it into the existing domain of the same name.
// A merge keeps the existing addresses and adopts the shorter interval.
func (r *Registry) Ingest(d *Domain) {
	stored, ok := r.domains[d.FQDN()]
	if !ok {
		r.domains[d.FQDN()] = d
		return
	}
	if d.Interval() < stored.Interval() {
		r.logger.Debug("Lowering refresh interval", "fqdn", d.FQDN(), "from", stored.Interval(), "to", d.Interval())
		stored.SetInterval(d.Interval())
	}
}

// RefreshAll refreshes every due domain and returns how many changed.
func (r *Registry) RefreshAll(ctx context.Context) int {
	changed := 0
	for _, d := range r.domains {
		if d.MaybeRefresh(ctx) == Changed {
			changed++
		}
	}
	if changed > 0 {
		r.logger.Info("Updated domains", "changed", changed)
	}
	return changed
}

// Render concatenates the ipset blocks of all usable domains, ordered by FQDN.
func (r *Registry) Render() string {
	var b strings.Builder
	for _, name := range r.Names() {
		if block, ok := r.domains[name].Render(); ok {
			b.WriteString(block)
		}
	}
	return b.String()
}

// Lookup returns the domain with the given FQDN.
func (r *Registry) Lookup(fqdn string) (*Domain, bool) {
	d, ok := r.domains[fqdn]
	return d, ok
}

// Len returns the number of domains.
func (r *Registry) Len() int {
	return len(r.domains)
}

// Names returns the FQDNs in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
