// Package domain tracks the resolved addresses of declared domains.
//
// A Domain is created from a "<fqdn> <minutes>" declaration and resolved
// once immediately. After that it only re-resolves when its interval has
// elapsed. The Registry owns every Domain for the life of the daemon and
// merges duplicate declarations.
package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"grimm.is/dynipsets/internal/clock"
	"grimm.is/dynipsets/internal/logging"
	"grimm.is/dynipsets/internal/resolver"
)

// ErrInvalidDeclaration is returned for lines that are not "<fqdn> <minutes>".
var ErrInvalidDeclaration = errors.New("invalid domain declaration")

// Outcome is the result of a refresh attempt.
type Outcome int

const (
	// Unchanged means the address set is the same, or no lookup was due.
	Unchanged Outcome = iota
	// Changed means the address set was replaced.
	Changed
	// NoResult means resolution failed and the previous addresses were kept.
	NoResult
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case NoResult:
		return "no_result"
	}
	return "unknown"
}

// Observer is notified after every resolution attempt.
type Observer interface {
	ObserveRefresh(fqdn string, outcome Outcome, addrs int)
}

// Env bundles the collaborators shared by every Domain.
type Env struct {
	Resolver resolver.Resolver
	Clock    clock.Clock
	Logger   *logging.Logger
	Observer Observer
}

// Refreshed records when a domain was last resolved successfully.
// The zero value means never.
type Refreshed struct {
	at  time.Time
	set bool
}

// Never returns the "not yet resolved" state.
func Never() Refreshed { return Refreshed{} }

// At returns the "resolved at t" state.
func At(t time.Time) Refreshed { return Refreshed{at: t, set: true} }

// Time returns the refresh time and whether there has been one.
func (r Refreshed) Time() (time.Time, bool) { return r.at, r.set }

// Declaration is a parsed "<fqdn> <minutes>" line.
type Declaration struct {
	FQDN     string
	Interval time.Duration
}

// ParseDeclaration parses a domain declaration line.
func ParseDeclaration(line string) (Declaration, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 2 || parts[0] == "" {
		return Declaration{}, fmt.Errorf("%w: %q", ErrInvalidDeclaration, line)
	}

	minutes, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || minutes > math.MaxInt64/uint64(time.Minute) {
		return Declaration{}, fmt.Errorf("%w: bad interval in %q", ErrInvalidDeclaration, line)
	}

	return Declaration{
		FQDN:     parts[0],
		Interval: time.Duration(minutes) * time.Minute,
	}, nil
}

// Domain is the in-memory record of one domain's addresses and schedule.
type Domain struct {
	fqdn      string
	interval  time.Duration
	refreshed Refreshed
	addrs     []netip.Addr

	env    Env
	logger *logging.Logger
}

// New builds a Domain from decl and performs the first resolution.
func New(ctx context.Context, decl Declaration, env Env) *Domain {
	env.Clock = clock.OrReal(env.Clock)
	d := &Domain{
		fqdn:     decl.FQDN,
		interval: decl.Interval,
		env:      env,
		logger:   logging.OrDefault(env.Logger).WithComponent("domain"),
	}
	d.Refresh(ctx)
	return d
}

// Parse parses line and, on success, returns a resolved Domain.
func Parse(ctx context.Context, line string, env Env) (*Domain, error) {
	decl, err := ParseDeclaration(line)
	if err != nil {
		return nil, err
	}
	return New(ctx, decl, env), nil
}

// FQDN returns the declared name.
func (d *Domain) FQDN() string { return d.fqdn }

// Name returns the ipset-safe name: dots replaced with underscores.
func (d *Domain) Name() string { return SanitizeName(d.fqdn) }

// SanitizeName replaces dots with underscores.
func SanitizeName(fqdn string) string { return strings.ReplaceAll(fqdn, ".", "_") }

// Interval returns the refresh interval.
func (d *Domain) Interval() time.Duration { return d.interval }

// SetInterval changes the refresh interval.
func (d *Domain) SetInterval(interval time.Duration) { d.interval = interval }

// Refreshed returns the last successful refresh state.
func (d *Domain) Refreshed() Refreshed { return d.refreshed }

// Addrs returns a copy of the current address set.
func (d *Domain) Addrs() []netip.Addr { return slices.Clone(d.addrs) }

// Refresh resolves the domain now.
func (d *Domain) Refresh(ctx context.Context) Outcome {
	d.logger.Debug("Updating domain", "fqdn", d.fqdn)

	addrs, err := d.env.Resolver.LookupHost(ctx, d.fqdn)
	if err != nil {
		d.logger.Info("Name resolve failed, keeping old addresses", "fqdn", d.fqdn, "error", err)
		d.observe(NoResult)
		return NoResult
	}

	outcome := Unchanged
	if d.differs(addrs) {
		d.addrs = addrs
		outcome = Changed
	}
	d.refreshed = At(d.env.Clock.Now())

	d.observe(outcome)
	return outcome
}

// differs reports whether addrs is a different set from the stored one.
// Order does not matter.
func (d *Domain) differs(addrs []netip.Addr) bool {
	if len(addrs) != len(d.addrs) {
		return true
	}
	for _, a := range d.addrs {
		if !slices.Contains(addrs, a) {
			return true
		}
	}
	return false
}

// MaybeRefresh resolves the domain only when it has never been resolved
// or its interval has elapsed.
func (d *Domain) MaybeRefresh(ctx context.Context) Outcome {
	at, ok := d.refreshed.Time()
	if !ok || d.env.Clock.Since(at) >= d.interval {
		return d.Refresh(ctx)
	}
	return Unchanged
}

// Usable reports whether the domain has been resolved and has addresses.
func (d *Domain) Usable() bool {
	_, ok := d.refreshed.Time()
	return ok && len(d.addrs) > 0
}

// Render returns the ipset block for the domain, or false when not Usable.
func (d *Domain) Render() (string, bool) {
	if !d.Usable() {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[IPSET domain_%s]\n\n", d.Name())
	for _, a := range d.addrs {
		b.WriteString(netip.PrefixFrom(a, a.BitLen()).String())
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String(), true
}

func (d *Domain) observe(o Outcome) {
	if d.env.Observer != nil {
		d.env.Observer.ObserveRefresh(d.fqdn, o, len(d.addrs))
	}
}
