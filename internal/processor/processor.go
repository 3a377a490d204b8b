// Package processor runs the refresh and regeneration loop.
//
// The worker loads every declaration once, then polls: it refreshes due
// domains and checks the static base file. When anything changed (or on the
// first pass) it writes the generated config and copies it onto the
// destination. Stop requests are honoured between input files while loading
// and at the top of every poll; a regeneration pass always runs to the end.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/dynipsets/internal/clock"
	"grimm.is/dynipsets/internal/config"
	"grimm.is/dynipsets/internal/domain"
	"grimm.is/dynipsets/internal/group"
	"grimm.is/dynipsets/internal/logging"
	"grimm.is/dynipsets/internal/metrics"
	"grimm.is/dynipsets/internal/resolver"
	"grimm.is/dynipsets/internal/staticcache"
)

// Markers framing the generated region in the output.
const (
	beginBlock = "\n" + staticcache.BeginMarker + "\n\n"
	endBlock   = "\n" + staticcache.EndMarker + "\n\n"
)

// Options are the processor's collaborators. Only Resolver is required.
type Options struct {
	Resolver resolver.Resolver
	Clock    clock.Clock
	Logger   *logging.Logger
	Metrics  *metrics.Registry
}

// Processor owns the registry, the groups and the static cache.
// Everything except the last pass status is touched from the worker goroutine only.
type Processor struct {
	cfg      *config.Config
	env      domain.Env
	registry *domain.Registry
	groups   []*group.Group
	static   *staticcache.Cache
	metrics  *metrics.Registry
	clock    clock.Clock
	logger   *logging.Logger
	firstRun bool

	statusMu   sync.RWMutex
	lastAt     time.Time
	lastResult string
}

// New creates a processor for cfg. The static base file is read immediately.
func New(cfg *config.Config, opts Options) *Processor {
	logger := logging.OrDefault(opts.Logger)
	c := clock.OrReal(opts.Clock)

	env := domain.Env{
		Resolver: opts.Resolver,
		Clock:    c,
		Logger:   logger,
	}
	if opts.Metrics != nil {
		env.Observer = opts.Metrics
	}

	return &Processor{
		cfg:      cfg,
		env:      env,
		registry: domain.NewRegistry(logger),
		static:   staticcache.New(cfg.Static, c, logger),
		metrics:  opts.Metrics,
		clock:    c,
		logger:   logger.WithComponent("processor"),
		firstRun: true,
	}
}

// Registry returns the domain registry.
func (p *Processor) Registry() *domain.Registry { return p.registry }

// Groups returns the loaded groups in load order.
func (p *Processor) Groups() []*group.Group { return p.groups }

// Run loads the inputs and polls until lc requests a stop.
func (p *Processor) Run(lc *Lifecycle) {
	// Resolution is never cut short by a stop; the loop only stops at its safe points.
	ctx := context.Background()

	if !p.Load(ctx, lc) {
		return
	}

	for {
		if lc.StopRequested() {
			p.logger.Info("Processor stopped")
			return
		}
		if p.Poll(ctx) {
			p.Regenerate()
			continue
		}

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-lc.Stopping():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Poll refreshes due domains and the static cache. It reports whether a
// regeneration is needed.
func (p *Processor) Poll(ctx context.Context) bool {
	domainsChanged := p.registry.RefreshAll(ctx) > 0
	staticChanged := p.static.TryUpdate()
	if staticChanged && p.metrics != nil {
		p.metrics.StaticReloads.Inc()
	}
	return domainsChanged || staticChanged || p.firstRun
}

// Render returns the full generated config: static content followed by the
// marker-framed ipset and group blocks.
func (p *Processor) Render() []byte {
	var buf bytes.Buffer
	_, _ = p.static.WriteTo(&buf)
	buf.WriteString(beginBlock)
	buf.WriteString(p.registry.Render())
	for _, g := range p.groups {
		buf.WriteString(g.Render(p.registry))
	}
	buf.WriteString(endBlock)
	return buf.Bytes()
}

// Regenerate writes the generated config and propagates it to the
// destination. Failures are logged; the next change triggers a new attempt.
func (p *Processor) Regenerate() {
	p.firstRun = false
	start := p.clock.Now()
	p.logger.Info("Starting generation of dynamic content")

	result := p.regenerate()
	now := p.clock.Now()
	if p.metrics != nil {
		p.metrics.ObserveRegeneration(result, now.Sub(start), now)
	}

	p.statusMu.Lock()
	p.lastAt, p.lastResult = now, result
	p.statusMu.Unlock()
}

// LastRegeneration returns the finish time and result of the latest pass.
// It is safe to call from any goroutine.
func (p *Processor) LastRegeneration() (time.Time, string, bool) {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	return p.lastAt, p.lastResult, p.lastResult != ""
}

func (p *Processor) regenerate() string {
	if err := p.writeGenerated(); err != nil {
		p.logger.Error("Failed to write generated file", "path", p.cfg.Generated, "error", err)
		return metrics.ResultWriteFailed
	}
	p.static.MarkRefreshed()

	if err := p.propagate(); err != nil {
		p.logger.Error("Propagation failed", "destination", p.cfg.Destination, "error", err)
		return metrics.ResultPropagateFailed
	}
	p.logger.Info("Propagated dynamic content to origin file", "destination", p.cfg.Destination)
	return metrics.ResultOK
}

func (p *Processor) writeGenerated() error {
	if err := os.MkdirAll(filepath.Dir(p.cfg.Generated), 0o755); err != nil {
		return err
	}
	return overwrite(p.cfg.Generated, p.Render())
}

// propagate copies the generated file byte for byte onto the destination.
func (p *Processor) propagate() error {
	data, err := os.ReadFile(p.cfg.Generated)
	if err != nil {
		return fmt.Errorf("read back generated file: %w", err)
	}

	if p.cfg.LogDiff {
		p.logDiff(data)
	}

	return overwrite(p.cfg.Destination, data)
}

func (p *Processor) logDiff(next []byte) {
	prev, err := os.ReadFile(p.cfg.Destination)
	if err != nil {
		p.logger.Debug("No previous destination to diff against", "error", err)
		return
	}
	if bytes.Equal(prev, next) {
		p.logger.Debug("Destination content unchanged")
		return
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(prev)),
		B:        difflib.SplitLines(string(next)),
		FromFile: p.cfg.Destination,
		ToFile:   p.cfg.Generated,
		Context:  2,
	})
	if err != nil {
		p.logger.Debug("Diff failed", "error", err)
		return
	}
	p.logger.Debug("Destination changes", "diff", text)
}

// overwrite truncates path and writes data to it. It is not atomic.
func overwrite(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
