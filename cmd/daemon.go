// Package cmd wires configuration, logging, the resolver and the processor
// into the daemon process.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"grimm.is/dynipsets/internal/brand"
	"grimm.is/dynipsets/internal/config"
	"grimm.is/dynipsets/internal/health"
	"grimm.is/dynipsets/internal/logging"
	"grimm.is/dynipsets/internal/metrics"
	"grimm.is/dynipsets/internal/processor"
	"grimm.is/dynipsets/internal/resolver"
)

const shutdownTimeout = 5 * time.Second

// Daemon holds the process-wide collaborators. Zero values are filled in by Run.
type Daemon struct {
	// Output receives log lines. Defaults to stdout.
	Output io.Writer
	// Resolver overrides the DNS resolver built from the settings.
	Resolver resolver.Resolver
}

// RunDaemon parses args, runs until ctx is cancelled and returns once the
// worker has exited.
func RunDaemon(ctx context.Context, args []string) error {
	return (&Daemon{}).Run(ctx, args)
}

// Run starts the daemon with [directory] [destination] positional args.
func (d *Daemon) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(brand.LowerName, flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [directory] [destination]\n\n%s\n\n", brand.LowerName, brand.Description)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintf(fs.Output(), "%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)
		return nil
	}

	cfg, err := config.Load(fs.Args())
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Output: d.Output,
		JSON:   cfg.LogJSON,
	})
	logging.SetDefault(logger)

	logger.Info("Starting",
		"version", brand.Version,
		"directory", cfg.Directory,
		"destination", cfg.Destination)

	res := d.Resolver
	if res == nil {
		res = resolver.NewDNS(resolver.Options{
			Servers: cfg.Nameservers,
			Timeout: cfg.ResolverTimeout,
			Logger:  logger,
		})
	}

	reg := metrics.New()
	proc := processor.New(cfg, processor.Options{
		Resolver: res,
		Logger:   logger,
		Metrics:  reg,
	})

	var srv *http.Server
	if cfg.MetricsListen != "" {
		srv, err = serve(cfg.MetricsListen, newMux(cfg, reg, proc), logger)
		if err != nil {
			return err
		}
	}

	h := processor.Start(proc)

	select {
	case <-ctx.Done():
		logger.Info("Received signal, shutting down...")
	case <-h.Done():
		// The worker gave up during load; keep running until told to stop.
		logger.Warn("Worker exited, waiting for signal")
		<-ctx.Done()
	}

	h.Stop()
	h.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Stopped")
	return nil
}

// newMux exposes metrics and health probes.
func newMux(cfg *config.Config, reg *metrics.Registry, proc *processor.Processor) *http.ServeMux {
	checker := health.NewChecker(nil)
	checker.Register("directory", health.CheckDirectory(cfg.Directory))
	checker.Register("destination", health.CheckParentDir(cfg.Destination))
	checker.Register("regeneration", health.CheckRegeneration(proc, metrics.ResultOK))

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/healthz", checker.Handler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	mux.Handle("/livez", health.LivenessHandler())
	return mux
}

// serve binds addr synchronously so a bad address fails startup.
func serve(addr string, handler http.Handler, logger *logging.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics listener on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv, nil
}
