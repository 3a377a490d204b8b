package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/dynipsets/internal/config"
	"grimm.is/dynipsets/internal/logging"
	"grimm.is/dynipsets/internal/metrics"
	"grimm.is/dynipsets/internal/processor"
	"grimm.is/dynipsets/internal/resolver"
	"grimm.is/dynipsets/internal/testutil"
)

func staticResolver() resolver.Resolver {
	return testutil.StaticResolver(map[string][]string{"example.com": {"93.184.216.34"}})
}

func runAsync(ctx context.Context, d *Daemon, args []string) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx, args) }()
	return errCh
}

func TestDaemon_RunPublishesAndStops(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "live", "cluster.fw")
	testutil.WriteFile(t, filepath.Join(dir, "dynipsets.hcl"), `poll_interval = "10ms"`+"\n")
	testutil.WriteFile(t, filepath.Join(dir, "static", "cluster.fw"), "[OPTIONS]\nenable: 1\n")
	testutil.WriteFile(t, filepath.Join(dir, "web.group"), "[Domains]\nexample.com 1\n[Dynamic Rules]\nin accept tcp warn\n")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := &Daemon{Output: io.Discard, Resolver: staticResolver()}
	errCh := runAsync(ctx, d, []string{dir, dest})

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(dest)
		return err == nil && strings.HasSuffix(string(data), "# DYNAMIC CONTENT END\n\n")
	}, 5*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[IPSET domain_example_com]")
	assert.Contains(t, string(data), "IN tcp(ACCEPT) -source +dc/domain_example_com -log warning")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_WorkerExitWaitsForSignal(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "absent")

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{Output: io.Discard, Resolver: staticResolver()}
	errCh := runAsync(ctx, d, []string{missing, filepath.Join(dir, "cluster.fw")})

	select {
	case err := <-errCh:
		t.Fatalf("daemon returned before signal: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_InvalidSettings(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "dynipsets.hcl"), `poll_interval = "often"`+"\n")

	d := &Daemon{Output: io.Discard, Resolver: staticResolver()}
	err := d.Run(context.Background(), []string{dir, filepath.Join(dir, "cluster.fw")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestDaemon_BadMetricsAddress(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "dynipsets.hcl"), `metrics_listen = "no-port"`+"\n")

	d := &Daemon{Output: io.Discard, Resolver: staticResolver()}
	err := d.Run(context.Background(), []string{dir, filepath.Join(dir, "cluster.fw")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics listener")
}

func TestDaemon_Version(t *testing.T) {
	d := &Daemon{Output: io.Discard}
	assert.NoError(t, d.Run(context.Background(), []string{"-version"}))
}

func TestNewMux_ServesProbes(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(config.NewPaths(dir, filepath.Join(dir, "cluster.fw")))
	proc := processor.New(cfg, processor.Options{Resolver: staticResolver(), Logger: logging.Discard()})

	srv := httptest.NewServer(newMux(cfg, metrics.New(), proc))
	defer srv.Close()

	for path, want := range map[string]int{
		"/livez":   http.StatusOK,
		"/readyz":  http.StatusOK,
		"/healthz": http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
}
