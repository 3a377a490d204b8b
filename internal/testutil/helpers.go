// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"grimm.is/dynipsets/internal/resolver"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// StaticResolver answers from a fixed table. Unknown names fail with
// resolver.ErrNoAnswer. Addresses must parse.
func StaticResolver(table map[string][]string) resolver.Func {
	return func(_ context.Context, fqdn string) ([]netip.Addr, error) {
		ss, ok := table[fqdn]
		if !ok {
			return nil, resolver.ErrNoAnswer
		}
		out := make([]netip.Addr, 0, len(ss))
		for _, s := range ss {
			out = append(out, netip.MustParseAddr(s))
		}
		return out, nil
	}
}
