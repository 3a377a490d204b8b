// Package group parses *.group files and renders their firewall rule blocks.
//
// A group file is split into sections:
//
//	[Domains]
//	example.com 5
//	[Static Rules]
//	IN SSH(ACCEPT) -source +management
//	[Dynamic Rules]
//	in accept tcp warn
//
// Domains are ingested into the shared registry. Dynamic rules expand once
// per usable domain when the group is rendered.
package group

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"grimm.is/dynipsets/internal/domain"
	"grimm.is/dynipsets/internal/logging"
	"grimm.is/dynipsets/internal/rule"
)

// ErrContentBeforeSection is returned when a line precedes every section header.
var ErrContentBeforeSection = errors.New("content before first section header")

// FileExt is the extension of group declaration files.
const FileExt = ".group"

// section is the parser state.
type section int

const (
	sectionNone section = iota
	sectionDomains
	sectionStaticRules
	sectionDynamicRules
)

// parseHeader returns the section a header line switches to.
func parseHeader(line string) (section, bool) {
	switch strings.ToLower(line) {
	case "[domains]":
		return sectionDomains, true
	case "[static rules]":
		return sectionStaticRules, true
	case "[dynamic rules]":
		return sectionDynamicRules, true
	}
	return sectionNone, false
}

// Group is an immutable bundle of domains, static rules and rule templates.
type Group struct {
	name         string
	domains      []string
	staticRules  []string
	dynamicRules []rule.Template
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Domains returns the referenced FQDNs in declaration order.
func (g *Group) Domains() []string { return slices.Clone(g.domains) }

// StaticRules returns the verbatim rule lines in declaration order.
func (g *Group) StaticRules() []string { return slices.Clone(g.staticRules) }

// DynamicRules returns the templates in declaration order.
func (g *Group) DynamicRules() []rule.Template { return slices.Clone(g.dynamicRules) }

// NameFromPath derives the group name from a file path: the base name up to the first dot.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// Load reads the group file at path.
func Load(ctx context.Context, path string, reg *domain.Registry, env domain.Env) (*Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open group %s: %w", path, err)
	}
	defer f.Close()

	g, err := Read(ctx, NameFromPath(path), f, reg, env)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", path, err)
	}
	return g, nil
}

// Read parses a group declaration from r. Domains found in the [Domains]
// section are ingested into reg as they are read.
//
// Bad domain and template lines are skipped. Any line before the first
// header, or a read error, fails the whole group.
func Read(ctx context.Context, name string, r io.Reader, reg *domain.Registry, env domain.Env) (*Group, error) {
	logger := logging.OrDefault(env.Logger).WithComponent("group")
	g := &Group{name: name}
	state := sectionNone

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if s, ok := parseHeader(line); ok {
			state = s
			continue
		}

		switch state {
		case sectionNone:
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrContentBeforeSection)

		case sectionDomains:
			d, err := domain.Parse(ctx, line, env)
			if err != nil {
				logger.Warn("Failed to load domain", "group", name, "line", line)
				continue
			}
			if !slices.Contains(g.domains, d.FQDN()) {
				g.domains = append(g.domains, d.FQDN())
			}
			reg.Ingest(d)

		case sectionStaticRules:
			if !slices.Contains(g.staticRules, line) {
				g.staticRules = append(g.staticRules, line)
			}

		case sectionDynamicRules:
			t, err := rule.Parse(line)
			if err != nil {
				logger.Debug("Skipping dynamic rule", "group", name, "error", err)
				continue
			}
			if !slices.Contains(g.dynamicRules, t) {
				g.dynamicRules = append(g.dynamicRules, t)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", lineNo+1, err)
	}

	return g, nil
}

// Render returns the group block. Every template is expanded for every
// usable domain, template-major.
func (g *Group) Render(reg *domain.Registry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[group %s]\n\n", g.name)
	for _, line := range g.staticRules {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, t := range g.dynamicRules {
		for _, fqdn := range g.domains {
			d, ok := reg.Lookup(fqdn)
			if !ok || !d.Usable() {
				continue
			}
			b.WriteString(t.Expand(d.Name()))
		}
	}
	b.WriteByte('\n')
	return b.String()
}
