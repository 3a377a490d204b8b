package processor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grimm.is/dynipsets/internal/domain"
	"grimm.is/dynipsets/internal/group"
)

// DomainsFileExt is the extension of flat domain list files.
const DomainsFileExt = ".domains"

// Load reads every *.group and *.domains file in the working directory.
// It returns false when a stop was requested or the directory is unreadable.
func (p *Processor) Load(ctx context.Context, lc *Lifecycle) bool {
	entries, err := os.ReadDir(p.cfg.Directory)
	if err != nil {
		p.logger.Error("Cannot list working directory", "directory", p.cfg.Directory, "error", err)
		return false
	}

	for _, entry := range entries {
		if lc.StopRequested() {
			p.logger.Info("Stop requested during load")
			return false
		}
		path := filepath.Join(p.cfg.Directory, entry.Name())
		// Stat follows symlinks, so linked input files are loaded too.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		switch {
		case strings.HasSuffix(path, group.FileExt):
			p.loadGroup(ctx, path)
		case strings.HasSuffix(path, DomainsFileExt):
			p.loadDomainList(ctx, path)
		default:
			p.logger.Info("Skipping file", "path", path)
		}
	}

	p.logger.Info("Initialization finished", "groups", len(p.groups), "domains", p.registry.Len())
	if p.metrics != nil {
		p.metrics.Groups.Set(float64(len(p.groups)))
		p.metrics.Domains.Set(float64(p.registry.Len()))
	}
	return true
}

func (p *Processor) loadGroup(ctx context.Context, path string) {
	p.logger.Info("Loading group", "name", group.NameFromPath(path))

	g, err := group.Load(ctx, path, p.registry, p.env)
	if err != nil {
		p.logger.Warn("Discarding group", "path", path, "error", err)
		return
	}
	p.groups = append(p.groups, g)
}

// loadDomainList ingests every valid declaration in a *.domains file.
// An unopenable file is treated as absent. Reading stops at the first
// unreadable line.
func (p *Processor) loadDomainList(ctx context.Context, path string) {
	n, err := readDomainList(ctx, path, p.registry, p.env)
	if err != nil {
		p.logger.Debug("Domain list incomplete", "path", path, "error", err)
	}
	if n > 0 || err == nil {
		p.logger.Info("Loaded domains", "path", path, "domains", n)
	}
}

func readDomainList(ctx context.Context, path string, reg *domain.Registry, env domain.Env) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		d, err := domain.Parse(ctx, scanner.Text(), env)
		if err != nil {
			continue
		}
		reg.Ingest(d)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}
