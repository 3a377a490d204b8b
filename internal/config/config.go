package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/dynipsets/internal/brand"
	"grimm.is/dynipsets/internal/logging"
)

// DefaultPollInterval is how long the processor idles between polls.
const DefaultPollInterval = 15 * time.Second

// Paths is the file layout derived from the positional arguments.
type Paths struct {
	Directory   string
	Destination string
	Generated   string
	Static      string
	Settings    string
}

// NewPaths derives the layout from a working directory and destination path.
// The directory is normalised to end in a slash.
func NewPaths(directory, destination string) Paths {
	if !strings.HasSuffix(directory, "/") {
		directory += "/"
	}
	filename := destination
	if i := strings.LastIndexByte(destination, '/'); i >= 0 {
		filename = destination[i+1:]
	}
	return Paths{
		Directory:   directory,
		Destination: destination,
		Generated:   directory + "generated/" + filename,
		Static:      directory + "static/" + filename,
		Settings:    directory + brand.SettingsFileName,
	}
}

// PathsFromArgs reads [directory] [destination] from args, using the brand
// defaults for missing values.
func PathsFromArgs(args []string) Paths {
	directory := brand.GetDirectory()
	destination := brand.GetDestination()
	if len(args) > 0 && args[0] != "" {
		directory = args[0]
	}
	if len(args) > 1 && args[1] != "" {
		destination = args[1]
	}
	return NewPaths(directory, destination)
}

// Settings mirrors the HCL settings file.
type Settings struct {
	PollInterval    string   `hcl:"poll_interval,optional"`
	LogLevel        string   `hcl:"log_level,optional"`
	LogJSON         bool     `hcl:"log_json,optional"`
	Nameservers     []string `hcl:"nameservers,optional"`
	ResolverTimeout string   `hcl:"resolver_timeout,optional"`
	MetricsListen   string   `hcl:"metrics_listen,optional"`
	LogDiff         bool     `hcl:"log_diff,optional"`
}

// Config is the validated runtime configuration.
type Config struct {
	Paths

	PollInterval    time.Duration
	LogLevel        logging.Level
	LogJSON         bool
	Nameservers     []string
	ResolverTimeout time.Duration
	MetricsListen   string
	LogDiff         bool
}

// Default returns the configuration used when no settings file exists.
func Default(paths Paths) *Config {
	return &Config{
		Paths:        paths,
		PollInterval: DefaultPollInterval,
		LogLevel:     logging.LevelInfo,
	}
}

// Load builds the configuration for args, reading the settings file when present.
func Load(args []string) (*Config, error) {
	paths := PathsFromArgs(args)

	data, err := os.ReadFile(paths.Settings)
	if errors.Is(err, os.ErrNotExist) {
		return Default(paths), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	return LoadSettings(paths, data)
}

// LoadSettings decodes HCL settings for paths.
func LoadSettings(paths Paths, data []byte) (*Config, error) {
	var s Settings
	if err := hclsimple.Decode(filepath.Base(paths.Settings), data, evalContext(), &s); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", paths.Settings, err)
	}
	return s.Apply(Default(paths))
}

// Apply merges the settings into cfg and validates the result.
func (s Settings) Apply(cfg *Config) (*Config, error) {
	var errs ValidationErrors

	if s.PollInterval != "" {
		if d, err := time.ParseDuration(s.PollInterval); err != nil {
			errs = append(errs, ValidationError{Field: "poll_interval", Message: err.Error()})
		} else {
			cfg.PollInterval = d
		}
	}
	if s.ResolverTimeout != "" {
		if d, err := time.ParseDuration(s.ResolverTimeout); err != nil {
			errs = append(errs, ValidationError{Field: "resolver_timeout", Message: err.Error()})
		} else {
			cfg.ResolverTimeout = d
		}
	}

	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: err.Error()})
	}
	cfg.LogLevel = level
	cfg.LogJSON = s.LogJSON
	cfg.Nameservers = s.Nameservers
	cfg.MetricsListen = s.MetricsListen
	cfg.LogDiff = s.LogDiff

	errs = append(errs, cfg.Validate()...)
	if errs.HasErrors() {
		return nil, errs
	}
	return cfg, nil
}

// Validate checks the runtime configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	if c.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "poll_interval", Message: "must be positive"})
	}
	if c.ResolverTimeout < 0 {
		errs = append(errs, ValidationError{Field: "resolver_timeout", Message: "must not be negative"})
	}
	for _, ns := range c.Nameservers {
		if strings.TrimSpace(ns) == "" {
			errs = append(errs, ValidationError{Field: "nameservers", Message: "empty entry"})
		}
	}
	return errs
}

// evalContext exposes the process environment to the settings file as env.NAME.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}
