// Package rule parses dynamic rule templates and expands them per domain.
//
// A template line has four space-separated tokens:
//
//	<in|out> <accept|drop|reject> <protocol> <loglevel>
//
// and expands into one Proxmox VE firewall rule referencing the domain's ipset:
//
//	IN tcp(ACCEPT) -source +dc/domain_example_com -log warning
package rule

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTemplate is returned for lines that are not valid templates.
var ErrInvalidTemplate = errors.New("invalid rule template")

// Direction is the traffic direction a rule applies to.
type Direction int

const (
	In Direction = iota
	Out
)

// ParseDirection matches "in" or "out", case-insensitively.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "in":
		return In, true
	case "out":
		return Out, true
	}
	return 0, false
}

func (d Direction) String() string {
	if d == Out {
		return "OUT"
	}
	return "IN"
}

// Flag returns the address match flag: source for inbound, dest for outbound.
func (d Direction) Flag() string {
	if d == Out {
		return "dest"
	}
	return "source"
}

// Action is the verdict of a rule.
type Action int

const (
	Accept Action = iota
	Drop
	Reject
)

// ParseAction matches accept, drop or reject, case-insensitively.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(s) {
	case "accept":
		return Accept, true
	case "drop":
		return Drop, true
	case "reject":
		return Reject, true
	}
	return 0, false
}

func (a Action) String() string {
	switch a {
	case Drop:
		return "DROP"
	case Reject:
		return "REJECT"
	}
	return "ACCEPT"
}

// LogLevel is the firewall's per-rule log level.
type LogLevel int

const (
	NoLog LogLevel = iota
	Emergency
	Alert
	Critical
	Error
	Warning
	Notice
	Info
	Debug
)

var logLevelNames = map[string]LogLevel{
	"nolog":     NoLog,
	"none":      NoLog,
	"emergency": Emergency,
	"emerg":     Emergency,
	"alert":     Alert,
	"critical":  Critical,
	"crit":      Critical,
	"error":     Error,
	"err":       Error,
	"warning":   Warning,
	"warn":      Warning,
	"notice":    Notice,
	"ntc":       Notice,
	"info":      Info,
	"inf":       Info,
	"debug":     Debug,
	"dbg":       Debug,
}

// ParseLogLevel matches a log level name or synonym, case-insensitively.
func ParseLogLevel(s string) (LogLevel, bool) {
	l, ok := logLevelNames[strings.ToLower(s)]
	return l, ok
}

// String returns the canonical form the firewall expects after -log.
func (l LogLevel) String() string {
	switch l {
	case Emergency:
		return "emerg"
	case Alert:
		return "alert"
	case Critical:
		return "crit"
	case Error:
		return "err"
	case Warning:
		return "warning"
	case Notice:
		return "notice"
	case Info:
		return "info"
	case Debug:
		return "debug"
	}
	return "nolog"
}

// Template is a parsed dynamic rule. It is comparable; equal templates dedupe.
type Template struct {
	Direction Direction
	Action    Action
	Protocol  string
	LogLevel  LogLevel
}

// Parse parses a template line.
func Parse(line string) (Template, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 4 {
		return Template{}, fmt.Errorf("%w: want 4 tokens, got %d in %q", ErrInvalidTemplate, len(parts), line)
	}

	dir, ok := ParseDirection(parts[0])
	if !ok {
		return Template{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidTemplate, parts[0])
	}
	action, ok := ParseAction(parts[1])
	if !ok {
		return Template{}, fmt.Errorf("%w: unknown action %q", ErrInvalidTemplate, parts[1])
	}
	level, ok := ParseLogLevel(parts[3])
	if !ok {
		return Template{}, fmt.Errorf("%w: unknown log level %q", ErrInvalidTemplate, parts[3])
	}

	return Template{
		Direction: dir,
		Action:    action,
		Protocol:  parts[2],
		LogLevel:  level,
	}, nil
}

// Expand renders the rule for the ipset of the domain with the given
// sanitized name, newline terminated.
func (t Template) Expand(name string) string {
	return fmt.Sprintf("%s %s(%s) -%s +dc/domain_%s -log %s\n",
		t.Direction, t.Protocol, t.Action, t.Direction.Flag(), name, t.LogLevel)
}
