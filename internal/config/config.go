// Package config loads clocksync configuration from the environment.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
)

// CustomAttribute is a user-defined span attribute computed from an event.
type CustomAttribute struct {
	Name       string
	Expression string
}

// Config holds the settings shared by every clocksync command.
type Config struct {
	// TraceClock is the trace-time clock, by name or numeric id.
	TraceClock string `env:"CLOCKSYNC_TRACE_CLOCK" envDefault:"BOOTTIME"`
	// MachineID is 0 for traces recorded on this host.
	MachineID uint32 `env:"CLOCKSYNC_MACHINE_ID" envDefault:"0"`
	// ClockOffsets is a NAME_OR_ID=ns list applied to remote machines.
	ClockOffsets string `env:"CLOCKSYNC_CLOCK_OFFSETS"`
	CacheSeed    uint64 `env:"CLOCKSYNC_CACHE_SEED" envDefault:"0"`
	DBPath       string `env:"CLOCKSYNC_DB"`
	LogLevel     string `env:"CLOCKSYNC_LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"CLOCKSYNC_LOG_FORMAT" envDefault:"json"`
	// Attributes is a name=expr;... list of custom span attributes.
	Attributes string `env:"CLOCKSYNC_ATTRIBUTES"`
	// TraceIDExpr groups exported spans into traces.
	TraceIDExpr string `env:"CLOCKSYNC_TRACE_ID_EXPR"`

	OTEL OTELConfig
}

// Parse reads the configuration from the process environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ParseEnvironment reads the configuration from the given variables only.
func ParseEnvironment(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// TraceClockID resolves TraceClock.
func (c *Config) TraceClockID() (clocksync.ClockID, error) {
	raw, err := clocksync.ParseClock(c.TraceClock)
	if err != nil {
		return clocksync.ClockID{}, fmt.Errorf("CLOCKSYNC_TRACE_CLOCK: %w", err)
	}
	if clocksync.IsSequenceClock(raw) {
		return clocksync.ClockID{}, fmt.Errorf("CLOCKSYNC_TRACE_CLOCK: %w: %d",
			clocksync.ErrSequenceClockUnresolved, raw)
	}
	return clocksync.GlobalClock(raw), nil
}

// CustomAttributes parses Attributes.
func (c *Config) CustomAttributes() ([]CustomAttribute, error) {
	return ParseAttributeString(c.Attributes)
}

// Offsets parses ClockOffsets.
func (c *Config) Offsets() (map[clocksync.ClockID]int64, error) {
	return ParseClockOffsets(c.ClockOffsets)
}

// ParseAttributeString parses "name=expr;name2=expr2". Empty sections are
// ignored; only the first '=' separates name from expression.
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var attrs []CustomAttribute
	for _, section := range strings.Split(s, ";") {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		name, expression, ok := strings.Cut(section, "=")
		if !ok {
			return nil, fmt.Errorf("invalid attribute format %q: expected name=expression", section)
		}
		name = strings.TrimSpace(name)
		expression = strings.TrimSpace(expression)
		if name == "" {
			return nil, fmt.Errorf("invalid attribute %q: name cannot be empty", section)
		}
		if expression == "" {
			return nil, fmt.Errorf("invalid attribute %q: expression cannot be empty", section)
		}
		attrs = append(attrs, CustomAttribute{Name: name, Expression: expression})
	}
	return attrs, nil
}

// ParseClockOffsets parses "BOOTTIME=-10000,3=25" into per-clock offsets
// in nanoseconds.
func ParseClockOffsets(s string) (map[clocksync.ClockID]int64, error) {
	out := make(map[clocksync.ClockID]int64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid clock offset %q: expected CLOCK=ns", pair)
		}
		raw, err := clocksync.ParseClock(name)
		if err != nil {
			return nil, fmt.Errorf("invalid clock offset %q: %w", pair, err)
		}
		ns, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid clock offset %q: %w", pair, err)
		}
		out[clocksync.GlobalClock(raw)] = ns
	}
	return out, nil
}

// FormatClockOffsets is the inverse of ParseClockOffsets, sorted by clock.
func FormatClockOffsets(offsets map[clocksync.ClockID]int64) string {
	ids := make([]clocksync.ClockID, 0, len(offsets))
	for id := range offsets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s=%d", id, offsets[id])
	}
	return strings.Join(parts, ",")
}
