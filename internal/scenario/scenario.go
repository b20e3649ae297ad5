package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/seqstate"
)

// Scenario is a sequence of steps replayed against one synchronizer.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario shows.
	Description string `yaml:"description"`

	// MachineID other than 0 replays the trace as recorded on a remote
	// machine, so clock offsets apply.
	MachineID uint32 `yaml:"machine_id,omitempty"`

	// TraceClock overrides the default BOOTTIME trace-time clock.
	TraceClock string `yaml:"trace_clock,omitempty"`

	// CacheSeed seeds cache eviction.
	CacheSeed uint64 `yaml:"cache_seed,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Snapshot         *SnapshotStep  `yaml:"snapshot,omitempty"`
	Convert          *ConvertStep   `yaml:"convert,omitempty"`
	ToTraceTime      *TraceTimeStep `yaml:"to_trace_time,omitempty"`
	SetTraceClock    *ClockRef      `yaml:"set_trace_clock,omitempty"`
	SetOffset        *OffsetStep    `yaml:"set_offset,omitempty"`
	SequenceDefaults *DefaultsStep  `yaml:"sequence_defaults,omitempty"`
	Event            *EventStep     `yaml:"event,omitempty"`
	FindPath         *FindPathStep  `yaml:"find_path,omitempty"`
}

// SnapshotStep is a clock snapshot emitted on one sequence.
type SnapshotStep struct {
	SeqID       uint32          `yaml:"seq_id,omitempty"`
	TraceFileID uint32          `yaml:"trace_file_id,omitempty"`
	Primary     string          `yaml:"primary,omitempty"`
	Clocks      []SnapshotClock `yaml:"clocks"`
}

// SnapshotClock is one reading of a SnapshotStep.
type SnapshotClock struct {
	Clock       string `yaml:"clock"`
	Ts          int64  `yaml:"ts"`
	Unit        int64  `yaml:"unit,omitempty"`
	Incremental bool   `yaml:"incremental,omitempty"`
}

// ClockRef names a clock domain.
type ClockRef struct {
	Clock       string `yaml:"clock"`
	SeqID       uint32 `yaml:"seq_id,omitempty"`
	TraceFileID uint32 `yaml:"trace_file_id,omitempty"`
}

// UnmarshalYAML accepts a bare clock name or id as well as a mapping.
func (r *ClockRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		r.Clock = value.Value
		return nil
	}
	type plain ClockRef
	return value.Decode((*plain)(r))
}

func (r ClockRef) key() seqstate.Key {
	return seqstate.Key{TraceFileID: r.TraceFileID, SeqID: r.SeqID}
}

// ConvertStep converts Ts from Src to Target.
type ConvertStep struct {
	Src    ClockRef `yaml:"src"`
	Ts     int64    `yaml:"ts"`
	Target ClockRef `yaml:"target"`
}

// TraceTimeStep converts Ts from Clock to trace time.
type TraceTimeStep struct {
	Clock ClockRef `yaml:"clock"`
	Ts    int64    `yaml:"ts"`
}

// OffsetStep registers a remote clock offset.
type OffsetStep struct {
	Clock ClockRef `yaml:"clock"`
	Ns    int64    `yaml:"ns"`
}

// DefaultsStep sets the default timestamp clock of a sequence.
type DefaultsStep struct {
	SeqID       uint32 `yaml:"seq_id"`
	TraceFileID uint32 `yaml:"trace_file_id,omitempty"`
	Clock       string `yaml:"clock"`
}

// EventStep resolves an event timestamp the way a trace event is resolved.
// Clock 0 or empty uses the sequence default.
type EventStep struct {
	SeqID       uint32 `yaml:"seq_id,omitempty"`
	TraceFileID uint32 `yaml:"trace_file_id,omitempty"`
	Clock       string `yaml:"clock,omitempty"`
	Ts          int64  `yaml:"ts"`
}

// FindPathStep prints the path between two clocks.
type FindPathStep struct {
	Src    ClockRef `yaml:"src"`
	Target ClockRef `yaml:"target"`
}

// Load reads and parses a scenario YAML file. Unknown fields are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse parses a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: expected exactly one action, got %d", i, n)
		}
		if step.Snapshot != nil && len(step.Snapshot.Clocks) == 0 {
			return fmt.Errorf("steps[%d]: snapshot has no clocks", i)
		}
	}
	if s.TraceClock != "" {
		if _, err := clocksync.ParseClock(s.TraceClock); err != nil {
			return fmt.Errorf("trace_clock: %w", err)
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Snapshot != nil,
		s.Convert != nil,
		s.ToTraceTime != nil,
		s.SetTraceClock != nil,
		s.SetOffset != nil,
		s.SequenceDefaults != nil,
		s.Event != nil,
		s.FindPath != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
