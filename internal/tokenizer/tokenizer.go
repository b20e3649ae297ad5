// Package tokenizer feeds clock snapshots into a clocksync.Synchronizer and
// resolves the timestamps of trace events to trace time.
package tokenizer

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/seqstate"
	"github.com/mrzor/trace-clocksync/internal/store"
)

// SnapshotClock is one reading of a SnapshotPacket.
type SnapshotClock struct {
	ClockID          uint32
	Timestamp        int64
	UnitMultiplierNs int64 // 0 means 1
	IsIncremental    bool
}

// SnapshotPacket is a clock snapshot as it appears in a trace.
type SnapshotPacket struct {
	Clocks []SnapshotClock
	// PrimaryTraceClock, when non-zero, selects the trace-time clock.
	PrimaryTraceClock uint32
}

// SnapshotSink receives one row per clock of every accepted snapshot.
type SnapshotSink interface {
	InsertClockSnapshot(row store.ClockSnapshotRow) error
}

// Tokenizer owns the synchronizer of one machine.
type Tokenizer struct {
	sync      *clocksync.Synchronizer
	seqs      *seqstate.Manager
	sink      SnapshotSink
	machineID uint32
	log       zerolog.Logger
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithSnapshotSink persists accepted snapshots.
func WithSnapshotSink(sink SnapshotSink) Option {
	return func(t *Tokenizer) { t.sink = sink }
}

// WithMachineID tags rows with the machine the trace was recorded on.
func WithMachineID(id uint32) Option {
	return func(t *Tokenizer) { t.machineID = id }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Tokenizer) { t.log = log }
}

// New creates a Tokenizer over sync. seqs may be shared with other
// tokenizers of the same trace; nil creates a private one.
func New(sync *clocksync.Synchronizer, seqs *seqstate.Manager, opts ...Option) *Tokenizer {
	if seqs == nil {
		seqs = seqstate.NewManager()
	}
	t := &Tokenizer{
		sync: sync,
		seqs: seqs,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Synchronizer returns the underlying synchronizer.
func (t *Tokenizer) Synchronizer() *clocksync.Synchronizer { return t.sync }

// Sequences returns the sequence state manager.
func (t *Tokenizer) Sequences() *seqstate.Manager { return t.seqs }

// ClockFor maps a raw clock id seen on seq to its clock domain.
func (t *Tokenizer) ClockFor(seq seqstate.Key, rawClockID uint32) (clocksync.ClockID, error) {
	if !clocksync.IsSequenceClock(rawClockID) {
		return clocksync.GlobalClock(rawClockID), nil
	}
	if seq.SeqID == 0 {
		return clocksync.ClockID{}, fmt.Errorf("%w: clock %d used outside of a sequence",
			clocksync.ErrSequenceClockUnresolved, rawClockID)
	}
	return clocksync.SequenceToGlobalClock(seq.TraceFileID, seq.SeqID, rawClockID), nil
}

// ParseClockSnapshot adds a snapshot to the synchronizer and records one row
// per clock. An invalid snapshot is skipped and does not return an error;
// only a malformed packet does.
func (t *Tokenizer) ParseClockSnapshot(seq seqstate.Key, pkt *SnapshotPacket) error {
	if pkt.PrimaryTraceClock != 0 {
		id, err := t.ClockFor(seq, pkt.PrimaryTraceClock)
		if err != nil {
			return fmt.Errorf("primary trace clock: %w", err)
		}
		if err := t.sync.SetTraceTimeClock(id); err != nil {
			return err
		}
	}

	cts := make([]clocksync.ClockTimestamp, 0, len(pkt.Clocks))
	for _, c := range pkt.Clocks {
		id, err := t.ClockFor(seq, c.ClockID)
		if err != nil {
			return fmt.Errorf("clock snapshot on %s: %w", seq, err)
		}
		unit := c.UnitMultiplierNs
		if unit == 0 {
			unit = 1
		}
		cts = append(cts, clocksync.NewScaledClockTimestamp(id, c.Timestamp, unit, c.IsIncremental))
	}

	snapshotID, err := t.sync.AddSnapshot(cts)
	if err != nil {
		t.seqs.AddIssue(seq, err.Error())
		return nil
	}

	fallback, hasFallback := t.sync.ToTraceTimeFromSnapshot(cts)
	traceTs := make([]int64, len(cts))
	converted := make([]bool, len(cts))
	for i, ct := range cts {
		// Incremental clocks were just reset to the snapshot value.
		raw := ct.Timestamp
		if ct.Clock.IsIncremental {
			raw = 0
		}
		if v, ok := t.sync.ToTraceTime(ct.Clock.ID, raw); ok {
			traceTs[i], converted[i] = v, true
		} else if hasFallback {
			traceTs[i], converted[i] = fallback, true
		}
	}

	first := -1
	for i := range cts {
		if !converted[i] {
			continue
		}
		if first < 0 {
			first = i
			continue
		}
		if traceTs[i] != traceTs[first] {
			t.log.Warn().
				Uint32("snapshot_id", snapshotID).
				Stringer("clock", cts[i].Clock.ID).
				Int64("trace_ts", traceTs[i]).
				Stringer("reference_clock", cts[first].Clock.ID).
				Int64("reference_trace_ts", traceTs[first]).
				Msg("clock snapshot does not convert to a single trace time")
			t.seqs.AddIssue(seq, fmt.Sprintf("snapshot %d: %s disagrees with %s", snapshotID, cts[i].Clock.ID, cts[first].Clock.ID))
		}
	}

	if t.sink == nil {
		return nil
	}
	for i, ct := range cts {
		if !converted[i] {
			continue
		}
		name, _ := clocksync.BuiltinClockName(ct.Clock.ID.Clock)
		row := store.ClockSnapshotRow{
			TS:         traceTs[i],
			Clock:      ct.Clock.ID,
			ClockName:  name,
			ClockValue: ct.Timestamp * ct.Clock.UnitMultiplierNs,
			SnapshotID: snapshotID,
			MachineID:  t.machineID,
		}
		if err := t.sink.InsertClockSnapshot(row); err != nil {
			return fmt.Errorf("storing snapshot %d: %w", snapshotID, err)
		}
	}
	return nil
}

// SetSequenceDefaults records the clock used by events of seq that carry no
// clock id.
func (t *Tokenizer) SetSequenceDefaults(seq seqstate.Key, defaultClockID uint32) {
	t.seqs.SetDefaultClock(seq, defaultClockID)
}

// ResolveTimestamp converts the timestamp of an event to trace time. A zero
// clockID selects the sequence's default clock, or the trace-time clock when
// the sequence has none. Failures return a *clocksync.ConversionError; the
// event should be dropped.
func (t *Tokenizer) ResolveTimestamp(seq seqstate.Key, clockID uint32, ts, byteOffset int64) (int64, error) {
	id, err := t.eventClock(seq, clockID)
	if err != nil {
		return 0, err
	}
	v, ok := t.sync.ToTraceTimeAt(id, ts, byteOffset)
	if !ok {
		target := t.sync.TraceTimeClock()
		return 0, &clocksync.ConversionError{
			Kind:         t.sync.FailureKind(id, target),
			Src:          id,
			Target:       target,
			SrcTimestamp: ts,
			ByteOffset:   byteOffset,
		}
	}
	return v, nil
}

// EventClock returns the clock domain of an event's timestamp.
func (t *Tokenizer) EventClock(seq seqstate.Key, clockID uint32) (clocksync.ClockID, error) {
	return t.eventClock(seq, clockID)
}

func (t *Tokenizer) eventClock(seq seqstate.Key, clockID uint32) (clocksync.ClockID, error) {
	if clockID == 0 {
		def, ok := t.seqs.DefaultClock(seq)
		if !ok {
			return t.sync.TraceTimeClock(), nil
		}
		clockID = def
	}
	return t.ClockFor(seq, clockID)
}
