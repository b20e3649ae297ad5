// Package wire defines the fixed-layout records a trace producer writes to
// the ring buffer.
//
// Records are packed little-endian structs. Every record starts with a
// Header whose first byte selects the record type.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Record type constants matching the producer's C definitions.
//
//nolint:revive,staticcheck // ALL_CAPS naming matches C conventions
const (
	RECORD_SNAPSHOT          = 1
	RECORD_EVENT             = 2
	RECORD_SEQUENCE_DEFAULTS = 3
)

// MaxSnapshotClocks is the capacity of SnapshotRecord.Clocks.
const MaxSnapshotClocks = 8

// FlagIncremental marks a clock whose readings are deltas.
const FlagIncremental = 1 << 0

// ErrShortRecord is returned when a sample is smaller than its record type.
var ErrShortRecord = errors.New("short record")

// Header is shared by every record.
type Header struct {
	Type        uint8
	_           [3]byte // Padding
	SeqID       uint32  // Trace-writer sequence, 0 if none
	TraceFileID uint32
}

// SnapshotClock is one clock reading of a SnapshotRecord.
type SnapshotClock struct {
	ClockID uint32
	Flags   uint32
	Unit    uint64 // Nanoseconds per tick, 0 means 1
	Ts      int64
}

// Incremental reports whether the clock carries deltas.
func (c *SnapshotClock) Incremental() bool {
	return c.Flags&FlagIncremental != 0
}

// SnapshotRecord carries up to MaxSnapshotClocks readings taken at the same
// instant.
type SnapshotRecord struct {
	Header
	NumClocks         uint32
	PrimaryTraceClock uint32 // 0 leaves the trace-time clock unchanged
	Clocks            [MaxSnapshotClocks]SnapshotClock
}

// Readings returns the populated clocks.
func (r *SnapshotRecord) Readings() []SnapshotClock {
	n := min(int(r.NumClocks), MaxSnapshotClocks)
	return r.Clocks[:n]
}

// EventRecord is a timed event of a sequence.
type EventRecord struct {
	Header
	ClockID  uint32 // 0 means the sequence's default clock
	Ts       int64
	Duration int64
	Name     [32]byte
}

// EventName returns Name up to the first NUL byte.
func (r *EventRecord) EventName() string {
	if i := bytes.IndexByte(r.Name[:], 0); i >= 0 {
		return string(r.Name[:i])
	}
	return string(r.Name[:])
}

// SequenceDefaultsRecord sets the default timestamp clock of a sequence.
type SequenceDefaultsRecord struct {
	Header
	DefaultClockID uint32
}

// Decode parses a raw sample into *SnapshotRecord, *EventRecord or
// *SequenceDefaultsRecord.
func Decode(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, ErrShortRecord
	}

	var rec any
	switch raw[0] {
	case RECORD_SNAPSHOT:
		rec = new(SnapshotRecord)
	case RECORD_EVENT:
		rec = new(EventRecord)
	case RECORD_SEQUENCE_DEFAULTS:
		rec = new(SequenceDefaultsRecord)
	default:
		return nil, fmt.Errorf("unknown record type %d", raw[0])
	}

	if size := binary.Size(rec); len(raw) < size {
		return nil, fmt.Errorf("%w: type %d needs %d bytes, got %d", ErrShortRecord, raw[0], size, len(raw))
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, rec); err != nil {
		return nil, fmt.Errorf("parsing record type %d: %w", raw[0], err)
	}
	return rec, nil
}

// Encode serializes a record. The Header type byte is set from the record's
// Go type.
func Encode(rec any) ([]byte, error) {
	switch r := rec.(type) {
	case *SnapshotRecord:
		r.Type = RECORD_SNAPSHOT
	case *EventRecord:
		r.Type = RECORD_EVENT
	case *SequenceDefaultsRecord:
		r.Type = RECORD_SEQUENCE_DEFAULTS
	default:
		return nil, fmt.Errorf("unsupported record %T", rec)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewEventRecord builds an event record, truncating name to 32 bytes.
func NewEventRecord(traceFileID, seqID, clockID uint32, ts, duration int64, name string) *EventRecord {
	r := &EventRecord{
		Header:   Header{SeqID: seqID, TraceFileID: traceFileID},
		ClockID:  clockID,
		Ts:       ts,
		Duration: duration,
	}
	copy(r.Name[:], name)
	return r
}
