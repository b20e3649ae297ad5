package clocksync

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Builtin clock ids, matching the values used by trace producers.
const (
	BuiltinClockUnknown         uint32 = 0
	BuiltinClockRealtime        uint32 = 1
	BuiltinClockRealtimeCoarse  uint32 = 2
	BuiltinClockMonotonic       uint32 = 3
	BuiltinClockMonotonicCoarse uint32 = 4
	BuiltinClockMonotonicRaw    uint32 = 5
	BuiltinClockBoottime        uint32 = 6
	BuiltinClockMaxID           uint32 = 63
)

// Raw clock ids in [firstSequenceClock, lastSequenceClock) are scoped to a
// single trace-writer sequence.
const (
	firstSequenceClock uint32 = 64
	lastSequenceClock  uint32 = 128
)

var builtinClockNames = map[uint32]string{
	BuiltinClockRealtime:        "REALTIME",
	BuiltinClockRealtimeCoarse:  "REALTIME_COARSE",
	BuiltinClockMonotonic:       "MONOTONIC",
	BuiltinClockMonotonicCoarse: "MONOTONIC_COARSE",
	BuiltinClockMonotonicRaw:    "MONOTONIC_RAW",
	BuiltinClockBoottime:        "BOOTTIME",
}

// ClockID identifies a clock domain. Global clocks have SeqID and
// TraceFileID set to zero.
type ClockID struct {
	Clock       uint32
	SeqID       uint32
	TraceFileID uint32
}

// GlobalClock returns the ClockID of a clock that is not sequence-scoped.
func GlobalClock(raw uint32) ClockID {
	return ClockID{Clock: raw}
}

// Compare orders clock ids lexicographically on (Clock, SeqID, TraceFileID).
func (c ClockID) Compare(o ClockID) int {
	if r := cmp.Compare(c.Clock, o.Clock); r != 0 {
		return r
	}
	if r := cmp.Compare(c.SeqID, o.SeqID); r != 0 {
		return r
	}
	return cmp.Compare(c.TraceFileID, o.TraceFileID)
}

// Less reports whether c sorts before o.
func (c ClockID) Less(o ClockID) bool {
	return c.Compare(o) < 0
}

// IsSequenceScoped reports whether c was produced by SequenceToGlobalClock.
func (c ClockID) IsSequenceScoped() bool {
	return c.SeqID != 0 && IsSequenceClock(c.Clock)
}

// String returns the builtin clock name when there is one, the raw id
// otherwise. Sequence-scoped clocks carry their sequence and trace file.
func (c ClockID) String() string {
	name := ClockName(c.Clock)
	if c.SeqID == 0 && c.TraceFileID == 0 {
		return name
	}
	return fmt.Sprintf("%s@seq%d/file%d", name, c.SeqID, c.TraceFileID)
}

// ClockName returns the builtin name of a raw clock id, or its decimal form.
func ClockName(raw uint32) string {
	if name, ok := builtinClockNames[raw]; ok {
		return name
	}
	return strconv.FormatUint(uint64(raw), 10)
}

// BuiltinClockName returns the builtin name of a raw clock id, if any.
func BuiltinClockName(raw uint32) (string, bool) {
	name, ok := builtinClockNames[raw]
	return name, ok
}

// ParseClock accepts a builtin clock name (case-insensitive) or a decimal id.
func ParseClock(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	for id, name := range builtinClockNames {
		if name == upper {
			return id, nil
		}
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown clock %q", s)
	}
	return uint32(v), nil
}

// IsSequenceClock reports whether a raw clock id is in the range reserved
// for sequence-scoped clocks. Such ids must be resolved with
// SequenceToGlobalClock before being passed to a Synchronizer.
func IsSequenceClock(raw uint32) bool {
	return raw >= firstSequenceClock && raw < lastSequenceClock
}

// SequenceToGlobalClock embeds the sequence and trace file into a
// sequence-scoped raw clock id so that two sequences using the same raw id
// refer to distinct domains.
func SequenceToGlobalClock(traceFileID, seqID, raw uint32) ClockID {
	return ClockID{Clock: raw, SeqID: seqID, TraceFileID: traceFileID}
}

// Clock describes how raw readings of a domain map to nanoseconds.
type Clock struct {
	ID               ClockID
	UnitMultiplierNs int64
	IsIncremental    bool
}

// ClockTimestamp is one raw reading inside a snapshot.
type ClockTimestamp struct {
	Clock     Clock
	Timestamp int64
}

// NewClockTimestamp returns a nanosecond, non-incremental reading.
func NewClockTimestamp(id ClockID, ts int64) ClockTimestamp {
	return ClockTimestamp{Clock: Clock{ID: id, UnitMultiplierNs: 1}, Timestamp: ts}
}

// NewScaledClockTimestamp returns a reading with an explicit unit and encoding.
func NewScaledClockTimestamp(id ClockID, ts, unitMultiplierNs int64, incremental bool) ClockTimestamp {
	return ClockTimestamp{
		Clock:     Clock{ID: id, UnitMultiplierNs: unitMultiplierNs, IsIncremental: incremental},
		Timestamp: ts,
	}
}
