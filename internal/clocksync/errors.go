package clocksync

import (
	"errors"
	"fmt"
)

// ErrInvalidSnapshot is wrapped by every AddSnapshot rejection. Callers skip
// the snapshot and keep processing the trace.
var ErrInvalidSnapshot = errors.New("invalid clock snapshot")

// ErrSequenceClockUnresolved is returned when a raw sequence-scoped clock id
// reaches the synchronizer without having been globalized.
var ErrSequenceClockUnresolved = errors.New("sequence-scoped clock id not resolved")

// ErrorKind classifies a failed conversion.
type ErrorKind int

const (
	// UnknownSourceClock: the source clock never appeared in a snapshot.
	UnknownSourceClock ErrorKind = iota + 1
	// UnknownTargetClock: the target clock never appeared in a snapshot.
	UnknownTargetClock
	// NoPath: both clocks are known but no chain of snapshots connects them.
	NoPath
	// NonMonotonicSource: the source clock went backwards at some point, so a
	// raw value may map to more than one instant.
	NonMonotonicSource
	// InvalidSnapshot: a snapshot was rejected. Rejections are reported
	// through OnInvalidClockSnapshot and ErrInvalidSnapshot; no
	// ConversionError carries this kind.
	InvalidSnapshot
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownSourceClock:
		return "unknown_source_clock"
	case UnknownTargetClock:
		return "unknown_target_clock"
	case NoPath:
		return "no_path"
	case NonMonotonicSource:
		return "non_monotonic_source"
	case InvalidSnapshot:
		return "invalid_snapshot"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// ConversionError describes a timestamp that could not be converted.
type ConversionError struct {
	Kind         ErrorKind
	Src          ClockID
	Target       ClockID
	SrcTimestamp int64
	// ByteOffset is the position of the offending record in the trace, or -1.
	ByteOffset int64
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("clock sync: cannot convert %d from %s to %s: %s",
		e.SrcTimestamp, e.Src, e.Target, e.Kind)
	if e.ByteOffset >= 0 {
		msg += fmt.Sprintf(" (byte offset %d)", e.ByteOffset)
	}
	return msg
}

// HasByteOffset reports whether the caller supplied a trace position.
func (e *ConversionError) HasByteOffset() bool {
	return e.ByteOffset >= 0
}
