package clocksync

// Listener receives the diagnostics of a Synchronizer. Implementations feed
// statistics, crash keys or error tables; their returned errors are logged
// and never change the outcome of a conversion.
type Listener interface {
	OnClockSyncCacheMiss() error
	OnInvalidClockSnapshot() error
	// OnTraceTimeClockIDChanged fires when the trace-time clock is locked by
	// the first conversion and whenever it is changed after that.
	OnTraceTimeClockIDChanged(id ClockID) error
	OnSetTraceTimeClock(id ClockID) error
	RecordConversionError(err *ConversionError)
	// IsLocalHost is false when the trace being tokenized was recorded on a
	// remote machine; remote clock offsets only apply then.
	IsLocalHost() bool
}

// NopListener ignores every notification and reports a local host.
type NopListener struct{}

func (NopListener) OnClockSyncCacheMiss() error { return nil }
func (NopListener) OnInvalidClockSnapshot() error { return nil }
func (NopListener) OnTraceTimeClockIDChanged(ClockID) error { return nil }
func (NopListener) OnSetTraceTimeClock(ClockID) error { return nil }
func (NopListener) RecordConversionError(*ConversionError) {}
func (NopListener) IsLocalHost() bool { return true }

// TraceTimeState names the trace-time clock. It is shared by every
// Synchronizer of a trace (one per machine) and is expected to be set once.
type TraceTimeState struct {
	ClockID           ClockID
	Set               bool // SetTraceTimeClock was called
	UsedForConversion bool
}

// NewTraceTimeState returns a state defaulting to BOOTTIME.
func NewTraceTimeState() *TraceTimeState {
	return &TraceTimeState{ClockID: GlobalClock(BuiltinClockBoottime)}
}
