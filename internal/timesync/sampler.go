package timesync

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/tokenizer"
)

type posixClock struct {
	id    uint32
	posix int32
}

// Ordered so that the trace-time clock is read first.
var posixClocks = []posixClock{
	{clocksync.BuiltinClockBoottime, unix.CLOCK_BOOTTIME},
	{clocksync.BuiltinClockMonotonic, unix.CLOCK_MONOTONIC},
	{clocksync.BuiltinClockMonotonicCoarse, unix.CLOCK_MONOTONIC_COARSE},
	{clocksync.BuiltinClockMonotonicRaw, unix.CLOCK_MONOTONIC_RAW},
	{clocksync.BuiltinClockRealtime, unix.CLOCK_REALTIME},
	{clocksync.BuiltinClockRealtimeCoarse, unix.CLOCK_REALTIME_COARSE},
}

// Sampler takes clock snapshots of the host.
type Sampler struct {
	gettime func(clockid int32, ts *unix.Timespec) error
}

// NewSampler returns a sampler reading the host clocks.
func NewSampler() *Sampler {
	return &Sampler{gettime: unix.ClockGettime}
}

// Sample reads every builtin clock once. The readings are a few hundred
// nanoseconds apart.
func (s *Sampler) Sample() (*tokenizer.SnapshotPacket, error) {
	pkt := &tokenizer.SnapshotPacket{
		Clocks: make([]tokenizer.SnapshotClock, 0, len(posixClocks)),
	}
	for _, c := range posixClocks {
		var ts unix.Timespec
		if err := s.gettime(c.posix, &ts); err != nil {
			return nil, fmt.Errorf("clock_gettime(%s): %w", clocksync.ClockName(c.id), err)
		}
		pkt.Clocks = append(pkt.Clocks, tokenizer.SnapshotClock{
			ClockID:          c.id,
			Timestamp:        ts.Nano(),
			UnitMultiplierNs: 1,
		})
	}
	return pkt, nil
}
