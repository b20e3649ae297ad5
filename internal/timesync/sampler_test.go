package timesync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/seqstate"
	"github.com/mrzor/trace-clocksync/internal/tokenizer"
)

func TestSampler_Sample(t *testing.T) {
	pkt, err := NewSampler().Sample()
	require.NoError(t, err)
	require.Len(t, pkt.Clocks, len(posixClocks))

	byID := make(map[uint32]tokenizer.SnapshotClock)
	for _, c := range pkt.Clocks {
		assert.Equal(t, int64(1), c.UnitMultiplierNs)
		assert.False(t, c.IsIncremental)
		assert.Positive(t, c.Timestamp, clocksync.ClockName(c.ClockID))
		byID[c.ClockID] = c
	}
	// BOOTTIME includes suspend and is read before MONOTONIC.
	assert.LessOrEqual(t,
		byID[clocksync.BuiltinClockMonotonic].Timestamp-byID[clocksync.BuiltinClockBoottime].Timestamp,
		int64(1_000_000_000))
}

func TestSampler_FeedsSynchronizer(t *testing.T) {
	var tick int64
	s := &Sampler{gettime: func(_ int32, ts *unix.Timespec) error {
		tick += 10
		*ts = unix.NsecToTimespec(1_000_000 + tick)
		return nil
	}}

	pkt, err := s.Sample()
	require.NoError(t, err)

	sync := clocksync.New(clocksync.NopListener{})
	tok := tokenizer.New(sync, nil)
	require.NoError(t, tok.ParseClockSnapshot(seqstate.Key{}, pkt))
	assert.Len(t, sync.KnownClocks(), len(posixClocks))

	// BOOTTIME read at 1_000_010, REALTIME at 1_000_050.
	got, ok := sync.ToTraceTime(realtime, 1_000_050)
	require.True(t, ok)
	assert.Equal(t, int64(1_000_010), got)
}

func TestSampler_Error(t *testing.T) {
	s := &Sampler{gettime: func(int32, *unix.Timespec) error { return unix.EINVAL }}
	_, err := s.Sample()
	require.Error(t, err)
	assert.True(t, errors.Is(err, unix.EINVAL))
	assert.Contains(t, err.Error(), "BOOTTIME")
}
