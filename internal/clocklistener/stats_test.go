package clocklistener

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
)

type fakeSink struct {
	machines []uint32
	errs     []*clocksync.ConversionError
	fail     error
}

func (f *fakeSink) InsertConversionError(machineID uint32, err *clocksync.ConversionError) error {
	f.machines = append(f.machines, machineID)
	f.errs = append(f.errs, err)
	return f.fail
}

func TestStats_CountsSynchronizerEvents(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	sink := &fakeSink{}
	stats := NewStats(reg, 0, WithErrorSink(sink))

	boot := clocksync.GlobalClock(clocksync.BuiltinClockBoottime)
	mono := clocksync.GlobalClock(clocksync.BuiltinClockMonotonic)
	raw := clocksync.GlobalClock(clocksync.BuiltinClockMonotonicRaw)

	s := clocksync.New(stats)
	_, err := s.AddSnapshot([]clocksync.ClockTimestamp{
		clocksync.NewClockTimestamp(mono, 1000),
		clocksync.NewClockTimestamp(boot, 2000),
	})
	require.NoError(t, err)

	_, err = s.AddSnapshot([]clocksync.ClockTimestamp{
		clocksync.NewClockTimestamp(mono, 1),
		clocksync.NewClockTimestamp(mono, 2),
	})
	require.Error(t, err)

	got, ok := s.ToTraceTime(mono, 1500)
	require.True(t, ok)
	assert.Equal(t, int64(2500), got)

	_, ok = s.ToTraceTime(raw, 1)
	assert.False(t, ok)

	assert.Equal(t, 2.0, testutil.ToFloat64(stats.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.invalidSnapshots))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.traceClockChanges))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.ConversionErrors(clocksync.UnknownSourceClock)))
	assert.Equal(t, 0.0, testutil.ToFloat64(stats.ConversionErrors(clocksync.NoPath)))

	require.Len(t, sink.errs, 1)
	assert.Equal(t, raw, sink.errs[0].Src)
	assert.Equal(t, []uint32{0}, sink.machines)
}

func TestStats_IsLocalHost(t *testing.T) {
	assert.True(t, NewStats(prometheus.NewRegistry(), 0).IsLocalHost())
	assert.False(t, NewStats(prometheus.NewRegistry(), 3).IsLocalHost())
}

func TestStats_PerMachineRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	host := NewStats(reg, 0)
	remote := NewStats(reg, 1)

	require.NoError(t, host.OnInvalidClockSnapshot())
	require.NoError(t, remote.OnInvalidClockSnapshot())
	require.NoError(t, remote.OnInvalidClockSnapshot())

	assert.Equal(t, 1.0, testutil.ToFloat64(host.invalidSnapshots))
	assert.Equal(t, 2.0, testutil.ToFloat64(remote.invalidSnapshots))
}

func TestStats_SinkFailureIsLogged(t *testing.T) {
	sink := &fakeSink{fail: errors.New("disk full")}
	stats := NewStats(prometheus.NewRegistry(), 2, WithErrorSink(sink))

	stats.RecordConversionError(&clocksync.ConversionError{Kind: clocksync.NoPath, ByteOffset: -1})

	assert.Len(t, sink.errs, 1)
	assert.Equal(t, []uint32{2}, sink.machines)
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.ConversionErrors(clocksync.NoPath)))
}
