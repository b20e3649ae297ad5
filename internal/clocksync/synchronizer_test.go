package clocksync

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	realtime        = GlobalClock(BuiltinClockRealtime)
	boottime        = GlobalClock(BuiltinClockBoottime)
	monotonic       = GlobalClock(BuiltinClockMonotonic)
	monotonicCoarse = GlobalClock(BuiltinClockMonotonicCoarse)
	monotonicRaw    = GlobalClock(BuiltinClockMonotonicRaw)
)

// recordingListener keeps every notification for assertions.
type recordingListener struct {
	remote           bool
	cacheMisses      int
	invalidSnapshots int
	clockChanges     []ClockID
	clockSets        []ClockID
	errors           []*ConversionError
	failWith         error
}

func (l *recordingListener) OnClockSyncCacheMiss() error {
	l.cacheMisses++
	return l.failWith
}

func (l *recordingListener) OnInvalidClockSnapshot() error {
	l.invalidSnapshots++
	return l.failWith
}

func (l *recordingListener) OnTraceTimeClockIDChanged(id ClockID) error {
	l.clockChanges = append(l.clockChanges, id)
	return l.failWith
}

func (l *recordingListener) OnSetTraceTimeClock(id ClockID) error {
	l.clockSets = append(l.clockSets, id)
	return l.failWith
}

func (l *recordingListener) RecordConversionError(err *ConversionError) {
	l.errors = append(l.errors, err)
}

func (l *recordingListener) IsLocalHost() bool { return !l.remote }

func ts(id ClockID, v int64) ClockTimestamp { return NewClockTimestamp(id, v) }

func mustAdd(t *testing.T, s *Synchronizer, cts ...ClockTimestamp) uint32 {
	t.Helper()
	id, err := s.AddSnapshot(cts)
	require.NoError(t, err)
	return id
}

func mustTraceTime(t *testing.T, s *Synchronizer, id ClockID, v int64) int64 {
	t.Helper()
	got, ok := s.ToTraceTime(id, v)
	require.True(t, ok, "ToTraceTime(%s, %d) failed", id, v)
	return got
}

func mustConvert(t *testing.T, s *Synchronizer, src ClockID, v int64, target ClockID) int64 {
	t.Helper()
	got, ok := s.Convert(src, v, target)
	require.True(t, ok, "Convert(%s, %d, %s) failed", src, v, target)
	return got
}

func TestSynchronizer_ClockDomainConversions(t *testing.T) {
	s := New(nil)

	assert.False(t, s.HasPathToTraceTime(realtime))
	_, ok := s.ToTraceTime(realtime, 0)
	assert.False(t, ok)

	mustAdd(t, s, ts(realtime, 10), ts(boottime, 10010))
	mustAdd(t, s, ts(realtime, 20), ts(boottime, 20220))
	mustAdd(t, s, ts(realtime, 30), ts(boottime, 30030))
	mustAdd(t, s, ts(monotonic, 1000), ts(boottime, 100000))

	assert.True(t, s.HasPathToTraceTime(realtime))

	tests := []struct {
		clock ClockID
		in    int64
		want  int64
	}{
		{realtime, 0, 10000},
		{realtime, 1, 10001},
		{realtime, 9, 10009},
		{realtime, 10, 10010},
		{realtime, 11, 10011},
		{realtime, 19, 10019},
		{realtime, 20, 20220},
		{realtime, 21, 20221},
		{realtime, 29, 20229},
		{realtime, 30, 30030},
		{realtime, 40, 30040},
		{monotonic, 0, 100000 - 1000},
		{monotonic, 999, 100000 - 1},
		{monotonic, 1000, 100000},
		{monotonic, 1_000_000, 100000 - 1000 + 1_000_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustTraceTime(t, s, tt.clock, tt.in), "%s@%d", tt.clock, tt.in)
	}
}

func TestSynchronizer_Identity(t *testing.T) {
	s := New(nil)
	for _, v := range []int64{-5, 0, 1, 1 << 40} {
		got, ok := s.Convert(realtime, v, realtime)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}

	// Identity holds for unit-scaled clocks too: no ns conversion happens.
	seq := SequenceToGlobalClock(0, 1, 65)
	mustAdd(t, s, ts(monotonic, 5), NewScaledClockTimestamp(seq, 7, 1000, false))
	got, ok := s.Convert(seq, 9, seq)
	require.True(t, ok)
	assert.Equal(t, int64(9), got)
}

func TestSynchronizer_UnknownClocks(t *testing.T) {
	l := &recordingListener{}
	s := New(l)
	mustAdd(t, s, ts(realtime, 10), ts(boottime, 10010))

	_, ok := s.Convert(monotonic, 5, boottime)
	assert.False(t, ok)
	_, ok = s.ConvertAt(realtime, 5, monotonic, 1234)
	assert.False(t, ok)

	mustAdd(t, s, ts(monotonicRaw, 1), ts(monotonicCoarse, 2))
	_, ok = s.Convert(realtime, 5, monotonicRaw)
	assert.False(t, ok)

	require.Len(t, l.errors, 3)
	assert.Equal(t, UnknownSourceClock, l.errors[0].Kind)
	assert.False(t, l.errors[0].HasByteOffset())
	assert.Equal(t, UnknownTargetClock, l.errors[1].Kind)
	assert.Equal(t, int64(1234), l.errors[1].ByteOffset)
	assert.Equal(t, NoPath, l.errors[2].Kind)
	assert.Equal(t, realtime, l.errors[2].Src)
	assert.Equal(t, monotonicRaw, l.errors[2].Target)
	assert.Contains(t, l.errors[2].Error(), "no_path")
}

func TestSynchronizer_ToTraceTimeFromSnapshot(t *testing.T) {
	s := New(nil)

	got, ok := s.ToTraceTimeFromSnapshot([]ClockTimestamp{ts(realtime, 10), ts(boottime, 10010)})
	require.True(t, ok)
	assert.Equal(t, int64(10010), got)

	_, ok = s.ToTraceTimeFromSnapshot([]ClockTimestamp{ts(monotonic, 10), ts(realtime, 10010)})
	assert.False(t, ok)
}

// REALTIME jumping back (e.g. a DST change) makes REALTIME -> X ambiguous,
// while X -> REALTIME stays well defined.
func TestSynchronizer_RealtimeMovingBackwards(t *testing.T) {
	l := &recordingListener{}
	s := New(l)
	mustAdd(t, s, ts(boottime, 10010), ts(realtime, 10))
	assert.Equal(t, int64(10011), mustTraceTime(t, s, realtime, 11))

	mustAdd(t, s, ts(boottime, 10020), ts(realtime, 20))
	mustAdd(t, s, ts(boottime, 30040), ts(realtime, 40))
	mustAdd(t, s, ts(boottime, 40030), ts(realtime, 30))

	assert.True(t, s.IsNonMonotonic(realtime))
	assert.False(t, s.HasPathToTraceTime(realtime))
	_, ok := s.ToTraceTime(realtime, 11)
	assert.False(t, ok)
	require.NotEmpty(t, l.errors)
	assert.Equal(t, NonMonotonicSource, l.errors[len(l.errors)-1].Kind)

	assert.Equal(t, int64(11), mustConvert(t, s, boottime, 10011, realtime))
	assert.Equal(t, int64(29), mustConvert(t, s, boottime, 10029, realtime))
	assert.Equal(t, int64(30), mustConvert(t, s, boottime, 40030, realtime))
	assert.Equal(t, int64(40), mustConvert(t, s, boottime, 40040, realtime))

	mustAdd(t, s, ts(boottime, 50000), ts(realtime, 50))
	assert.Equal(t, int64(55), mustConvert(t, s, boottime, 50005, realtime))

	mustAdd(t, s, ts(boottime, 60020), ts(realtime, 20))
	assert.Equal(t, int64(20), mustConvert(t, s, boottime, 60020, realtime))

	// Membership is sticky even once the clock moves forward again.
	mustAdd(t, s, ts(boottime, 70000), ts(realtime, 70))
	_, ok = s.Convert(realtime, 70, boottime)
	assert.False(t, ok)
}

// MONOTONIC = MONOTONIC_COARSE + 10
// BOOTTIME = MONOTONIC + 1000 until T=200, MONOTONIC + 2000 after.
func TestSynchronizer_ChainedResolutionSimple(t *testing.T) {
	s := New(nil)
	mustAdd(t, s, ts(monotonicCoarse, 1), ts(monotonic, 11))
	mustAdd(t, s, ts(monotonic, 100), ts(boottime, 1100))
	mustAdd(t, s, ts(monotonic, 200), ts(boottime, 2200))

	assert.Equal(t, int64(1110), mustTraceTime(t, s, monotonic, 110))
	assert.Equal(t, int64(100+10+1000), mustTraceTime(t, s, monotonicCoarse, 100))
	assert.Equal(t, int64(202+10+2000), mustTraceTime(t, s, monotonicCoarse, 202))
}

func TestSynchronizer_ChainedResolutionHard(t *testing.T) {
	s := New(nil)
	// MONOTONIC_COARSE = MONOTONIC_RAW - 1.
	mustAdd(t, s, ts(monotonicRaw, 10), ts(monotonicCoarse, 9))
	// MONOTONIC = MONOTONIC_COARSE - 50.
	mustAdd(t, s, ts(monotonicCoarse, 100), ts(monotonic, 50))
	// BOOTTIME = MONOTONIC + 1000 until T=100.
	mustAdd(t, s, ts(monotonic, 1), ts(boottime, 1001), ts(realtime, 10001))
	// BOOTTIME = MONOTONIC + 2000 from T=100, while REALTIME goes backwards.
	mustAdd(t, s, ts(monotonic, 101), ts(boottime, 2101), ts(realtime, 9101))

	tests := []struct {
		name   string
		src    ClockID
		in     int64
		target ClockID
		want   int64
	}{
		{"1 hop raw->coarse", monotonicRaw, 2, monotonicCoarse, 1},
		{"1 hop coarse->raw", monotonicCoarse, 1, monotonicRaw, 2},
		{"1 hop extrapolated", monotonicRaw, 100001, monotonicCoarse, 100000},
		{"1 hop extrapolated back", monotonicCoarse, 100000, monotonicRaw, 100001},
		{"2 hops", monotonicRaw, 53, monotonic, 53 - 1 - 50},
		{"2 hops back", monotonic, 2, monotonicRaw, 2 + 1 + 50},
		{"3 hops", monotonicRaw, 53, boottime, 53 - 1 - 50 + 1000},
		{"3 hops back", boottime, 1002, monotonicRaw, 1002 - 1000 + 1 + 50},
		{"3 hops later bracket", monotonicRaw, 753, boottime, 753 - 1 - 50 + 2000},
		{"3 hops back later bracket", boottime, 2702, monotonicRaw, 2702 - 2000 + 1 + 50},
		{"3 hops to non-monotonic", monotonicRaw, 53, realtime, 53 - 1 - 50 + 10000},
		{"3 hops to non-monotonic later", monotonicRaw, 753, realtime, 753 - 1 - 50 + 9000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustConvert(t, s, tt.src, tt.in, tt.target))
		})
	}

	_, ok := s.Convert(realtime, 10001, monotonicRaw)
	assert.False(t, ok, "conversions from a non-monotonic clock are refused")
}

// Two snapshots taken back to back can leave a coarse clock stuck on the
// same value; that is not a monotonicity violation.
func TestSynchronizer_NonStrictlyMonotonic(t *testing.T) {
	s := New(nil)
	mustAdd(t, s, ts(boottime, 101), ts(monotonic, 51), ts(monotonicCoarse, 50))
	mustAdd(t, s, ts(boottime, 105), ts(monotonic, 55), ts(monotonicCoarse, 50))
	mustAdd(t, s, ts(boottime, 105), ts(monotonic, 55), ts(monotonicCoarse, 50))

	assert.False(t, s.IsNonMonotonic(monotonicCoarse))

	assert.Equal(t, int64(50), mustConvert(t, s, monotonicCoarse, 49, monotonic))
	assert.Equal(t, int64(55), mustConvert(t, s, monotonicCoarse, 50, monotonic))
	assert.Equal(t, int64(56), mustConvert(t, s, monotonicCoarse, 51, monotonic))

	assert.Equal(t, int64(91), mustConvert(t, s, monotonicCoarse, 40, boottime))
	assert.Equal(t, int64(105), mustConvert(t, s, monotonicCoarse, 50, boottime))
	assert.Equal(t, int64(110), mustConvert(t, s, monotonicCoarse, 55, boottime))

	assert.Equal(t, int64(40), mustConvert(t, s, boottime, 91, monotonicCoarse))
	assert.Equal(t, int64(50), mustConvert(t, s, boottime, 105, monotonicCoarse))
	assert.Equal(t, int64(55), mustConvert(t, s, boottime, 110, monotonicCoarse))
}

func TestSynchronizer_SequenceScopedClocks(t *testing.T) {
	s := New(nil)
	mustAdd(t, s, ts(monotonic, 1000), ts(boottime, 100000))

	c64s1 := SequenceToGlobalClock(0, 1, 64)
	c65s1 := SequenceToGlobalClock(0, 1, 65)
	c66s1 := SequenceToGlobalClock(0, 1, 66)
	c66s2 := SequenceToGlobalClock(0, 2, 66)

	mustAdd(t, s,
		ts(monotonic, 10000),
		ts(c64s1, 100000),
		NewScaledClockTimestamp(c65s1, 100, 1000, false),
		NewScaledClockTimestamp(c66s1, 10, 1000, true))

	// c64s1 is absolute, in ns.
	assert.Equal(t, int64(60000), mustConvert(t, s, c64s1, 150000, monotonic))
	assert.Equal(t, int64(159000), mustConvert(t, s, c64s1, 150000, boottime))
	assert.Equal(t, int64(159000), mustTraceTime(t, s, c64s1, 150000))

	// c65s1 is absolute, in us.
	assert.Equal(t, int64(60000), mustConvert(t, s, c65s1, 150, monotonic))
	assert.Equal(t, int64(159000), mustConvert(t, s, c65s1, 150, boottime))
	assert.Equal(t, int64(159000), mustTraceTime(t, s, c65s1, 150))

	// c66s1 is incremental, in us.
	assert.Equal(t, int64(11000), mustConvert(t, s, c66s1, 1, monotonic)) // abs 11
	assert.Equal(t, int64(12000), mustConvert(t, s, c66s1, 1, monotonic)) // abs 12
	assert.Equal(t, int64(112000), mustConvert(t, s, c66s1, 1, boottime)) // abs 13
	assert.Equal(t, int64(114000), mustTraceTime(t, s, c66s1, 2))         // abs 15

	mustAdd(t, s, ts(monotonic, 20000), NewScaledClockTimestamp(c66s1, 20, 1000, true))
	mustAdd(t, s, ts(monotonic, 20000), NewScaledClockTimestamp(c66s2, 20, 1000, true))

	// Same raw id on two sequences: independent running sums.
	assert.Equal(t, int64(21000), mustConvert(t, s, c66s1, 1, monotonic)) // abs 21
	assert.Equal(t, int64(22000), mustConvert(t, s, c66s2, 2, monotonic)) // abs 22
	assert.Equal(t, int64(22000), mustConvert(t, s, c66s1, 1, monotonic)) // abs 22
	assert.Equal(t, int64(24000), mustConvert(t, s, c66s2, 2, monotonic)) // abs 24
	assert.Equal(t, int64(122000), mustConvert(t, s, c66s1, 1, boottime)) // abs 23
	assert.Equal(t, int64(125000), mustConvert(t, s, c66s2, 2, boottime)) // abs 26
	assert.Equal(t, int64(124000), mustTraceTime(t, s, c66s1, 2))         // abs 25
	assert.Equal(t, int64(129000), mustTraceTime(t, s, c66s2, 4))         // abs 30
}

func TestSynchronizer_SequenceIsolation(t *testing.T) {
	s := New(nil)
	seq1 := SequenceToGlobalClock(7, 1, 64)
	seq2 := SequenceToGlobalClock(7, 2, 64)
	require.NotEqual(t, seq1, seq2)

	mustAdd(t, s, ts(boottime, 1000), ts(seq1, 100))
	mustAdd(t, s, ts(boottime, 5000), ts(seq2, 100))

	assert.Equal(t, int64(1010), mustTraceTime(t, s, seq1, 110))
	assert.Equal(t, int64(5010), mustTraceTime(t, s, seq2, 110))

	// Same sequence id in another trace file is yet another domain.
	other := SequenceToGlobalClock(8, 1, 64)
	_, ok := s.ToTraceTime(other, 110)
	assert.False(t, ok)
}

func TestSynchronizer_FindPath(t *testing.T) {
	s := New(nil)
	mustAdd(t, s, ts(monotonicRaw, 10), ts(monotonicCoarse, 9))
	mustAdd(t, s, ts(monotonicCoarse, 100), ts(monotonic, 50))
	mustAdd(t, s, ts(monotonic, 1), ts(boottime, 1001))

	path, ok := s.FindPath(monotonicRaw, boottime)
	require.True(t, ok)
	require.Equal(t, 3, path.Len())
	hops := path.Hops()
	assert.Equal(t, monotonicRaw, hops[0].Src)
	assert.Equal(t, monotonicCoarse, hops[0].Dst)
	assert.Equal(t, monotonic, hops[1].Dst)
	assert.Equal(t, boottime, hops[2].Dst)

	_, ok = s.FindPath(monotonicRaw, realtime)
	assert.False(t, ok)
}

func TestSynchronizer_FindPathBounded(t *testing.T) {
	s := New(nil)
	// A chain of 6 clocks: c1-c2-c3-c4-c5-c6.
	for i := uint32(1); i < 6; i++ {
		mustAdd(t, s, ts(GlobalClock(10+i), 0), ts(GlobalClock(11+i), 1))
	}

	_, ok := s.FindPath(GlobalClock(11), GlobalClock(15))
	assert.True(t, ok, "4 hops are reachable")
	_, ok = s.FindPath(GlobalClock(11), GlobalClock(16))
	assert.False(t, ok, "5 hops exceed the search bound")
}

// Among several shortest paths, the first in (destination, hash) order
// wins. In a consistent graph every choice converts to the same value.
func TestSynchronizer_EqualLengthPaths(t *testing.T) {
	s := New(nil)
	a, b, c, d := GlobalClock(20), GlobalClock(21), GlobalClock(22), GlobalClock(23)
	mustAdd(t, s, ts(a, 0), ts(b, 100))
	mustAdd(t, s, ts(a, 0), ts(c, 200))
	mustAdd(t, s, ts(b, 100), ts(d, 1000))
	mustAdd(t, s, ts(c, 200), ts(d, 1000))

	path, ok := s.FindPath(a, d)
	require.True(t, ok)
	require.Equal(t, 2, path.Len())
	assert.Equal(t, b, path.Hops()[0].Dst)

	assert.Equal(t, int64(1005), mustConvert(t, s, a, 5, d))
}

func TestSynchronizer_CacheDoesntAffectResults(t *testing.T) {
	s := New(nil, WithCacheSeed(42))
	rnd := rand.New(rand.NewPCG(1, 2))
	increments := []int64{1, 2, 10}

	var lastMono, lastBoot, lastRaw int64
	for i := 0; i < 1000; i++ {
		lastMono += increments[rnd.IntN(len(increments))]
		lastBoot += increments[rnd.IntN(len(increments))]
		mustAdd(t, s, ts(monotonic, lastMono), ts(boottime, lastBoot))

		lastRaw += increments[rnd.IntN(len(increments))]
		lastBoot += increments[rnd.IntN(len(increments))]
		mustAdd(t, s, ts(monotonicRaw, lastRaw), ts(boottime, lastBoot))
	}

	pairs := [][2]ClockID{
		{monotonic, boottime},
		{monotonicRaw, boottime},
		{boottime, monotonic},
		{boottime, monotonicRaw},
		{monotonicRaw, monotonic},
	}
	for i := 0; i < 1000; i++ {
		val := rnd.Int64N(10000)
		for _, p := range pairs {
			// Writes the cache without reading it.
			s.SetCacheLookupsDisabled(true)
			notCached, ok := s.Convert(p[0], val, p[1])
			require.True(t, ok)

			s.SetCacheLookupsDisabled(false)
			cached, ok := s.Convert(p[0], val, p[1])
			require.True(t, ok)

			require.Equal(t, notCached, cached, "%s->%s @%d", p[0], p[1], val)
		}
	}
	assert.NotZero(t, s.CacheHits())
}

func TestSynchronizer_CacheHitsSingleHopOnly(t *testing.T) {
	l := &recordingListener{}
	s := New(l)
	mustAdd(t, s, ts(monotonicRaw, 10), ts(monotonicCoarse, 9))
	mustAdd(t, s, ts(monotonicCoarse, 100), ts(monotonic, 50))

	mustConvert(t, s, monotonicRaw, 20, monotonicCoarse)
	mustConvert(t, s, monotonicRaw, 21, monotonicCoarse)
	assert.Equal(t, uint32(1), s.CacheHits())
	assert.Equal(t, 1, l.cacheMisses)

	mustConvert(t, s, monotonicRaw, 20, monotonic)
	mustConvert(t, s, monotonicRaw, 21, monotonic)
	assert.Equal(t, uint32(1), s.CacheHits(), "multi-hop resolutions are not cached")
	assert.Equal(t, 3, l.cacheMisses)

	// A new snapshot invalidates cached brackets.
	mustAdd(t, s, ts(monotonicRaw, 30), ts(monotonicCoarse, 39))
	assert.Equal(t, int64(40), mustConvert(t, s, monotonicRaw, 31, monotonicCoarse))
	assert.Equal(t, uint32(1), s.CacheHits())
}

func TestSynchronizer_ClockOffset(t *testing.T) {
	l := &recordingListener{remote: true}
	s := New(l)

	// Client-to-host BOOTTIME offset is -10000 ns.
	s.SetClockOffset(boottime, -10000)

	mustAdd(t, s, ts(realtime, 10), ts(boottime, 10010))
	mustAdd(t, s, ts(realtime, 20), ts(boottime, 20220))
	mustAdd(t, s, ts(realtime, 30), ts(boottime, 30030))
	mustAdd(t, s, ts(monotonic, 1000), ts(boottime, 100000))

	seq1 := SequenceToGlobalClock(0, 1, 64)
	seq2 := SequenceToGlobalClock(0, 2, 64)
	mustAdd(t, s, ts(monotonic, 2000), ts(seq1, 1200))
	mustAdd(t, s, ts(seq1, 1300), NewScaledClockTimestamp(seq2, 2000, 10, false))

	assert.Equal(t, int64(0), mustTraceTime(t, s, realtime, 0))
	assert.Equal(t, int64(19), mustTraceTime(t, s, realtime, 19))
	assert.Equal(t, int64(10220), mustTraceTime(t, s, realtime, 20))
	assert.Equal(t, int64(20040), mustTraceTime(t, s, realtime, 40))

	assert.Equal(t, int64(100000-1000-10000), mustTraceTime(t, s, monotonic, 0))
	assert.Equal(t, int64(100000-10000), mustTraceTime(t, s, monotonic, 1000))

	// seq1 -> MONOTONIC -> BOOTTIME -> offset.
	assert.Equal(t, int64(-100+1000+100000-10000), mustTraceTime(t, s, seq1, 1100))
	// seq2 -> seq1 -> MONOTONIC -> BOOTTIME -> offset.
	assert.Equal(t, int64(100*10+100+1000+100000-10000), mustTraceTime(t, s, seq2, 2100))

	// Convert itself is not affected by the machine offset.
	assert.Equal(t, int64(10000), mustConvert(t, s, realtime, 0, boottime))
	assert.Equal(t, map[ClockID]int64{boottime: -10000}, s.RemoteClockOffsets())
}

func TestSynchronizer_OffsetShiftsEveryResult(t *testing.T) {
	build := func(remote bool) *Synchronizer {
		s := New(&recordingListener{remote: remote})
		s.SetClockOffset(boottime, -10000)
		mustAdd(t, s, ts(realtime, 10), ts(boottime, 10010))
		mustAdd(t, s, ts(monotonic, 1000), ts(boottime, 100000))
		return s
	}
	local, remote := build(false), build(true)

	for _, c := range []ClockID{realtime, monotonic, boottime} {
		for _, v := range []int64{0, 10, 5000, 123456} {
			l := mustTraceTime(t, local, c, v)
			r := mustTraceTime(t, remote, c, v)
			assert.Equal(t, int64(-10000), r-l, "%s@%d", c, v)
		}
	}
}

func TestSynchronizer_RemoteNoClockOffset(t *testing.T) {
	s := New(&recordingListener{remote: true})
	mustAdd(t, s, ts(realtime, 10), ts(boottime, 10010))
	mustAdd(t, s, ts(realtime, 20), ts(boottime, 20220))
	mustAdd(t, s, ts(monotonic, 1000), ts(boottime, 100000))

	seq1 := SequenceToGlobalClock(0, 1, 64)
	seq2 := SequenceToGlobalClock(0, 2, 64)
	mustAdd(t, s, ts(monotonic, 2000), ts(seq1, 1200))
	mustAdd(t, s, ts(seq1, 1300), NewScaledClockTimestamp(seq2, 2000, 10, false))

	assert.Equal(t, int64(10000), mustTraceTime(t, s, realtime, 0))
	assert.Equal(t, int64(20221), mustTraceTime(t, s, realtime, 21))
	assert.Equal(t, int64(100000-1000), mustTraceTime(t, s, monotonic, 0))
	assert.Equal(t, int64(-100+1000+100000), mustTraceTime(t, s, seq1, 1100))
	assert.Equal(t, int64(100*10+100+1000+100000), mustTraceTime(t, s, seq2, 2100))
}

func TestSynchronizer_NonDefaultTraceTimeClock(t *testing.T) {
	l := &recordingListener{remote: true}
	s := New(l)

	require.NoError(t, s.SetTraceTimeClock(monotonic))
	s.SetClockOffset(monotonic, -2000)
	s.SetClockOffset(boottime, -10000) // Not the trace clock: no effect.

	mustAdd(t, s, ts(realtime, 10), ts(boottime, 10010))
	mustAdd(t, s, ts(monotonic, 1000), ts(boottime, 100000))
	seq1 := SequenceToGlobalClock(0, 1, 64)
	mustAdd(t, s, ts(monotonic, 2000), ts(seq1, 1200))

	realtimeDelta := int64(-10 + 10010 - 100000 + 1000 + (-2000))
	assert.Equal(t, 9+realtimeDelta, mustTraceTime(t, s, realtime, 9))
	assert.Equal(t, 20+realtimeDelta, mustTraceTime(t, s, realtime, 20))

	monoDelta := int64(-2000)
	assert.Equal(t, 0+monoDelta, mustTraceTime(t, s, monotonic, 0))
	assert.Equal(t, 1_000_000+monoDelta, mustTraceTime(t, s, monotonic, 1_000_000))

	assert.Equal(t, int64(1100-1200+2000+(-2000)), mustTraceTime(t, s, seq1, 1100))

	assert.Equal(t, []ClockID{monotonic}, l.clockSets)
	assert.Equal(t, []ClockID{monotonic}, l.clockChanges, "first conversion locks the clock")
}

func TestSynchronizer_TraceTimeClockChangeIsReported(t *testing.T) {
	l := &recordingListener{}
	state := NewTraceTimeState()
	s := New(l, WithTraceTimeState(state))
	mustAdd(t, s, ts(monotonic, 1000), ts(boottime, 100000))

	require.NoError(t, s.SetTraceTimeClock(boottime))
	assert.Equal(t, int64(99000), mustTraceTime(t, s, monotonic, 0))
	assert.True(t, state.UsedForConversion)

	// Tolerated, but reported.
	require.NoError(t, s.SetTraceTimeClock(monotonic))
	assert.Equal(t, monotonic, state.ClockID)
	assert.Equal(t, []ClockID{boottime, monotonic}, l.clockChanges)
	assert.Equal(t, []ClockID{boottime}, l.clockSets)
	assert.Equal(t, int64(5), mustTraceTime(t, s, monotonic, 5))

	// Setting the same clock again is not a change.
	require.NoError(t, s.SetTraceTimeClock(monotonic))
	assert.Len(t, l.clockChanges, 2)
}

func TestSynchronizer_TraceTimeClockSetTwiceBeforeUse(t *testing.T) {
	l := &recordingListener{}
	s := New(l)

	require.NoError(t, s.SetTraceTimeClock(boottime))
	require.NoError(t, s.SetTraceTimeClock(boottime))
	assert.Equal(t, []ClockID{boottime, boottime}, l.clockSets)
	assert.Empty(t, l.clockChanges)

	// No conversion happened yet, but the clock was already chosen.
	require.NoError(t, s.SetTraceTimeClock(monotonic))
	assert.Equal(t, []ClockID{monotonic}, l.clockChanges)
	assert.Len(t, l.clockSets, 2)
	assert.Equal(t, monotonic, s.TraceTimeClock())
}

func TestSynchronizer_SharedTraceTimeState(t *testing.T) {
	state := NewTraceTimeState()
	host := New(nil, WithTraceTimeState(state))
	guest := New(nil, WithTraceTimeState(state))

	require.NoError(t, host.SetTraceTimeClock(monotonic))
	assert.Equal(t, monotonic, guest.TraceTimeClock())
}

func TestSynchronizer_SetTraceTimeClockRejectsRawSequenceClock(t *testing.T) {
	s := New(nil)
	err := s.SetTraceTimeClock(GlobalClock(64))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSequenceClockUnresolved))
	assert.Equal(t, boottime, s.TraceTimeClock())
}

func TestSynchronizer_InvalidSnapshots(t *testing.T) {
	seq := SequenceToGlobalClock(0, 3, 70)

	tests := []struct {
		name  string
		setup [][]ClockTimestamp
		bad   []ClockTimestamp
	}{
		{
			name: "duplicate clock",
			bad:  []ClockTimestamp{ts(realtime, 1), ts(boottime, 2), ts(realtime, 3)},
		},
		{
			name: "incremental global clock",
			bad:  []ClockTimestamp{ts(boottime, 1), NewScaledClockTimestamp(monotonic, 1, 1, true)},
		},
		{
			name:  "unit mismatch",
			setup: [][]ClockTimestamp{{ts(boottime, 1), NewScaledClockTimestamp(seq, 1, 1000, false)}},
			bad:   []ClockTimestamp{ts(boottime, 2), NewScaledClockTimestamp(seq, 2, 10, false)},
		},
		{
			name:  "incremental mismatch",
			setup: [][]ClockTimestamp{{ts(boottime, 1), NewScaledClockTimestamp(seq, 1, 1000, false)}},
			bad:   []ClockTimestamp{ts(boottime, 2), NewScaledClockTimestamp(seq, 2, 1000, true)},
		},
		{
			name: "trace clock not in ns",
			bad:  []ClockTimestamp{ts(realtime, 1), NewScaledClockTimestamp(boottime, 1, 1000, false)},
		},
		{
			name:  "trace clock going backwards",
			setup: [][]ClockTimestamp{{ts(realtime, 1), ts(boottime, 100)}},
			bad:   []ClockTimestamp{ts(realtime, 2), ts(boottime, 50)},
		},
		{
			name: "unresolved sequence clock",
			bad:  []ClockTimestamp{ts(boottime, 1), ts(GlobalClock(64), 2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &recordingListener{}
			s := New(l)
			for _, snap := range tt.setup {
				mustAdd(t, s, snap...)
			}
			clocks, edges, snaps := s.KnownClocks(), s.EdgeCount(), s.SnapshotCount()

			_, err := s.AddSnapshot(tt.bad)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot))
			assert.Equal(t, 1, l.invalidSnapshots)
			assert.Empty(t, l.errors, "rejections are not conversion errors")

			assert.Equal(t, clocks, s.KnownClocks(), "no domain was created")
			assert.Equal(t, edges, s.EdgeCount(), "no edge was added")
			assert.Equal(t, snaps, s.SnapshotCount(), "no snapshot id was consumed")
		})
	}
}

func TestSynchronizer_SnapshotIDsAndEdges(t *testing.T) {
	s := New(nil)
	id0 := mustAdd(t, s, ts(realtime, 1), ts(boottime, 2), ts(monotonic, 3))
	id1 := mustAdd(t, s, ts(monotonic, 4), ts(realtime, 5), ts(boottime, 6))
	assert.Equal(t, uint32(0), id0)
	assert.Equal(t, uint32(1), id1)
	assert.Equal(t, 6, s.EdgeCount(), "same clock set in another order adds no edges")

	mustAdd(t, s)
	mustAdd(t, s, ts(monotonicRaw, 1))
	assert.Equal(t, 6, s.EdgeCount())
	assert.Equal(t, []ClockID{realtime, monotonic, monotonicRaw, boottime}, s.KnownClocks())
}

func TestSynchronizer_ListenerErrorsDoNotChangeResults(t *testing.T) {
	l := &recordingListener{failWith: errors.New("stat table full")}
	s := New(l)
	mustAdd(t, s, ts(realtime, 10), ts(boottime, 10010))
	assert.Equal(t, int64(10015), mustTraceTime(t, s, realtime, 15))
}

func TestSynchronizer_TimezoneOffset(t *testing.T) {
	s := New(nil)
	_, ok := s.TimezoneOffset()
	assert.False(t, ok)

	s.SetTimezoneOffset(3600)
	got, ok := s.TimezoneOffset()
	require.True(t, ok)
	assert.Equal(t, int64(3600), got)
}

func TestSynchronizer_FailureKind(t *testing.T) {
	s := New(nil)
	mustAdd(t, s, ts(boottime, 10), ts(realtime, 10))
	mustAdd(t, s, ts(boottime, 20), ts(realtime, 5))
	mustAdd(t, s, ts(monotonicRaw, 1), ts(monotonicCoarse, 1))

	assert.Equal(t, NonMonotonicSource, s.FailureKind(realtime, boottime))
	assert.Equal(t, UnknownSourceClock, s.FailureKind(monotonic, boottime))
	assert.Equal(t, UnknownTargetClock, s.FailureKind(boottime, monotonic))
	assert.Equal(t, NoPath, s.FailureKind(boottime, monotonicRaw))
}
