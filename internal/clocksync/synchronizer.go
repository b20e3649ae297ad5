package clocksync

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/rs/zerolog"
)

// Synchronizer tracks clock snapshots and converts timestamps between clock
// domains.
type Synchronizer struct {
	listener  Listener
	log       zerolog.Logger
	traceTime *TraceTimeState

	// Domains live in an arena; cache entries refer to them by index.
	domains     []clockDomain
	domainIndex map[ClockID]int

	graph        clockGraph
	nonMonotonic map[ClockID]struct{}

	cache                pathCache
	cacheLookupsDisabled bool
	cacheHits            uint32

	curSnapshotID uint32

	remoteOffsets     map[ClockID]int64
	timezoneOffset    int64
	hasTimezoneOffset bool

	pathQueue []ClockPath
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger used on cold paths.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Synchronizer) { s.log = log }
}

// WithCacheSeed seeds the generator that picks cache slots to evict.
func WithCacheSeed(seed uint64) Option {
	return func(s *Synchronizer) { s.cache = newPathCache(seed) }
}

// WithTraceTimeState shares the trace-time clock with other synchronizers of
// the same trace.
func WithTraceTimeState(st *TraceTimeState) Option {
	return func(s *Synchronizer) {
		if st != nil {
			s.traceTime = st
		}
	}
}

// New creates a Synchronizer reporting to listener. A nil listener is
// replaced by NopListener.
func New(listener Listener, opts ...Option) *Synchronizer {
	if listener == nil {
		listener = NopListener{}
	}
	s := &Synchronizer{
		listener:      listener,
		log:           zerolog.Nop(),
		traceTime:     NewTraceTimeState(),
		domainIndex:   make(map[ClockID]int),
		graph:         newClockGraph(),
		nonMonotonic:  make(map[ClockID]struct{}),
		cache:         newPathCache(0),
		remoteOffsets: make(map[ClockID]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSnapshot records clocks observed at the same instant and returns the
// id assigned to the snapshot. A malformed snapshot leaves the synchronizer
// untouched and returns an error wrapping ErrInvalidSnapshot.
func (s *Synchronizer) AddSnapshot(clockTimestamps []ClockTimestamp) (uint32, error) {
	ids := make([]ClockID, 0, len(clockTimestamps))
	seen := make(map[ClockID]struct{}, len(clockTimestamps))
	for _, ct := range clockTimestamps {
		id := ct.Clock.ID
		if IsSequenceClock(id.Clock) && id.SeqID == 0 {
			return 0, s.invalidSnapshot(fmt.Errorf("%w: raw clock id %d", ErrSequenceClockUnresolved, id.Clock))
		}
		if _, dup := seen[id]; dup {
			return 0, s.invalidSnapshot(fmt.Errorf("duplicate clock domain %s", id))
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	hash := hashClockSet(ids)

	values := make([]int64, len(clockTimestamps))
	for i, ct := range clockTimestamps {
		id := ct.Clock.ID
		unit := ct.Clock.UnitMultiplierNs
		if unit == 0 {
			unit = 1
		}

		if idx, ok := s.domainIndex[id]; !ok {
			if ct.Clock.IsIncremental && !id.IsSequenceScoped() {
				return 0, s.invalidSnapshot(fmt.Errorf(
					"global clock %s cannot use incremental encoding; only sequence-scoped clocks can", id))
			}
		} else if d := &s.domains[idx]; d.unitMultiplierNs != unit || d.isIncremental != ct.Clock.IsIncremental {
			return 0, s.invalidSnapshot(fmt.Errorf(
				"clock %s (unit=%d, incremental=%t) was previously registered with unit=%d, incremental=%t",
				id, unit, ct.Clock.IsIncremental, d.unitMultiplierNs, d.isIncremental))
		}

		if id == s.traceTime.ClockID && unit != 1 {
			return 0, s.invalidSnapshot(fmt.Errorf("trace clock %s must use nanoseconds, got unit %d", id, unit))
		}

		ns := ct.Timestamp * unit
		if id == s.traceTime.ClockID {
			if idx, ok := s.domainIndex[id]; ok {
				if series, ok := s.domains[idx].series[hash]; ok {
					if prev, ok := series.last(); ok && ns < prev {
						return 0, s.invalidSnapshot(fmt.Errorf(
							"trace clock %s is not monotonic at snapshot %d: %d < %d", id, s.curSnapshotID, ns, prev))
					}
				}
			}
		}
		values[i] = ns
	}

	snapshotID := s.curSnapshotID
	s.curSnapshotID++
	s.cache.reset()

	for i, ct := range clockTimestamps {
		unit := ct.Clock.UnitMultiplierNs
		if unit == 0 {
			unit = 1
		}
		d := s.domainFor(Clock{ID: ct.Clock.ID, UnitMultiplierNs: unit, IsIncremental: ct.Clock.IsIncremental})
		ns := values[i]
		d.lastTimestampNs = ns

		series := d.seriesFor(hash)
		if prev, ok := series.last(); ok && ns < prev && !s.isNonMonotonic(d.id) {
			s.log.Debug().
				Stringer("clock", d.id).
				Uint32("snapshot_id", snapshotID).
				Int64("ns", ns).
				Int64("previous_ns", prev).
				Msg("clock went backwards, refusing it as a conversion source")
			s.nonMonotonic[d.id] = struct{}{}
		}
		series.append(snapshotID, ns)
	}

	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			s.graph.add(Edge{Src: ids[i], Dst: ids[j], Hash: hash})
			s.graph.add(Edge{Src: ids[j], Dst: ids[i], Hash: hash})
		}
	}

	return snapshotID, nil
}

func (s *Synchronizer) invalidSnapshot(cause error) error {
	s.notify("OnInvalidClockSnapshot", s.listener.OnInvalidClockSnapshot())
	err := fmt.Errorf("%w: %w", ErrInvalidSnapshot, cause)
	s.log.Warn().Err(err).Msg("skipping clock snapshot")
	return err
}

func (s *Synchronizer) domainFor(c Clock) *clockDomain {
	if idx, ok := s.domainIndex[c.ID]; ok {
		return &s.domains[idx]
	}
	s.domains = append(s.domains, newClockDomain(c))
	idx := len(s.domains) - 1
	s.domainIndex[c.ID] = idx
	return &s.domains[idx]
}

func (s *Synchronizer) isNonMonotonic(id ClockID) bool {
	_, ok := s.nonMonotonic[id]
	return ok
}

// Convert translates src_timestamp from the src domain to the target domain.
func (s *Synchronizer) Convert(src ClockID, srcTimestamp int64, target ClockID) (int64, bool) {
	return s.convert(src, srcTimestamp, target, -1)
}

// ConvertAt is Convert with the byte offset of the record being converted,
// reported to the listener on failure.
func (s *Synchronizer) ConvertAt(src ClockID, srcTimestamp int64, target ClockID, byteOffset int64) (int64, bool) {
	return s.convert(src, srcTimestamp, target, byteOffset)
}

func (s *Synchronizer) convert(src ClockID, srcTimestamp int64, target ClockID, byteOffset int64) (int64, bool) {
	if src == target {
		return srcTimestamp, true
	}

	var ns int64
	haveNs := false
	if !s.cacheLookupsDisabled {
		for i := range s.cache.slots {
			e := &s.cache.slots[i]
			if !e.valid || e.src != src || e.target != target {
				continue
			}
			if !haveNs {
				ns = s.domains[e.srcDomain].toNs(srcTimestamp)
				haveNs = true
			}
			if ns >= e.minTsNs && ns < e.maxTsNs {
				s.cacheHits++
				return ns + e.translationNs, true
			}
		}
	}
	return s.convertSlowPath(src, srcTimestamp, ns, haveNs, target, byteOffset)
}

func (s *Synchronizer) convertSlowPath(src ClockID, srcTimestamp, ns int64, haveNs bool, target ClockID, byteOffset int64) (int64, bool) {
	s.notify("OnClockSyncCacheMiss", s.listener.OnClockSyncCacheMiss())

	if s.isNonMonotonic(src) {
		s.recordError(NonMonotonicSource, src, target, srcTimestamp, byteOffset)
		return 0, false
	}

	path, ok := s.FindPath(src, target)
	if !ok {
		s.recordError(s.FailureKind(src, target), src, target, srcTimestamp, byteOffset)
		return 0, false
	}

	srcIdx := s.domainIndex[src]
	if !haveNs {
		ns = s.domains[srcIdx].toNs(srcTimestamp)
	}

	var translation int64
	minTs, maxTs := int64(math.MinInt64), int64(math.MaxInt64)
	for _, hop := range path.hops[:path.n] {
		cur := s.domains[s.domainIndex[hop.Src]].series[hop.Hash]
		next := s.domains[s.domainIndex[hop.Dst]].series[hop.Hash]

		// Closest snapshot at or before ns; earlier values extrapolate from
		// the first snapshot.
		idx := sort.Search(len(cur.timestampsNs), func(i int) bool { return cur.timestampsNs[i] > ns })
		if idx > 0 {
			idx--
		}
		snapshotID := cur.snapshotIDs[idx]
		nextIdx, found := slices.BinarySearch(next.snapshotIDs, snapshotID)
		if !found {
			s.log.Error().
				Stringer("src", hop.Src).
				Stringer("dst", hop.Dst).
				Uint32("snapshot_id", snapshotID).
				Msg("snapshot missing from clock domain")
			return 0, false
		}
		hopTranslation := next.timestampsNs[nextIdx] - cur.timestampsNs[idx]

		// Validity interval of this hop, moved back to the source domain.
		if idx > 0 {
			minTs = max(minTs, cur.timestampsNs[idx]-translation)
		}
		if idx+1 < len(cur.timestampsNs) {
			maxTs = min(maxTs, cur.timestampsNs[idx+1]-translation)
		}

		translation += hopTranslation
		ns += hopTranslation
	}

	if path.n == 1 {
		s.cache.insert(cachedPath{
			src:           src,
			target:        target,
			srcDomain:     srcIdx,
			minTsNs:       minTs,
			maxTsNs:       maxTs,
			translationNs: translation,
		})
	}
	return ns, true
}

// FailureKind classifies why src cannot be converted to target. It is only
// meaningful after a failed conversion.
func (s *Synchronizer) FailureKind(src, target ClockID) ErrorKind {
	switch {
	case s.isNonMonotonic(src):
		return NonMonotonicSource
	case !s.knows(src):
		return UnknownSourceClock
	case !s.knows(target):
		return UnknownTargetClock
	default:
		return NoPath
	}
}

func (s *Synchronizer) knows(id ClockID) bool {
	_, ok := s.domainIndex[id]
	return ok
}

func (s *Synchronizer) recordError(kind ErrorKind, src, target ClockID, srcTimestamp, byteOffset int64) {
	s.listener.RecordConversionError(&ConversionError{
		Kind:         kind,
		Src:          src,
		Target:       target,
		SrcTimestamp: srcTimestamp,
		ByteOffset:   byteOffset,
	})
}

// ToTraceTime converts a timestamp to the trace-time clock. The first call
// locks the trace-time clock.
func (s *Synchronizer) ToTraceTime(id ClockID, timestamp int64) (int64, bool) {
	return s.toTraceTime(id, timestamp, -1)
}

// ToTraceTimeAt is ToTraceTime with the byte offset of the record.
func (s *Synchronizer) ToTraceTimeAt(id ClockID, timestamp, byteOffset int64) (int64, bool) {
	return s.toTraceTime(id, timestamp, byteOffset)
}

func (s *Synchronizer) toTraceTime(id ClockID, timestamp, byteOffset int64) (int64, bool) {
	if !s.traceTime.UsedForConversion {
		s.notify("OnTraceTimeClockIDChanged", s.listener.OnTraceTimeClockIDChanged(s.traceTime.ClockID))
		s.traceTime.UsedForConversion = true
	}
	if id == s.traceTime.ClockID {
		return s.toHostTraceTime(timestamp), true
	}
	ts, ok := s.convert(id, timestamp, s.traceTime.ClockID, byteOffset)
	if !ok {
		return 0, false
	}
	return s.toHostTraceTime(ts), true
}

// toHostTraceTime moves a remote machine's trace time onto the host's.
func (s *Synchronizer) toHostTraceTime(ts int64) int64 {
	if s.listener.IsLocalHost() {
		return ts
	}
	return ts + s.remoteOffsets[s.traceTime.ClockID]
}

// ToTraceTimeFromSnapshot returns the raw value of the trace-time clock if
// the snapshot contains it.
func (s *Synchronizer) ToTraceTimeFromSnapshot(snapshot []ClockTimestamp) (int64, bool) {
	for _, ct := range snapshot {
		if ct.Clock.ID == s.traceTime.ClockID {
			return ct.Timestamp, true
		}
	}
	return 0, false
}

// HasPathToTraceTime reports whether timestamps of id can currently be
// converted to trace time.
func (s *Synchronizer) HasPathToTraceTime(id ClockID) bool {
	if id == s.traceTime.ClockID {
		return true
	}
	if s.isNonMonotonic(id) {
		return false
	}
	_, ok := s.FindPath(id, s.traceTime.ClockID)
	return ok
}

// SetClockOffset registers the offset between a remote machine's clock and
// the host. Only the offset of the trace-time clock is applied, and only
// when the listener reports a remote machine.
func (s *Synchronizer) SetClockOffset(id ClockID, offsetNs int64) {
	s.remoteOffsets[id] = offsetNs
}

// RemoteClockOffsets returns a copy of the registered offsets.
func (s *Synchronizer) RemoteClockOffsets() map[ClockID]int64 {
	out := make(map[ClockID]int64, len(s.remoteOffsets))
	for k, v := range s.remoteOffsets {
		out[k] = v
	}
	return out
}

// SetTraceTimeClock selects the trace-time clock. The first call is silent.
// Any later call naming a different clock is allowed but reported to the
// listener as a change, since the clock is expected to be set once per trace.
func (s *Synchronizer) SetTraceTimeClock(id ClockID) error {
	if IsSequenceClock(id.Clock) && id.SeqID == 0 {
		return fmt.Errorf("set trace time clock: %w: raw clock id %d", ErrSequenceClockUnresolved, id.Clock)
	}
	st := s.traceTime
	if st.ClockID != id && (st.Set || st.UsedForConversion) {
		ev := s.log.Warn().
			Stringer("from", st.ClockID).
			Stringer("to", id)
		if st.UsedForConversion {
			ev.Msg("trace time clock changed after it was used for conversion; clock snapshot too late in trace?")
		} else {
			ev.Msg("trace time clock set more than once")
		}
		st.ClockID = id
		st.Set = true
		s.cache.reset()
		s.notify("OnTraceTimeClockIDChanged", s.listener.OnTraceTimeClockIDChanged(id))
		return nil
	}
	st.ClockID = id
	st.Set = true
	s.notify("OnSetTraceTimeClock", s.listener.OnSetTraceTimeClock(id))
	return nil
}

// TraceTimeClock returns the current trace-time clock.
func (s *Synchronizer) TraceTimeClock() ClockID {
	return s.traceTime.ClockID
}

// SetTimezoneOffset records the trace's offset from UTC in seconds.
func (s *Synchronizer) SetTimezoneOffset(seconds int64) {
	s.timezoneOffset = seconds
	s.hasTimezoneOffset = true
}

// TimezoneOffset returns the offset from UTC in seconds, if one was set.
func (s *Synchronizer) TimezoneOffset() (int64, bool) {
	return s.timezoneOffset, s.hasTimezoneOffset
}

// IsNonMonotonic reports whether id was ever observed going backwards.
func (s *Synchronizer) IsNonMonotonic(id ClockID) bool {
	return s.isNonMonotonic(id)
}

// KnownClocks returns every clock seen in a snapshot, sorted.
func (s *Synchronizer) KnownClocks() []ClockID {
	out := make([]ClockID, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d.id)
	}
	slices.SortFunc(out, ClockID.Compare)
	return out
}

// SnapshotCount returns how many snapshots were accepted.
func (s *Synchronizer) SnapshotCount() uint32 {
	return s.curSnapshotID
}

// EdgeCount returns the number of directed edges in the clock graph.
func (s *Synchronizer) EdgeCount() int {
	return s.graph.len()
}

// SetCacheLookupsDisabled makes Convert skip the cache. Results are still
// written to it.
func (s *Synchronizer) SetCacheLookupsDisabled(v bool) {
	s.cacheLookupsDisabled = v
}

// CacheHits returns the number of conversions answered from the cache.
func (s *Synchronizer) CacheHits() uint32 {
	return s.cacheHits
}

func (s *Synchronizer) notify(callback string, err error) {
	if err != nil {
		s.log.Warn().Err(err).Str("callback", callback).Msg("clock event listener failed")
	}
}
