package clocksync

import (
	"encoding/binary"
	"hash/fnv"
	"slices"
)

// SnapshotHash identifies the set of clocks present in a snapshot. Two
// snapshots share a hash iff they observed exactly the same clocks.
type SnapshotHash uint64

// hashClockSet is independent of the order in which clocks are listed.
func hashClockSet(ids []ClockID) SnapshotHash {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, ClockID.Compare)

	h := fnv.New64a()
	var buf [12]byte
	for _, id := range sorted {
		binary.LittleEndian.PutUint32(buf[0:4], id.Clock)
		binary.LittleEndian.PutUint32(buf[4:8], id.SeqID)
		binary.LittleEndian.PutUint32(buf[8:12], id.TraceFileID)
		_, _ = h.Write(buf[:])
	}
	return SnapshotHash(h.Sum64())
}

// timeSeries holds the readings of one clock across the snapshots sharing a
// hash. Both slices always have the same length and snapshotIDs is sorted.
type timeSeries struct {
	snapshotIDs  []uint32
	timestampsNs []int64
}

func (ts *timeSeries) append(snapshotID uint32, ns int64) {
	ts.snapshotIDs = append(ts.snapshotIDs, snapshotID)
	ts.timestampsNs = append(ts.timestampsNs, ns)
}

func (ts *timeSeries) last() (int64, bool) {
	if len(ts.timestampsNs) == 0 {
		return 0, false
	}
	return ts.timestampsNs[len(ts.timestampsNs)-1], true
}

// clockDomain is everything known about one ClockID.
type clockDomain struct {
	id     ClockID
	series map[SnapshotHash]*timeSeries

	unitMultiplierNs int64
	// isIncremental domains receive deltas in Convert; lastTimestampNs
	// carries the running absolute value.
	isIncremental   bool
	lastTimestampNs int64
}

func newClockDomain(c Clock) clockDomain {
	return clockDomain{
		id:               c.ID,
		series:           make(map[SnapshotHash]*timeSeries),
		unitMultiplierNs: c.UnitMultiplierNs,
		isIncremental:    c.IsIncremental,
	}
}

// toNs treats timestamp as a delta for incremental domains and as an
// absolute value otherwise.
func (d *clockDomain) toNs(timestamp int64) int64 {
	if !d.isIncremental {
		return timestamp * d.unitMultiplierNs
	}
	d.lastTimestampNs += timestamp * d.unitMultiplierNs
	return d.lastTimestampNs
}

func (d *clockDomain) seriesFor(hash SnapshotHash) *timeSeries {
	ts, ok := d.series[hash]
	if !ok {
		ts = &timeSeries{}
		d.series[hash] = ts
	}
	return ts
}
