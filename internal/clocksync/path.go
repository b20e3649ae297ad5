package clocksync

// MaxPathLen bounds the number of hops FindPath explores.
const MaxPathLen = 4

// ClockPath is a chain of at most MaxPathLen hops from a source clock.
type ClockPath struct {
	hops [MaxPathLen]Edge
	n    int
	last ClockID
}

func newClockPath(src ClockID) ClockPath {
	return ClockPath{last: src}
}

// Len returns the number of hops.
func (p ClockPath) Len() int { return p.n }

// Hops returns a copy of the hops in traversal order.
func (p ClockPath) Hops() []Edge {
	out := make([]Edge, p.n)
	copy(out, p.hops[:p.n])
	return out
}

func (p ClockPath) extend(e Edge) ClockPath {
	p.hops[p.n] = e
	p.n++
	p.last = e.Dst
	return p
}

// visits reports whether id is already on the path.
func (p ClockPath) visits(id ClockID) bool {
	if p.n == 0 {
		return p.last == id
	}
	if p.hops[0].Src == id {
		return true
	}
	for i := 0; i < p.n; i++ {
		if p.hops[i].Dst == id {
			return true
		}
	}
	return false
}

// FindPath runs a breadth-first search from src to target and returns the
// first path found. Among paths of equal length the one reached first in
// (Dst, Hash) edge order wins. Non-monotonic clocks are never expanded, so
// they can only appear as the target.
func (s *Synchronizer) FindPath(src, target ClockID) (ClockPath, bool) {
	if _, ok := s.domainIndex[target]; !ok {
		return ClockPath{}, false
	}
	if _, ok := s.domainIndex[src]; !ok {
		return ClockPath{}, false
	}
	if src == target {
		return newClockPath(src), true
	}

	queue := s.pathQueue[:0]
	queue = append(queue, newClockPath(src))
	defer func() { s.pathQueue = queue[:0] }()

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		if cur.n >= MaxPathLen || s.isNonMonotonic(cur.last) {
			continue
		}
		for _, e := range s.graph.from(cur.last) {
			if e.Dst == target {
				return cur.extend(e), true
			}
			if cur.n+1 >= MaxPathLen || cur.visits(e.Dst) {
				continue
			}
			queue = append(queue, cur.extend(e))
		}
	}
	return ClockPath{}, false
}
