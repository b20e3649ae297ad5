package clocksync

import (
	"cmp"
	"slices"
)

// Edge says that Src can be translated to Dst through the snapshots with
// the given hash.
type Edge struct {
	Src  ClockID
	Dst  ClockID
	Hash SnapshotHash
}

func (e Edge) compare(o Edge) int {
	if r := e.Src.Compare(o.Src); r != 0 {
		return r
	}
	if r := e.Dst.Compare(o.Dst); r != 0 {
		return r
	}
	return cmp.Compare(e.Hash, o.Hash)
}

// clockGraph is an ordered edge set. Outgoing edges of a node are kept
// sorted by (Dst, Hash) so that traversal order is deterministic.
type clockGraph struct {
	out   map[ClockID][]Edge
	edges int
}

func newClockGraph() clockGraph {
	return clockGraph{out: make(map[ClockID][]Edge)}
}

// add inserts e unless it is already present.
func (g *clockGraph) add(e Edge) {
	list := g.out[e.Src]
	i, found := slices.BinarySearchFunc(list, e, Edge.compare)
	if found {
		return
	}
	g.out[e.Src] = slices.Insert(list, i, e)
	g.edges++
}

func (g *clockGraph) from(src ClockID) []Edge {
	return g.out[src]
}

func (g *clockGraph) len() int {
	return g.edges
}
