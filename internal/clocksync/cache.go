package clocksync

import "math/rand/v2"

const cacheSize = 8

// cachedPath remembers the translation of a single-hop resolution and the
// source interval [minTsNs, maxTsNs) in which it stays valid.
type cachedPath struct {
	valid         bool
	src           ClockID
	target        ClockID
	srcDomain     int
	minTsNs       int64
	maxTsNs       int64
	translationNs int64
}

type pathCache struct {
	slots [cacheSize]cachedPath
	rnd   *rand.Rand
}

func newPathCache(seed uint64) pathCache {
	return pathCache{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (c *pathCache) reset() {
	c.slots = [cacheSize]cachedPath{}
}

// insert evicts a pseudo-randomly chosen slot.
func (c *pathCache) insert(e cachedPath) {
	e.valid = true
	c.slots[c.rnd.IntN(cacheSize)] = e
}
