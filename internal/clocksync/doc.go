// Package clocksync converts timestamps recorded in heterogeneous clock
// domains into a single canonical trace time.
//
// Clock domains are connected by snapshots: simultaneous observations of two
// or more clocks. Every AddSnapshot call records one observation and grows an
// undirected graph whose nodes are clock domains and whose edges are tagged
// with the snapshot hash (a hash of the set of clocks in the snapshot):
//
//	AddSnapshot(A:10, B:100)    hash S1  edges A<->B
//	AddSnapshot(A:20, C:2000)   hash S2  edges A<->C
//	AddSnapshot(B:400, C:5000)  hash S3  edges B<->C
//	AddSnapshot(A:30, B:300)    hash S1  (no new edges)
//
// Each domain keeps one time series per snapshot hash, so the values that
// were observed together can be matched by snapshot id:
//
//	A  S1 {id:0 t:10} {id:3 t:30}
//	   S2 {id:1 t:20}
//	B  S1 {id:0 t:100} {id:3 t:300}
//	   S3 {id:2 t:400}
//	C  S2 {id:1 t:2000}
//	   S3 {id:2 t:5000}
//
// Convert finds a path with a bounded breadth-first search and applies one
// additive translation per hop, using the snapshot closest to (and not after)
// the timestamp being converted. Single-hop resolutions are remembered in a
// small cache keyed by the interval in which the translation stays valid.
//
// A clock observed to move backwards is flagged non-monotonic. It can still
// be the target of a conversion but never its source or an intermediate hop.
//
// A Synchronizer is not safe for concurrent use. One instance belongs to the
// goroutine tokenizing one trace.
package clocksync
