// Package seqstate manages per-sequence state of a trace.
//
// A sequence is one trace writer inside one trace file. State holds the
// clock its event timestamps default to and the issues noticed while
// tokenizing it.
//
// Manager provides command-query separation:
//
// Queries (read-only):
//   - Get(key) - Retrieve state
//   - Issues(key) - Retrieve tokenization warnings
//   - DefaultClock(key) - Resolve the default timestamp clock
//
// Commands (mutations):
//   - SetDefaultClock(key, id) - Record the sequence's default clock
//   - AddIssue(key, issue) - Add a warning
//   - Delete(key) - Drop a finished sequence
//   - GetOrCreate(key) - Atomic get-or-create
//
// Thread-safe with RWMutex for concurrent access.
package seqstate
