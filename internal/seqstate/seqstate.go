package seqstate

import "fmt"

// Key identifies a trace-writer sequence within a trace file.
type Key struct {
	TraceFileID uint32
	SeqID       uint32
}

func (k Key) String() string {
	return fmt.Sprintf("file%d/seq%d", k.TraceFileID, k.SeqID)
}

// State is what the tokenizer remembers about one sequence.
type State struct {
	// DefaultClockID is the raw clock id of timestamps that carry none.
	// Zero means the trace-time clock.
	DefaultClockID uint32
	Issues         []string
}
