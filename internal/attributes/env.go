package attributes

import (
	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/eventprocessor"
)

// typeEnv declares the variables visible to expressions.
var typeEnv = map[string]any{
	"name":          "",
	"clock":         "",
	"clock_name":    "",
	"seq_id":        uint32(0),
	"trace_file_id": uint32(0),
	"raw_ts":        int64(0),
	"trace_ts":      int64(0),
	"duration":      int64(0),
	"seq":           map[string]uint32{},
}

// eventEnv builds the evaluation environment of a converted event.
func eventEnv(ev *eventprocessor.ConvertedEvent) map[string]any {
	clockName, _ := clocksync.BuiltinClockName(ev.Clock.Clock)
	return map[string]any{
		"name":          ev.Name,
		"clock":         ev.Clock.String(),
		"clock_name":    clockName,
		"seq_id":        ev.Seq.SeqID,
		"trace_file_id": ev.Seq.TraceFileID,
		"raw_ts":        ev.RawTs,
		"trace_ts":      ev.TraceTs,
		"duration":      ev.Duration,
		"seq": map[string]uint32{
			"id":            ev.Seq.SeqID,
			"trace_file_id": ev.Seq.TraceFileID,
		},
	}
}
