package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mrzor/trace-clocksync/internal/eventprocessor"
)

// Format selects how TextFormatter prints events.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

type jsonEvent struct {
	Name        string `json:"name"`
	Clock       string `json:"clock"`
	SeqID       uint32 `json:"seq_id,omitempty"`
	TraceFileID uint32 `json:"trace_file_id,omitempty"`
	RawTs       int64  `json:"raw_ts"`
	TraceTs     int64  `json:"trace_ts"`
	Duration    int64  `json:"duration,omitempty"`
	ByteOffset  int64  `json:"byte_offset"`
}

// TextFormatter writes events to w, one per line.
type TextFormatter struct {
	w      io.Writer
	format Format
	enc    *json.Encoder
}

var _ eventprocessor.EventHandler = (*TextFormatter)(nil)

// NewTextFormatter creates a TextFormatter.
func NewTextFormatter(w io.Writer, format Format) *TextFormatter {
	return &TextFormatter{
		w:      w,
		format: format,
		enc:    json.NewEncoder(w),
	}
}

// HandleEvent prints ev.
func (f *TextFormatter) HandleEvent(ev *eventprocessor.ConvertedEvent) error {
	if f.format == FormatJSON {
		return f.enc.Encode(jsonEvent{
			Name:        ev.Name,
			Clock:       ev.Clock.String(),
			SeqID:       ev.Seq.SeqID,
			TraceFileID: ev.Seq.TraceFileID,
			RawTs:       ev.RawTs,
			TraceTs:     ev.TraceTs,
			Duration:    ev.Duration,
			ByteOffset:  ev.ByteOffset,
		})
	}

	_, err := fmt.Fprintf(f.w, "%d %s %s raw=%d dur=%d @%d\n",
		ev.TraceTs, ev.Seq, ev.Name, ev.RawTs, ev.Duration, ev.ByteOffset)
	return err
}
