package eventprocessor

import (
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/eventstream"
	"github.com/mrzor/trace-clocksync/internal/seqstate"
	"github.com/mrzor/trace-clocksync/internal/tokenizer"
	"github.com/mrzor/trace-clocksync/internal/wire"
)

// ConvertedEvent is an event whose timestamp was resolved to trace time.
type ConvertedEvent struct {
	Seq        seqstate.Key
	Clock      clocksync.ClockID
	Name       string
	RawTs      int64
	TraceTs    int64
	Duration   int64
	ByteOffset int64
}

// EventHandler handles converted events.
type EventHandler interface {
	HandleEvent(ev *ConvertedEvent) error
}

// Processor coordinates record processing.
// It routes snapshots to the tokenizer and converted events to a handler.
type Processor struct {
	tok     *tokenizer.Tokenizer
	handler EventHandler
	log     zerolog.Logger

	dropped atomic.Int64
}

var _ eventstream.Handler = (*Processor)(nil)

// NewProcessor creates a new record processor.
func NewProcessor(tok *tokenizer.Tokenizer, handler EventHandler, log zerolog.Logger) *Processor {
	return &Processor{
		tok:     tok,
		handler: handler,
		log:     log,
	}
}

// HandleSnapshot feeds a clock snapshot to the tokenizer.
func (p *Processor) HandleSnapshot(rec *wire.SnapshotRecord, _ int64) error {
	pkt := &tokenizer.SnapshotPacket{PrimaryTraceClock: rec.PrimaryTraceClock}
	for _, c := range rec.Readings() {
		pkt.Clocks = append(pkt.Clocks, tokenizer.SnapshotClock{
			ClockID:          c.ClockID,
			Timestamp:        c.Ts,
			UnitMultiplierNs: int64(c.Unit), //nolint:gosec // Units are small tick sizes
			IsIncremental:    c.Incremental(),
		})
	}
	return p.tok.ParseClockSnapshot(keyOf(rec.Header), pkt)
}

// HandleSequenceDefaults records a sequence's default timestamp clock.
func (p *Processor) HandleSequenceDefaults(rec *wire.SequenceDefaultsRecord, _ int64) error {
	p.tok.SetSequenceDefaults(keyOf(rec.Header), rec.DefaultClockID)
	return nil
}

// HandleEvent resolves the event timestamp and forwards the event. Events
// whose timestamp cannot be converted are dropped.
func (p *Processor) HandleEvent(rec *wire.EventRecord, byteOffset int64) error {
	key := keyOf(rec.Header)
	clock, err := p.tok.EventClock(key, rec.ClockID)
	if err != nil {
		p.dropped.Add(1)
		return err
	}

	traceTs, err := p.tok.ResolveTimestamp(key, rec.ClockID, rec.Ts, byteOffset)
	if err != nil {
		p.dropped.Add(1)
		var cerr *clocksync.ConversionError
		if errors.As(err, &cerr) {
			p.log.Debug().Err(err).Str("event", rec.EventName()).Msg("dropping event")
			return nil
		}
		return err
	}

	return p.handler.HandleEvent(&ConvertedEvent{
		Seq:        key,
		Clock:      clock,
		Name:       rec.EventName(),
		RawTs:      rec.Ts,
		TraceTs:    traceTs,
		Duration:   rec.Duration,
		ByteOffset: byteOffset,
	})
}

// Dropped returns the number of events discarded so far.
func (p *Processor) Dropped() int64 {
	return p.dropped.Load()
}

func keyOf(h wire.Header) seqstate.Key {
	return seqstate.Key{TraceFileID: h.TraceFileID, SeqID: h.SeqID}
}
