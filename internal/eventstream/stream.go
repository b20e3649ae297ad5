// Package eventstream reads wire records from a BPF ring buffer and
// dispatches them to a Handler.
package eventstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/rs/zerolog"

	"github.com/mrzor/trace-clocksync/internal/wire"
)

// RecordReader is the subset of *ringbuf.Reader the stream uses.
type RecordReader interface {
	Read() (ringbuf.Record, error)
}

// Handler receives decoded records together with their byte offset in the
// stream.
type Handler interface {
	HandleSnapshot(rec *wire.SnapshotRecord, byteOffset int64) error
	HandleEvent(rec *wire.EventRecord, byteOffset int64) error
	HandleSequenceDefaults(rec *wire.SequenceDefaultsRecord, byteOffset int64) error
}

// Stream reads records from a ringbuffer and dispatches them to a handler.
type Stream struct {
	reader  RecordReader
	handler Handler
	log     zerolog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}

	offset int64
}

// New creates a new Stream with the given ringbuffer reader and handler.
func New(reader RecordReader, handler Handler, log zerolog.Logger) *Stream {
	return &Stream{
		reader:  reader,
		handler: handler,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins reading records from the ringbuffer in a goroutine.
// It returns immediately and processes records in the background until
// the context is cancelled, Stop is called or the reader is closed.
func (s *Stream) Start(ctx context.Context) error {
	go s.processRecords(ctx)
	return nil
}

// Stop signals the processing goroutine to stop. A goroutine blocked in
// Read only notices once the reader is closed.
func (s *Stream) Stop() error {
	close(s.stopCh)
	return nil
}

// Done is closed when the processing goroutine has returned.
func (s *Stream) Done() <-chan struct{} {
	return s.doneCh
}

// processRecords is the main loop that reads and processes records.
func (s *Stream) processRecords(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
			record, err := s.reader.Read()
			if err != nil {
				if errors.Is(err, ringbuf.ErrClosed) {
					return
				}
				s.log.Warn().Err(err).Msg("reading from ring buffer")
				continue
			}

			offset := s.offset
			s.offset += int64(len(record.RawSample))
			if err := s.dispatch(record.RawSample, offset); err != nil {
				s.log.Warn().Err(err).Int64("byte_offset", offset).Msg("handling record")
			}
		}
	}
}

func (s *Stream) dispatch(raw []byte, offset int64) error {
	rec, err := wire.Decode(raw)
	if err != nil {
		return fmt.Errorf("parsing record: %w", err)
	}
	switch r := rec.(type) {
	case *wire.SnapshotRecord:
		return s.handler.HandleSnapshot(r, offset)
	case *wire.EventRecord:
		return s.handler.HandleEvent(r, offset)
	case *wire.SequenceDefaultsRecord:
		return s.handler.HandleSequenceDefaults(r, offset)
	default:
		return fmt.Errorf("unhandled record %T", rec)
	}
}

// PinnedReader is a ring buffer reader over a map pinned in bpffs.
type PinnedReader struct {
	*ringbuf.Reader
	m *ebpf.Map
}

// OpenPinned opens the ring buffer map pinned at path, typically by the
// producer under /sys/fs/bpf.
func OpenPinned(path string) (*PinnedReader, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, fmt.Errorf("loading pinned map %s: %w", path, err)
	}
	if m.Type() != ebpf.RingBuf {
		m.Close()
		return nil, fmt.Errorf("pinned map %s is a %s, not a ring buffer", path, m.Type())
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("opening ring buffer reader: %w", err)
	}
	return &PinnedReader{Reader: rd, m: m}, nil
}

// Close closes the reader, unblocking any pending Read, and the map.
func (p *PinnedReader) Close() error {
	return errors.Join(p.Reader.Close(), p.m.Close())
}
