package scenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mrzor/trace-clocksync/internal/clocklistener"
	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/seqstate"
	"github.com/mrzor/trace-clocksync/internal/tokenizer"
)

// Cache misses depend on eviction and are left out of transcripts.
const cacheMissesMetric = "clocksync_cache_misses_total"

// Result is the outcome of a scenario.
type Result struct {
	Lines []string

	Synchronizer *clocksync.Synchronizer
	Registry     *prometheus.Registry
}

// Transcript joins the lines of r.
func (r *Result) Transcript() string {
	return strings.Join(r.Lines, "\n") + "\n"
}

// Option configures Run.
type Option func(*runner)

// WithLogger sets the logger passed to the synchronizer and tokenizer.
func WithLogger(log zerolog.Logger) Option {
	return func(r *runner) { r.log = log }
}

// WithSnapshotSink persists accepted snapshots.
func WithSnapshotSink(sink tokenizer.SnapshotSink) Option {
	return func(r *runner) { r.snapshots = sink }
}

// WithErrorSink persists conversion errors.
func WithErrorSink(sink clocklistener.ErrorSink) Option {
	return func(r *runner) { r.errors = sink }
}

type runner struct {
	log       zerolog.Logger
	snapshots tokenizer.SnapshotSink
	errors    clocklistener.ErrorSink

	sync  *clocksync.Synchronizer
	tok   *tokenizer.Tokenizer
	lines []string
}

// Run replays s on a fresh synchronizer. Engine failures are part of the
// transcript; only malformed steps return an error.
func Run(s *Scenario, opts ...Option) (*Result, error) {
	r := &runner{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}

	reg := prometheus.NewRegistry()
	statsOpts := []clocklistener.Option{clocklistener.WithLogger(r.log)}
	if r.errors != nil {
		statsOpts = append(statsOpts, clocklistener.WithErrorSink(r.errors))
	}
	stats := clocklistener.NewStats(reg, s.MachineID, statsOpts...)

	r.sync = clocksync.New(stats,
		clocksync.WithLogger(r.log),
		clocksync.WithCacheSeed(s.CacheSeed),
	)
	tokOpts := []tokenizer.Option{
		tokenizer.WithLogger(r.log),
		tokenizer.WithMachineID(s.MachineID),
	}
	if r.snapshots != nil {
		tokOpts = append(tokOpts, tokenizer.WithSnapshotSink(r.snapshots))
	}
	r.tok = tokenizer.New(r.sync, nil, tokOpts...)

	if s.TraceClock != "" {
		raw, err := clocksync.ParseClock(s.TraceClock)
		if err != nil {
			return nil, fmt.Errorf("trace_clock: %w", err)
		}
		if err := r.sync.SetTraceTimeClock(clocksync.GlobalClock(raw)); err != nil {
			return nil, fmt.Errorf("trace_clock: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := r.step(step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	r.printf("summary snapshots=%d clocks=%d edges=%d",
		r.sync.SnapshotCount(), len(r.sync.KnownClocks()), r.sync.EdgeCount())
	if err := r.metrics(reg); err != nil {
		return nil, err
	}

	return &Result{
		Lines:        r.lines,
		Synchronizer: r.sync,
		Registry:     reg,
	}, nil
}

func (r *runner) printf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *runner) step(s Step) error {
	switch {
	case s.Snapshot != nil:
		return r.snapshot(s.Snapshot)
	case s.Convert != nil:
		return r.convert(s.Convert)
	case s.ToTraceTime != nil:
		return r.toTraceTime(s.ToTraceTime)
	case s.SetTraceClock != nil:
		return r.setTraceClock(*s.SetTraceClock)
	case s.SetOffset != nil:
		return r.setOffset(s.SetOffset)
	case s.SequenceDefaults != nil:
		return r.sequenceDefaults(s.SequenceDefaults)
	case s.Event != nil:
		return r.event(s.Event)
	case s.FindPath != nil:
		return r.findPath(s.FindPath)
	}
	return errors.New("empty step")
}

// resolve maps a reference to its clock domain. A raw sequence clock used
// outside a sequence is reported in the transcript, not returned.
func (r *runner) resolve(step string, ref ClockRef) (clocksync.ClockID, bool, error) {
	raw, err := clocksync.ParseClock(ref.Clock)
	if err != nil {
		return clocksync.ClockID{}, false, err
	}
	id, err := r.tok.ClockFor(ref.key(), raw)
	if err != nil {
		r.printf("%s %s: error %v", step, ref.Clock, err)
		return clocksync.ClockID{}, false, nil
	}
	return id, true, nil
}

func (r *runner) snapshot(st *SnapshotStep) error {
	key := seqstate.Key{TraceFileID: st.TraceFileID, SeqID: st.SeqID}
	pkt := &tokenizer.SnapshotPacket{}
	if st.Primary != "" {
		raw, err := clocksync.ParseClock(st.Primary)
		if err != nil {
			return fmt.Errorf("primary: %w", err)
		}
		pkt.PrimaryTraceClock = raw
	}

	labels := make([]string, 0, len(st.Clocks))
	for _, c := range st.Clocks {
		raw, err := clocksync.ParseClock(c.Clock)
		if err != nil {
			return err
		}
		pkt.Clocks = append(pkt.Clocks, tokenizer.SnapshotClock{
			ClockID:          raw,
			Timestamp:        c.Ts,
			UnitMultiplierNs: c.Unit,
			IsIncremental:    c.Incremental,
		})
		label := clocksync.ClockName(raw)
		if id, err := r.tok.ClockFor(key, raw); err == nil {
			label = id.String()
		}
		labels = append(labels, fmt.Sprintf("%s=%d", label, c.Ts))
	}

	before := r.sync.SnapshotCount()
	issuesBefore := len(r.tok.Sequences().Issues(key))
	if err := r.tok.ParseClockSnapshot(key, pkt); err != nil {
		r.printf("snapshot %s: error %v", strings.Join(labels, " "), err)
		return nil
	}

	issues := r.tok.Sequences().Issues(key)[issuesBefore:]
	if r.sync.SnapshotCount() == before {
		r.printf("snapshot %s: rejected: %s", strings.Join(labels, " "), strings.Join(issues, "; "))
		return nil
	}
	r.printf("snapshot %d %s", before, strings.Join(labels, " "))
	for _, issue := range issues {
		r.printf("  warning: %s", issue)
	}
	return nil
}

func (r *runner) convert(st *ConvertStep) error {
	src, ok, err := r.resolve("convert", st.Src)
	if err != nil || !ok {
		return err
	}
	target, ok, err := r.resolve("convert", st.Target)
	if err != nil || !ok {
		return err
	}

	prefix := fmt.Sprintf("convert %s %d -> %s", src, st.Ts, target)
	if v, ok := r.sync.Convert(src, st.Ts, target); ok {
		r.printf("%s: %d", prefix, v)
	} else {
		r.printf("%s: error %s", prefix, r.sync.FailureKind(src, target))
	}
	return nil
}

func (r *runner) toTraceTime(st *TraceTimeStep) error {
	id, ok, err := r.resolve("to_trace_time", st.Clock)
	if err != nil || !ok {
		return err
	}

	prefix := fmt.Sprintf("to_trace_time %s %d", id, st.Ts)
	if v, ok := r.sync.ToTraceTime(id, st.Ts); ok {
		r.printf("%s: %d", prefix, v)
	} else {
		r.printf("%s: error %s", prefix, r.sync.FailureKind(id, r.sync.TraceTimeClock()))
	}
	return nil
}

func (r *runner) setTraceClock(ref ClockRef) error {
	id, ok, err := r.resolve("set_trace_clock", ref)
	if err != nil || !ok {
		return err
	}
	if err := r.sync.SetTraceTimeClock(id); err != nil {
		r.printf("set_trace_clock %s: error %v", id, err)
		return nil
	}
	r.printf("set_trace_clock %s", id)
	return nil
}

func (r *runner) setOffset(st *OffsetStep) error {
	id, ok, err := r.resolve("set_offset", st.Clock)
	if err != nil || !ok {
		return err
	}
	r.sync.SetClockOffset(id, st.Ns)
	r.printf("set_offset %s %d", id, st.Ns)
	return nil
}

func (r *runner) sequenceDefaults(st *DefaultsStep) error {
	raw, err := clocksync.ParseClock(st.Clock)
	if err != nil {
		return err
	}
	key := seqstate.Key{TraceFileID: st.TraceFileID, SeqID: st.SeqID}
	r.tok.SetSequenceDefaults(key, raw)
	r.printf("sequence_defaults %s %s", key, clocksync.ClockName(raw))
	return nil
}

func (r *runner) event(st *EventStep) error {
	key := seqstate.Key{TraceFileID: st.TraceFileID, SeqID: st.SeqID}
	var raw uint32
	if st.Clock != "" {
		var err error
		if raw, err = clocksync.ParseClock(st.Clock); err != nil {
			return err
		}
	}

	label := "default"
	if raw != 0 {
		label = clocksync.ClockName(raw)
	}
	prefix := fmt.Sprintf("event %s %s %d", key, label, st.Ts)

	v, err := r.tok.ResolveTimestamp(key, raw, st.Ts, -1)
	var cerr *clocksync.ConversionError
	switch {
	case errors.As(err, &cerr):
		r.printf("%s: error %s", prefix, cerr.Kind)
	case err != nil:
		r.printf("%s: error %v", prefix, err)
	default:
		r.printf("%s: %d", prefix, v)
	}
	return nil
}

func (r *runner) findPath(st *FindPathStep) error {
	src, ok, err := r.resolve("find_path", st.Src)
	if err != nil || !ok {
		return err
	}
	target, ok, err := r.resolve("find_path", st.Target)
	if err != nil || !ok {
		return err
	}

	prefix := fmt.Sprintf("find_path %s -> %s", src, target)
	path, ok := r.sync.FindPath(src, target)
	if !ok {
		r.printf("%s: none", prefix)
		return nil
	}
	nodes := []string{src.String()}
	for _, hop := range path.Hops() {
		nodes = append(nodes, hop.Dst.String())
	}
	r.printf("%s: %s (%d hops)", prefix, strings.Join(nodes, " -> "), path.Len())
	return nil
}

// metrics appends the non-zero listener counters.
func (r *runner) metrics(reg *prometheus.Registry) error {
	lines, err := clocklistener.CounterLines(reg, cacheMissesMetric)
	if err != nil {
		return err
	}
	for _, line := range lines {
		r.printf("metric %s", line)
	}
	return nil
}
