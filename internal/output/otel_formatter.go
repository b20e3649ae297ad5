package output

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/trace-clocksync/internal/attributes"
	"github.com/mrzor/trace-clocksync/internal/eventprocessor"
	"github.com/mrzor/trace-clocksync/internal/seqstate"
	"github.com/mrzor/trace-clocksync/internal/timesync"
)

// OTELFormatter formats events as OpenTelemetry spans.
type OTELFormatter struct {
	tracer   trace.Tracer
	clock    *timesync.Converter
	attrs    *attributes.Evaluator
	traceIDs *attributes.TraceIDEvaluator
	seqs     *seqstate.Manager
	traceID  trace.TraceID
	log      zerolog.Logger

	spans int64
}

var _ eventprocessor.EventHandler = (*OTELFormatter)(nil)

// OTELOption configures an OTELFormatter.
type OTELOption func(*OTELFormatter)

// WithCustomAttributes evaluates attrs for every span.
func WithCustomAttributes(attrs *attributes.Evaluator) OTELOption {
	return func(f *OTELFormatter) { f.attrs = attrs }
}

// WithTraceIDEvaluator groups spans into traces by expression.
func WithTraceIDEvaluator(e *attributes.TraceIDEvaluator) OTELOption {
	return func(f *OTELFormatter) { f.traceIDs = e }
}

// WithTraceID puts spans without a computed trace ID in traceID.
func WithTraceID(traceID trace.TraceID) OTELOption {
	return func(f *OTELFormatter) { f.traceID = traceID }
}

// WithSequenceIssues attaches the issues recorded for a sequence to its spans.
func WithSequenceIssues(seqs *seqstate.Manager) OTELOption {
	return func(f *OTELFormatter) { f.seqs = seqs }
}

// WithOTELLogger sets the logger.
func WithOTELLogger(log zerolog.Logger) OTELOption {
	return func(f *OTELFormatter) { f.log = log }
}

// NewOTELFormatter creates a new OTELFormatter.
func NewOTELFormatter(tracer trace.Tracer, clock *timesync.Converter, opts ...OTELOption) *OTELFormatter {
	f := &OTELFormatter{
		tracer: tracer,
		clock:  clock,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HandleEvent emits one span covering the event.
func (f *OTELFormatter) HandleEvent(ev *eventprocessor.ConvertedEvent) error {
	var extra []attribute.KeyValue

	traceID := f.traceID
	if f.traceIDs != nil && f.traceIDs.Enabled() {
		id, warnings, err := f.traceIDs.EvaluateAndValidate(ev)
		switch {
		case err != nil:
			f.log.Warn().Err(err).Str("event", ev.Name).Msg("trace-id expression failed")
			extra = append(extra, attribute.String("_tracing_error_0", err.Error()))
		case id.IsValid():
			traceID = id
			extra = append(extra, warnings...)
		}
	}

	ctx := context.Background()
	if traceID.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, remoteParent(traceID))
	}

	startTime := f.clock.TraceToWallClock(ev.TraceTs)
	name := ev.Name
	if name == "" {
		name = "event"
	}

	_, span := f.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(startTime),
	)

	span.SetAttributes(
		attribute.String("clock.id", ev.Clock.String()),
		attribute.Int64("clock.seq_id", int64(ev.Seq.SeqID)),
		attribute.Int64("clock.trace_file_id", int64(ev.Seq.TraceFileID)),
		attribute.Int64("clock.raw_ts", ev.RawTs),
		attribute.Int64("clock.trace_ts", ev.TraceTs),
		attribute.Int64("event.duration_ns", ev.Duration),
		attribute.Int64("event.byte_offset", ev.ByteOffset),
	)

	if f.attrs != nil {
		if customAttrs := f.attrs.EvaluateCustomAttributes(ev); len(customAttrs) > 0 {
			span.SetAttributes(customAttrs...)
		}
	}
	if len(extra) > 0 {
		span.SetAttributes(extra...)
	}

	if f.seqs != nil {
		issues := f.seqs.Issues(ev.Seq)
		for i, issue := range issues {
			span.SetAttributes(attribute.String(fmt.Sprintf("_tracing_warning_%d", i), issue))
		}
		if len(issues) > 0 {
			span.SetStatus(codes.Error, "sequence has clock issues")
		}
	}

	span.End(trace.WithTimestamp(startTime.Add(time.Duration(ev.Duration))))
	f.spans++
	return nil
}

// Spans returns the number of spans emitted.
func (f *OTELFormatter) Spans() int64 {
	return f.spans
}

// remoteParent anchors spans in traceID. The parent span ID is derived from
// the trace ID so that every span of a trace shares it.
func remoteParent(traceID trace.TraceID) trace.SpanContext {
	var spanID trace.SpanID
	copy(spanID[:], traceID[8:])
	if !spanID.IsValid() {
		spanID[7] = 1
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}
