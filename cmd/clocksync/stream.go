package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mrzor/trace-clocksync/internal/attributes"
	"github.com/mrzor/trace-clocksync/internal/eventprocessor"
	"github.com/mrzor/trace-clocksync/internal/eventstream"
	"github.com/mrzor/trace-clocksync/internal/otel"
	"github.com/mrzor/trace-clocksync/internal/output"
	"github.com/mrzor/trace-clocksync/internal/timesync"
)

type streamOptions struct {
	*rootOptions
	Pin         string
	OTLP        bool
	MetricsAddr string
}

func newStreamCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &streamOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Convert events read from a pinned BPF ring buffer",
		Long: `Read clock snapshots and events from a BPF ring buffer pinned in bpffs,
convert every event timestamp to trace time and print it, or export it as an
OpenTelemetry span with --otlp.

Runs until interrupted.

Examples:
  clocksync stream --pin /sys/fs/bpf/trace_events
  clocksync stream --pin /sys/fs/bpf/trace_events --format json
  clocksync stream --pin /sys/fs/bpf/trace_events --metrics-addr :9464
  OTEL_EXPORTER_OTLP_ENDPOINT=http://collector:4318 clocksync stream --pin /sys/fs/bpf/trace_events --otlp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Pin, "pin", "", "path of the pinned ring buffer map (required)")
	_ = cmd.MarkFlagRequired("pin")
	cmd.Flags().BoolVar(&opts.OTLP, "otlp", false, "export events as spans over OTLP/HTTP")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	return cmd
}

func runStream(opts *streamOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	p, err := opts.newPipeline(st)
	if err != nil {
		return err
	}

	handler, cleanup, err := opts.eventHandler(ctx, cmd, p)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.MetricsAddr != "" {
		srv := newMetricsServer(opts.MetricsAddr, p.registry)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				opts.log.Error().Err(err).Str("addr", opts.MetricsAddr).Msg("metrics server")
			}
		}()
		defer shutdownMetricsServer(srv, opts.log)
	}

	rd, err := eventstream.OpenPinned(opts.Pin)
	if err != nil {
		return err
	}

	processor := eventprocessor.NewProcessor(p.tok, handler, opts.log)
	stream := eventstream.New(rd, processor, opts.log)
	if err := stream.Start(ctx); err != nil {
		_ = rd.Close()
		return err
	}
	opts.log.Info().Str("pin", opts.Pin).Stringer("trace_clock", p.sync.TraceTimeClock()).Msg("streaming")

	<-ctx.Done()
	if err := stream.Stop(); err != nil {
		opts.log.Warn().Err(err).Msg("stopping stream")
	}
	if err := rd.Close(); err != nil {
		opts.log.Warn().Err(err).Msg("closing ring buffer")
	}
	<-stream.Done()

	opts.log.Info().
		Uint32("snapshots", p.sync.SnapshotCount()).
		Int64("dropped_events", processor.Dropped()).
		Msg("stream stopped")
	p.logCounters(opts.log)
	return nil
}

// eventHandler returns the printer or the OTLP span exporter selected by
// the flags.
func (o *streamOptions) eventHandler(ctx context.Context, cmd *cobra.Command, p *pipeline) (eventprocessor.EventHandler, func(), error) {
	if !o.OTLP {
		return output.NewTextFormatter(cmd.OutOrStdout(), o.format), func() {}, nil
	}

	customAttrs, err := o.cfg.CustomAttributes()
	if err != nil {
		return nil, nil, err
	}
	evaluator, err := attributes.NewEvaluator(customAttrs, o.log)
	if err != nil {
		return nil, nil, err
	}
	traceIDs, err := attributes.NewTraceIDEvaluator(o.cfg.TraceIDExpr)
	if err != nil {
		return nil, nil, err
	}

	tp, err := otel.InitProvider(ctx, &o.cfg.OTEL, o.cfg.MachineID, o.log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			o.log.Error().Err(err).Msg("shutting down OTEL provider")
		}
	}

	formatter := output.NewOTELFormatter(
		tp.Tracer("clocksync"),
		timesync.NewConverter(p.sync),
		output.WithCustomAttributes(evaluator),
		output.WithTraceIDEvaluator(traceIDs),
		output.WithSequenceIssues(p.tok.Sequences()),
		output.WithOTELLogger(o.log),
	)
	return formatter, cleanup, nil
}

// newMetricsServer serves the synchronizer counters of reg on /metrics.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func shutdownMetricsServer(srv *http.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutting down metrics server")
	}
}
