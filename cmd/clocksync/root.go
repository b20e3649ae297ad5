package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mrzor/trace-clocksync/internal/clocklistener"
	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/config"
	"github.com/mrzor/trace-clocksync/internal/logging"
	"github.com/mrzor/trace-clocksync/internal/output"
	"github.com/mrzor/trace-clocksync/internal/store"
	"github.com/mrzor/trace-clocksync/internal/tokenizer"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	LogLevel string
	Format   string // "json" | "text"
	DB       string

	cfg    *config.Config
	format output.Format
	log    zerolog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "clocksync",
		Short:   "Convert trace timestamps between clock domains",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `clocksync learns how clock domains relate from clock snapshots and
converts event timestamps to a single trace time.

Configuration is read from CLOCKSYNC_* and OTEL_* environment variables;
flags override the matching variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (default $CLOCKSYNC_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite database recording snapshots and conversion errors (default $CLOCKSYNC_DB)")

	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newSampleCommand(opts))
	cmd.AddCommand(newStreamCommand(opts))

	return cmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	if o.LogLevel == "" {
		o.LogLevel = cfg.LogLevel
	}
	if o.DB == "" {
		o.DB = cfg.DBPath
	}

	format, err := output.ParseFormat(o.Format)
	if err != nil {
		return err
	}
	log, err := logging.New(cmd.ErrOrStderr(), o.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.format = format
	o.log = log
	return nil
}

// openStore returns nil when no database is configured.
func (o *rootOptions) openStore() (*store.Store, error) {
	if o.DB == "" {
		return nil, nil
	}
	st, err := store.New(o.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	o.log.Info().Str("db", o.DB).Str("session_id", st.SessionID()).Msg("recording to database")
	return st, nil
}

// pipeline is one machine's synchronizer with its tokenizer and counters.
type pipeline struct {
	registry *prometheus.Registry
	stats    *clocklistener.Stats
	sync     *clocksync.Synchronizer
	tok      *tokenizer.Tokenizer
}

// newPipeline builds a synchronizer configured from the environment. st may
// be nil.
func (o *rootOptions) newPipeline(st *store.Store) (*pipeline, error) {
	statsOpts := []clocklistener.Option{clocklistener.WithLogger(o.log)}
	tokOpts := []tokenizer.Option{
		tokenizer.WithLogger(o.log),
		tokenizer.WithMachineID(o.cfg.MachineID),
	}
	if st != nil {
		statsOpts = append(statsOpts, clocklistener.WithErrorSink(st))
		tokOpts = append(tokOpts, tokenizer.WithSnapshotSink(st))
	}

	reg := prometheus.NewRegistry()
	stats := clocklistener.NewStats(reg, o.cfg.MachineID, statsOpts...)
	sync := clocksync.New(stats,
		clocksync.WithLogger(o.log),
		clocksync.WithCacheSeed(o.cfg.CacheSeed),
	)

	traceClock, err := o.cfg.TraceClockID()
	if err != nil {
		return nil, err
	}
	if err := sync.SetTraceTimeClock(traceClock); err != nil {
		return nil, err
	}

	offsets, err := o.cfg.Offsets()
	if err != nil {
		return nil, err
	}
	for id, ns := range offsets {
		sync.SetClockOffset(id, ns)
	}
	if len(offsets) > 0 {
		o.log.Debug().Str("offsets", config.FormatClockOffsets(offsets)).Msg("clock offsets registered")
	}

	return &pipeline{
		registry: reg,
		stats:    stats,
		sync:     sync,
		tok:      tokenizer.New(sync, nil, tokOpts...),
	}, nil
}

// logCounters logs the non-zero synchronizer counters.
func (p *pipeline) logCounters(log zerolog.Logger) {
	lines, err := clocklistener.CounterLines(p.registry)
	if err != nil {
		log.Warn().Err(err).Msg("reading counters")
		return
	}
	for _, line := range lines {
		log.Info().Str("counter", line).Msg("clock sync counter")
	}
}
