package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
	"github.com/mrzor/trace-clocksync/internal/output"
	"github.com/mrzor/trace-clocksync/internal/seqstate"
	"github.com/mrzor/trace-clocksync/internal/timesync"
	"github.com/mrzor/trace-clocksync/internal/tokenizer"
)

type sampleOptions struct {
	*rootOptions
	Count    int
	Interval time.Duration
}

type sampleReading struct {
	id        clocksync.ClockID
	Clock     string    `json:"clock"`
	Raw       int64     `json:"raw"`
	TraceTime int64     `json:"trace_time"`
	WallClock time.Time `json:"wall_clock"`
	OK        bool      `json:"ok"`
}

func newSampleCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &sampleOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Snapshot the host clocks and convert them to trace time",
		Long: `Read every builtin clock of this host, feed the readings to a
synchronizer as clock snapshots, and print the trace time of each reading of
the last snapshot.

Examples:
  clocksync sample
  CLOCKSYNC_TRACE_CLOCK=MONOTONIC clocksync sample --count 3 --interval 100ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of snapshots to take")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 10*time.Millisecond, "delay between snapshots")

	return cmd
}

func runSample(opts *sampleOptions, cmd *cobra.Command) error {
	if opts.Count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", opts.Count)
	}

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

	sampler := timesync.NewSampler()
	var last *tokenizer.SnapshotPacket
	for i := 0; i < opts.Count; i++ {
		if i > 0 {
			time.Sleep(opts.Interval)
		}
		pkt, err := sampler.Sample()
		if err != nil {
			return err
		}
		if err := p.tok.ParseClockSnapshot(seqstate.Key{}, pkt); err != nil {
			return err
		}
		last = pkt
	}

	for _, issue := range p.tok.Sequences().Issues(seqstate.Key{}) {
		opts.log.Warn().Str("issue", issue).Msg("host clock snapshot")
	}
	p.logCounters(opts.log)

	wall := timesync.NewConverter(p.sync)
	readings := make([]sampleReading, 0, len(last.Clocks))
	for _, c := range last.Clocks {
		id := clocksync.GlobalClock(c.ClockID)
		r := sampleReading{id: id, Clock: id.String(), Raw: c.Timestamp}
		if v, ok := p.sync.ToTraceTime(id, c.Timestamp); ok {
			r.TraceTime, r.OK = v, true
			r.WallClock = wall.TraceToWallClock(v).UTC()
		}
		readings = append(readings, r)
	}

	out := cmd.OutOrStdout()
	if opts.format == output.FormatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(readings)
	}
	fmt.Fprintf(out, "trace clock %s, %d snapshots\n", p.sync.TraceTimeClock(), p.sync.SnapshotCount())
	for _, r := range readings {
		if !r.OK {
			fmt.Fprintf(out, "%-16s %20d -> error %s\n", r.Clock, r.Raw,
				p.sync.FailureKind(r.id, p.sync.TraceTimeClock()))
			continue
		}
		fmt.Fprintf(out, "%-16s %20d -> %20d  %s\n", r.Clock, r.Raw, r.TraceTime, r.WallClock.Format(time.RFC3339Nano))
	}
	return nil
}
