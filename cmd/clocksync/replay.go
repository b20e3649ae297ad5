package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrzor/trace-clocksync/internal/output"
	"github.com/mrzor/trace-clocksync/internal/scenario"
)

type replayResult struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

func newReplayCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a scenario file and print its transcript",
		Long: `Replay a scenario file against a fresh synchronizer.

Each step prints one transcript line; the transcript ends with a summary of
the snapshot graph and the non-zero engine counters.

Examples:
  clocksync replay chained.yaml
  clocksync replay chained.yaml --format json
  clocksync replay chained.yaml --db ./clocksync.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd, args[0])
		},
	}
}

func runReplay(opts *rootOptions, cmd *cobra.Command, path string) error {
	s, err := scenario.Load(path)
	if err != nil {
		return err
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	runOpts := []scenario.Option{scenario.WithLogger(opts.log)}
	if st != nil {
		defer st.Close()
		runOpts = append(runOpts, scenario.WithSnapshotSink(st), scenario.WithErrorSink(st))
	}

	result, err := scenario.Run(s, runOpts...)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	out := cmd.OutOrStdout()
	if opts.format == output.FormatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(replayResult{Name: s.Name, Lines: result.Lines})
	}
	_, err = fmt.Fprint(out, result.Transcript())
	return err
}
