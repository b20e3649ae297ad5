// Package scenario replays YAML descriptions of clock snapshots and
// conversions through a tokenizer and records what happened.
//
// A scenario file looks like:
//
//	name: remote-offset
//	description: trace time of a remote machine moves by its BOOTTIME offset
//	machine_id: 1
//	steps:
//	  - set_offset: {clock: BOOTTIME, ns: -10000}
//	  - snapshot:
//	      clocks:
//	        - {clock: BOOTTIME, ts: 1000}
//	        - {clock: MONOTONIC, ts: 100}
//	  - to_trace_time: {clock: MONOTONIC, ts: 150}
//
// Clock references are either a name or id (`BOOTTIME`, `64`) or a mapping
// with clock, seq_id and trace_file_id for sequence-scoped clocks.
//
// Run returns a transcript with one line per step followed by the non-zero
// listener counters. Transcripts are deterministic and are what the golden
// tests compare.
package scenario
