// Package attributes evaluates user expressions against converted events.
//
// Expressions use the expr language and see the event through these
// variables: name, clock, clock_name, seq_id, trace_file_id, raw_ts,
// trace_ts, duration and seq (a map of seq_id and trace_file_id).
//
//   - Evaluator: computes custom span attributes. Map results expand into
//     one attribute per key.
//   - TraceIDEvaluator: computes the trace an event's span belongs to.
//     Results that are not 32 hex chars are hashed with SHA-256.
package attributes
