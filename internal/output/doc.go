// Package output writes converted events.
//
// TextFormatter prints one line per event, as text or JSON.
//
// OTELFormatter is a pure formatting layer that:
//   - Receives converted events
//   - Creates one OpenTelemetry span per event
//   - Sets span attributes from the event and custom expressions
//
// It does NOT:
//   - Decode records
//   - Resolve timestamps
//   - Track clock snapshots
//
// Timestamps arrive in trace time and are mapped to wall-clock time by a
// timesync.Converter.
package output
