// Package eventprocessor routes decoded ring buffer records.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      Ring Buffer Records                │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor                        │  ← Record routing
//	│   - Routes by record type               │
//	│   - Drops unconvertible events          │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ SnapshotRecord ──→ tokenizer
//	          │                       - AddSnapshot on the synchronizer
//	          │                       - clock_snapshot rows
//	          │
//	          ├──→ SequenceDefaults ─→ seqstate.Manager
//	          │                       - Default clock per sequence
//	          │
//	          └──→ EventRecord ─────→ tokenizer.ResolveTimestamp
//	                                  ──→ EventHandler (output formatter)
//
// The processor delegates converted events to the EventHandler interface,
// typically implemented by the output formatter.
package eventprocessor
