// Package clocklistener provides clocksync.Listener implementations.
//
// Stats counts synchronizer diagnostics on Prometheus counters, logs them
// and forwards conversion errors to an optional sink such as the SQLite
// store.
package clocklistener
