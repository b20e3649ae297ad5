// Package timesync connects trace time to the host's clocks.
//
// Sampler reads the builtin POSIX clocks back to back and produces a clock
// snapshot, the same way a tracer emits one at the start of a trace.
//
// Converter maps trace time to wall-clock time for exporters. It goes
// through the synchronizer's REALTIME domain when a path exists, and falls
// back to the system boot time from /proc/stat, which is correct for a
// BOOTTIME trace clock.
package timesync
