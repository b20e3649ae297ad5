package timesync

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
)

var realtime = clocksync.GlobalClock(clocksync.BuiltinClockRealtime)

// Converter handles conversion from trace time to wall-clock time.
type Converter struct {
	sync     *clocksync.Synchronizer
	bootTime time.Time

	// The graph only grows, so a REALTIME path once found stays available.
	haveRealtime bool
}

// NewConverter creates a new time converter.
// It reads the system boot time from /proc/stat.
// If reading fails, it uses a conservative fallback estimate.
func NewConverter(sync *clocksync.Synchronizer) *Converter {
	bootTime, err := getSystemBootTime()
	if err != nil {
		bootTime = time.Now().Add(-time.Hour)
	}
	return NewConverterAt(sync, bootTime)
}

// NewConverterAt creates a converter with a fixed boot time.
func NewConverterAt(sync *clocksync.Synchronizer, bootTime time.Time) *Converter {
	return &Converter{
		sync:     sync,
		bootTime: bootTime,
	}
}

// TraceToWallClock converts a trace timestamp to wall-clock time.
func (c *Converter) TraceToWallClock(traceTs int64) time.Time {
	if c.sync != nil {
		traceClock := c.sync.TraceTimeClock()
		if !c.haveRealtime {
			_, c.haveRealtime = c.sync.FindPath(traceClock, realtime)
		}
		if c.haveRealtime {
			if ns, ok := c.sync.Convert(traceClock, traceTs, realtime); ok {
				return time.Unix(0, ns)
			}
		}
	}
	return c.bootTime.Add(time.Duration(traceTs))
}

// BootTime returns the system boot time used for fallback conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

// getSystemBootTime reads the system boot time from /proc/stat.
func getSystemBootTime() (time.Time, error) {
	file, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open /proc/stat: %w", err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	return parseBootTime(bufio.NewScanner(file))
}

func parseBootTime(scanner *bufio.Scanner) (time.Time, error) {
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		bootTimeSec, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse btime: %w", err)
		}
		return time.Unix(bootTimeSec, 0), nil
	}

	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("error reading /proc/stat: %w", err)
	}

	return time.Time{}, fmt.Errorf("btime not found in /proc/stat")
}
