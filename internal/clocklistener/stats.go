package clocklistener

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/mrzor/trace-clocksync/internal/clocksync"
)

// ErrorSink persists conversion errors.
type ErrorSink interface {
	InsertConversionError(machineID uint32, err *clocksync.ConversionError) error
}

// Stats is the clocksync.Listener of one machine's synchronizer.
type Stats struct {
	log       zerolog.Logger
	machineID uint32
	sink      ErrorSink

	cacheMisses       prometheus.Counter
	invalidSnapshots  prometheus.Counter
	traceClockChanges prometheus.Counter
	conversionErrors  *prometheus.CounterVec
}

var _ clocksync.Listener = (*Stats)(nil)

// Option configures Stats.
type Option func(*Stats)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Stats) { s.log = log }
}

// WithErrorSink forwards every conversion error to sink.
func WithErrorSink(sink ErrorSink) Option {
	return func(s *Stats) { s.sink = sink }
}

// NewStats registers the counters on reg. Machine 0 is the local host; any
// other id makes the synchronizer apply remote clock offsets.
func NewStats(reg prometheus.Registerer, machineID uint32, opts ...Option) *Stats {
	f := promauto.With(reg)
	labels := prometheus.Labels{"machine_id": formatMachine(machineID)}
	s := &Stats{
		log:       zerolog.Nop(),
		machineID: machineID,
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name:        "clocksync_cache_misses_total",
			Help:        "Conversions not answered by the resolution cache",
			ConstLabels: labels,
		}),
		invalidSnapshots: f.NewCounter(prometheus.CounterOpts{
			Name:        "clocksync_invalid_snapshots_total",
			Help:        "Clock snapshots rejected as malformed",
			ConstLabels: labels,
		}),
		traceClockChanges: f.NewCounter(prometheus.CounterOpts{
			Name:        "clocksync_trace_clock_changes_total",
			Help:        "Times the trace-time clock was locked or changed",
			ConstLabels: labels,
		}),
		conversionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "clocksync_conversion_errors_total",
			Help:        "Timestamps that could not be converted, by cause",
			ConstLabels: labels,
		}, []string{"kind"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnClockSyncCacheMiss counts a conversion resolved by a path search.
func (s *Stats) OnClockSyncCacheMiss() error {
	s.cacheMisses.Inc()
	return nil
}

// OnInvalidClockSnapshot counts a rejected snapshot.
func (s *Stats) OnInvalidClockSnapshot() error {
	s.invalidSnapshots.Inc()
	return nil
}

// OnTraceTimeClockIDChanged counts the trace clock being locked by the first
// conversion or switched after it was chosen.
func (s *Stats) OnTraceTimeClockIDChanged(id clocksync.ClockID) error {
	s.traceClockChanges.Inc()
	s.log.Info().Stringer("clock", id).Uint32("machine_id", s.machineID).Msg("trace time clock locked or changed")
	return nil
}

// OnSetTraceTimeClock logs the first choice of the trace clock.
func (s *Stats) OnSetTraceTimeClock(id clocksync.ClockID) error {
	s.log.Debug().Stringer("clock", id).Uint32("machine_id", s.machineID).Msg("trace time clock set")
	return nil
}

// RecordConversionError counts err by kind and persists it when a sink is set.
func (s *Stats) RecordConversionError(err *clocksync.ConversionError) {
	s.conversionErrors.WithLabelValues(err.Kind.String()).Inc()
	s.log.Debug().Err(err).Msg("timestamp conversion failed")
	if s.sink == nil {
		return
	}
	if serr := s.sink.InsertConversionError(s.machineID, err); serr != nil {
		s.log.Warn().Err(serr).Msg("failed to persist conversion error")
	}
}

// IsLocalHost reports whether the trace was recorded on machine 0.
func (s *Stats) IsLocalHost() bool {
	return s.machineID == 0
}

// ConversionErrors returns the counter of one error kind.
func (s *Stats) ConversionErrors(kind clocksync.ErrorKind) prometheus.Counter {
	return s.conversionErrors.WithLabelValues(kind.String())
}

func formatMachine(id uint32) string {
	if id == 0 {
		return "host"
	}
	return strconv.FormatUint(uint64(id), 10)
}
