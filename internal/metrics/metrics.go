// Package metrics exposes Prometheus instrumentation for the scanner and
// fan-out paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanTickDuration observes wall time of one scan tick per track.
	ScanTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signalhound",
		Subsystem: "scanner",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one scan tick.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"track"})

	// ScanTicksSkipped counts ticks skipped because the previous one was
	// still running.
	ScanTicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalhound",
		Subsystem: "scanner",
		Name:      "ticks_skipped_total",
		Help:      "Scan ticks skipped due to overlap.",
	}, []string{"track"})

	// SymbolErrors counts per-symbol failures inside a tick.
	SymbolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalhound",
		Subsystem: "scanner",
		Name:      "symbol_errors_total",
		Help:      "Symbol processing failures.",
	}, []string{"track"})

	// SignalActions counts engine outcomes by action.
	SignalActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalhound",
		Subsystem: "engine",
		Name:      "signal_actions_total",
		Help:      "Signal engine outcomes.",
	}, []string{"track", "action"})

	// TradesOpened counts paper trades opened from signals.
	TradesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signalhound",
		Subsystem: "paper",
		Name:      "trades_opened_total",
		Help:      "Paper trades opened.",
	})

	// EventsPublished counts fan-out events by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signalhound",
		Subsystem: "fanout",
		Name:      "events_published_total",
		Help:      "Events handed to the fan-out hub.",
	}, []string{"type"})
)
