// Package telemetry exposes Prometheus metrics for the change event router,
// the query layer, and index maintenance.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package telemetry

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "recordsync"

// CDC event outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeRemoved = "removed"
	OutcomeIgnored = "ignored"
	OutcomeStale   = "stale"
	OutcomeFailed  = "failed"
)

// Metrics stores recordsync metrics.
type Metrics struct {
	// reg is the Registerer used to create this set of metrics.
	reg prometheus.Registerer

	cdcEvents      *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	queryErrors    *prometheus.CounterVec
	mappingApplies *prometheus.CounterVec
	reindexRuns    *prometheus.CounterVec
	aliasSwaps     prometheus.Counter
}

// NewMetrics creates a new set of metrics. Metrics will be registered to reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var m Metrics
	m.reg = reg

	m.cdcEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cdc_events_total",
		Help:      "Change events handled, by document kind and outcome.",
	}, []string{"kind", "outcome"})

	m.queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Time spent answering query layer operations.",
		// 1ms to ~16s
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"operation"})

	m.queryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_errors_total",
		Help:      "Query layer operations that failed, by operation.",
	}, []string{"operation"})

	m.mappingApplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mapping_applies_total",
		Help:      "Type mappings applied to an existing index, by kind.",
	}, []string{"kind"})

	m.reindexRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reindex_runs_total",
		Help:      "Reindex copies started, by outcome.",
	}, []string{"outcome"})

	m.aliasSwaps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alias_swaps_total",
		Help:      "Completed reindex alias cutovers.",
	})

	reg.MustRegister(m.cdcEvents, m.queryDuration, m.queryErrors, m.mappingApplies, m.reindexRuns, m.aliasSwaps)
	return &m
}

// CDCEvent counts one change event outcome.
func (m *Metrics) CDCEvent(kind, outcome string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.cdcEvents.WithLabelValues(kind, outcome).Inc()
}

// ObserveQuery records the duration of one query layer operation.
func (m *Metrics) ObserveQuery(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(operation).Inc()
	}
}

// MappingApplied counts a mapping applied for kind.
func (m *Metrics) MappingApplied(kind string) {
	if m == nil {
		return
	}
	m.mappingApplies.WithLabelValues(kind).Inc()
}

// ReindexRun counts a reindex copy that ended with err (nil for success).
func (m *Metrics) ReindexRun(err error) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	m.reindexRuns.WithLabelValues(outcome).Inc()
}

// AliasSwapped counts a completed cutover.
func (m *Metrics) AliasSwapped() {
	if m == nil {
		return
	}
	m.aliasSwaps.Inc()
}

// WriteText writes every metric family in g in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
