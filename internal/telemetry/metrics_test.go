package telemetry

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsOutcomes(t *testing.T) {
	// Given: metrics on a fresh registry
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// When: recording events
	m.CDCEvent("granule", OutcomeApplied)
	m.CDCEvent("granule", OutcomeApplied)
	m.CDCEvent("", OutcomeIgnored)
	m.MappingApplied("rule")
	m.ReindexRun(nil)
	m.ReindexRun(errors.New("boom"))
	m.AliasSwapped()

	// Then: counters reflect them
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cdcEvents.WithLabelValues("granule", OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cdcEvents.WithLabelValues("unknown", OutcomeIgnored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mappingApplies.WithLabelValues("rule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reindexRuns.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reindexRuns.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.aliasSwaps))
}

func TestMetrics_ObserveQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveQuery("query", time.Now(), nil)
	m.ObserveQuery("query", time.Now(), errors.New("timeout"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.queryDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queryErrors.WithLabelValues("query")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CDCEvent("granule", OutcomeFailed)
		m.ObserveQuery("get", time.Now(), nil)
		m.MappingApplied("rule")
		m.ReindexRun(nil)
		m.AliasSwapped()
	})
}

func TestWriteText(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CDCEvent("collection", OutcomeRemoved)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, reg))
	assert.Contains(t, buf.String(), `recordsync_cdc_events_total{kind="collection",outcome="removed"} 1`)
}
