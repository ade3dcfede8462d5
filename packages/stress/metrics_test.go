package stress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	m.Start()

	m.Record(100*time.Millisecond, nil)
	m.Record(150*time.Millisecond, nil)
	m.Record(200*time.Millisecond, errors.New("HTTP 500"))
	m.RecordTimeout()

	m.Stop()
	summary := m.GetSummary()

	assert.Equal(t, int64(4), summary.TotalRequests)
	assert.Equal(t, int64(2), summary.SuccessCount)
	assert.Equal(t, int64(2), summary.ErrorCount)
	assert.Equal(t, int64(1), summary.TimeoutCount)
	assert.InDelta(t, 0.5, summary.ErrorRate, 1e-9)
	assert.InDelta(t, 0.5, summary.SuccessRate, 1e-9)
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()
	m.Start()

	for i := 1; i <= 100; i++ {
		m.Record(time.Duration(i)*time.Millisecond, nil)
	}

	m.Stop()
	summary := m.GetSummary()

	// Histogram precision is 3 significant digits; allow 5% slack.
	assert.InEpsilon(t, 50*time.Millisecond, summary.P50, 0.05)
	assert.InEpsilon(t, 95*time.Millisecond, summary.P95, 0.05)
	assert.InEpsilon(t, 99*time.Millisecond, summary.P99, 0.05)
	assert.InEpsilon(t, 100*time.Millisecond, summary.Max, 0.05)
}

func TestMetricsCurrentStats(t *testing.T) {
	m := NewMetrics()
	m.Start()

	m.Record(10*time.Millisecond, nil)
	m.Record(20*time.Millisecond, errors.New("boom"))

	stats := m.GetCurrentStats()
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Success)
	assert.Equal(t, int64(1), stats.Errors)
	assert.InDelta(t, 0.5, stats.ErrorRate, 1e-9)
	assert.Greater(t, stats.Elapsed, time.Duration(0))
}

func TestEvaluateThresholds(t *testing.T) {
	m := NewMetrics()
	m.Start()

	for i := 0; i < 10; i++ {
		m.Record(50*time.Millisecond, nil)
	}
	m.Record(50*time.Millisecond, errors.New("HTTP 503"))
	m.Stop()

	results := m.EvaluateThresholds(Thresholds{
		P95:       200 * time.Millisecond,
		ErrorRate: 0.01,
	})
	require.Len(t, results, 2)

	byName := map[string]ThresholdResult{}
	for _, r := range results {
		byName[r.Name] = r
	}

	assert.True(t, byName["p95"].Passed)
	// 1 error in 11 requests is ~9%, over the 1% limit.
	assert.False(t, byName["error rate"].Passed)
}

func TestEvaluateThresholds_NoneConfigured(t *testing.T) {
	m := NewMetrics()
	m.Start()
	m.Record(time.Millisecond, nil)

	assert.Empty(t, m.EvaluateThresholds(Thresholds{}))
}
