package stress

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Metrics collects and aggregates load run metrics.
type Metrics struct {
	mu sync.RWMutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	errorRequests   atomic.Int64
	timeoutRequests atomic.Int64

	// Latency histogram (in microseconds for precision)
	histogram *hdrhistogram.Histogram

	startTime time.Time
	endTime   time.Time
}

// NewMetrics creates a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		// 1us to 60s range, 3 significant digits
		histogram: hdrhistogram.New(1, 60_000_000, 3),
	}
}

// Start marks the beginning of the run.
func (m *Metrics) Start() {
	m.startTime = time.Now()
}

// Stop marks the end of the run.
func (m *Metrics) Stop() {
	m.endTime = time.Now()
}

// Record records one request outcome.
func (m *Metrics) Record(duration time.Duration, err error) {
	m.totalRequests.Add(1)
	if err != nil {
		m.errorRequests.Add(1)
	} else {
		m.successRequests.Add(1)
	}

	latencyUs := duration.Microseconds()
	if latencyUs < 1 {
		latencyUs = 1
	}
	if latencyUs > 60_000_000 {
		latencyUs = 60_000_000
	}

	m.mu.Lock()
	_ = m.histogram.RecordValue(latencyUs)
	m.mu.Unlock()
}

// RecordTimeout records a timed-out request. Timeouts count as errors and
// contribute no latency sample.
func (m *Metrics) RecordTimeout() {
	m.totalRequests.Add(1)
	m.timeoutRequests.Add(1)
	m.errorRequests.Add(1)
}

// Summary is the final aggregate of a run.
type Summary struct {
	Duration      time.Duration
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	TimeoutCount  int64

	RPS         float64
	SuccessRate float64
	ErrorRate   float64

	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	StdDev time.Duration
}

// GetSummary returns the aggregate over everything recorded so far.
func (m *Metrics) GetSummary() *Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	duration := m.endTime.Sub(m.startTime)
	if m.endTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	total := m.totalRequests.Load()
	success := m.successRequests.Load()
	errors := m.errorRequests.Load()

	rps := float64(0)
	if duration.Seconds() > 0 {
		rps = float64(total) / duration.Seconds()
	}

	successRate := float64(0)
	errorRate := float64(0)
	if total > 0 {
		successRate = float64(success) / float64(total)
		errorRate = float64(errors) / float64(total)
	}

	return &Summary{
		Duration:      duration,
		TotalRequests: total,
		SuccessCount:  success,
		ErrorCount:    errors,
		TimeoutCount:  m.timeoutRequests.Load(),
		RPS:           rps,
		SuccessRate:   successRate,
		ErrorRate:     errorRate,
		P50:           time.Duration(m.histogram.ValueAtQuantile(50)) * time.Microsecond,
		P95:           time.Duration(m.histogram.ValueAtQuantile(95)) * time.Microsecond,
		P99:           time.Duration(m.histogram.ValueAtQuantile(99)) * time.Microsecond,
		Min:           time.Duration(m.histogram.Min()) * time.Microsecond,
		Max:           time.Duration(m.histogram.Max()) * time.Microsecond,
		Mean:          time.Duration(m.histogram.Mean()) * time.Microsecond,
		StdDev:        time.Duration(m.histogram.StdDev()) * time.Microsecond,
	}
}

// CurrentStats is a point-in-time view for the progress display.
type CurrentStats struct {
	Elapsed   time.Duration
	Total     int64
	Success   int64
	Errors    int64
	RPS       float64
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	Max       time.Duration
	ErrorRate float64
}

// GetCurrentStats returns statistics for real-time display.
func (m *Metrics) GetCurrentStats() CurrentStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.startTime)
	total := m.totalRequests.Load()
	errors := m.errorRequests.Load()

	rps := float64(0)
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	errorRate := float64(0)
	if total > 0 {
		errorRate = float64(errors) / float64(total)
	}

	return CurrentStats{
		Elapsed:   elapsed,
		Total:     total,
		Success:   m.successRequests.Load(),
		Errors:    errors,
		RPS:       rps,
		P50:       time.Duration(m.histogram.ValueAtQuantile(50)) * time.Microsecond,
		P95:       time.Duration(m.histogram.ValueAtQuantile(95)) * time.Microsecond,
		P99:       time.Duration(m.histogram.ValueAtQuantile(99)) * time.Microsecond,
		Max:       time.Duration(m.histogram.Max()) * time.Microsecond,
		ErrorRate: errorRate,
	}
}

// EvaluateThresholds evaluates the configured thresholds against the summary.
func (m *Metrics) EvaluateThresholds(t Thresholds) []ThresholdResult {
	summary := m.GetSummary()
	var results []ThresholdResult

	latency := func(name string, limit, actual time.Duration) {
		if limit <= 0 {
			return
		}
		results = append(results, ThresholdResult{
			Name:     name,
			Passed:   actual <= limit,
			Expected: "< " + limit.String(),
			Actual:   actual.String(),
		})
	}

	latency("p50", t.P50, summary.P50)
	latency("p95", t.P95, summary.P95)
	latency("p99", t.P99, summary.P99)
	latency("max latency", t.MaxLatency, summary.Max)

	if t.ErrorRate > 0 {
		results = append(results, ThresholdResult{
			Name:     "error rate",
			Passed:   summary.ErrorRate <= t.ErrorRate,
			Expected: "< " + formatPercent(t.ErrorRate),
			Actual:   formatPercent(summary.ErrorRate),
		})
	}

	if t.MinRPS > 0 {
		results = append(results, ThresholdResult{
			Name:     "min RPS",
			Passed:   summary.RPS >= t.MinRPS,
			Expected: "> " + formatFloat(t.MinRPS),
			Actual:   formatFloat(summary.RPS),
		})
	}

	return results
}

func formatPercent(f float64) string {
	return formatFloat(f*100) + "%"
}

func formatFloat(f float64) string {
	if f == float64(int(f)) {
		return strconv.Itoa(int(f))
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
