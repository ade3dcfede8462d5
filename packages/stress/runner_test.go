package stress

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
)

func quietReporter() *Reporter {
	return NewReporter(WithWriter(io.Discard), WithNoProgress(true))
}

func TestRunnerRun(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := &Config{
		Rate:        100,
		Duration:    500 * time.Millisecond,
		Concurrency: 10,
	}
	runner := NewRunner(config, fetch.Config{URL: server.URL}, WithReporter(quietReporter()))

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.True(t, result.Passed)
	assert.Greater(t, result.Summary.TotalRequests, int64(0))
	assert.Equal(t, result.Summary.TotalRequests, result.Summary.SuccessCount)
	// Requests canceled at the deadline may have reached the server without
	// being recorded.
	assert.GreaterOrEqual(t, hits.Load(), result.Summary.TotalRequests)
}

func TestRunnerRecordsFailingStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	config := &Config{
		Rate:        100,
		Duration:    300 * time.Millisecond,
		Concurrency: 10,
	}
	runner := NewRunner(config, fetch.Config{URL: server.URL}, WithReporter(quietReporter()))

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, result.Summary.ErrorCount, int64(0))
	assert.Equal(t, int64(0), result.Summary.SuccessCount)
}

func TestRunnerThresholdFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := &Config{
		Rate:        100,
		Duration:    300 * time.Millisecond,
		Concurrency: 10,
		Thresholds:  Thresholds{ErrorRate: 0.01},
	}
	runner := NewRunner(config, fetch.Config{URL: server.URL}, WithReporter(quietReporter()))

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.True(t, result.HasThresholdFailures())
}

func TestRunnerInvalidConfig(t *testing.T) {
	runner := NewRunner(&Config{}, fetch.Config{URL: "http://example.com"}, WithReporter(quietReporter()))
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRunnerInvalidRequest(t *testing.T) {
	config := &Config{Rate: 10, Duration: time.Second, Concurrency: 1}
	runner := NewRunner(config, fetch.Config{}, WithReporter(quietReporter()))
	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}
