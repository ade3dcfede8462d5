package stress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
)

// Runner fires one request description at a constant rate through the
// dispatch engine and collects latency metrics.
type Runner struct {
	config   *Config
	client   *fetch.Client
	request  fetch.Config
	metrics  *Metrics
	reporter *Reporter
	runID    string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithClient sets the dispatch client.
func WithClient(client *fetch.Client) RunnerOption {
	return func(r *Runner) {
		r.client = client
	}
}

// WithReporter sets the reporter.
func WithReporter(reporter *Reporter) RunnerOption {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

// NewRunner creates a runner for the given request description.
func NewRunner(config *Config, request fetch.Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		config:  config,
		request: request,
		metrics: NewMetrics(),
		runID:   uuid.NewString(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		r.client = fetch.New(fetch.Config{})
	}
	if r.reporter == nil {
		r.reporter = NewReporter()
	}

	return r
}

// Run executes the load run until the configured duration elapses or ctx is
// canceled, then evaluates thresholds.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	target, err := fetch.BuildURL(&r.request)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	r.reporter.Header(r.runID, target, r.config)
	r.metrics.Start()

	runCtx, cancel := context.WithTimeout(ctx, r.config.Duration)
	defer cancel()

	progressDone := make(chan struct{})
	go r.progressLoop(runCtx, progressDone)

	r.fireLoop(runCtx)

	r.metrics.Stop()
	close(progressDone)
	r.reporter.ClearProgress()

	summary := r.metrics.GetSummary()
	var thresholdResults []ThresholdResult
	if r.config.Thresholds.HasThresholds() {
		thresholdResults = r.metrics.EvaluateThresholds(r.config.Thresholds)
	}

	r.reporter.Summary(summary, thresholdResults)

	passed := true
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
			break
		}
	}

	return &Result{
		RunID:      r.runID,
		Summary:    summary,
		Thresholds: thresholdResults,
		Passed:     passed,
	}, nil
}

// fireLoop paces dispatches with the rate limiter and bounds in-flight
// requests with a semaphore.
func (r *Runner) fireLoop(ctx context.Context) {
	var wg sync.WaitGroup
	limiter := rate.NewLimiter(rate.Limit(r.config.Rate), 1)
	sem := make(chan struct{}, r.config.Concurrency)

	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.fire(ctx)
		}()
	}

	wg.Wait()
}

// fire dispatches one request and records its outcome. Cancellation at the
// end of the run is not counted as a request at all.
func (r *Runner) fire(ctx context.Context) {
	start := time.Now()
	resp, err := r.client.Do(ctx, r.request)
	duration := time.Since(start)

	if err != nil {
		var ferr *fetch.Error
		if errors.As(err, &ferr) {
			switch ferr.Code {
			case fetch.CodeCanceled:
				return
			case fetch.CodeTimedOut:
				r.metrics.RecordTimeout()
				return
			}
		}
		r.metrics.Record(duration, err)
		return
	}

	var outcome error
	if !resp.OK {
		outcome = fmt.Errorf("HTTP %d", resp.Status)
	}
	r.metrics.Record(duration, outcome)
}

func (r *Runner) progressLoop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reporter.Progress(r.metrics.GetCurrentStats(), r.config.Duration)
		}
	}
}

// Result holds the final result of a load run.
type Result struct {
	RunID      string
	Summary    *Summary
	Thresholds []ThresholdResult
	Passed     bool
}

// HasThresholdFailures returns true if any thresholds failed.
func (r *Result) HasThresholdFailures() bool {
	for _, tr := range r.Thresholds {
		if !tr.Passed {
			return true
		}
	}
	return false
}
