package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Version is reported in the default User-Agent header.
const Version = "0.9.0"

const defaultUserAgent = "fetchkit/" + Version

// Client dispatches requests against a set of instance defaults. A Client is
// an immutable base-config value: it keeps no per-call state and is safe for
// concurrent use.
type Client struct {
	defaults Config
}

// New creates a client whose defaults are merged under every call's config.
func New(defaults Config) *Client {
	return &Client{defaults: defaults}
}

// DefaultClient dispatches with built-in defaults only.
var DefaultClient = New(Config{})

// Do dispatches a request with the default client.
func Do(ctx context.Context, cfg Config) (*Response, error) {
	return DefaultClient.Do(ctx, cfg)
}

// Do runs the full dispatch pipeline for one request: merge defaults, build
// the URL, validate, then drive the retry/redirect state machine around the
// transport adapter. The returned error, if any, is always an *Error.
func (c *Client) Do(ctx context.Context, cfg Config) (*Response, error) {
	merged := Merge(Merge(DefaultConfig(), c.defaults), cfg)
	cl := &call{
		cfg:   &merged,
		start: time.Now(),
		id:    uuid.NewString(),
		log:   merged.logger(),
	}
	resp, err := cl.run(ctx)
	if err != nil {
		return nil, cl.fail(err)
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, url string, overrides ...Config) (*Response, error) {
	return c.verb(ctx, "GET", url, overrides)
}

func (c *Client) Post(ctx context.Context, url string, overrides ...Config) (*Response, error) {
	return c.verb(ctx, "POST", url, overrides)
}

func (c *Client) Put(ctx context.Context, url string, overrides ...Config) (*Response, error) {
	return c.verb(ctx, "PUT", url, overrides)
}

func (c *Client) Patch(ctx context.Context, url string, overrides ...Config) (*Response, error) {
	return c.verb(ctx, "PATCH", url, overrides)
}

func (c *Client) Delete(ctx context.Context, url string, overrides ...Config) (*Response, error) {
	return c.verb(ctx, "DELETE", url, overrides)
}

func (c *Client) Head(ctx context.Context, url string, overrides ...Config) (*Response, error) {
	return c.verb(ctx, "HEAD", url, overrides)
}

func (c *Client) verb(ctx context.Context, method, url string, overrides []Config) (*Response, error) {
	var cfg Config
	for _, o := range overrides {
		cfg = Merge(cfg, o)
	}
	cfg.Method = method
	cfg.URL = url
	return c.Do(ctx, cfg)
}

// call holds the state of one dispatch: the engine-owned config copy that
// hooks may rewrite, and the append-only attempt log.
type call struct {
	cfg      *Config
	start    time.Time
	id       string
	log      *zap.Logger
	attempts []Attempt
}

func (cl *call) run(ctx context.Context) (*Response, error) {
	cfg := cl.cfg

	// PREPARING
	for _, h := range cfg.Hooks.BeforeRequest {
		if err := h(cfg); err != nil {
			return nil, asError(err, CodeUnknown, "beforeRequest hook", cfg, nil)
		}
	}

	if a := cfg.Auth; a != nil && a.Bearer != "" && (a.Username != "" || a.Password != "") {
		return nil, newError(CodeUnknown, "auth must not combine basic and bearer credentials", cfg, nil, nil)
	}

	cl.resolveXSRFHeader()

	headers, err := cl.prepareHeaders()
	if err != nil {
		return nil, err
	}

	urlStr, err := BuildURL(cfg)
	if err != nil {
		return nil, newError(CodeUnknown, err.Error(), cfg, nil, nil)
	}

	adapter := cfg.Adapter
	if adapter == nil {
		adapter = DefaultAdapter
	}
	if adapter == nil {
		return nil, newError(CodeUnknown, "no adapter configured", cfg, nil, nil)
	}

	callCtx := ctx
	if cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, cl.start.Add(cfg.TotalTimeout))
		defer cancel()
	}

	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	redirects := 0
	retries := 0

	for {
		if err := callCtx.Err(); err != nil {
			return nil, cl.ctxError(err)
		}

		attemptHeaders := headers.Clone()
		payload, err := EncodeBody(cfg, attemptHeaders)
		if err != nil {
			return nil, newError(CodeUnknown, "encoding request body", cfg, nil, err)
		}

		req := &ResolvedRequest{
			URL:                urlStr,
			Method:             strings.ToUpper(cfg.Method),
			Headers:            attemptHeaders,
			Body:               payload,
			ResponseType:       cfg.ResponseType,
			MaxBodySize:        cfg.MaxBodySize,
			DisableDecompress:  cfg.DisableDecompress,
			AllowParseFailure:  cfg.AllowParseFailure,
			OnUploadProgress:   cfg.OnUploadProgress,
			OnDownloadProgress: cfg.OnDownloadProgress,
		}

		attemptCtx := callCtx
		cancel := context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(callCtx, cfg.Timeout)
		}

		attemptStart := time.Now()
		resp, err := adapter.Do(attemptCtx, req)
		duration := time.Since(attemptStart)
		cancel()

		if err != nil {
			code := classifyErr(err)
			cl.attempts = append(cl.attempts, Attempt{
				URL:       urlStr,
				Duration:  duration,
				ErrorCode: code,
				Message:   err.Error(),
			})
			cl.log.Debug("attempt failed",
				zap.String("call_id", cl.id),
				zap.String("url", urlStr),
				zap.String("code", string(code)),
				zap.Error(err))

			ferr := asError(err, code, "request failed", cfg, nil)

			// Cancellation, parse failures and redirect exhaustion are
			// terminal; everything else is a candidate for RETRY_WAITING.
			if code == CodeCanceled || code == CodeParse || code == CodeMaxRedirects {
				return nil, ferr
			}
			if callCtx.Err() != nil {
				return nil, ferr
			}
			if retries >= cfg.Retry {
				return nil, ferr
			}
			if cfg.RetryCondition != nil && !cfg.RetryCondition(ferr, retries+1) {
				// A vetoed failure surfaces immediately rather than burning
				// the remaining budget.
				return nil, ferr
			}

			retries++
			urlStr, headers, err = cl.waitRetry(callCtx, retries, ferr, nil, urlStr, headers)
			if err != nil {
				return nil, err
			}
			continue
		}

		resp.OK = cfg.validateStatus(resp.Status)
		resp.Duration = duration
		cl.attempts = append(cl.attempts, Attempt{
			URL:        urlStr,
			Duration:   duration,
			Status:     resp.Status,
			StatusText: resp.StatusText,
			Headers:    resp.Headers,
		})
		cl.log.Debug("attempt",
			zap.String("call_id", cl.id),
			zap.String("url", urlStr),
			zap.Int("status", resp.Status))

		if resp.OK {
			return cl.finish(resp)
		}

		// REDIRECTING
		if cfg.Redirect == RedirectFollow && resp.Status >= 300 && resp.Status < 400 && resp.Headers.Has("location") {
			if redirects >= maxRedirects {
				return nil, newError(CodeMaxRedirects,
					fmt.Sprintf("exceeded %d redirects", maxRedirects), cfg, resp, nil)
			}
			redirects++

			next, err := resolveLocation(urlStr, resp.Headers.Get("location"))
			if err != nil {
				return nil, newError(CodeNetwork, "invalid redirect location", cfg, resp, err)
			}

			for _, h := range cfg.Hooks.BeforeRedirect {
				h(cfg, resp)
			}

			method := strings.ToUpper(cfg.Method)
			if (resp.Status == 301 || resp.Status == 302 || resp.Status == 303) &&
				method != "GET" && method != "HEAD" {
				cfg.Method = "GET"
				cfg.Data = nil
				cfg.Files = nil
				headers.Del("content-type")
				headers.Del("content-length")
				deleteRawHeader(cfg.Headers, "content-type")
			}
			if crossOrigin(urlStr, next) {
				headers.Del("authorization")
				headers.Del("cookie")
				deleteRawHeader(cfg.Headers, "authorization")
				deleteRawHeader(cfg.Headers, "cookie")
				cfg.Auth = nil
			}

			// Bake the target into the config so retry hooks operate on the
			// redirected request.
			cfg.URL = next
			cfg.BaseURL = ""
			cfg.Path = nil
			cfg.Params = nil
			cfg.Query = nil
			cfg.ParamsSerializer = nil
			urlStr = next

			cl.log.Debug("redirect",
				zap.String("call_id", cl.id),
				zap.Int("status", resp.Status),
				zap.String("location", next))
			discardBody(resp)
			continue
		}

		// RETRY_WAITING on an unretried 429/5xx status.
		if retryableStatus(resp.Status) && retries < cfg.Retry {
			ferr := newError(CodeNetwork, fmt.Sprintf("HTTP %d", resp.Status), cfg, resp, nil)
			if cfg.RetryCondition != nil && !cfg.RetryCondition(ferr, retries+1) {
				return nil, ferr
			}
			retries++
			urlStr, headers, err = cl.waitRetry(callCtx, retries, ferr, resp, urlStr, headers)
			discardBody(resp)
			if err != nil {
				return nil, err
			}
			continue
		}
		if retryableStatus(resp.Status) && cfg.Retry > 0 {
			// The retry budget was spent on this status; escalate.
			return nil, newError(CodeNetwork,
				fmt.Sprintf("HTTP %d after %d attempts", resp.Status, len(cl.attempts)), cfg, resp, nil)
		}

		// A failing status with no recovery options is still a normal
		// response, just not OK.
		return cl.finish(resp)
	}
}

// resolveXSRFHeader copies the configured XSRF cookie into the configured
// header when both names are set and no value is present yet.
func (cl *call) resolveXSRFHeader() {
	cfg := cl.cfg
	if cfg.XSRFCookieName == "" || cfg.XSRFHeaderName == "" || cfg.Cookies == nil {
		return
	}
	token, ok := cfg.Cookies.Cookie(cfg.XSRFCookieName)
	if !ok {
		return
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]any)
	}
	for name := range cfg.Headers {
		if strings.EqualFold(name, cfg.XSRFHeaderName) {
			return
		}
	}
	cfg.Headers[cfg.XSRFHeaderName] = token
}

// prepareHeaders normalizes the raw headers and applies the default header
// policy and auth credentials. A manual Authorization header always wins.
func (cl *call) prepareHeaders() (Header, error) {
	cfg := cl.cfg
	headers, err := NormalizeHeaders(cfg.Headers)
	if err != nil {
		return nil, newError(CodeUnknown, "normalizing headers", cfg, nil, err)
	}
	if !headers.Has("accept") {
		headers.Set("accept", "application/json, text/plain, */*")
	}
	if !headers.Has("user-agent") {
		headers.Set("user-agent", defaultUserAgent)
	}
	if a := cfg.Auth; a != nil && !headers.Has("authorization") {
		switch {
		case a.Bearer != "":
			headers.Set("authorization", "Bearer "+a.Bearer)
		case a.Username != "" || a.Password != "":
			creds := a.Username + ":" + a.Password
			headers.Set("authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
		}
	}
	return headers, nil
}

// waitRetry runs the BeforeRetry hooks and sleeps out the retry delay,
// failing fast when the delay would overrun the total timeout. When hooks
// are configured the URL and headers are re-derived from the (possibly
// rewritten) config for the next attempt.
func (cl *call) waitRetry(ctx context.Context, attempt int, ferr *Error, resp *Response, urlStr string, headers Header) (string, Header, error) {
	cfg := cl.cfg

	delay := cl.retryDelay(attempt, ferr, resp)
	if cfg.TotalTimeout > 0 && time.Since(cl.start)+delay > cfg.TotalTimeout {
		return "", nil, newError(CodeTimedOut, "retry delay would exceed total timeout", cfg, resp, nil)
	}

	rebuild := len(cfg.Hooks.BeforeRetry) > 0
	for _, h := range cfg.Hooks.BeforeRetry {
		if err := h(cfg, ferr, attempt); err != nil {
			if errors.Is(err, ErrAbortRetry) {
				return "", nil, ferr
			}
			return "", nil, asError(err, CodeUnknown, "beforeRetry hook", cfg, resp)
		}
	}

	if delay > 0 {
		cl.log.Debug("retry scheduled",
			zap.String("call_id", cl.id),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", nil, cl.ctxError(ctx.Err())
		case <-timer.C:
		}
	}

	if rebuild {
		headers, err := cl.prepareHeaders()
		if err != nil {
			return "", nil, err
		}
		urlStr, err := BuildURL(cfg)
		if err != nil {
			return "", nil, newError(CodeUnknown, err.Error(), cfg, nil, nil)
		}
		return urlStr, headers, nil
	}
	return urlStr, headers, nil
}

// retryDelay resolves the delay before the given retry, in priority order:
// caller-supplied function, fixed duration, Retry-After response header.
func (cl *call) retryDelay(attempt int, ferr *Error, resp *Response) time.Duration {
	cfg := cl.cfg
	if cfg.RetryDelayFunc != nil {
		return cfg.RetryDelayFunc(attempt, ferr)
	}
	if cfg.RetryDelay > 0 {
		return cfg.RetryDelay
	}
	if resp != nil {
		if s := resp.Headers.Get("retry-after"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

func (cl *call) ctxError(err error) *Error {
	code := classifyErr(err)
	msg := "request canceled"
	if code == CodeTimedOut {
		msg = "request timed out"
	}
	return newError(code, msg, cl.cfg, nil, err)
}

// finish stamps the attempt log and timings and runs the AfterResponse
// hooks. Used for every returned response, OK or not.
func (cl *call) finish(resp *Response) (*Response, error) {
	resp.Attempts = cl.attempts
	resp.TotalDuration = time.Since(cl.start)
	resp.Config = cl.cfg
	for _, h := range cl.cfg.Hooks.AfterResponse {
		if err := h(resp); err != nil {
			return nil, asError(err, CodeUnknown, "afterResponse hook", cl.cfg, resp)
		}
	}
	return resp, nil
}

// fail normalizes err into an *Error, attaches attempt history to any
// partial response, and runs the BeforeError hooks.
func (cl *call) fail(err error) error {
	ferr := asError(err, classifyErr(err), "request failed", cl.cfg, nil)
	if ferr.Response != nil {
		ferr.Response.Attempts = cl.attempts
		ferr.Response.TotalDuration = time.Since(cl.start)
		ferr.Response.Config = cl.cfg
	}
	for _, h := range cl.cfg.Hooks.BeforeError {
		h(ferr)
	}
	cl.log.Debug("request failed",
		zap.String("call_id", cl.id),
		zap.String("code", string(ferr.Code)),
		zap.String("message", ferr.Message))
	return ferr
}

// discardBody closes a stream-type body on a response the engine is about to
// replace, so the discarded hop does not hold its connection open.
func discardBody(resp *Response) {
	if c, ok := resp.Body.(io.Closer); ok {
		_ = c.Close()
	}
}

func retryableStatus(status int) bool {
	return status == 429 || (status >= 500 && status <= 599)
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// crossOrigin reports whether two URLs differ in scheme, host or port.
func crossOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return true
	}
	return ua.Scheme != ub.Scheme || ua.Hostname() != ub.Hostname() || portOf(ua) != portOf(ub)
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "https":
		return "443"
	default:
		return "80"
	}
}

func deleteRawHeader(raw map[string]any, name string) {
	for k := range raw {
		if strings.EqualFold(k, name) {
			delete(raw, k)
		}
	}
}
