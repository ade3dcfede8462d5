package fetch

import (
	"time"

	"github.com/tidwall/gjson"
)

// Attempt records the outcome of one transport invocation within a call:
// either the received status line and headers, or the failure that replaced
// them.
type Attempt struct {
	URL        string
	Duration   time.Duration
	Status     int
	StatusText string
	Headers    Header
	ErrorCode  Code
	Message    string
}

// Failed reports whether the attempt ended in a transport-level failure.
func (a Attempt) Failed() bool {
	return a.ErrorCode != ""
}

// Response is the normalized result of a call.
type Response struct {
	Status     int
	StatusText string
	// URL is the final URL after any redirects.
	URL string
	// Headers holds lowercase header names; multi-valued headers are joined
	// with ", ". Set-Cookie is the one exception, kept as an ordered list.
	Headers   Header
	SetCookie []string
	// Body shape follows the response type: parsed JSON (any), string,
	// []byte, or io.ReadCloser for streams. Nil for 204 and HEAD.
	Body any
	// RawBody is the undecoded body, when it was materialized.
	RawBody []byte
	// OK is the validateStatus verdict for Status.
	OK bool
	// Duration covers the final attempt; TotalDuration the whole call
	// including retries and delays.
	Duration      time.Duration
	TotalDuration time.Duration
	// Attempts lists every transport invocation in order.
	Attempts []Attempt
	// Config is the merged configuration the call ran with.
	Config *Config
}

// Text returns the materialized body as a string.
func (r *Response) Text() string {
	if s, ok := r.Body.(string); ok {
		return s
	}
	return string(r.RawBody)
}

// JSON looks up a path in the response body using gjson syntax, e.g.
// "items.0.id".
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.RawBody, path)
}

// IsJSON reports whether the body was parsed as JSON.
func (r *Response) IsJSON() bool {
	switch r.Body.(type) {
	case map[string]any, []any, float64, bool:
		return true
	}
	return false
}
