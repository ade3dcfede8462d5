package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies the kind of a request failure. The set is closed: every
// error returned by the dispatch engine or an adapter carries one of these.
type Code string

const (
	// CodeNetwork means no usable response was obtained, or an HTTP status
	// failed validation with no retry or redirect left to try.
	CodeNetwork Code = "ENETWORK"
	// CodeTimedOut means the per-attempt timeout fired or the total budget
	// for the call was exhausted.
	CodeTimedOut Code = "ETIMEDOUT"
	// CodeCanceled means the caller's context was canceled.
	CodeCanceled Code = "ECANCELED"
	// CodeParse means the response body failed to parse under the requested
	// or inferred format.
	CodeParse Code = "EPARSE"
	// CodeMaxRedirects means the redirect budget was exhausted while
	// following redirects.
	CodeMaxRedirects Code = "EMAXREDIRECTS"
	// CodeUnknown means no adapter was configured, a hook failed, or the
	// request description itself was invalid.
	CodeUnknown Code = "EUNKNOWN"
)

// Error is the failure type thrown to callers. It carries the config in
// effect at failure time and, when a status was received before the failure,
// the partial response for diagnostics.
type Error struct {
	Code     Code
	Message  string
	Config   *Config
	Response *Response
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation failures surfaced by the header normalizer.
var (
	ErrInvalidHeaderName  = errors.New("invalid header name")
	ErrInvalidHeaderValue = errors.New("invalid header value")
)

// ErrBodyTooLarge is returned by the reference adapter when a response body
// exceeds the configured MaxBodySize before full materialization.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// ErrAbortRetry can be returned by a BeforeRetry hook to stop retrying and
// surface the current error to the caller.
var ErrAbortRetry = errors.New("abort retry")

func newError(code Code, msg string, cfg *Config, resp *Response, cause error) *Error {
	return &Error{Code: code, Message: msg, Config: cfg, Response: resp, Err: cause}
}

// classifyErr maps an arbitrary error to a Code. Errors that already carry a
// Code keep it; context errors map to cancellation/timeout; everything else
// is a network-level failure.
func classifyErr(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimedOut
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return CodeNetwork
	}
	return CodeNetwork
}

// asError wraps err into an *Error with the given code unless it already is
// one, in which case the existing error is kept and enriched.
func asError(err error, code Code, msg string, cfg *Config, resp *Response) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Config == nil {
			fe.Config = cfg
		}
		if fe.Response == nil {
			fe.Response = resp
		}
		return fe
	}
	return newError(code, msg, cfg, resp, err)
}
