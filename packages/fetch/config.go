package fetch

import (
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects is the maximum number of redirects to follow.
	DefaultMaxRedirects = 10
)

// ArrayFormat selects how array-valued query parameters are serialized.
type ArrayFormat string

const (
	// ArrayRepeat repeats the key for each value: k=1&k=2.
	ArrayRepeat ArrayFormat = "repeat"
	// ArrayBrackets appends empty brackets to the key: k[]=1&k[]=2.
	ArrayBrackets ArrayFormat = "brackets"
	// ArrayComma joins values with commas under one key: k=1,2.
	ArrayComma ArrayFormat = "comma"
	// ArrayIndex indexes each value: k[0]=1&k[1]=2.
	ArrayIndex ArrayFormat = "index"
)

// RedirectMode controls whether the engine follows 3xx responses.
type RedirectMode string

const (
	// RedirectFollow follows redirects up to MaxRedirects.
	RedirectFollow RedirectMode = "follow"
	// RedirectManual returns 3xx responses to the caller untouched.
	RedirectManual RedirectMode = "manual"
)

// ResponseType selects how the adapter materializes the response body.
type ResponseType string

const (
	// TypeAuto negotiates from the response content-type: JSON documents are
	// parsed, text bodies are decoded to string, everything else stays bytes.
	TypeAuto ResponseType = "auto"
	// TypeJSON forces JSON parsing.
	TypeJSON ResponseType = "json"
	// TypeText forces string decoding.
	TypeText ResponseType = "text"
	// TypeBinary returns the raw bytes.
	TypeBinary ResponseType = "binary"
	// TypeStream hands the caller the undrained body as an io.ReadCloser.
	TypeStream ResponseType = "stream"
)

// Auth describes request credentials. Basic (Username/Password) and Bearer
// are mutually exclusive; setting both fails validation. A manually supplied
// Authorization header always wins over Auth.
type Auth struct {
	Username string
	Password string
	Bearer   string
}

// Progress is a single upload or download progress event.
type Progress struct {
	Loaded int64
	Total  int64 // 0 when unknown
}

// ProgressFunc receives progress events as bytes cross the wire. It is
// called synchronously from the copy loop and must not block.
type ProgressFunc func(Progress)

// CookieSource looks up a cookie value by name. It is the collaborator used
// for XSRF token resolution; the engine itself keeps no cookie state.
type CookieSource interface {
	Cookie(name string) (string, bool)
}

// Hooks are ordered transformation callbacks invoked at fixed points of the
// dispatch pipeline. A hook returning a non-nil error fails the call, except
// BeforeRetry returning ErrAbortRetry, which surfaces the current error.
type Hooks struct {
	// BeforeRequest runs after defaults are merged and may rewrite the
	// engine's private copy of the config in place.
	BeforeRequest []func(*Config) error
	// BeforeRedirect runs before a redirected attempt. It may inspect but
	// not veto.
	BeforeRedirect []func(*Config, *Response)
	// BeforeRetry runs before a retry attempt with the error that caused it
	// and the 1-based retry number. It may rewrite the config for the next
	// attempt.
	BeforeRetry []func(*Config, error, int) error
	// AfterResponse may transform the final response before it is returned.
	AfterResponse []func(*Response) error
	// BeforeError may rewrite an error's message or fields before it is
	// thrown. Reassigning the code is allowed but never done implicitly.
	BeforeError []func(*Error)
}

// Config is the complete declarative description of one request. The zero
// value is usable; unset fields fall back to built-in defaults at dispatch.
// Configs are merged, never mutated: the engine works on its own copy.
type Config struct {
	// URL is the request target, absolute or relative to BaseURL. It may
	// contain {name} or :name path placeholders resolved from Path.
	URL     string
	BaseURL string
	Method  string

	// Path holds path-template substitutions, percent-encoded on insert.
	Path map[string]any
	// Params holds query parameters, serialized per ParamsFormat.
	Params map[string]any
	// ParamsFormat selects the array serialization policy (default repeat).
	ParamsFormat ArrayFormat
	// ParamsSerializer, when set, bypasses the built-in serialization.
	ParamsSerializer func(map[string]any) string
	// Query, when set, is used verbatim instead of Params.
	Query url.Values

	// Data is the request payload: map[string]any (JSON or form-encoded),
	// string, []byte, io.Reader or url.Values.
	Data any
	// Files turns the request into a multipart form. Values are *File,
	// File, []*File or []File; Data fields become sibling parts.
	Files map[string]any

	// Headers holds raw header values; they are lowercased, validated and
	// stringified before dispatch.
	Headers map[string]any

	// Timeout bounds each transport attempt. TotalTimeout bounds the whole
	// call including retries and their delays.
	Timeout      time.Duration
	TotalTimeout time.Duration

	Auth *Auth

	Redirect     RedirectMode
	MaxRedirects int

	// Retry is the number of retry attempts after the first one.
	Retry      int
	RetryDelay time.Duration
	// RetryDelayFunc computes the delay before the given 1-based retry. It
	// takes precedence over RetryDelay and the Retry-After header.
	RetryDelayFunc func(attempt int, err error) time.Duration
	// RetryCondition can veto a retry-eligible failure; the vetoed error
	// surfaces immediately.
	RetryCondition func(err error, attempt int) bool

	// ValidateStatus decides whether a status counts as success. Default:
	// 200 <= status < 300.
	ValidateStatus func(status int) bool

	ResponseType ResponseType
	// MaxBodySize limits response materialization; 0 means unlimited.
	MaxBodySize int64
	// DisableDecompress turns off transparent gzip decompression.
	DisableDecompress bool
	// AllowParseFailure returns the raw text instead of failing with EPARSE
	// when a JSON body does not parse.
	AllowParseFailure bool

	// JSONMarshal overrides the JSON body serializer.
	JSONMarshal func(any) ([]byte, error)

	// XSRF header resolution: when both names are set and Cookies yields a
	// token, the header is added unless already present.
	XSRFCookieName string
	XSRFHeaderName string
	Cookies        CookieSource

	OnUploadProgress   ProgressFunc
	OnDownloadProgress ProgressFunc

	Hooks Hooks

	// Adapter performs the actual HTTP exchange. Defaults to the shared
	// net/http reference adapter.
	Adapter Adapter

	// Logger receives debug-level attempt/retry/redirect events.
	Logger *zap.Logger
}

// DefaultConfig returns the built-in defaults merged under every call.
func DefaultConfig() Config {
	return Config{
		Method:       "GET",
		ParamsFormat: ArrayRepeat,
		Timeout:      DefaultTimeout,
		Redirect:     RedirectFollow,
		MaxRedirects: DefaultMaxRedirects,
		ResponseType: TypeAuto,
	}
}

func (c *Config) validateStatus(status int) bool {
	if c.ValidateStatus != nil {
		return c.ValidateStatus(status)
	}
	return status >= 200 && status < 300
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}
