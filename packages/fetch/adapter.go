package fetch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
)

const (
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host.
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay in the pool.
	DefaultIdleConnTimeout = 90 * time.Second
)

// ResolvedRequest is the fully prepared, adapter-facing form of a request:
// final URL, normalized headers, encoded body and materialization policy.
// It is created once per attempt and never mutated after handoff.
type ResolvedRequest struct {
	URL     string
	Method  string
	Headers Header
	Body    Payload

	ResponseType      ResponseType
	MaxBodySize       int64
	DisableDecompress bool
	AllowParseFailure bool

	OnUploadProgress   ProgressFunc
	OnDownloadProgress ProgressFunc
}

// Adapter performs exactly one HTTP exchange for a resolved request. It must
// honor ctx for timeout and cancellation, never follow redirects itself, and
// materialize the response body according to the request's response type.
type Adapter interface {
	Do(ctx context.Context, req *ResolvedRequest) (*Response, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, req *ResolvedRequest) (*Response, error)

func (f AdapterFunc) Do(ctx context.Context, req *ResolvedRequest) (*Response, error) {
	return f(ctx, req)
}

// HTTPAdapter is the reference Adapter over net/http.
type HTTPAdapter struct {
	client *http.Client

	validateSSL bool
	proxyURL    string
}

// AdapterOption configures the reference adapter.
type AdapterOption func(*HTTPAdapter)

// WithValidateSSL enables or disables TLS certificate validation.
func WithValidateSSL(validate bool) AdapterOption {
	return func(a *HTTPAdapter) {
		a.validateSSL = validate
	}
}

// WithProxy sets an explicit proxy URL instead of the environment's.
func WithProxy(proxyURL string) AdapterOption {
	return func(a *HTTPAdapter) {
		a.proxyURL = proxyURL
	}
}

// NewHTTPAdapter creates the reference adapter. Redirects are never followed
// here; the dispatch engine owns the redirect state machine.
func NewHTTPAdapter(opts ...AdapterOption) *HTTPAdapter {
	a := &HTTPAdapter{validateSSL: true}
	for _, opt := range opts {
		opt(a)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}

	if !a.validateSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if a.proxyURL != "" {
		if proxyURL, err := neturl.Parse(a.proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	a.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return a
}

// DefaultAdapter is the shared adapter used when a config sets none.
var DefaultAdapter Adapter = NewHTTPAdapter()

// Do performs one exchange and materializes the response.
func (a *HTTPAdapter) Do(ctx context.Context, req *ResolvedRequest) (*Response, error) {
	body := req.Body.NewReader()
	if body != nil && req.OnUploadProgress != nil {
		total := req.Body.ContentLength
		if total < 0 {
			total = 0
		}
		body = newProgressReader(body, req.OnUploadProgress, total)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if req.Body.ContentLength >= 0 {
		httpReq.ContentLength = req.Body.ContentLength
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.DisableDecompress && httpReq.Header.Get("Accept-Encoding") == "" {
		// Setting the header manually turns off the transport's transparent
		// gzip handling.
		httpReq.Header.Set("Accept-Encoding", "identity")
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	out := &Response{
		Status:     httpResp.StatusCode,
		StatusText: statusText(httpResp),
		URL:        httpResp.Request.URL.String(),
		Headers:    flattenHeaders(httpResp.Header),
		SetCookie:  append([]string(nil), httpResp.Header.Values("Set-Cookie")...),
	}

	if err := materializeBody(httpResp, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func statusText(resp *http.Response) string {
	prefix := fmt.Sprintf("%d ", resp.StatusCode)
	if strings.HasPrefix(resp.Status, prefix) {
		return strings.TrimPrefix(resp.Status, prefix)
	}
	return http.StatusText(resp.StatusCode)
}

// flattenHeaders lowercases names and joins multi-valued headers with ", ".
// Set-Cookie is excluded; it is exposed as an ordered list instead.
func flattenHeaders(h http.Header) Header {
	out := make(Header, len(h))
	for name, values := range h {
		lower := strings.ToLower(name)
		if lower == "set-cookie" {
			continue
		}
		out[lower] = strings.Join(values, ", ")
	}
	return out
}

// materializeBody reads and decodes the response body per the requested
// response type. HTTP 204 and HEAD responses yield a nil body; streams are
// handed over undrained.
func materializeBody(httpResp *http.Response, req *ResolvedRequest, out *Response) error {
	var rc io.ReadCloser = httpResp.Body
	if req.MaxBodySize > 0 {
		rc = newLimitReader(rc, req.MaxBodySize)
	}
	if req.OnDownloadProgress != nil {
		total := httpResp.ContentLength
		if total < 0 {
			total = 0
		}
		rc = newProgressReader(rc, req.OnDownloadProgress, total)
	}

	if strings.EqualFold(req.Method, "HEAD") || httpResp.StatusCode == http.StatusNoContent {
		httpResp.Body.Close()
		return nil
	}

	if req.ResponseType == TypeStream {
		out.Body = rc
		return nil
	}

	raw, err := io.ReadAll(rc)
	httpResp.Body.Close()
	if err != nil {
		return err
	}
	out.RawBody = raw

	mediaType, charset := contentTypeOf(out.Headers.Get("content-type"))

	switch effectiveType(req.ResponseType, mediaType) {
	case TypeJSON:
		text, err := decodeCharset(raw, charset)
		if err != nil {
			return newError(CodeParse, "decoding response text", nil, out, err)
		}
		var parsed any
		if err := json.Unmarshal(text, &parsed); err != nil {
			if req.AllowParseFailure {
				out.Body = string(text)
				return nil
			}
			return newError(CodeParse, "parsing JSON response", nil, out, err)
		}
		out.Body = parsed
	case TypeText:
		text, err := decodeCharset(raw, charset)
		if err != nil {
			return newError(CodeParse, "decoding response text", nil, out, err)
		}
		out.Body = string(text)
	default:
		out.Body = raw
	}
	return nil
}

// effectiveType resolves auto negotiation from the media type.
func effectiveType(requested ResponseType, mediaType string) ResponseType {
	if requested != "" && requested != TypeAuto {
		return requested
	}
	switch {
	case isJSONMediaType(mediaType):
		return TypeJSON
	case strings.HasPrefix(mediaType, "text/"):
		return TypeText
	default:
		return TypeBinary
	}
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func contentTypeOf(header string) (mediaType, charset string) {
	if header == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(header)), ""
	}
	return mt, params["charset"]
}

// decodeCharset converts raw bytes to UTF-8 per the declared charset.
// UTF-8 (the default) passes through untouched.
func decodeCharset(raw []byte, charset string) ([]byte, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return raw, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Bytes(raw)
}
