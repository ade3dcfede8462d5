package fetch

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header is a normalized header map. Keys are always lowercase, so lookups
// are case-insensitive by construction.
type Header map[string]string

// Get returns the value for key, matching case-insensitively.
func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Set stores value under the lowercased key.
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Has reports whether key is present, matching case-insensitively.
func (h Header) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Del removes key, matching case-insensitively.
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone returns a copy of h.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Keys returns the header names in sorted order.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeHeaders lowercases and validates raw header values. Nil values
// are omitted, arrays join with ", ", booleans stringify lowercase and times
// render in the RFC 7231 HTTP-date format. Names outside the RFC token set
// and values containing CR or LF are rejected.
func NormalizeHeaders(raw map[string]any) (Header, error) {
	out := make(Header, len(raw))
	for name, value := range raw {
		if !validHeaderName(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeaderName, name)
		}
		s, ok, err := headerValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w for %q: %v", ErrInvalidHeaderValue, name, err)
		}
		if !ok {
			continue
		}
		if strings.ContainsAny(s, "\r\n") {
			return nil, fmt.Errorf("%w for %q: contains CR or LF", ErrInvalidHeaderValue, name)
		}
		out[strings.ToLower(name)] = s
	}
	return out, nil
}

// headerValue stringifies one raw header value. The second return is false
// when the value should be omitted entirely.
func headerValue(v any) (string, bool, error) {
	switch val := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return val, true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	case time.Time:
		return val.UTC().Format(http.TimeFormat), true, nil
	case []string:
		return strings.Join(val, ", "), true, nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok, err := headerValue(item)
			if err != nil {
				return "", false, err
			}
			if ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false, nil
		}
		return strings.Join(parts, ", "), true, nil
	default:
		return fmt.Sprintf("%v", val), true, nil
	}
}

// validHeaderName reports whether name consists solely of RFC 7230 token
// characters.
func validHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
