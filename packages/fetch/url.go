package fetch

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// absoluteURLPattern matches scheme-qualified and protocol-relative URLs.
var absoluteURLPattern = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z\d+.-]*:)?//`)

// pathTokenPattern matches {name} and :name path placeholders.
var pathTokenPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}|:([a-zA-Z_][a-zA-Z0-9_]*)`)

// BuildURL produces the final request URL from a config: BaseURL/URL
// combination, path-template substitution and query serialization.
func BuildURL(cfg *Config) (string, error) {
	raw := cfg.URL
	if cfg.BaseURL != "" && !absoluteURLPattern.MatchString(raw) {
		raw = combineURLs(cfg.BaseURL, raw)
	}
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}

	raw = expandPath(raw, cfg.Path)

	qs := buildQuery(cfg)
	if qs == "" {
		return raw, nil
	}
	return appendQuery(raw, qs), nil
}

// combineURLs joins base and relative with exactly one separating slash,
// whatever each side carries.
func combineURLs(base, rel string) string {
	if rel == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}

// expandPath substitutes {name} and :name tokens with the percent-encoded
// string form of the corresponding Path value. Unknown tokens are left
// untouched.
func expandPath(raw string, path map[string]any) string {
	if len(path) == 0 {
		return raw
	}
	return pathTokenPattern.ReplaceAllStringFunc(raw, func(tok string) string {
		name := strings.Trim(tok, "{}:")
		v, ok := path[name]
		if !ok {
			return tok
		}
		s, present := stringifyQueryValue(v)
		if !present {
			return tok
		}
		return url.PathEscape(s)
	})
}

// buildQuery serializes the configured parameters. A caller-supplied
// serializer or a native url.Values bypasses the built-in policy.
func buildQuery(cfg *Config) string {
	if cfg.ParamsSerializer != nil {
		return cfg.ParamsSerializer(cfg.Params)
	}
	if cfg.Query != nil {
		return cfg.Query.Encode()
	}
	if len(cfg.Params) == 0 {
		return ""
	}

	format := cfg.ParamsFormat
	if format == "" {
		format = ArrayRepeat
	}

	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		pairs = append(pairs, encodeParam(k, cfg.Params[k], format)...)
	}
	return strings.Join(pairs, "&")
}

// encodeParam renders one key's pairs. Nil scalars are omitted; nil array
// entries are dropped before arity-dependent formatting, and an array empty
// after filtering contributes nothing.
func encodeParam(key string, value any, format ArrayFormat) []string {
	ek := url.QueryEscape(key)

	if arr, ok := toAnySlice(value); ok {
		var vals []string
		for _, item := range arr {
			if s, present := stringifyQueryValue(item); present {
				vals = append(vals, url.QueryEscape(s))
			}
		}
		if len(vals) == 0 {
			return nil
		}
		switch format {
		case ArrayBrackets:
			pairs := make([]string, len(vals))
			for i, v := range vals {
				pairs[i] = ek + "[]=" + v
			}
			return pairs
		case ArrayComma:
			return []string{ek + "=" + strings.Join(vals, ",")}
		case ArrayIndex:
			pairs := make([]string, len(vals))
			for i, v := range vals {
				pairs[i] = ek + "[" + strconv.Itoa(i) + "]=" + v
			}
			return pairs
		default: // ArrayRepeat
			pairs := make([]string, len(vals))
			for i, v := range vals {
				pairs[i] = ek + "=" + v
			}
			return pairs
		}
	}

	s, present := stringifyQueryValue(value)
	if !present {
		return nil
	}
	return []string{ek + "=" + url.QueryEscape(s)}
}

func toAnySlice(v any) ([]any, bool) {
	switch arr := v.(type) {
	case []any:
		return arr, true
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(arr))
		for i, n := range arr {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

// stringifyQueryValue renders a scalar for query or path use. The second
// return is false for nil values, which are omitted entirely. An empty
// string is preserved, not treated as absent.
func stringifyQueryValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case time.Time:
		return val.UTC().Format(time.RFC3339), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}

// appendQuery inserts qs into raw, honoring an existing query string and
// keeping any fragment at the end.
func appendQuery(raw, qs string) string {
	fragment := ""
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw, fragment = raw[:i], raw[i:]
	}
	sep := "?"
	if strings.ContainsRune(raw, '?') {
		sep = "&"
	}
	return raw + sep + qs + fragment
}
