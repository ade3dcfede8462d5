// Package reqfile loads declarative YAML request files into fetch configs.
// Values may reference environment variables with ${VAR}; unresolved
// references fail the load.
package reqfile

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
)

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Duration accepts Go duration strings ("2s", "150ms") or a bare number of
// seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}

	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value on line %d", node.Line)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// FilePart is one file attachment. A bare string is shorthand for its path.
type FilePart struct {
	Path        string `yaml:"path"`
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type"`
}

func (p *FilePart) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&p.Path)
	}
	type plain FilePart
	return node.Decode((*plain)(p))
}

// AuthSpec mirrors fetch.Auth.
type AuthSpec struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Bearer   string `yaml:"bearer"`
}

// Request is the YAML shape of one request description.
type Request struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	BaseURL string `yaml:"base_url"`
	Method  string `yaml:"method"`

	Params  map[string]any `yaml:"params"`
	Path    map[string]any `yaml:"path"`
	Headers map[string]any `yaml:"headers"`

	// Data is a structured body; Body is a raw text body. They are mutually
	// exclusive.
	Data  any                 `yaml:"data"`
	Body  string              `yaml:"body"`
	Files map[string]FilePart `yaml:"files"`

	Auth *AuthSpec `yaml:"auth"`

	Timeout      Duration `yaml:"timeout"`
	TotalTimeout Duration `yaml:"total_timeout"`

	Retry      int      `yaml:"retry"`
	RetryDelay Duration `yaml:"retry_delay"`

	Redirect     string `yaml:"redirect"`
	MaxRedirects int    `yaml:"max_redirects"`

	ResponseType string `yaml:"response_type"`
	MaxBodySize  int64  `yaml:"max_body_size"`

	Insecure bool   `yaml:"insecure"`
	Proxy    string `yaml:"proxy"`
}

// Load reads a request file, interpolates ${VAR} environment references, and
// parses it.
func Load(path string) (*Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}

	interpolated, err := interpolate(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var req Request
	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &req, nil
}

// interpolate replaces every ${VAR} with its environment value, collecting
// unresolved names into one error.
func interpolate(s string) (string, error) {
	var missing []string
	out := variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Config converts the request description into a dispatchable fetch.Config.
func (r *Request) Config() (fetch.Config, error) {
	cfg := fetch.Config{
		URL:          r.URL,
		BaseURL:      r.BaseURL,
		Method:       strings.ToUpper(r.Method),
		Params:       r.Params,
		Path:         r.Path,
		Headers:      r.Headers,
		Timeout:      time.Duration(r.Timeout),
		TotalTimeout: time.Duration(r.TotalTimeout),
		Retry:        r.Retry,
		RetryDelay:   time.Duration(r.RetryDelay),
		MaxRedirects: r.MaxRedirects,
		MaxBodySize:  r.MaxBodySize,
	}

	if r.URL == "" && r.BaseURL == "" {
		return fetch.Config{}, fmt.Errorf("request has no url")
	}

	if r.Data != nil && r.Body != "" {
		return fetch.Config{}, fmt.Errorf("data and body are mutually exclusive")
	}
	if r.Data != nil {
		cfg.Data = normalizeYAML(r.Data)
	} else if r.Body != "" {
		cfg.Data = r.Body
	}

	if len(r.Files) > 0 {
		files := make(map[string]any, len(r.Files))
		for field, part := range r.Files {
			if part.Path == "" {
				return fetch.Config{}, fmt.Errorf("file field %q has no path", field)
			}
			files[field] = &fetch.File{
				Path:        part.Path,
				Name:        part.Name,
				ContentType: part.ContentType,
			}
		}
		cfg.Files = files
	}

	if r.Auth != nil {
		cfg.Auth = &fetch.Auth{
			Username: r.Auth.Username,
			Password: r.Auth.Password,
			Bearer:   r.Auth.Bearer,
		}
	}

	switch r.Redirect {
	case "":
	case "follow":
		cfg.Redirect = fetch.RedirectFollow
	case "manual":
		cfg.Redirect = fetch.RedirectManual
	default:
		return fetch.Config{}, fmt.Errorf("unknown redirect mode %q", r.Redirect)
	}

	switch r.ResponseType {
	case "":
	case "auto", "json", "text", "binary", "stream":
		cfg.ResponseType = fetch.ResponseType(r.ResponseType)
	default:
		return fetch.Config{}, fmt.Errorf("unknown response type %q", r.ResponseType)
	}

	if r.Insecure || r.Proxy != "" {
		opts := []fetch.AdapterOption{fetch.WithValidateSSL(!r.Insecure)}
		if r.Proxy != "" {
			opts = append(opts, fetch.WithProxy(r.Proxy))
		}
		cfg.Adapter = fetch.NewHTTPAdapter(opts...)
	}

	return cfg, nil
}

// normalizeYAML converts yaml's map[any]any mappings into the map[string]any
// shape the body encoder expects.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
