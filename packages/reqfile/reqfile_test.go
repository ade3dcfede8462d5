package reqfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
)

func writeRequestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullRequest(t *testing.T) {
	t.Setenv("API_TOKEN", "secret-token")

	path := writeRequestFile(t, `
name: create user
url: /users
base_url: https://api.example.com
method: post
params:
  notify: true
headers:
  x-api-token: ${API_TOKEN}
data:
  name: alice
  roles:
    - admin
    - ops
timeout: 5s
total_timeout: 30s
retry: 2
retry_delay: 500ms
redirect: manual
max_redirects: 3
response_type: json
`)

	req, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "create user", req.Name)

	cfg, err := req.Config()
	require.NoError(t, err)

	assert.Equal(t, "/users", cfg.URL)
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, "POST", cfg.Method)
	assert.Equal(t, "secret-token", cfg.Headers["x-api-token"])
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 30*time.Second, cfg.TotalTimeout)
	assert.Equal(t, 2, cfg.Retry)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, fetch.RedirectManual, cfg.Redirect)
	assert.Equal(t, 3, cfg.MaxRedirects)
	assert.Equal(t, fetch.TypeJSON, cfg.ResponseType)

	data, ok := cfg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", data["name"])
	assert.Equal(t, []any{"admin", "ops"}, data["roles"])
}

func TestLoadUnresolvedVariable(t *testing.T) {
	path := writeRequestFile(t, `
url: https://api.example.com/${DEFINITELY_NOT_SET_12345}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved variables")
	assert.Contains(t, err.Error(), "DEFINITELY_NOT_SET_12345")
}

func TestLoadUnknownField(t *testing.T) {
	path := writeRequestFile(t, `
url: https://api.example.com
not_a_field: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurationForms(t *testing.T) {
	path := writeRequestFile(t, `
url: https://api.example.com
timeout: 1500ms
total_timeout: 10
`)
	req, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Duration(1500*time.Millisecond), req.Timeout)
	assert.Equal(t, Duration(10*time.Second), req.TotalTimeout)
}

func TestDurationInvalid(t *testing.T) {
	path := writeRequestFile(t, `
url: https://api.example.com
timeout: soon
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestConfigBodyAndDataExclusive(t *testing.T) {
	req := &Request{URL: "https://api.example.com", Data: map[string]any{"a": 1}, Body: "raw"}
	_, err := req.Config()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestConfigRawBody(t *testing.T) {
	req := &Request{URL: "https://api.example.com", Body: "plain text"}
	cfg, err := req.Config()
	require.NoError(t, err)
	assert.Equal(t, "plain text", cfg.Data)
}

func TestConfigFiles(t *testing.T) {
	path := writeRequestFile(t, `
url: https://api.example.com/upload
method: post
files:
  report: ./report.pdf
  avatar:
    path: ./avatar.png
    name: me.png
    content_type: image/png
`)
	req, err := Load(path)
	require.NoError(t, err)

	cfg, err := req.Config()
	require.NoError(t, err)

	report, ok := cfg.Files["report"].(*fetch.File)
	require.True(t, ok)
	assert.Equal(t, "./report.pdf", report.Path)

	avatar, ok := cfg.Files["avatar"].(*fetch.File)
	require.True(t, ok)
	assert.Equal(t, "me.png", avatar.Name)
	assert.Equal(t, "image/png", avatar.ContentType)
}

func TestConfigValidation(t *testing.T) {
	_, err := (&Request{}).Config()
	assert.Error(t, err)

	_, err = (&Request{URL: "x", Redirect: "bounce"}).Config()
	assert.Error(t, err)

	_, err = (&Request{URL: "x", ResponseType: "xml"}).Config()
	assert.Error(t, err)
}

func TestConfigInsecureAdapter(t *testing.T) {
	req := &Request{URL: "https://api.example.com", Insecure: true}
	cfg, err := req.Config()
	require.NoError(t, err)
	assert.NotNil(t, cfg.Adapter)
}
