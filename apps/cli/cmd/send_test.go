package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
)

func resetSendFlags(t *testing.T) {
	t.Helper()
	sendMethodFlag = ""
	sendHeaderFlags = nil
	sendQueryFlags = nil
	sendDataFlag = ""
	sendUserFlag = ""
	sendBearerFlag = ""
	sendTimeoutFlag = ""
	sendTotalTimeoutFlag = ""
	sendRetryFlag = 0
	sendRetryDelayFlag = ""
	sendRedirectFlag = ""
	sendMaxRedirectsFlag = 0
	sendInsecureFlag = false
	sendProxyFlag = ""
}

func TestFlagConfig(t *testing.T) {
	resetSendFlags(t)
	sendMethodFlag = "POST"
	sendHeaderFlags = []string{"X-Request-Id: abc", "Accept: application/json"}
	sendQueryFlags = []string{"page=1", "tag=a", "tag=b"}
	sendDataFlag = `{"name":"alice"}`
	sendUserFlag = "admin:secret"
	sendTimeoutFlag = "5s"
	sendRetryFlag = 2

	cfg, err := flagConfig([]string{"https://api.example.com/users"})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/users", cfg.URL)
	assert.Equal(t, "POST", cfg.Method)
	assert.Equal(t, "abc", cfg.Headers["X-Request-Id"])
	assert.Equal(t, "1", cfg.Params["page"])
	assert.Equal(t, []any{"a", "b"}, cfg.Params["tag"])
	assert.Equal(t, map[string]any{"name": "alice"}, cfg.Data)
	require.NotNil(t, cfg.Auth)
	assert.Equal(t, "admin", cfg.Auth.Username)
	assert.Equal(t, "secret", cfg.Auth.Password)
	assert.Equal(t, "5s", cfg.Timeout.String())
	assert.Equal(t, 2, cfg.Retry)
}

func TestFlagConfig_InvalidHeader(t *testing.T) {
	resetSendFlags(t)
	sendHeaderFlags = []string{"no-colon-here"}

	_, err := flagConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid header")
}

func TestFlagConfig_InvalidDuration(t *testing.T) {
	resetSendFlags(t)
	sendTimeoutFlag = "soon"

	_, err := flagConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout")
}

func TestFlagConfig_UnknownRedirectMode(t *testing.T) {
	resetSendFlags(t)
	sendRedirectFlag = "bounce"

	_, err := flagConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown redirect mode")
}

func TestParseDataFlag(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, parseDataFlag(`{"a":1}`))
	assert.Equal(t, "plain text", parseDataFlag("plain text"))
	assert.Equal(t, "{not json", parseDataFlag("{not json"))
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code fetch.Code
		want int
	}{
		{fetch.CodeNetwork, ExitNetworkError},
		{fetch.CodeTimedOut, ExitNetworkError},
		{fetch.CodeCanceled, ExitNetworkError},
		{fetch.CodeMaxRedirects, ExitNetworkError},
		{fetch.CodeParse, ExitParseError},
		{fetch.CodeUnknown, ExitConfigError},
	}
	for _, tt := range tests {
		ferr := &fetch.Error{Code: tt.code}
		assert.Equal(t, tt.want, exitCodeFor(ferr), string(tt.code))
	}
}
