package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeaders(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	h, err := NormalizeHeaders(map[string]any{
		"Content-Type":  "application/json",
		"X-Retries":     3,
		"X-Flag":        true,
		"If-Mod-Since":  when,
		"X-Multi":       []string{"a", "b"},
		"X-Mixed":       []any{"a", 2, nil},
		"X-Omitted":     nil,
		"ACCEPT":        "text/plain",
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", h["content-type"])
	assert.Equal(t, "3", h["x-retries"])
	assert.Equal(t, "true", h["x-flag"])
	assert.Equal(t, "Fri, 01 Mar 2024 12:30:00 GMT", h["if-mod-since"])
	assert.Equal(t, "a, b", h["x-multi"])
	assert.Equal(t, "a, 2", h["x-mixed"])
	assert.Equal(t, "text/plain", h["accept"])
	assert.False(t, h.Has("x-omitted"))
}

func TestNormalizeHeaders_InvalidName(t *testing.T) {
	_, err := NormalizeHeaders(map[string]any{"bad header": "x"})
	require.ErrorIs(t, err, ErrInvalidHeaderName)

	_, err = NormalizeHeaders(map[string]any{"": "x"})
	require.ErrorIs(t, err, ErrInvalidHeaderName)
}

func TestNormalizeHeaders_RejectsCRLF(t *testing.T) {
	_, err := NormalizeHeaders(map[string]any{"x-inject": "a\r\nevil: yes"})
	require.ErrorIs(t, err, ErrInvalidHeaderValue)
}

func TestHeader_CaseInsensitive(t *testing.T) {
	h := Header{}
	h.Set("Content-Type", "text/plain")

	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("content-type"))

	h.Del("Content-type")
	assert.False(t, h.Has("content-type"))
}

func TestHeader_Clone(t *testing.T) {
	h := Header{"a": "1"}
	c := h.Clone()
	c.Set("a", "2")
	assert.Equal(t, "1", h.Get("a"))
}
