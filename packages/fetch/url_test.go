package fetch

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL_BaseCombination(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		rawURL  string
		want    string
	}{
		{"both slashes", "https://api.example.com/", "/v1/users", "https://api.example.com/v1/users"},
		{"base slash only", "https://api.example.com/", "v1/users", "https://api.example.com/v1/users"},
		{"rel slash only", "https://api.example.com", "/v1/users", "https://api.example.com/v1/users"},
		{"no slashes", "https://api.example.com", "v1/users", "https://api.example.com/v1/users"},
		{"empty relative", "https://api.example.com", "", "https://api.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{BaseURL: tt.baseURL, URL: tt.rawURL}
			got, err := BuildURL(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildURL_AbsoluteIgnoresBase(t *testing.T) {
	cfg := &Config{BaseURL: "https://api.example.com", URL: "https://other.example.com/x"}
	got, err := BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x", got)

	// Protocol-relative URLs count as absolute too.
	cfg = &Config{BaseURL: "https://api.example.com", URL: "//cdn.example.com/x"}
	got, err = BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "//cdn.example.com/x", got)
}

func TestBuildURL_Required(t *testing.T) {
	_, err := BuildURL(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}

func TestBuildURL_PathTemplates(t *testing.T) {
	cfg := &Config{
		URL: "https://api.example.com/users/{id}/posts/:postId",
		Path: map[string]any{
			"id":     42,
			"postId": "a/b",
		},
	}
	got, err := BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/42/posts/a%2Fb", got)
}

func TestBuildURL_UnknownTokenUntouched(t *testing.T) {
	cfg := &Config{
		URL:  "https://api.example.com/users/{id}/{missing}",
		Path: map[string]any{"id": 1},
	}
	got, err := BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/users/1/{missing}", got)
}

func TestBuildURL_QueryFragment(t *testing.T) {
	cfg := &Config{
		URL:    "https://api.example.com/page?page=1#section",
		Params: map[string]any{"sort": "name"},
	}
	got, err := BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/page?page=1&sort=name#section", got)
}

func TestBuildURL_ParamsSerializerBypass(t *testing.T) {
	cfg := &Config{
		URL:    "https://api.example.com/x",
		Params: map[string]any{"a": 1},
		ParamsSerializer: func(params map[string]any) string {
			return "custom=serialized"
		},
	}
	got, err := BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/x?custom=serialized", got)
}

func TestBuildURL_QueryVerbatim(t *testing.T) {
	q := url.Values{}
	q.Add("b", "2")
	q.Add("a", "1")
	cfg := &Config{URL: "https://api.example.com/x", Query: q}
	got, err := BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/x?a=1&b=2", got)
}

func TestEncodeParam_ArrayFormats(t *testing.T) {
	value := []any{1, nil, 2}

	tests := []struct {
		format ArrayFormat
		want   []string
	}{
		{ArrayRepeat, []string{"k=1", "k=2"}},
		{ArrayBrackets, []string{"k[]=1", "k[]=2"}},
		{ArrayComma, []string{"k=1,2"}},
		{ArrayIndex, []string{"k[0]=1", "k[1]=2"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			assert.Equal(t, tt.want, encodeParam("k", value, tt.format))
		})
	}
}

func TestEncodeParam_NilHandling(t *testing.T) {
	// A nil scalar is omitted entirely.
	assert.Nil(t, encodeParam("k", nil, ArrayRepeat))

	// An array that is empty after nil filtering contributes nothing.
	assert.Nil(t, encodeParam("k", []any{nil, nil}, ArrayIndex))

	// Empty string is a real value, not an absence.
	assert.Equal(t, []string{"k="}, encodeParam("k", "", ArrayRepeat))
}

func TestStringifyQueryValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	s, ok := stringifyQueryValue(ts)
	require.True(t, ok)
	assert.Equal(t, "2024-03-01T12:30:00Z", s)

	s, ok = stringifyQueryValue(true)
	require.True(t, ok)
	assert.Equal(t, "true", s)

	s, ok = stringifyQueryValue(float64(2.5))
	require.True(t, ok)
	assert.Equal(t, "2.5", s)

	_, ok = stringifyQueryValue(nil)
	assert.False(t, ok)
}

func TestBuildQuery_SortedKeys(t *testing.T) {
	cfg := &Config{
		URL:    "https://api.example.com/x",
		Params: map[string]any{"b": 2, "a": 1, "c": "three"},
	}
	got, err := BuildURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/x?a=1&b=2&c=three", got)
}
