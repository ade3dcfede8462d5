package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doAdapter(t *testing.T, url string, req *ResolvedRequest) (*Response, error) {
	t.Helper()
	req.URL = url
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.Headers == nil {
		req.Headers = Header{}
	}
	return NewHTTPAdapter().Do(context.Background(), req)
}

func TestHTTPAdapter_JSONAuto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"hello","count":2}`))
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.NoError(t, err)

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "OK", resp.StatusText)
	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", body["message"])
	assert.Equal(t, float64(2), body["count"])
	assert.JSONEq(t, `{"message":"hello","count":2}`, string(resp.RawBody))
}

func TestHTTPAdapter_TextAuto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain"))
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Body)
}

func TestHTTPAdapter_BinaryAuto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x01, 0x02})
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp.Body)
}

func TestHTTPAdapter_ParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.Error(t, err)
	assert.Equal(t, CodeParse, classifyErr(err))

	// The status line and headers were received, so the failure carries them.
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	require.NotNil(t, ferr.Response)
	assert.Equal(t, 200, ferr.Response.Status)
	assert.Equal(t, "application/json", ferr.Response.Headers.Get("content-type"))
	assert.Equal(t, []byte(`{not json`), ferr.Response.RawBody)

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{AllowParseFailure: true})
	require.NoError(t, err)
	assert.Equal(t, "{not json", resp.Body)
}

func TestHTTPAdapter_NoContentAndHEAD(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.NoError(t, err)
	assert.Equal(t, 204, resp.Status)
	assert.Nil(t, resp.Body)
	assert.Nil(t, resp.RawBody)

	resp, err = doAdapter(t, server.URL, &ResolvedRequest{Method: "HEAD"})
	require.NoError(t, err)
	assert.Nil(t, resp.Body)
}

func TestHTTPAdapter_HeaderFlattening(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1"})
		http.SetCookie(w, &http.Cookie{Name: "theme", Value: "dark"})
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.NoError(t, err)

	assert.Equal(t, "a, b", resp.Headers.Get("x-multi"))
	assert.False(t, resp.Headers.Has("set-cookie"))
	require.Len(t, resp.SetCookie, 2)
	assert.Contains(t, resp.SetCookie[0], "session=s1")
	assert.Contains(t, resp.SetCookie[1], "theme=dark")
}

func TestHTTPAdapter_MaxBodySize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer server.Close()

	_, err := doAdapter(t, server.URL, &ResolvedRequest{MaxBodySize: 64})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, CodeNetwork, classifyErr(err))
}

func TestHTTPAdapter_CharsetDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte{0xe9, 0x74, 0xe9}) // "été" in latin-1
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.NoError(t, err)
	assert.Equal(t, "été", resp.Body)
}

func TestHTTPAdapter_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("streamed bytes"))
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{ResponseType: TypeStream})
	require.NoError(t, err)

	rc, ok := resp.Body.(io.ReadCloser)
	require.True(t, ok)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed bytes", string(data))
	assert.Nil(t, resp.RawBody)
}

func TestHTTPAdapter_DownloadProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "8")
		_, _ = w.Write([]byte("12345678"))
	}))
	defer server.Close()

	var last Progress
	_, err := doAdapter(t, server.URL, &ResolvedRequest{
		OnDownloadProgress: func(p Progress) { last = p },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), last.Loaded)
	assert.Equal(t, int64(8), last.Total)
}

func TestHTTPAdapter_NeverFollowsRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer server.Close()

	resp, err := doAdapter(t, server.URL, &ResolvedRequest{})
	require.NoError(t, err)
	assert.Equal(t, 302, resp.Status)
	assert.Equal(t, "/elsewhere", resp.Headers.Get("location"))
}
