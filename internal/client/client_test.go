package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/formprobe/pkg/form"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/form/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok123", Path: "/"})
		io.WriteString(w, "<form></form>")
	})
	mux.HandleFunc("/echo/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("X-Csrf", r.Header.Get("X-CSRFToken"))
		w.Header().Set("X-Agent", r.Header.Get("User-Agent"))
		io.WriteString(w, r.PostForm.Encode())
	})
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, fh := range r.MultipartForm.File["docs"] {
			f, err := fh.Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			f.Close()
			io.WriteString(w, fh.Filename+"="+string(data)+";")
		}
		io.WriteString(w, "title="+r.FormValue("title"))
	})
	mux.HandleFunc("/a/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b/", http.StatusFound)
	})
	mux.HandleFunc("/b/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c/", http.StatusFound)
	})
	mux.HandleFunc("/c/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "done")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPost_URLEncodedWithCSRF(t *testing.T) {
	srv := newServer(t)
	c, err := New(srv.URL, WithCSRF("csrftoken", "csrfmiddlewaretoken"), WithHeader("User-Agent", "formprobe"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "/form/", nil)
	require.NoError(t, err)
	require.Len(t, c.Cookies("/form/"), 1)

	params := form.Params{
		"name":   "lamp",
		"tags":   []any{"a", "b"},
		"active": true,
		"hidden": false,
		"empty":  form.Empty,
	}
	resp, err := c.Post(ctx, "/echo/", params, true, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tok123", resp.Header.Get("X-Csrf"))
	assert.Equal(t, "formprobe", resp.Header.Get("X-Agent"))

	got, err := url.ParseQuery(string(resp.Body))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got["tags"])
	assert.Equal(t, "on", got.Get("active"))
	assert.NotContains(t, got, "hidden")
	assert.Equal(t, []string{""}, got["empty"])
	assert.Equal(t, "tok123", got.Get("csrfmiddlewaretoken"))
	assert.NotContains(t, params, "csrfmiddlewaretoken", "caller params must stay untouched")

	require.NoError(t, c.ResetSession())
	assert.Empty(t, c.Cookies("/form/"))
}

func TestPost_Multipart(t *testing.T) {
	srv := newServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)

	params := form.Params{
		"title": "report",
		"docs": []*form.File{
			{Name: "a.txt", Content: []byte("one")},
			{Name: "b.txt", Content: []byte("two")},
		},
	}
	resp, err := c.Post(context.Background(), "/upload/", params, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "a.txt=one;b.txt=two;title=report", string(resp.Body))
}

func TestRedirectChain(t *testing.T) {
	srv := newServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := c.Post(ctx, "/a/", form.Params{"x": "1"}, true, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{srv.URL + "/b/", srv.URL + "/c/"}, resp.Redirects)
	assert.Equal(t, srv.URL+"/c/", resp.URL)
	assert.Equal(t, "done", string(resp.Body))

	resp, err = c.Post(ctx, "/a/", form.Params{"x": "1"}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, resp.Redirected())
	assert.Equal(t, []string{srv.URL + "/b/"}, resp.Redirects)
	assert.Equal(t, srv.URL+"/a/", resp.URL)
}

func TestRequestHeadersOverride(t *testing.T) {
	srv := newServer(t)
	c, err := New(srv.URL, WithHeader("User-Agent", "formprobe"))
	require.NoError(t, err)

	resp, err := c.Post(context.Background(), "/echo/", form.Params{}, true, http.Header{"User-Agent": {"probe-2"}})
	require.NoError(t, err)
	assert.Equal(t, "probe-2", resp.Header.Get("X-Agent"))
}

func TestEncodeValues(t *testing.T) {
	values := EncodeValues(form.Params{"n": 3, "f": 1.5, "on": true, "off": false})
	if got := values.Encode(); got != "f=1.5&n=3&on=on" {
		t.Errorf("EncodeValues() = %q", got)
	}
}
