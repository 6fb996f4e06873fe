package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QTest-hq/formprobe/pkg/target"
)

func TestSimple_HTML(t *testing.T) {
	page := `<html><body><form>
<input type="text" name="captcha_1">
<input type="hidden" name="captcha_0" value="8f2c" data-answer="XKCD">
</form></body></html>`

	got, err := Simple{}.Solve(context.Background(), &target.Response{Body: []byte(page)}, "captcha")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"captcha_0": "8f2c", "captcha_1": "XKCD"}, got)
}

func TestSimple_Passphrase(t *testing.T) {
	page := `<form><input type="hidden" name="guard_0" value="k1"></form>`
	ctx := context.Background()

	got, err := Simple{}.Solve(ctx, &target.Response{Body: []byte(page)}, "guard")
	require.NoError(t, err)
	assert.Equal(t, DefaultPassphrase, got["guard_1"])

	got, err = Simple{Passphrase: "open"}.Solve(ctx, &target.Response{Body: []byte(page)}, "guard")
	require.NoError(t, err)
	assert.Equal(t, "open", got["guard_1"])

	_, err = Simple{}.Solve(ctx, &target.Response{Body: []byte(page)}, "captcha")
	assert.Error(t, err)
	_, err = Simple{}.Solve(ctx, nil, "captcha")
	assert.Error(t, err)
}

func TestSimple_JSON(t *testing.T) {
	body := []byte(`{"forms": [], "captcha": {"key": "k9", "answer": "abc"}}`)
	got, err := Simple{}.Solve(context.Background(), &target.Response{Body: body}, "captcha")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"captcha_0": "k9", "captcha_1": "abc"}, got)

	_, err = Simple{}.Solve(context.Background(), &target.Response{Body: []byte(`{"forms": []}`)}, "captcha")
	assert.Error(t, err)
}

func TestToken_CachesUntilExpiry(t *testing.T) {
	calls := 0
	tok := NewToken(func(context.Context) (string, error) {
		calls++
		return "t" + string(rune('0'+calls)), nil
	}, time.Minute)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	tok.Cache.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := tok.Solve(ctx, nil, "captcha")
	require.NoError(t, err)
	second, err := tok.Solve(ctx, nil, "captcha")
	require.NoError(t, err)
	assert.Equal(t, "t1", first["captcha_1"])
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	third, err := tok.Solve(ctx, nil, "captcha")
	require.NoError(t, err)
	assert.Equal(t, "t2", third["captcha_1"])

	tok.Forget("captcha")
	_, err = tok.Solve(ctx, nil, "captcha")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	stats := tok.Cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(3), stats.Misses)
}

func TestToken_SourceErrors(t *testing.T) {
	tok := NewToken(func(context.Context) (string, error) { return "", nil }, 0)
	_, err := tok.Solve(context.Background(), nil, "captcha")
	assert.Error(t, err)

	tok.Source = func(context.Context) (string, error) { return "", errors.New("provider down") }
	_, err = tok.Solve(context.Background(), nil, "captcha")
	assert.EqualError(t, err, "provider down")
}

func TestTokenCache_EvictsOldest(t *testing.T) {
	c := NewTokenCache(2, time.Minute)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", "1", 0)
	now = now.Add(time.Second)
	c.Set("b", "2", 0)
	c.Set("c", "3", 0)

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, int64(2), c.Stats().Size)
}

func TestEndpointTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token": "abc"}`))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("xyz\n"))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	tok, err := EndpointTokens(c, "/json")(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = EndpointTokens(c, "/plain")(ctx)
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = EndpointTokens(c, "/down")(ctx)
	assert.Error(t, err)
}

func TestSolver(t *testing.T) {
	s, err := Solver("none", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Solver("simple", nil, 0)
	require.NoError(t, err)
	assert.IsType(t, Simple{}, s)

	_, err = Solver("super", nil, 0)
	assert.Error(t, err)

	s, err = Solver("super", func(context.Context) (string, error) { return "x", nil }, 0)
	require.NoError(t, err)
	assert.IsType(t, &Token{}, s)

	_, err = Solver("audio", nil, 0)
	assert.Error(t, err)
}
