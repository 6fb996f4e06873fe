// Package client talks HTTP to the application under test. It keeps a
// cookie session across requests, uploads files as multipart parts and
// records the redirect chain of every answer.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

const maxRedirects = 10

// HTTP is a session-keeping target.Client
type HTTP struct {
	base       *url.URL
	httpClient *http.Client
	headers    http.Header
	csrfCookie string
	csrfField  string
}

// Option configures an HTTP client
type Option func(*HTTP)

// WithTimeout bounds every request
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) { h.httpClient.Timeout = d }
}

// WithTransport replaces the round tripper, e.g. with an httptest server's
func WithTransport(rt http.RoundTripper) Option {
	return func(h *HTTP) { h.httpClient.Transport = rt }
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) Option {
	return func(h *HTTP) { h.headers.Add(key, value) }
}

// WithCSRF copies the value of cookie into field on every POST that does
// not carry the field already. The token is sent as X-CSRFToken as well.
func WithCSRF(cookie, field string) Option {
	return func(h *HTTP) {
		h.csrfCookie = cookie
		h.csrfField = field
	}
}

// New creates a client resolving relative URLs against baseURL
func New(baseURL string, opts ...Option) (*HTTP, error) {
	h := &HTTP{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    make(http.Header),
	}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
		}
		h.base = base
	}
	if err := h.ResetSession(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ResetSession drops every cookie, logging the client out
func (h *HTTP) ResetSession() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	h.httpClient.Jar = jar
	return nil
}

// Cookies returns the session cookies sent to rawURL
func (h *HTTP) Cookies(rawURL string) []*http.Cookie {
	u, err := h.resolve(rawURL)
	if err != nil {
		return nil
	}
	return h.httpClient.Jar.Cookies(u)
}

// Get fetches rawURL, following redirects
func (h *HTTP) Get(ctx context.Context, rawURL string, headers http.Header) (*target.Response, error) {
	u, err := h.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return h.do(req, headers, true)
}

// Post submits params to rawURL. Params holding files are sent as
// multipart/form-data, everything else as urlencoded. With follow unset
// the first redirect is returned as is and its Location recorded.
func (h *HTTP) Post(ctx context.Context, rawURL string, params form.Params, follow bool, headers http.Header) (*target.Response, error) {
	u, err := h.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	params, token := h.withCSRF(u, params)

	var body io.Reader
	var contentType string
	if params.HasFiles() {
		buf, ct, err := EncodeMultipart(params)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	} else {
		body = strings.NewReader(EncodeValues(params).Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Referer", u.String())
	if token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
	return h.do(req, headers, follow)
}

func (h *HTTP) do(req *http.Request, headers http.Header, follow bool) (*target.Response, error) {
	for k, vs := range h.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	var redirects []string
	c := *h.httpClient
	c.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if !follow {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		redirects = append(redirects, next.URL.String())
		return nil
	}

	start := time.Now()
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if !follow {
		if loc := resp.Header.Get("Location"); loc != "" {
			if next, err := resp.Request.URL.Parse(loc); err == nil {
				redirects = append(redirects, next.String())
			}
		}
	}

	log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Int("redirects", len(redirects)).
		Dur("took", time.Since(start)).
		Msg("request")

	return &target.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        resp.Request.URL.String(),
		Redirects:  redirects,
	}, nil
}

func (h *HTTP) resolve(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if h.base != nil && !u.IsAbs() {
		u = h.base.ResolveReference(u)
	}
	return u, nil
}

// withCSRF returns params carrying the CSRF token from the cookie jar
func (h *HTTP) withCSRF(u *url.URL, params form.Params) (form.Params, string) {
	if h.csrfCookie == "" {
		return params, ""
	}
	if v, ok := params[h.csrfField]; ok {
		return params, form.Render(v)
	}
	for _, c := range h.httpClient.Jar.Cookies(u) {
		if c.Name == h.csrfCookie {
			out := params.Clone()
			out[h.csrfField] = c.Value
			return out, c.Value
		}
	}
	return params, ""
}

// EncodeValues renders params the way a browser submits a form: unchecked
// boxes are left out, checked ones are sent as "on" and lists repeat the key.
func EncodeValues(params form.Params) url.Values {
	values := make(url.Values, len(params))
	for _, k := range params.Keys() {
		if b, ok := params[k].(bool); ok {
			if b {
				values.Add(k, "on")
			}
			continue
		}
		for _, s := range form.RenderList(params[k]) {
			values.Add(k, s)
		}
	}
	return values
}

// EncodeMultipart writes params as multipart/form-data and returns the body
// with its content type
func EncodeMultipart(params form.Params) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range params.Keys() {
		if err := writeValue(w, k, params[k]); err != nil {
			return nil, "", fmt.Errorf("failed to encode %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeValue(w *multipart.Writer, name string, v any) error {
	switch val := v.(type) {
	case *form.File:
		return writeFile(w, name, val)
	case []*form.File:
		for _, f := range val {
			if err := writeFile(w, name, f); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, item := range val {
			if err := writeValue(w, name, item); err != nil {
				return err
			}
		}
		return nil
	case bool:
		if !val {
			return nil
		}
	}
	for _, s := range form.RenderList(v) {
		if err := w.WriteField(name, s); err != nil {
			return err
		}
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(w *multipart.Writer, name string, f *form.File) error {
	if f == nil {
		return nil
	}
	ct := f.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(f.Name))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(name), quoteEscaper.Replace(f.Name)))
	header.Set("Content-Type", ct)
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Content)
	return err
}
