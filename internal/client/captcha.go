package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// DefaultPassphrase is the answer test-mode CAPTCHAs accept
const DefaultPassphrase = "PASSED"

// Simple solves image CAPTCHAs rendered in test mode. The challenge key is
// read from the hidden <prefix>_0 input; the answer comes from that input's
// data-answer attribute, falling back to Passphrase. JSON pages carry both
// under "captcha.key" and "captcha.answer".
type Simple struct {
	Passphrase string
}

// Solve implements target.CaptchaSolver
func (s Simple) Solve(_ context.Context, resp *target.Response, prefix string) (map[string]string, error) {
	if resp == nil {
		return nil, fmt.Errorf("no page to read the %s challenge from", prefix)
	}
	key, answer, err := challenge(resp.Body, prefix)
	if err != nil {
		return nil, err
	}
	if answer == "" {
		answer = s.Passphrase
	}
	if answer == "" {
		answer = DefaultPassphrase
	}
	return map[string]string{prefix + "_0": key, prefix + "_1": answer}, nil
}

func challenge(body []byte, prefix string) (key, answer string, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		doc := gjson.ParseBytes(trimmed)
		k := doc.Get("captcha.key")
		if !k.Exists() {
			return "", "", fmt.Errorf("page has no %s challenge", prefix)
		}
		return k.String(), doc.Get("captcha.answer").String(), nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse page: %w", err)
	}
	input := findInput(doc, prefix+"_0")
	if input == nil {
		return "", "", fmt.Errorf("page has no %s_0 input", prefix)
	}
	return attr(input, "value"), attr(input, "data-answer"), nil
}

func findInput(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findInput(c, name); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// TokenSource issues a fresh CAPTCHA token
type TokenSource func(ctx context.Context) (string, error)

// EndpointTokens fetches tokens from url through c. A JSON answer is read
// at "token"; anything else is taken verbatim.
func EndpointTokens(c target.Client, url string) TokenSource {
	return func(ctx context.Context) (string, error) {
		resp, err := c.Get(ctx, url, nil)
		if err != nil {
			return "", fmt.Errorf("failed to fetch captcha token: %w", err)
		}
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("captcha token endpoint returned status %d", resp.StatusCode)
		}
		body := bytes.TrimSpace(resp.Body)
		if gjson.ValidBytes(body) {
			if tok := gjson.GetBytes(body, "token"); tok.Exists() {
				return tok.String(), nil
			}
		}
		return string(body), nil
	}
}

// Token solves token-based CAPTCHAs. Tokens are reused until the cache TTL
// expires, so a suite asks the provider once per TTL and field prefix.
type Token struct {
	Source TokenSource
	Cache  *TokenCache
}

// NewToken wraps source with a cache holding tokens for ttl
func NewToken(source TokenSource, ttl time.Duration) *Token {
	return &Token{Source: source, Cache: NewTokenCache(100, ttl)}
}

// Solve implements target.CaptchaSolver
func (t *Token) Solve(ctx context.Context, _ *target.Response, prefix string) (map[string]string, error) {
	tok, ok := t.Cache.Get(prefix)
	if !ok {
		var err error
		tok, err = t.Source(ctx)
		if err != nil {
			return nil, err
		}
		if tok == "" {
			return nil, fmt.Errorf("captcha provider returned an empty token")
		}
		t.Cache.Set(prefix, tok, 0)
	}
	return map[string]string{prefix + "_0": "token", prefix + "_1": tok}, nil
}

// Forget drops the cached token for prefix, e.g. after the form rejected it
func (t *Token) Forget(prefix string) {
	t.Cache.Invalidate(prefix)
}

// CacheStats holds token cache statistics
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int64
}

// TokenCache is an in-memory TTL cache of CAPTCHA tokens
type TokenCache struct {
	mu      sync.RWMutex
	entries map[string]*tokenEntry
	maxSize int
	ttl     time.Duration
	stats   CacheStats
	now     func() time.Time
}

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// NewTokenCache creates a cache of at most maxSize tokens living ttl each
func NewTokenCache(maxSize int, ttl time.Duration) *TokenCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TokenCache{
		entries: make(map[string]*tokenEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the live token stored under key
func (c *TokenCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.stats.Size = int64(len(c.entries))
		ok = false
	}
	if !ok {
		c.stats.Misses++
		return "", false
	}
	c.stats.Hits++
	log.Debug().Str("key", key).Msg("captcha token cache hit")
	return entry.token, true
}

// Set stores token under key; a zero ttl uses the cache default
func (c *TokenCache) Set(key, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = &tokenEntry{token: token, expiresAt: c.now().Add(ttl)}
	c.stats.Size = int64(len(c.entries))
	log.Debug().Str("key", key).Dur("ttl", ttl).Msg("cached captcha token")
}

// Invalidate removes key
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.stats.Size = int64(len(c.entries))
}

// Stats returns cache statistics
func (c *TokenCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *TokenCache) prune() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOldest removes the entry closest to expiry
func (c *TokenCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Solver picks the solver for a CAPTCHA provider name. Token-based
// providers need source; "none" yields nil.
func Solver(provider string, source TokenSource, ttl time.Duration) (target.CaptchaSolver, error) {
	switch strings.ToLower(provider) {
	case "", form.CaptchaNone:
		return nil, nil
	case form.CaptchaSimple:
		return Simple{}, nil
	case form.CaptchaSuper:
		if source == nil {
			return nil, fmt.Errorf("captcha provider %q needs a token source", provider)
		}
		return NewToken(source, ttl), nil
	}
	return nil, fmt.Errorf("unknown captcha provider %q", provider)
}
