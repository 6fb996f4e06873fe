package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSessionNotFound indicates the session does not exist
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session has expired
	ErrSessionExpired = errors.New("session expired")
)

// SessionCookie names the cookie carrying the session id
const SessionCookie = "sessionid"

// Session is a logged-in browser
type Session struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastAccess time.Time `json:"last_access"`
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionStore manages login sessions
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewSessionStore creates a store whose sessions live ttl
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{sessions: make(map[string]*Session), ttl: ttl}
}

// Create opens a session for username
func (s *SessionStore) Create(username string) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		ID:         id,
		Username:   username,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		LastAccess: now,
	}

	s.mu.Lock()
	for sid, existing := range s.sessions {
		if now.After(existing.ExpiresAt) {
			delete(s.sessions, sid)
		}
	}
	s.sessions[id] = session
	s.mu.Unlock()

	log.Debug().Str("session_id", id[:8]+"...").Str("user", username).Msg("session created")
	return session, nil
}

// Get retrieves a live session by ID
func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if session.IsExpired() {
		delete(s.sessions, id)
		return nil, ErrSessionExpired
	}
	session.LastAccess = time.Now()
	return session, nil
}

// Delete removes a session
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// DeleteUser ends every session of username except keep
func (s *SessionStore) DeleteUser(username, keep string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.Username == username && id != keep {
			delete(s.sessions, id)
		}
	}
}

// Count returns the number of sessions
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

type contextKey string

// SessionKey is the context key for the session
const SessionKey contextKey = "session"

// SessionFromContext retrieves the session from context
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(SessionKey).(*Session)
	return session, ok
}

// Middleware attaches sessions to requests
type Middleware struct {
	sessions *SessionStore
	loginURL string
}

// NewMiddleware creates a middleware redirecting anonymous users to loginURL
func NewMiddleware(sessions *SessionStore, loginURL string) *Middleware {
	return &Middleware{sessions: sessions, loginURL: loginURL}
}

// RequireLogin redirects anonymous requests to the login page with a next
// parameter pointing back
func (m *Middleware) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := m.extractSession(r)
		if err != nil {
			http.Redirect(w, r, m.loginURL+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), SessionKey, session)))
	})
}

// OptionalLogin adds the session if present but doesn't require it
func (m *Middleware) OptionalLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, err := m.extractSession(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), SessionKey, session))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) extractSession(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, ErrSessionNotFound
	}
	return m.sessions.Get(cookie.Value)
}

// Login opens a session for username and sets its cookie
func (m *Middleware) Login(w http.ResponseWriter, username string) (*Session, error) {
	session, err := m.sessions.Create(username)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return session, nil
}

// Logout ends the request's session and clears its cookie
func (m *Middleware) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		m.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
}
