package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSessionStore_Defaults(t *testing.T) {
	store := NewSessionStore(0)

	if store.ttl != 24*time.Hour {
		t.Errorf("Default TTL = %v, want 24h", store.ttl)
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewSessionStore(time.Hour)

	created, err := store.Create("alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("Session ID should not be empty")
	}

	session, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if session.Username != "alice" {
		t.Errorf("Username = %s, want alice", session.Username)
	}
}

func TestSessionStore_Get_NotFound(t *testing.T) {
	store := NewSessionStore(time.Hour)

	_, err := store.Get("nonexistent")
	if err != ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStore_Get_Expired(t *testing.T) {
	store := NewSessionStore(time.Hour)
	session, _ := store.Create("alice")
	session.ExpiresAt = time.Now().Add(-time.Minute)

	if _, err := store.Get(session.ID); err != ErrSessionExpired {
		t.Errorf("Expected ErrSessionExpired, got %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d, expired session should be dropped", store.Count())
	}
}

func TestSessionStore_DeleteUser(t *testing.T) {
	store := NewSessionStore(time.Hour)
	keep, _ := store.Create("alice")
	store.Create("alice")
	store.Create("bob")

	store.DeleteUser("alice", keep.ID)

	if store.Count() != 2 {
		t.Errorf("Count() = %d, want 2", store.Count())
	}
	if _, err := store.Get(keep.ID); err != nil {
		t.Errorf("kept session lost: %v", err)
	}
}

func TestMiddleware_RequireLogin(t *testing.T) {
	sessions := NewSessionStore(time.Hour)
	middleware := NewMiddleware(sessions, "/login/")
	session, _ := sessions.Create("alice")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := SessionFromContext(r.Context())
		if !ok {
			t.Error("Session should be in context")
			return
		}
		if s.ID != session.ID {
			t.Error("Session ID mismatch")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session.ID})
	rec := httptest.NewRecorder()
	middleware.RequireLogin(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_RequireLogin_Anonymous(t *testing.T) {
	middleware := NewMiddleware(NewSessionStore(time.Hour), "/login/")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called without a session")
	})

	req := httptest.NewRequest("GET", "/protected/?page=2", nil)
	rec := httptest.NewRecorder()
	middleware.RequireLogin(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Errorf("Expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login/?next=%2Fprotected%2F%3Fpage%3D2" {
		t.Errorf("Location = %s", loc)
	}
}

func TestMiddleware_OptionalLogin(t *testing.T) {
	sessions := NewSessionStore(time.Hour)
	middleware := NewMiddleware(sessions, "/login/")

	var hasSession bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasSession = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/optional/", nil)
	rec := httptest.NewRecorder()
	middleware.OptionalLogin(handler).ServeHTTP(rec, req)
	if hasSession {
		t.Error("Should not have session without cookie")
	}

	session, _ := sessions.Create("alice")
	req = httptest.NewRequest("GET", "/optional/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session.ID})
	rec = httptest.NewRecorder()
	middleware.OptionalLogin(handler).ServeHTTP(rec, req)
	if !hasSession {
		t.Error("Should have session with cookie")
	}
}

func TestMiddleware_LoginLogout(t *testing.T) {
	sessions := NewSessionStore(time.Hour)
	middleware := NewMiddleware(sessions, "/login/")

	rec := httptest.NewRecorder()
	session, err := middleware.Login(rec, "alice")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != session.ID {
		t.Fatalf("cookies = %v", cookies)
	}

	req := httptest.NewRequest("POST", "/logout/", nil)
	req.AddCookie(cookies[0])
	middleware.Logout(httptest.NewRecorder(), req)
	if sessions.Count() != 0 {
		t.Errorf("Count() = %d after logout, want 0", sessions.Count())
	}
}
