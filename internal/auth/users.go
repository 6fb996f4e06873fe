package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserNotFound indicates no account matches
	ErrUserNotFound = errors.New("user not found")
	// ErrInactive indicates the account is disabled
	ErrInactive = errors.New("user is inactive")
	// ErrWrongPassword indicates a password mismatch
	ErrWrongPassword = errors.New("wrong password")
	// ErrInvalidCode indicates an unknown or expired reset code
	ErrInvalidCode = errors.New("reset code is invalid or expired")
)

// User is an account of the target application
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Active       bool   `json:"is_active"`
}

// HashPassword hashes password with bcrypt at cost; zero uses the default
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// PasswordMatches reports whether password hashes to hash
func PasswordMatches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type resetCode struct {
	username string
	created  time.Time
}

// MemoryUsers is an in-process user directory with password reset codes
type MemoryUsers struct {
	mu     sync.RWMutex
	users  map[string]*User
	codes  map[string]*resetCode
	nextID int64
	cost   int
	now    func() time.Time
}

// NewMemoryUsers creates an empty directory hashing at cost
func NewMemoryUsers(cost int) *MemoryUsers {
	return &MemoryUsers{
		users: make(map[string]*User),
		codes: make(map[string]*resetCode),
		cost:  cost,
		now:   time.Now,
	}
}

// Add registers an active user
func (m *MemoryUsers) Add(username, email, password string) (User, error) {
	hash, err := HashPassword(password, m.cost)
	if err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[username]; exists {
		return User{}, fmt.Errorf("user %q already exists", username)
	}
	m.nextID++
	u := &User{ID: m.nextID, Username: username, Email: email, PasswordHash: hash, Active: true}
	m.users[username] = u
	return *u, nil
}

// Get returns the user named username
func (m *MemoryUsers) Get(username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return User{}, fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	return *u, nil
}

// ByEmail finds a user by case-insensitive email
func (m *MemoryUsers) ByEmail(email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.sortedNames() {
		if u := m.users[name]; strings.EqualFold(u.Email, email) {
			return *u, nil
		}
	}
	return User{}, fmt.Errorf("%q: %w", email, ErrUserNotFound)
}

// Authenticate checks the credentials of an active user
func (m *MemoryUsers) Authenticate(username, password string) (User, error) {
	u, err := m.Get(username)
	if err != nil {
		return User{}, err
	}
	if !PasswordMatches(u.PasswordHash, password) {
		return User{}, ErrWrongPassword
	}
	if !u.Active {
		return User{}, ErrInactive
	}
	return u, nil
}

// SetPassword implements target.Users
func (m *MemoryUsers) SetPassword(_ context.Context, username, password string) error {
	return m.setPassword(username, password)
}

func (m *MemoryUsers) setPassword(username, password string) error {
	hash, err := HashPassword(password, m.cost)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	u.PasswordHash = hash
	return nil
}

// IssueResetCode creates a one-time password reset code for username
func (m *MemoryUsers) IssueResetCode(username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return "", fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	code := uuid.NewString()
	m.codes[code] = &resetCode{username: username, created: m.now()}
	return code, nil
}

// CheckResetCode returns the owner of a code younger than maxAge
func (m *MemoryUsers) CheckResetCode(code string, maxAge time.Duration) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.codes[code]
	if !ok || m.now().Sub(rc.created) > maxAge {
		return User{}, ErrInvalidCode
	}
	u, ok := m.users[rc.username]
	if !ok {
		return User{}, ErrInvalidCode
	}
	return *u, nil
}

// RedeemResetCode sets a new password and burns every code of the owner
func (m *MemoryUsers) RedeemResetCode(code, password string, maxAge time.Duration) error {
	u, err := m.CheckResetCode(code, maxAge)
	if err != nil {
		return err
	}
	if err := m.setPassword(u.Username, password); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for c, rc := range m.codes {
		if rc.username == u.Username {
			delete(m.codes, c)
		}
	}
	return nil
}

// CheckPassword implements target.Users
func (m *MemoryUsers) CheckPassword(_ context.Context, username, password string) (bool, error) {
	u, err := m.Get(username)
	if err != nil {
		return false, err
	}
	return PasswordMatches(u.PasswordHash, password), nil
}

// SetActive implements target.Users
func (m *MemoryUsers) SetActive(_ context.Context, username string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	u.Active = active
	return nil
}

// ExpireResetCodes implements target.Users by backdating the codes of
// username by age
func (m *MemoryUsers) ExpireResetCodes(_ context.Context, username string, age time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return fmt.Errorf("%q: %w", username, ErrUserNotFound)
	}
	for _, rc := range m.codes {
		if rc.username == username {
			rc.created = rc.created.Add(-age)
		}
	}
	return nil
}

func (m *MemoryUsers) sortedNames() []string {
	names := make([]string, 0, len(m.users))
	for name := range m.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
