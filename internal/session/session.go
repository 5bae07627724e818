// Package session manages the signed-in identity of one client context (a
// browser tab or a CLI profile). The Manager talks to the user store for
// credentials and persists a minimal session object in a Storage so it can be
// restored later.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/garnizeh/initiatives/pkg/models"
	"github.com/garnizeh/initiatives/pkg/repository"
)

// DefaultKey is the storage key used when none is configured.
const DefaultKey = "session"

const defaultTimeout = 10 * time.Second

var (
	// ErrUnavailable means the user store could not be reached or answered
	// with something unusable. The session is left unchanged.
	ErrUnavailable = errors.New("user store unavailable")
	// ErrNotSignedIn is returned by operations that need a session.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrStaleSession means the session changed while a store call was in
	// flight; its result was discarded.
	ErrStaleSession = errors.New("session changed during request")
)

// State is the coarse session state visible to consumers.
type State int

const (
	SignedOut State = iota
	SignedIn
)

func (s State) String() string {
	if s == SignedIn {
		return "signed_in"
	}
	return "signed_out"
}

// Session is the persisted identity. It never holds the password.
type Session struct {
	Email  string `json:"email"`
	UserID int64  `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`
}

// Identity is what a successful sign-in yields.
type Identity struct {
	User  *models.User
	Token string
}

// UserStore is the remote user service consumed by the Manager.
type UserStore interface {
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	CreateUser(ctx context.Context, email, password string) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, token string, patch models.UserPatch) (*models.User, error)
}

// Manager owns the single session of one client context. It is safe for
// concurrent use; store calls run without holding the lock and their results
// are applied only if the session did not change meanwhile.
type Manager struct {
	store      UserStore
	storage    Storage
	key        string
	timeout    time.Duration
	revalidate bool
	logger     *slog.Logger

	mu      sync.Mutex
	current *Session
	gen     uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithKey sets the storage key, e.g. one per tab.
func WithKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.key = key
		}
	}
}

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithRevalidation makes Restore confirm the persisted user still exists.
func WithRevalidation() Option {
	return func(m *Manager) { m.revalidate = true }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a signed-out Manager. Call Restore to adopt a persisted session.
func NewManager(store UserStore, storage Storage, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		storage: storage,
		key:     DefaultKey,
		timeout: defaultTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State reports whether a session is held.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return SignedOut
	}
	return SignedIn
}

// Current returns a copy of the session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Login verifies the credentials with the store. A mismatch returns false
// with a nil error and leaves any existing session untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (bool, error) {
	gen := m.generation()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	id, err := m.store.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCredentials) || errors.Is(err, repository.ErrNotFound) {
			m.logger.Info("login rejected", slog.String("email", email))
			return false, nil
		}
		return false, m.unavailable("login", err)
	}
	if id == nil || id.User == nil {
		return false, m.unavailable("login", errors.New("empty sign-in response"))
	}

	if err := m.adopt(gen, &Session{Email: id.User.Email, UserID: id.User.ID, Token: id.Token}); err != nil {
		return false, err
	}
	m.logger.Info("signed in", slog.Int64("user_id", id.User.ID))
	return true, nil
}

// Signup creates the account and then signs in with the same credentials.
// An email that already exists returns false with a nil error.
func (m *Manager) Signup(ctx context.Context, email, password string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return false, nil
	}

	createCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.store.CreateUser(createCtx, email, password)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			m.logger.Info("signup rejected: email exists", slog.String("email", email))
			return false, nil
		}
		return false, m.unavailable("signup", err)
	}

	return m.Login(ctx, email, password)
}

// Logout clears the in-memory and persisted session. Calling it while
// signed out is a no-op apart from the storage delete.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.gen++
	m.current = nil
	m.mu.Unlock()

	if err := m.storage.Delete(m.key); err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	return nil
}

// Restore adopts the persisted session, if any. Without WithRevalidation the
// stored identity is trusted as-is. Unreadable data is discarded.
func (m *Manager) Restore(ctx context.Context) (Session, State) {
	gen := m.generation()

	raw, found, err := m.storage.Get(m.key)
	if err != nil {
		m.logger.Warn("read persisted session", slog.Any("err", err))
		return m.currentState()
	}
	if !found {
		return m.currentState()
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil || s.Email == "" {
		m.logger.Warn("discarding unreadable persisted session", slog.Any("err", err))
		_ = m.storage.Delete(m.key)
		return m.currentState()
	}

	if m.revalidate && s.UserID > 0 {
		vctx, cancel := context.WithTimeout(ctx, m.timeout)
		u, err := m.store.GetUser(vctx, s.UserID)
		cancel()
		switch {
		case errors.Is(err, repository.ErrNotFound) || (err == nil && (u == nil || u.Email != s.Email)):
			m.logger.Info("persisted session no longer valid", slog.Int64("user_id", s.UserID))
			_ = m.storage.Delete(m.key)
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen == gen && m.current != nil && m.current.UserID == s.UserID {
				m.gen++
				m.current = nil
			}
			return m.currentLocked()
		case err != nil:
			// unreachable store: fall back to trusting the stored copy
			m.logger.Warn("session revalidation skipped", slog.Any("err", err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return m.currentLocked()
	}
	m.gen++
	m.current = &s
	return s, SignedIn
}

// UpdateProfile applies patch through the store. On success the session's
// email is refreshed; on any failure the session is left as it was.
func (m *Manager) UpdateProfile(ctx context.Context, patch models.UserPatch) (bool, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return false, ErrNotSignedIn
	}
	cur := *m.current
	gen := m.gen
	m.mu.Unlock()

	if patch.Empty() {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	u, err := m.store.UpdateUser(ctx, cur.UserID, cur.Token, patch)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidCredentials) {
			m.logger.Info("profile update rejected", slog.Int64("user_id", cur.UserID), slog.Any("err", err))
			return false, nil
		}
		return false, m.unavailable("update profile", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.current == nil {
		return false, ErrStaleSession
	}
	next := *m.current
	if u != nil && u.Email != "" {
		next.Email = u.Email
	}
	if err := m.persist(&next); err != nil {
		return false, err
	}
	m.current = &next
	return true, nil
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// adopt installs s if no other session change happened since gen was read.
func (m *Manager) adopt(gen uint64, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrStaleSession
	}
	if err := m.persist(s); err != nil {
		return err
	}
	m.gen++
	m.current = s
	return nil
}

// currentState reports the in-memory session together with its state.
func (m *Manager) currentState() (Session, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

func (m *Manager) currentLocked() (Session, State) {
	if m.current == nil {
		return Session{}, SignedOut
	}
	return *m.current, SignedIn
}

// persist must be called with mu held.
func (m *Manager) persist(s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.storage.Set(m.key, b); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (m *Manager) unavailable(op string, err error) error {
	m.logger.Warn("user store call failed", slog.String("op", op), slog.Any("err", err))
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
