// Package auth implements account registration, password verification
// and cookie-backed login sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/osteoview/osteoview/internal/store"
)

// CookieName is the session cookie set on login.
const CookieName = "osteoview_session"

var (
	// ErrInvalidCredentials is returned for a bad username/password
	// pair. Login never reveals which half was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUsernameTaken is returned when registration hits an existing
	// username or email.
	ErrUsernameTaken = errors.New("auth: username or email already registered")
)

// ValidationError describes a rejected registration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("auth: invalid %s: %s", e.Field, e.Reason)
}

// Manager issues and resolves sessions against the store.
type Manager struct {
	store *store.Store
	ttl   time.Duration
}

// NewManager creates a session manager with the given session lifetime.
func NewManager(st *store.Store, ttl time.Duration) *Manager {
	return &Manager{store: st, ttl: ttl}
}

func validateRegistration(username, email, password string) error {
	if len(username) < 3 || len(username) > 80 {
		return &ValidationError{Field: "username", Reason: "must be 3-80 characters"}
	}
	if !strings.Contains(email, "@") || len(email) > 120 {
		return &ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	if len(password) < 8 {
		return &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	return nil
}

// Register creates an account with a bcrypt-hashed password.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*store.User, error) {
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := m.store.CreateUser(ctx, username, email, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the password and issues a new session token.
func (m *Manager) Login(ctx context.Context, username, password string) (*store.Session, *store.User, error) {
	user, err := m.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	sess, err := m.store.CreateSession(ctx, uuid.NewString(), user.ID, m.ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return sess, user, nil
}

// Logout invalidates a session token.
func (m *Manager) Logout(ctx context.Context, token string) error {
	return m.store.DeleteSession(ctx, token)
}

// SetCookie attaches the session cookie to a response.
func (m *Manager) SetCookie(w http.ResponseWriter, sess *store.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type contextKey struct{}

// UserFrom returns the authenticated user placed by RequireSession.
func UserFrom(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(contextKey{}).(*store.User)
	return u, ok
}

// RequireSession wraps a handler, resolving the session cookie to a
// user and rejecting unauthenticated requests with 401.
func (m *Manager) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err != nil {
			unauthorized(w)
			return
		}
		user, err := m.store.SessionUser(r.Context(), cookie.Value)
		if err != nil {
			unauthorized(w)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, user)))
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprint(w, `{"error":"authentication required"}`)
}
