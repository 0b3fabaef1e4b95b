package session

import (
	"context"
	"net/http"
	"time"

	"github.com/PandaCare-A14/gateway/pkg/idx"
)

const cookieName = "pc_session"

// Manager handles the cookie side of sessions: the cookie carries only an
// opaque ULID, everything else lives in the Store.
type Manager struct {
	store    Store
	ttl      time.Duration
	secure   bool
	sameSite http.SameSite
}

// NewManager constructs a session manager. devMode relaxes cookie
// attributes so local HTTP works.
func NewManager(store Store, ttl time.Duration, devMode bool) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sameSite := http.SameSiteStrictMode
	if devMode {
		sameSite = http.SameSiteLaxMode
	}
	return &Manager{
		store:    store,
		ttl:      ttl,
		secure:   !devMode,
		sameSite: sameSite,
	}
}

// Fetch returns the session for the request cookie, or nil if the cookie
// is absent, malformed, unknown, or expired. Activity slides the expiry.
func (m *Manager) Fetch(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, nil
	}

	id, err := idx.Parse(cookie.Value)
	if err != nil {
		return nil, nil
	}

	sess, err := m.store.Get(ctx, id)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if now.After(sess.ExpiresAt) {
		_ = m.store.Delete(ctx, id)
		return nil, nil
	}

	sess.ExpiresAt = now.Add(m.ttl)
	if err := m.store.Touch(ctx, id, sess.ExpiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Peek reads a session row by ID without touching its expiry.
func (m *Manager) Peek(ctx context.Context, id idx.ID) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Create establishes a new session row and sets the cookie. Tokens and
// identity are written together, so the session invariant holds from the
// first moment the row exists.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, access, refresh, userID, role string) (*Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:           idx.New(),
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       userID,
		Role:         role,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
	}

	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
		MaxAge:   int(m.ttl.Seconds()),
	})

	return &sess, nil
}

// UpdateTokens atomically replaces the token pair (and identity, which a
// refresh may rotate) for an existing session.
func (m *Manager) UpdateTokens(ctx context.Context, id idx.ID, access, refresh, userID, role string) error {
	return m.store.SetTokens(ctx, id, access, refresh, userID, role)
}

// Destroy removes the session row and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, id idx.ID) error {
	err := m.store.Delete(ctx, id)
	m.clearCookie(w)
	return err
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
		MaxAge:   -1,
	})
}
