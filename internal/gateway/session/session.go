package session

import (
	"context"
	"errors"
	"time"

	"github.com/PandaCare-A14/gateway/pkg/idx"
)

// ErrNotFound reports that no session exists for the given ID.
var ErrNotFound = errors.New("session: not found")

// DefaultTTL is how long an idle session survives. Activity slides the
// expiry forward.
const DefaultTTL = 24 * time.Hour

// Session is one browser's server-side state. The invariant is
// all-or-nothing: if AccessToken is set, UserID and Role are set too,
// because logins and refreshes write the whole row in one statement.
type Session struct {
	ID           idx.ID
	AccessToken  string
	RefreshToken string
	UserID       string
	Role         string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// HasTokens reports whether the session carries a credential pair.
func (s *Session) HasTokens() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// Store persists sessions. The gate reads at entry and writes only
// through SetTokens (refresh) and Delete (logout / terminal auth
// failures); identity travels with the pair in SetTokens.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id idx.ID) (Session, error)

	// Put inserts or fully replaces a session row.
	Put(ctx context.Context, s Session) error

	// SetTokens overwrites the access/refresh pair and identity in one
	// statement. Used by login and by refresh.
	SetTokens(ctx context.Context, id idx.ID, access, refresh, userID, role string) error

	// Touch slides the expiry forward.
	Touch(ctx context.Context, id idx.ID, expiresAt time.Time) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id idx.ID) error

	// DeleteExpired removes sessions past their expiry.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
