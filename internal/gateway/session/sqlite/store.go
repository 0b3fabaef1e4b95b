// Package sqlite persists sessions in a local SQLite database. Tokens are
// sealed before they touch disk, so a leaked database file does not leak
// usable credentials.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/pkg/cryptox"
	"github.com/PandaCare-A14/gateway/pkg/idx"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the session database at the given DSN.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Serialize writers; SQLite tolerates exactly one.
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, id idx.ID) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, access_token, refresh_token, user_id, user_role, created_at, expires_at
		FROM sessions WHERE id = ?`, id.String())

	var (
		rawID          string
		sealedAccess   []byte
		sealedRefresh  []byte
		userID, role   string
		createdAt      time.Time
		expiresAt      time.Time
	)
	if err := row.Scan(&rawID, &sealedAccess, &sealedRefresh, &userID, &role, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, err
	}

	access, err := cryptox.Open(sealedAccess)
	if err != nil {
		return session.Session{}, err
	}
	refresh, err := cryptox.Open(sealedRefresh)
	if err != nil {
		return session.Session{}, err
	}

	return session.Session{
		ID:           idx.ID(rawID),
		AccessToken:  string(access),
		RefreshToken: string(refresh),
		UserID:       userID,
		Role:         role,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Store) Put(ctx context.Context, sess session.Session) error {
	sealedAccess, err := cryptox.Seal([]byte(sess.AccessToken))
	if err != nil {
		return err
	}
	sealedRefresh, err := cryptox.Seal([]byte(sess.RefreshToken))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, access_token, refresh_token, user_id, user_role, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			user_id = excluded.user_id,
			user_role = excluded.user_role,
			expires_at = excluded.expires_at`,
		sess.ID.String(), sealedAccess, sealedRefresh,
		sess.UserID, sess.Role, sess.CreatedAt.UTC(), sess.ExpiresAt.UTC())
	return err
}

// SetTokens replaces the credential pair and identity in a single UPDATE,
// which is what makes login/refresh writes atomic.
func (s *Store) SetTokens(ctx context.Context, id idx.ID, access, refresh, userID, role string) error {
	sealedAccess, err := cryptox.Seal([]byte(access))
	if err != nil {
		return err
	}
	sealedRefresh, err := cryptox.Seal([]byte(refresh))
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET access_token = ?, refresh_token = ?, user_id = ?, user_role = ?
		WHERE id = ?`,
		sealedAccess, sealedRefresh, userID, role, id.String())
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) Touch(ctx context.Context, id idx.ID, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ?`,
		expiresAt.UTC(), id.String())
	return err
}

func (s *Store) Delete(ctx context.Context, id idx.ID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	return err
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
