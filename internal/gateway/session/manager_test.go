package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/pkg/idx"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[idx.ID]session.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[idx.ID]session.Session)}
}

func (s *memStore) Get(_ context.Context, id idx.ID) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

func (s *memStore) Put(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memStore) SetTokens(_ context.Context, id idx.ID, access, refresh, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	sess.AccessToken = access
	sess.RefreshToken = refresh
	sess.UserID = userID
	sess.Role = role
	s.sessions[id] = sess
	return nil
}

func (s *memStore) Touch(_ context.Context, id idx.ID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	sess.ExpiresAt = expiresAt
	s.sessions[id] = sess
	return nil
}

func (s *memStore) Delete(_ context.Context, id idx.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) { return 0, nil }
func (s *memStore) Ping(context.Context) error                                    { return nil }
func (s *memStore) Close() error                                                  { return nil }

func requestWithCookies(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestCreateThenFetchRoundtrip(t *testing.T) {
	store := newMemStore()
	mgr := session.NewManager(store, time.Hour, true)

	rec := httptest.NewRecorder()
	created, err := mgr.Create(context.Background(), rec, "access-1", "refresh-1", "user-1", "pacilian")
	require.NoError(t, err)
	require.True(t, created.HasTokens())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.True(t, cookies[0].HttpOnly)

	fetched, err := mgr.Fetch(context.Background(), requestWithCookies(rec))
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, created.ID, fetched.ID)
	require.Equal(t, "access-1", fetched.AccessToken)
	require.Equal(t, "user-1", fetched.UserID)
}

func TestFetchWithoutCookieIsNil(t *testing.T) {
	mgr := session.NewManager(newMemStore(), time.Hour, true)

	sess, err := mgr.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestFetchMalformedCookieIsNil(t *testing.T) {
	mgr := session.NewManager(newMemStore(), time.Hour, true)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "pc_session", Value: "not-a-ulid"})

	sess, err := mgr.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestFetchExpiredSessionIsDeleted(t *testing.T) {
	store := newMemStore()
	mgr := session.NewManager(store, time.Hour, true)

	rec := httptest.NewRecorder()
	created, err := mgr.Create(context.Background(), rec, "a", "r", "u", "pacilian")
	require.NoError(t, err)

	// Force the row into the past.
	stale := *created
	stale.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.Put(context.Background(), stale))

	sess, err := mgr.Fetch(context.Background(), requestWithCookies(rec))
	require.NoError(t, err)
	require.Nil(t, sess)

	_, err = store.Get(context.Background(), created.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestFetchSlidesExpiry(t *testing.T) {
	store := newMemStore()
	mgr := session.NewManager(store, time.Hour, true)

	rec := httptest.NewRecorder()
	created, err := mgr.Create(context.Background(), rec, "a", "r", "u", "pacilian")
	require.NoError(t, err)

	// Age the row so the slide is observable.
	aged := *created
	aged.ExpiresAt = time.Now().UTC().Add(time.Minute)
	require.NoError(t, store.Put(context.Background(), aged))

	_, err = mgr.Fetch(context.Background(), requestWithCookies(rec))
	require.NoError(t, err)

	after, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Greater(t, after.ExpiresAt, aged.ExpiresAt)
}

func TestDestroyClearsRowAndCookie(t *testing.T) {
	store := newMemStore()
	mgr := session.NewManager(store, time.Hour, true)

	rec := httptest.NewRecorder()
	created, err := mgr.Create(context.Background(), rec, "a", "r", "u", "pacilian")
	require.NoError(t, err)

	destroyRec := httptest.NewRecorder()
	require.NoError(t, mgr.Destroy(context.Background(), destroyRec, created.ID))

	cookies := destroyRec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Negative(t, cookies[0].MaxAge)

	_, err = store.Get(context.Background(), created.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestUpdateTokensReplacesPair(t *testing.T) {
	store := newMemStore()
	mgr := session.NewManager(store, time.Hour, true)

	rec := httptest.NewRecorder()
	created, err := mgr.Create(context.Background(), rec, "a1", "r1", "u", "pacilian")
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateTokens(context.Background(), created.ID, "a2", "r2", "u", "pacilian"))

	after, err := mgr.Peek(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "a2", after.AccessToken)
	require.Equal(t, "r2", after.RefreshToken)
}
