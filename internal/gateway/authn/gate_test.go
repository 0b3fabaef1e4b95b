package authn_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PandaCare-A14/gateway/internal/gateway/authn"
	"github.com/PandaCare-A14/gateway/internal/gateway/session"
	"github.com/PandaCare-A14/gateway/pkg/authsdk"
	"github.com/PandaCare-A14/gateway/pkg/httpx"
	"github.com/PandaCare-A14/gateway/pkg/idx"
	"github.com/PandaCare-A14/gateway/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testIssuer = "pandacare-auth"

// memStore is an in-memory session.Store that counts mutations, so tests
// can assert exactly when the gate touches the session.
type memStore struct {
	mu        sync.Mutex
	sessions  map[idx.ID]session.Session
	setTokens int
	deletes   int
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
	s.setTokens++
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
	s.deletes++
	return nil
}

func (s *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

// fakeRefresher returns a scripted result and counts calls.
type fakeRefresher struct {
	mu    sync.Mutex
	pair  authsdk.TokenPair
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(context.Context, string) (authsdk.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return authsdk.TokenPair{}, f.err
	}
	return f.pair, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newSigner(t *testing.T) *jwtx.RS256Signer {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privKey),
	})

	signer, err := jwtx.NewSignerRS256("gate-test-key", privPEM)
	require.NoError(t, err)
	return signer
}

type gateEnv struct {
	signer    *jwtx.RS256Signer
	store     *memStore
	manager   *session.Manager
	refresher *fakeRefresher
	gate      *authn.Gate

	handlerCalls int
	lastIdentity httpx.Identity
}

func newGateEnv(t *testing.T) *gateEnv {
	t.Helper()

	env := &gateEnv{
		signer:    newSigner(t),
		store:     newMemStore(),
		refresher: &fakeRefresher{},
	}
	env.manager = session.NewManager(env.store, time.Hour, true)

	keyset := jwtx.NewKeySet()
	require.NoError(t, keyset.AddSigner(env.signer))
	verifier := jwtx.NewVerifierRS256(keyset, testIssuer)

	env.gate = authn.New(env.manager, verifier, env.refresher, "/login", []string{"/login", "/register"})
	return env
}

func (env *gateEnv) handler() http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.handlerCalls++
		env.lastIdentity, _ = httpx.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return env.gate.Middleware(inner)
}

func (env *gateEnv) signToken(t *testing.T, userID, role string, ttl time.Duration) string {
	t.Helper()
	claims := jwtx.NewAccessClaims(userID, role, testIssuer, ttl, time.Now().UTC())
	token, err := env.signer.Sign(claims)
	require.NoError(t, err)
	return token
}

// seedSession inserts a session row and returns a request carrying its
// cookie.
func (env *gateEnv) seedSession(t *testing.T, access, refresh, path string) (*session.Session, *http.Request) {
	t.Helper()

	rec := httptest.NewRecorder()
	sess, err := env.manager.Create(context.Background(), rec, access, refresh, "user-1", jwtx.RolePacilian)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return sess, req
}

func TestGateValidTokenPasses(t *testing.T) {
	env := newGateEnv(t)
	access := env.signToken(t, "user-1", jwtx.RolePacilian, time.Minute)
	_, req := env.seedSession(t, access, "refresh-1", "/appointments")

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.handlerCalls)
	require.Equal(t, "user-1", env.lastIdentity.UserID)
	require.Equal(t, jwtx.RolePacilian, env.lastIdentity.Role)
	require.Zero(t, env.refresher.callCount())
}

func TestGateNoSessionRedirectsBrowser(t *testing.T) {
	env := newGateEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
	require.Zero(t, env.handlerCalls)
}

func TestGateNoSessionRejectsAPIWithJSON(t *testing.T) {
	env := newGateEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/appointments", nil)
	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	require.Contains(t, rec.Body.String(), string(authsdk.KindInvalidToken))
}

func TestGateAllowlistBypasses(t *testing.T) {
	env := newGateEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.handlerCalls)
}

func TestGateExpiredTokenRefreshesOnce(t *testing.T) {
	env := newGateEnv(t)

	expired := env.signToken(t, "user-1", jwtx.RolePacilian, -time.Minute)
	fresh := env.signToken(t, "user-1", jwtx.RolePacilian, time.Minute)
	env.refresher.pair = authsdk.TokenPair{Access: fresh, Refresh: "refresh-2"}

	sess, req := env.seedSession(t, expired, "refresh-1", "/appointments")

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, env.handlerCalls)
	require.Equal(t, 1, env.refresher.callCount())

	// Session must hold the new pair, replaced in one write.
	stored, err := env.store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, fresh, stored.AccessToken)
	require.Equal(t, "refresh-2", stored.RefreshToken)
	require.Equal(t, 1, env.store.setTokens)
}

func TestGateRefreshFailureClearsSessionAndRejects(t *testing.T) {
	env := newGateEnv(t)

	expired := env.signToken(t, "user-1", jwtx.RolePacilian, -time.Minute)
	env.refresher.err = authsdk.NewRefreshFailed("refresh token revoked")

	sess, req := env.seedSession(t, expired, "refresh-1", "/appointments")

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
	require.Zero(t, env.handlerCalls)
	require.Equal(t, 1, env.refresher.callCount())

	_, err := env.store.Get(context.Background(), sess.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestGateRefreshedTokenStillInvalidNoSecondRefresh(t *testing.T) {
	env := newGateEnv(t)

	expired := env.signToken(t, "user-1", jwtx.RolePacilian, -time.Minute)
	// The auth server hands back another already-expired token.
	stale := env.signToken(t, "user-1", jwtx.RolePacilian, -time.Second)
	env.refresher.pair = authsdk.TokenPair{Access: stale, Refresh: "refresh-2"}

	sess, req := env.seedSession(t, expired, "refresh-1", "/api/appointments")

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, env.handlerCalls)
	require.Equal(t, 1, env.refresher.callCount())

	_, err := env.store.Get(context.Background(), sess.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestGateInvalidSignatureClearsSession(t *testing.T) {
	env := newGateEnv(t)

	other := newSigner(t)
	claims := jwtx.NewAccessClaims("user-1", jwtx.RolePacilian, testIssuer, time.Minute, time.Now().UTC())
	forged, err := other.Sign(claims)
	require.NoError(t, err)

	sess, req := env.seedSession(t, forged, "refresh-1", "/appointments")

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Zero(t, env.refresher.callCount())

	_, getErr := env.store.Get(context.Background(), sess.ID)
	require.ErrorIs(t, getErr, session.ErrNotFound)
}

// failingResolver simulates an unreachable JWKS endpoint.
type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (*rsa.PublicKey, error) {
	return nil, jwtx.ErrKeyFetch
}

func TestGateKeyFetchFailureFailsClosed(t *testing.T) {
	env := newGateEnv(t)
	env.gate = authn.New(env.manager, jwtx.NewVerifierRS256(failingResolver{}, testIssuer), env.refresher, "/login", nil)

	access := env.signToken(t, "user-1", jwtx.RolePacilian, time.Minute)
	_, req := env.seedSession(t, access, "refresh-1", "/api/appointments")

	rec := httptest.NewRecorder()
	env.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), string(authsdk.KindKeyFetch))
	require.Zero(t, env.handlerCalls)
	require.Zero(t, env.refresher.callCount())
}

func TestGateConcurrentExpiredRequestsRefreshOnce(t *testing.T) {
	env := newGateEnv(t)

	expired := env.signToken(t, "user-1", jwtx.RolePacilian, -time.Minute)
	fresh := env.signToken(t, "user-1", jwtx.RolePacilian, time.Minute)
	env.refresher.pair = authsdk.TokenPair{Access: fresh, Refresh: "refresh-2"}

	_, req := env.seedSession(t, expired, "refresh-1", "/appointments")

	handler := env.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	codes := make([]int, 4)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req.Clone(req.Context()))
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		require.Equal(t, http.StatusOK, code)
	}
	require.Equal(t, 1, env.refresher.callCount())
}
