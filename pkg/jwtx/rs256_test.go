package jwtx_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/PandaCare-A14/gateway/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "pandacare-auth"

func newTestSigner(t *testing.T, kid string) *jwtx.RS256Signer {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privKey),
	})

	signer, err := jwtx.NewSignerRS256(kid, privPEM)
	require.NoError(t, err)
	return signer
}

func newVerifier(t *testing.T, signer *jwtx.RS256Signer, issuer string) *jwtx.RS256Verifier {
	t.Helper()

	keyset := jwtx.NewKeySet()
	require.NoError(t, keyset.AddSigner(signer))
	return jwtx.NewVerifierRS256(keyset, issuer)
}

func TestRS256SignAndVerify(t *testing.T) {
	signer := newTestSigner(t, "test-key")

	now := time.Now().UTC()
	claims := jwtx.NewAccessClaims("user-123", jwtx.RolePacilian, exampleIssuer, 2*time.Minute, now)

	token, err := signer.Sign(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	verifier := newVerifier(t, signer, exampleIssuer)

	parsed, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-123", parsed.Identity())
	require.Equal(t, jwtx.RolePacilian, parsed.Role)
	require.Equal(t, exampleIssuer, parsed.Issuer)
}

func TestRS256VerifyFailsForWrongIssuer(t *testing.T) {
	signer := newTestSigner(t, "k1")

	claims := jwtx.NewAccessClaims("user-123", jwtx.RolePacilian, "someone-else", time.Minute, time.Now().UTC())
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier := newVerifier(t, signer, exampleIssuer)

	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrIssuer)
}

func TestRS256VerifyFailsForUnknownKey(t *testing.T) {
	signer1 := newTestSigner(t, "key1")
	signer2 := newTestSigner(t, "key2")

	claims := jwtx.NewAccessClaims("user-123", jwtx.RolePacilian, exampleIssuer, time.Minute, time.Now().UTC())
	token, err := signer1.Sign(claims)
	require.NoError(t, err)

	// Keyset only contains key2
	verifier := newVerifier(t, signer2, exampleIssuer)

	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrNoKey)
}

func TestRS256VerifyFailsForTamperedSignature(t *testing.T) {
	signer := newTestSigner(t, "k1")
	other := newTestSigner(t, "k1") // same kid, different keypair

	claims := jwtx.NewAccessClaims("user-123", jwtx.RoleCaregiver, exampleIssuer, time.Minute, time.Now().UTC())
	token, err := other.Sign(claims)
	require.NoError(t, err)

	verifier := newVerifier(t, signer, exampleIssuer)

	_, err = verifier.Verify(context.Background(), token)
	require.Error(t, err)
	require.NotErrorIs(t, err, jwtx.ErrExpired)
}

func TestRS256VerifyExpiredIsDistinct(t *testing.T) {
	signer := newTestSigner(t, "k1")

	// Issued two minutes ago with a one minute TTL
	issued := time.Now().UTC().Add(-2 * time.Minute)
	claims := jwtx.NewAccessClaims("user-123", jwtx.RolePacilian, exampleIssuer, time.Minute, issued)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	verifier := newVerifier(t, signer, exampleIssuer)

	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestRS256VerifyRejectsMalformedToken(t *testing.T) {
	signer := newTestSigner(t, "k1")
	verifier := newVerifier(t, signer, exampleIssuer)

	for _, bad := range []string{"", "abc", "a.b", "a.b.c.d"} {
		_, err := verifier.Verify(context.Background(), bad)
		require.ErrorIs(t, err, jwtx.ErrMalformed, "token %q", bad)
	}
}

func TestRS256VerifyRequiresClaims(t *testing.T) {
	signer := newTestSigner(t, "k1")
	verifier := newVerifier(t, signer, exampleIssuer)

	// No issuer
	claims := jwtx.NewAccessClaims("user-123", jwtx.RolePacilian, "", time.Minute, time.Now().UTC())
	token, err := signer.Sign(claims)
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrMissingClaim)

	// No user id at all
	claims = jwtx.NewAccessClaims("", jwtx.RolePacilian, exampleIssuer, time.Minute, time.Now().UTC())
	token, err = signer.Sign(claims)
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrMissingClaim)

	// No expiry
	claims = jwtx.Claims{UserID: "user-123", Role: jwtx.RolePacilian}
	claims.Issuer = exampleIssuer
	token, err = signer.Sign(claims)
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrMissingClaim)
}
