package jwtx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed  = errors.New("jwtx: malformed token")
	ErrInvalidSig = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrMissingClaim = errors.New("jwtx: required claim missing")
	ErrRole         = errors.New("jwtx: invalid role claim")
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// RS256Verifier validates JWTs signed using RS256. Signature verification
// is the sole trust path: there is no unsigned-decode fallback, and a key
// resolution failure fails closed.
type RS256Verifier struct {
	keys   KeyResolver
	issuer string
}

// NewVerifierRS256 creates a verifier resolving keys through the given
// KeyResolver (a static KeySet or a JWKS-backed RemoteKeySet).
func NewVerifierRS256(keys KeyResolver, issuer string) *RS256Verifier {
	return &RS256Verifier{keys: keys, issuer: issuer}
}

// Verify validates the token string and returns its parsed Claims.
// ErrExpired is the only failure that means "the token was good, just
// old" - callers use that distinction to decide whether to refresh.
func (v *RS256Verifier) Verify(ctx context.Context, tokenStr string) (Claims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return Claims{}, ErrMalformed
	}

	// Claims are validated explicitly below so that expiry can be told
	// apart from the other failure modes.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("jwtx: missing kid")
		}

		pub, err := v.keys.Resolve(ctx, kid)
		if err != nil {
			return nil, err
		}
		return pub, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyFetch), errors.Is(err, ErrNoKey):
			return Claims{}, err
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, fmt.Errorf("%w: %v", ErrInvalidSig, err)
		default:
			return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrMalformed
	}

	if err := claims.RequireFields(); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(); err != nil {
		return Claims{}, err
	}
	if err := claims.NormalizeRole(); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}
