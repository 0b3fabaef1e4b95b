package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles the auth server issues. The gateway knows exactly two.
const (
	RolePacilian  = "pacilian"
	RoleCaregiver = "caregiver"
)

// Claims are the access-token claims the gateway cares about. The auth
// server puts the user ID in a custom "user_id" claim rather than "sub",
// and emits the role either as a single "role" string or a "roles" list.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the authenticated user's identifier.
	UserID string `json:"user_id,omitempty"`

	// Role is the single-valued role claim.
	Role string `json:"role,omitempty"`

	// Roles is the list-valued variant some token producers emit.
	// The first element wins during normalization.
	Roles []string `json:"roles,omitempty"`
}

// NewAccessClaims builds minimally-correct claims for minting tokens.
func NewAccessClaims(userID, role, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		Role:   role,
	}
}

// Identity returns the user ID, falling back to the registered subject
// when the custom claim is absent.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// RequireFields ensures the claims the gate depends on are present.
func (c *Claims) RequireFields() error {
	if c.Issuer == "" {
		return ErrMissingClaim
	}
	if c.Identity() == "" {
		return ErrMissingClaim
	}
	if c.ExpiresAt == nil {
		return ErrMissingClaim
	}
	return nil
}

// ValidateIssuer checks if the issuer matches the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used
// before it is valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}

// NormalizeRole collapses the role/roles variants into the single Role
// field and rejects anything outside the two known roles. An empty roles
// list is a producer bug, not an anonymous user.
func (c *Claims) NormalizeRole() error {
	role := c.Role
	if role == "" {
		if c.Roles != nil && len(c.Roles) == 0 {
			return ErrRole
		}
		if len(c.Roles) > 0 {
			role = c.Roles[0]
		}
	}

	switch role {
	case RolePacilian, RoleCaregiver:
		c.Role = role
		return nil
	default:
		return ErrRole
	}
}
