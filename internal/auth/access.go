package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// ErrUnauthenticated reports that mandatory enforcement could not establish an identity.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// IdentityRef is the request-scoped reference to a resolved identity.
type IdentityRef struct {
	UserID string
	Email  string
}

// TokenValidator decodes and verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (TokenClaims, error)
}

// AccessEnforcer applies the mandatory and optional admission policies.
type AccessEnforcer struct {
	validator TokenValidator
}

// NewAccessEnforcer wraps the validator shared with the token issuer.
func NewAccessEnforcer(validator TokenValidator) (*AccessEnforcer, error) {
	if validator == nil {
		return nil, errors.New("auth: token validator required")
	}
	return &AccessEnforcer{validator: validator}, nil
}

// Mandatory returns the identity carried by token or an error wrapping ErrUnauthenticated.
// The underlying validation error is preserved for logging.
func (e *AccessEnforcer) Mandatory(token string) (IdentityRef, error) {
	claims, err := e.validator.ValidateToken(token)
	if err != nil {
		return IdentityRef{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return IdentityRef{UserID: claims.Subject, Email: claims.Email}, nil
}

// Optional returns the identity carried by token, or false when none could be established.
func (e *AccessEnforcer) Optional(token string) (IdentityRef, bool) {
	ref, err := e.Mandatory(token)
	if err != nil {
		return IdentityRef{}, false
	}
	return ref, true
}

// BearerToken extracts the token from an Authorization header. Missing or
// non-bearer headers yield an empty string.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
