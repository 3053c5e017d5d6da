package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceInfo identifies the device a refresh token or session is bound
// to. Fingerprint is an opaque host-computed value.
type DeviceInfo struct {
	Fingerprint string
	UserAgent   string
}

// AccessClaims is the payload of a short-lived access token. Subject ID
// travels in the registered "sub" claim and the token id in "jti".
type AccessClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID returns the subject the token was issued to.
func (c *AccessClaims) SubjectID() string {
	return c.Subject
}

// TokenID returns the unique token identifier (jti).
func (c *AccessClaims) TokenID() string {
	return c.ID
}

// RefreshClaims is the payload of a long-lived refresh token. The jti
// is the key into the server-side refresh store; a refresh token is
// only as valid as its store entry.
type RefreshClaims struct {
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID returns the subject the token was issued to.
func (c *RefreshClaims) SubjectID() string {
	return c.Subject
}

// TokenID returns the unique token identifier (jti).
func (c *RefreshClaims) TokenID() string {
	return c.ID
}

// Issued describes a freshly minted token.
type Issued struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}
