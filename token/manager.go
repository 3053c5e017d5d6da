// Package token mints and verifies the signed credentials of the core:
// short-lived stateless access tokens and long-lived store-checked
// refresh tokens.
//
// Access tokens are cheap to verify: signature and expiry plus one
// blacklist lookup, which exists to make forced logout immediate — a
// stolen access token must not stay valid until natural expiry. Refresh
// tokens are always store-checked because their revocation (password
// change, detected compromise) must take effect immediately.
package token

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mkhalev/authcore/internal/metrics"
)

// ErrInvalid is returned by every verification failure: bad signature,
// expiry, revocation, malformed input, or an unreachable revocation
// store. Verification fails closed and never distinguishes causes to
// the caller.
var ErrInvalid = errors.New("invalid token")

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultVerifyTimeout = 2 * time.Second
)

// Config holds signing material and token lifetimes. Treated as
// immutable after NewManager.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// VerifyTimeout bounds revocation-store lookups during token
	// verification. A lookup that exceeds it fails closed.
	VerifyTimeout time.Duration
}

// Manager issues and verifies access and refresh tokens. Safe for
// concurrent use after construction.
type Manager struct {
	config    Config
	blacklist BlacklistStore
	refresh   RefreshStore
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewManager validates the signing configuration and returns a Manager.
// Misconfigured signing material is the one failure class that is
// surfaced loudly here instead of being defaulted around: there is no
// safe fallback for a broken key.
func NewManager(cfg Config, blacklist BlacklistStore, refresh RefreshStore, m *metrics.Metrics) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = defaultVerifyTimeout
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	if blacklist == nil {
		blacklist = NewMemoryBlacklist()
	}
	if refresh == nil {
		refresh = NewMemoryRefreshStore()
	}

	return &Manager{
		config:    cfg,
		blacklist: blacklist,
		refresh:   refresh,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// IssueAccess signs an access token for the subject. Stateless: no
// store write happens here.
func (m *Manager) IssueAccess(subjectID, email, role string) (Issued, error) {
	now := m.now()
	expiresAt := now.Add(m.config.AccessTTL)
	claims := AccessClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	signed, err := m.sign(claims)
	if err != nil {
		return Issued{}, err
	}

	m.metrics.Inc(metrics.AccessIssued)
	return Issued{Token: signed, TokenID: claims.ID, ExpiresAt: expiresAt}, nil
}

// VerifyAccess checks signature, expiry, and the blacklist. Every
// failure, including a revocation-store outage or timeout, yields
// ErrInvalid.
func (m *Manager) VerifyAccess(ctx context.Context, tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		m.metrics.Inc(metrics.AccessRejected)
		return nil, ErrInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.VerifyTimeout)
	defer cancel()

	listed, err := m.blacklist.Contains(ctx, claims.ID)
	if err != nil || listed {
		m.metrics.Inc(metrics.AccessRejected)
		return nil, ErrInvalid
	}

	m.metrics.Inc(metrics.AccessVerified)
	return claims, nil
}

// IssueRefresh stores a fresh token record and signs the matching
// refresh token. The store write happens before signing so a half
// failure can never yield a verifiable token without a record.
func (m *Manager) IssueRefresh(ctx context.Context, subjectID string, device DeviceInfo) (Issued, error) {
	now := m.now()
	expiresAt := now.Add(m.config.RefreshTTL)
	claims := RefreshClaims{
		Fingerprint: device.Fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	err := m.refresh.Put(ctx, claims.ID, RefreshRecord{
		SubjectID:   subjectID,
		Fingerprint: device.Fingerprint,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return Issued{}, err
	}

	signed, err := m.sign(claims)
	if err != nil {
		return Issued{}, err
	}

	m.metrics.Inc(metrics.RefreshIssued)
	return Issued{Token: signed, TokenID: claims.ID, ExpiresAt: expiresAt}, nil
}

// VerifyRefresh checks signature and expiry, then requires a live,
// unrevoked store record for the token id. Fails closed.
func (m *Manager) VerifyRefresh(ctx context.Context, tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		m.metrics.Inc(metrics.RefreshRejected)
		return nil, ErrInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.VerifyTimeout)
	defer cancel()

	rec, ok, err := m.refresh.Get(ctx, claims.ID)
	if err != nil || !ok || rec.Revoked {
		m.metrics.Inc(metrics.RefreshRejected)
		return nil, ErrInvalid
	}

	m.metrics.Inc(metrics.RefreshVerified)
	return claims, nil
}

// Blacklist force-revokes an access token, given either the raw signed
// token or its bare token id. The entry carries the token's original
// expiry so the list can be pruned once the token would have died
// anyway; when the expiry cannot be recovered the maximum token
// lifetime is assumed. Idempotent.
func (m *Manager) Blacklist(ctx context.Context, tokenOrID, subjectID, reason string) error {
	key := tokenOrID
	expiresAt := m.now().Add(m.config.RefreshTTL)

	claims := &AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenOrID, claims); err == nil {
		if claims.ID != "" {
			key = claims.ID
		}
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
	}

	err := m.blacklist.Add(ctx, key, BlacklistEntry{
		SubjectID: subjectID,
		Reason:    reason,
		RevokedAt: m.now(),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return err
	}

	m.metrics.Inc(metrics.AccessBlacklisted)
	return nil
}

// RevokeRefresh marks one refresh token id revoked. Idempotent; a
// second call is a no-op, not an error.
func (m *Manager) RevokeRefresh(ctx context.Context, tokenID string) error {
	if err := m.refresh.Revoke(ctx, tokenID); err != nil {
		return err
	}
	m.metrics.Inc(metrics.RefreshRevoked)
	return nil
}

// RevokeAllForSubject revokes every stored refresh token owned by the
// subject and returns how many were newly revoked.
func (m *Manager) RevokeAllForSubject(ctx context.Context, subjectID string) (int, error) {
	revoked, err := m.refresh.RevokeAllForSubject(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	m.metrics.Add(metrics.RefreshRevoked, uint64(revoked))
	return revoked, nil
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(m.method(), claims)
	key, err := m.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(key)
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey()
	})
	if err != nil {
		return err
	}
	if !tok.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}

func (m *Manager) method() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) signKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) verifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
