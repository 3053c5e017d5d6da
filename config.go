package authcore

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mkhalev/authcore/audit"
	"github.com/mkhalev/authcore/permission"
	"github.com/mkhalev/authcore/ratelimit"
	"github.com/mkhalev/authcore/token"
)

// Config assembles an [Engine]. Populate it from any source the host
// prefers; the core does not read files or environment variables.
// Treated as immutable after New.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	ResetCode ResetCodeConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Redis     RedisConfig

	// Roles overrides the built-in role table when non-nil.
	Roles map[string][]permission.Permission
	// Users is the optional host user repository, required only by
	// repository-backed operations such as ForceLogoutByEmail.
	Users UserRepository
	// Logger receives best-effort failure reports. Nil means no
	// logging; verification hot paths never log.
	Logger *zap.Logger
}

// TokenConfig carries signing material and token lifetimes.
type TokenConfig struct {
	SigningMethod token.SigningMethod // ed25519 (default) or hs256
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	AccessTTL     time.Duration // default 15m
	RefreshTTL    time.Duration // default 7d
	VerifyTimeout time.Duration // default 2s
}

// SessionConfig tunes the session table.
type SessionConfig struct {
	RedisPrefix string
	// RetentionTTL bounds how long the Redis backend retains session
	// records. Zero keeps them until pruned externally.
	RetentionTTL time.Duration
}

// RateLimitConfig tunes the throttle.
type RateLimitConfig struct {
	// Policies overrides [ratelimit.DefaultPolicies] when non-nil.
	Policies    map[string]ratelimit.Policy
	RedisPrefix string
}

// ResetCodeConfig tunes the verification-code store.
type ResetCodeConfig struct {
	RedisPrefix string
}

// AuditConfig wires the audit pipeline.
type AuditConfig struct {
	// Sink receives every audit entry. Nil discards them.
	Sink audit.Sink
	// BufferSize is the dispatcher queue depth (default 256).
	BufferSize int
	// DropIfFull sheds entries instead of applying backpressure when
	// the queue is full. Recommended for hot paths.
	DropIfFull bool
}

// MetricsConfig enables the in-process operation counters.
type MetricsConfig struct {
	Enabled bool
}

// RedisConfig selects the Redis store backends. A nil Client keeps
// every store in process memory.
type RedisConfig struct {
	Client          redis.UniversalClient
	BlacklistPrefix string
	RefreshPrefix   string
}

const defaultAuditBuffer = 256

func (c Config) withDefaults() Config {
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = defaultAuditBuffer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// DefaultConfig returns a development preset: HS256 with the given
// secret, in-memory stores, metrics on, audit discarded.
func DefaultConfig(secret []byte) Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: token.MethodHS256,
			PrivateKey:    secret,
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}
