package authcore

import (
	"context"

	"go.uber.org/zap"

	"github.com/mkhalev/authcore/audit"
	"github.com/mkhalev/authcore/internal/metrics"
	"github.com/mkhalev/authcore/permission"
	"github.com/mkhalev/authcore/ratelimit"
	"github.com/mkhalev/authcore/resetcode"
	"github.com/mkhalev/authcore/session"
	"github.com/mkhalev/authcore/token"
)

// Engine wires the core's components together. Construct once with
// [New], share freely, and Close during shutdown to drain the audit
// dispatcher.
type Engine struct {
	config      Config
	metrics     *metrics.Metrics
	auditLogger *audit.Logger
	tokens      *token.Manager
	sessions    *session.Manager
	limiter     *ratelimit.Limiter
	permissions *permission.Registry
	resetCodes  resetcode.Store
	users       UserRepository
}

// New validates cfg and builds an Engine. Signing misconfiguration is
// the one thing that fails construction; everything else has a safe
// default.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	m := metrics.New(cfg.Metrics.Enabled)
	auditLogger := audit.NewLogger(cfg.Audit.Sink, audit.DispatcherConfig{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	})

	var (
		blacklist  token.BlacklistStore
		refresh    token.RefreshStore
		sessions   session.Store
		buckets    ratelimit.Store
		resetCodes resetcode.Store
	)
	if cfg.Redis.Client != nil {
		blacklist = token.NewRedisBlacklist(cfg.Redis.Client, cfg.Redis.BlacklistPrefix)
		refresh = token.NewRedisRefreshStore(cfg.Redis.Client, cfg.Redis.RefreshPrefix)
		sessions = session.NewRedisStore(cfg.Redis.Client, cfg.Session.RedisPrefix, cfg.Session.RetentionTTL)
		buckets = ratelimit.NewRedisStore(cfg.Redis.Client, cfg.RateLimit.RedisPrefix)
		resetCodes = resetcode.NewRedisStore(cfg.Redis.Client, cfg.ResetCode.RedisPrefix)
	} else {
		blacklist = token.NewMemoryBlacklist()
		refresh = token.NewMemoryRefreshStore()
		sessions = session.NewMemoryStore()
		buckets = ratelimit.NewMemoryStore()
		resetCodes = resetcode.NewMemoryStore()
	}

	tokens, err := token.NewManager(token.Config{
		SigningMethod: cfg.Token.SigningMethod,
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		VerifyTimeout: cfg.Token.VerifyTimeout,
	}, blacklist, refresh, m)
	if err != nil {
		auditLogger.Close()
		return nil, err
	}

	registry := permission.Default()
	if cfg.Roles != nil {
		registry = permission.NewRegistry(cfg.Roles)
	}

	return &Engine{
		config:      cfg,
		metrics:     m,
		auditLogger: auditLogger,
		tokens:      tokens,
		sessions:    session.NewManager(sessions, tokens, auditLogger, m),
		limiter:     ratelimit.New(buckets, cfg.RateLimit.Policies, m),
		permissions: registry,
		resetCodes:  resetCodes,
		users:       cfg.Users,
	}, nil
}

// Tokens returns the token manager.
func (e *Engine) Tokens() *token.Manager { return e.tokens }

// Sessions returns the session manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// RateLimit returns the rate limiter.
func (e *Engine) RateLimit() *ratelimit.Limiter { return e.limiter }

// Permissions returns the role registry.
func (e *Engine) Permissions() *permission.Registry { return e.permissions }

// Audit returns the audit logger for collaborator-originated entries.
func (e *Engine) Audit() *audit.Logger { return e.auditLogger }

// ResetCodes returns the verification-code store.
func (e *Engine) ResetCodes() resetcode.Store { return e.resetCodes }

// ForceLogoutByEmail resolves the subject through the host user
// repository and invalidates every one of their sessions. Intended for
// the administrative surface (password reset, detected compromise).
func (e *Engine) ForceLogoutByEmail(ctx context.Context, email, reason string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	if e.users == nil {
		return 0, ErrUserRepositoryRequired
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrUserNotFound
	}

	return e.sessions.InvalidateAllForSubject(ctx, user.ID, reason)
}

// MetricsSnapshot returns a point-in-time copy of the operation
// counters.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	if e == nil {
		return metrics.Snapshot{Counters: map[string]uint64{}}
	}
	snap := e.metrics.Snapshot()
	snap.Counters[metrics.AuditDropped.Name()] = e.auditLogger.Dropped()
	return snap
}

// AuditDropped reports audit entries shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.auditLogger.Dropped()
}

// Close drains the audit dispatcher. Call once during shutdown.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if dropped := e.auditLogger.Dropped(); dropped > 0 {
		e.config.Logger.Warn("audit entries dropped under backpressure",
			zap.Uint64("dropped", dropped))
	}
	e.auditLogger.Close()
}
