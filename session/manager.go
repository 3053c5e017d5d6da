package session

import (
	"context"
	"fmt"
	"time"

	"github.com/mkhalev/authcore/audit"
	"github.com/mkhalev/authcore/internal"
	"github.com/mkhalev/authcore/internal/metrics"
	"github.com/mkhalev/authcore/token"
)

// Audit action names emitted by the manager.
const (
	ActionLogin        = "auth.login"
	ActionLogout       = "auth.logout"
	ActionLogoutAll    = "auth.logout_all"
	ActionBlacklist    = "token.blacklist"
	ActionRevoke       = "token.revoke"
	ActionRevokeAll    = "token.revoke_all"
	resourceSession    = "session"
	resourceToken      = "token"
	resourceSubjectAll = "subject_sessions"
)

// Manager owns the session lifecycle. It is the only writer of the
// session table; token minting and revocation are delegated to the
// token manager, and every lifecycle transition emits exactly one audit
// entry (revocation side effects emit their own).
type Manager struct {
	store   Store
	tokens  *token.Manager
	audit   *audit.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager wires the session manager. auditLogger may be nil to
// disable auditing (tests only; production hosts should always supply
// a sink).
func NewManager(store Store, tokens *token.Manager, auditLogger *audit.Logger, m *metrics.Metrics) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{
		store:   store,
		tokens:  tokens,
		audit:   auditLogger,
		metrics: m,
		now:     time.Now,
	}
}

// CreateInput describes a successful external authentication. The
// credential check itself happened elsewhere; this core never compares
// credentials.
type CreateInput struct {
	SubjectID string
	Email     string
	Role      string
	IP        string
	Device    token.DeviceInfo
}

// Started is the result of Create: the new session id and its bound
// token pair.
type Started struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
}

// Create mints an access/refresh token pair bound to a new session,
// stores the session as active, and audits the login.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Started, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("session id generation: %w", err)
	}
	sessionID := sid.String()

	access, err := m.tokens.IssueAccess(in.SubjectID, in.Email, in.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := m.tokens.IssueRefresh(ctx, in.SubjectID, in.Device)
	if err != nil {
		return nil, err
	}

	now := m.now()
	sess := &Session{
		ID:             sessionID,
		SubjectID:      in.SubjectID,
		Email:          in.Email,
		Role:           in.Role,
		Device:         in.Device,
		IP:             in.IP,
		CreatedAt:      now,
		LastActiveAt:   now,
		Active:         true,
		AccessTokenID:  access.TokenID,
		RefreshTokenID: refresh.TokenID,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		// The orphaned refresh record dies with its expiry; revoke it
		// eagerly anyway since revocation is idempotent and cheap.
		_ = m.tokens.RevokeRefresh(ctx, refresh.TokenID)
		return nil, err
	}

	m.metrics.Inc(metrics.SessionCreated)
	m.audit.Record(ctx, audit.Record{
		Actor:        in.SubjectID,
		Action:       ActionLogin,
		ResourceType: resourceSession,
		ResourceID:   sessionID,
		Meta:         audit.RequestMeta{IP: in.IP, UserAgent: in.Device.UserAgent},
	})

	return &Started{
		SessionID:    sessionID,
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
	}, nil
}

// Validate returns the session if it exists and is active, and
// ErrNotFound otherwise. It is a fast existence-and-activity check;
// token signatures are the token manager's business.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*Session, error) {
	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok || !sess.Active {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Touch advances last-active-at and reports whether the session was
// active. Hosts sweeping for idle timeout read the timestamp; the
// sweep policy itself lives outside this core.
func (m *Manager) Touch(ctx context.Context, sessionID string) (bool, error) {
	return m.store.Touch(ctx, sessionID, m.now())
}

// Invalidate terminally deactivates the session, blacklists its access
// token, revokes its refresh token, and audits the logout. Returns
// false only when the session id was never known; re-invalidating is a
// safe no-op, which is what makes a crash between "marked inactive"
// and "tokens revoked" recoverable by retry.
func (m *Manager) Invalidate(ctx context.Context, sessionID, subjectID, reason, ip string) (bool, error) {
	sess, ok, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	_, transitioned, err := m.store.MarkInactive(ctx, sessionID)
	if err != nil {
		return false, err
	}

	meta := audit.RequestMeta{IP: ip, UserAgent: sess.Device.UserAgent}

	if sess.AccessTokenID != "" {
		if err := m.tokens.Blacklist(ctx, sess.AccessTokenID, subjectID, reason); err != nil {
			return true, err
		}
		if transitioned {
			m.audit.Record(ctx, audit.Record{
				Actor:        subjectID,
				Action:       ActionBlacklist,
				ResourceType: resourceToken,
				ResourceID:   sess.AccessTokenID,
				Next:         map[string]string{"reason": reason},
				Meta:         meta,
			})
		}
	}
	if sess.RefreshTokenID != "" {
		if err := m.tokens.RevokeRefresh(ctx, sess.RefreshTokenID); err != nil {
			return true, err
		}
		if transitioned {
			m.audit.Record(ctx, audit.Record{
				Actor:        subjectID,
				Action:       ActionRevoke,
				ResourceType: resourceToken,
				ResourceID:   sess.RefreshTokenID,
				Next:         map[string]string{"reason": reason},
				Meta:         meta,
			})
		}
	}

	if transitioned {
		m.metrics.Inc(metrics.SessionInvalidated)
		m.audit.Record(ctx, audit.Record{
			Actor:        subjectID,
			Action:       ActionLogout,
			ResourceType: resourceSession,
			ResourceID:   sessionID,
			Previous:     map[string]string{"active": "true"},
			Next:         map[string]string{"active": "false", "reason": reason},
			Meta:         meta,
		})
	}

	return true, nil
}

// InvalidateAllForSubject ends every session owned by the subject,
// revokes all of the subject's refresh tokens, and returns how many
// sessions transitioned. Used for "log out everywhere" and forced
// security invalidation.
func (m *Manager) InvalidateAllForSubject(ctx context.Context, subjectID, reason string) (int, error) {
	ids, err := m.store.IDsForSubject(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	invalidated := 0
	for _, id := range ids {
		sess, ok, getErr := m.store.Get(ctx, id)
		if getErr != nil {
			return invalidated, getErr
		}
		if !ok || !sess.Active {
			continue
		}
		if _, err := m.Invalidate(ctx, id, subjectID, reason, ""); err != nil {
			return invalidated, err
		}
		invalidated++
	}

	revoked, err := m.tokens.RevokeAllForSubject(ctx, subjectID)
	if err != nil {
		return invalidated, err
	}

	m.audit.Record(ctx, audit.Record{
		Actor:        subjectID,
		Action:       ActionLogoutAll,
		ResourceType: resourceSubjectAll,
		ResourceID:   subjectID,
		Next: map[string]string{
			"reason":              reason,
			"sessions":            fmt.Sprintf("%d", invalidated),
			"refresh_revocations": fmt.Sprintf("%d", revoked),
		},
	})

	return invalidated, nil
}

// Stats returns aggregate session counts. Read-only.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}
