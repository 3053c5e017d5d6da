package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkhalev/authcore/session"
	"github.com/mkhalev/authcore/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig(testSecret)
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

type fakeUserRepo struct {
	byEmail map[string]*UserRecord
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*UserRecord, error) {
	return r.byEmail[email], nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*UserRecord, error) {
	for _, u := range r.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) UpdateByID(context.Context, string, UserUpdate) error {
	return nil
}

func TestNewRejectsBrokenSigningConfig(t *testing.T) {
	cfg := DefaultConfig(nil)
	_, err := New(cfg)
	require.Error(t, err)
}

func TestEngineEndToEndLifecycle(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	started, err := e.Sessions().Create(ctx, session.CreateInput{
		SubjectID: "u1",
		Email:     "u1@example.com",
		Role:      "user",
		IP:        "10.0.0.1",
		Device:    DeviceInfo{Fingerprint: "fp-1", UserAgent: "cli/1.0"},
	})
	require.NoError(t, err)

	claims, err := e.Tokens().VerifyAccess(ctx, started.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.SubjectID())

	reg := e.Permissions()
	assert.True(t, reg.CanAccessUser(claims.Role, "u1", "u1"))
	assert.False(t, reg.CanAccessUser(claims.Role, "u1", "u2"))

	existed, err := e.Sessions().Invalidate(ctx, started.SessionID, "u1", "logout", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, existed)

	_, err = e.Tokens().VerifyAccess(ctx, started.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = e.Tokens().VerifyRefresh(ctx, started.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = e.Sessions().Validate(ctx, started.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngineWithRedisBackends(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	e := newTestEngine(t, func(cfg *Config) {
		cfg.Redis.Client = client
	})
	ctx := context.Background()

	started, err := e.Sessions().Create(ctx, session.CreateInput{
		SubjectID: "u1",
		Role:      "user",
	})
	require.NoError(t, err)

	sess, err := e.Sessions().Validate(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.SubjectID)

	existed, err := e.Sessions().Invalidate(ctx, started.SessionID, "u1", "logout", "")
	require.NoError(t, err)
	require.True(t, existed)
	_, err = e.Tokens().VerifyRefresh(ctx, started.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestForceLogoutByEmail(t *testing.T) {
	repo := &fakeUserRepo{byEmail: map[string]*UserRecord{
		"u1@example.com": {ID: "u1", Email: "u1@example.com", Role: "user"},
	}}
	e := newTestEngine(t, func(cfg *Config) {
		cfg.Users = repo
	})
	ctx := context.Background()

	var started []*session.Started
	for i := 0; i < 2; i++ {
		s, err := e.Sessions().Create(ctx, session.CreateInput{
			SubjectID: "u1",
			Email:     "u1@example.com",
			Role:      "user",
		})
		require.NoError(t, err)
		started = append(started, s)
	}

	count, err := e.ForceLogoutByEmail(ctx, "u1@example.com", "compromised")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, s := range started {
		_, err := e.Sessions().Validate(ctx, s.SessionID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}

	_, err = e.ForceLogoutByEmail(ctx, "nobody@example.com", "compromised")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestForceLogoutRequiresRepository(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.ForceLogoutByEmail(context.Background(), "u1@example.com", "x")
	assert.ErrorIs(t, err, ErrUserRepositoryRequired)
}

func TestRateLimitThroughEngine(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := e.RateLimit().CheckAction(ctx, "u1@example.com", "forgot_password")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i)
	}
	d, err := e.RateLimit().CheckAction(ctx, "u1@example.com", "forgot_password")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestResetCodesThroughEngine(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.ResetCodes().Issue(ctx, "u1", "482913", 15*time.Minute, 5))
	ok, err := e.ResetCodes().Validate(ctx, "u1", "482913")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.ResetCodes().Validate(ctx, "u1", "482913")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetricsSnapshot(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	started, err := e.Sessions().Create(ctx, session.CreateInput{
		SubjectID: "u1",
		Role:      "user",
	})
	require.NoError(t, err)
	_, err = e.Tokens().VerifyAccess(ctx, started.AccessToken)
	require.NoError(t, err)
	_, err = e.Tokens().VerifyAccess(ctx, "garbage")
	require.ErrorIs(t, err, token.ErrInvalid)

	snap := e.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters["session_created"])
	assert.Equal(t, uint64(1), snap.Counters["access_issued"])
	assert.Equal(t, uint64(1), snap.Counters["access_verified"])
	assert.Equal(t, uint64(1), snap.Counters["access_rejected"])
	assert.Equal(t, uint64(0), snap.Counters["audit_dropped"])
}

func TestEngineAuditSinkReceivesEntries(t *testing.T) {
	sink := NewChannelSink(16)
	e := newTestEngine(t, func(cfg *Config) {
		cfg.Audit.Sink = sink
	})
	ctx := context.Background()

	_, err := e.Sessions().Create(ctx, session.CreateInput{
		SubjectID: "u1",
		Role:      "user",
		IP:        "10.0.0.1",
	})
	require.NoError(t, err)
	e.Close()

	select {
	case entry := <-sink.Entries():
		assert.Equal(t, session.ActionLogin, entry.Action)
		assert.Equal(t, "u1", entry.Actor)
		assert.Equal(t, "10.0.0.1", entry.IP)
		assert.NotEmpty(t, entry.ID)
	default:
		t.Fatal("expected a login audit entry")
	}
}

func TestNilEngineIsSafe(t *testing.T) {
	var e *Engine
	_, err := e.ForceLogoutByEmail(context.Background(), "x", "y")
	assert.ErrorIs(t, err, ErrEngineNotReady)
	assert.Zero(t, e.AuditDropped())
	assert.Empty(t, e.MetricsSnapshot().Counters)
	e.Close()
}
