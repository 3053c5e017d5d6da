package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkhalev/authcore/audit"
	"github.com/mkhalev/authcore/token"
)

// captureSink records emitted entries for assertion after the logger is
// drained with Close.
type captureSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *captureSink) Emit(_ context.Context, entry audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *captureSink) byAction(action string) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newManagerTest(t *testing.T) (*Manager, *token.Manager, *captureSink, *audit.Logger) {
	t.Helper()
	tokens, err := token.NewManager(token.Config{
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	sink := &captureSink{}
	logger := audit.NewLogger(sink, audit.DispatcherConfig{BufferSize: 64})
	return NewManager(nil, tokens, logger, nil), tokens, sink, logger
}

func TestSessionLifecycle(t *testing.T) {
	m, tokens, sink, logger := newManagerTest(t)
	ctx := context.Background()

	started, err := m.Create(ctx, CreateInput{
		SubjectID: "u1",
		Email:     "u1@example.com",
		Role:      "user",
		IP:        "10.0.0.1",
		Device:    token.DeviceInfo{Fingerprint: "fp-1", UserAgent: "cli/1.0"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if started.SessionID == "" || started.AccessToken == "" || started.RefreshToken == "" {
		t.Fatalf("incomplete start: %+v", started)
	}

	sess, err := m.Validate(ctx, started.SessionID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sess.SubjectID != "u1" || !sess.Active || sess.Device.Fingerprint != "fp-1" {
		t.Fatalf("wrong session: %+v", sess)
	}
	if _, err := tokens.VerifyAccess(ctx, started.AccessToken); err != nil {
		t.Fatalf("access token must verify: %v", err)
	}
	if _, err := tokens.VerifyRefresh(ctx, started.RefreshToken); err != nil {
		t.Fatalf("refresh token must verify: %v", err)
	}

	existed, err := m.Invalidate(ctx, started.SessionID, "u1", "logout", "10.0.0.1")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if !existed {
		t.Fatal("session must have existed")
	}

	// Terminal: the session, its access token, and its refresh token are
	// all dead.
	if _, err := m.Validate(ctx, started.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("validate after invalidate: got %v", err)
	}
	if _, err := tokens.VerifyAccess(ctx, started.AccessToken); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("access token must be blacklisted: %v", err)
	}
	if _, err := tokens.VerifyRefresh(ctx, started.RefreshToken); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("refresh token must be revoked: %v", err)
	}
	touched, err := m.Touch(ctx, started.SessionID)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if touched {
		t.Fatal("inactive session must not be touchable")
	}

	// Re-invalidating is a safe no-op that still reports existence.
	existed, err = m.Invalidate(ctx, started.SessionID, "u1", "retry", "")
	if err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
	if !existed {
		t.Fatal("known id must report existed")
	}

	logger.Close()
	for action, want := range map[string]int{
		ActionLogin:     1,
		ActionLogout:    1,
		ActionBlacklist: 1,
		ActionRevoke:    1,
	} {
		if got := len(sink.byAction(action)); got != want {
			t.Fatalf("%s: want %d entries, got %d", action, want, got)
		}
	}
	logout := sink.byAction(ActionLogout)[0]
	if logout.Actor != "u1" || logout.ResourceID != started.SessionID {
		t.Fatalf("wrong logout entry: %+v", logout)
	}
	if logout.Next["reason"] != "logout" || logout.Previous["active"] != "true" {
		t.Fatalf("wrong logout transition: %+v", logout)
	}
}

func TestValidateUnknownSession(t *testing.T) {
	m, _, _, logger := newManagerTest(t)
	defer logger.Close()
	ctx := context.Background()

	if _, err := m.Validate(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	existed, err := m.Invalidate(ctx, "nope", "u1", "logout", "")
	if err != nil {
		t.Fatalf("invalidate unknown: %v", err)
	}
	if existed {
		t.Fatal("unknown id must report not existed")
	}
}

func TestTouchAdvancesLastActive(t *testing.T) {
	m, _, _, logger := newManagerTest(t)
	defer logger.Close()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	started, err := m.Create(ctx, CreateInput{SubjectID: "u1", Role: "user"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m.now = func() time.Time { return base.Add(10 * time.Minute) }
	touched, err := m.Touch(ctx, started.SessionID)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if !touched {
		t.Fatal("active session must be touchable")
	}

	sess, err := m.Validate(ctx, started.SessionID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !sess.LastActiveAt.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("last active not advanced: %v", sess.LastActiveAt)
	}
	if !sess.CreatedAt.Equal(base) {
		t.Fatalf("created at must not move: %v", sess.CreatedAt)
	}
}

func TestInvalidateAllForSubject(t *testing.T) {
	m, tokens, sink, logger := newManagerTest(t)
	ctx := context.Background()

	var started []*Started
	for i := 0; i < 3; i++ {
		s, err := m.Create(ctx, CreateInput{SubjectID: "u1", Role: "user"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		started = append(started, s)
	}
	other, err := m.Create(ctx, CreateInput{SubjectID: "u2", Role: "user"})
	if err != nil {
		t.Fatalf("create u2: %v", err)
	}
	// One session already ended individually; the sweep skips it.
	if _, err := m.Invalidate(ctx, started[0].SessionID, "u1", "logout", ""); err != nil {
		t.Fatalf("invalidate first: %v", err)
	}

	count, err := m.InvalidateAllForSubject(ctx, "u1", "password change")
	if err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if count != 2 {
		t.Fatalf("want 2 sessions ended, got %d", count)
	}

	for i, s := range started {
		if _, err := m.Validate(ctx, s.SessionID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %d must be gone: %v", i, err)
		}
		if _, err := tokens.VerifyRefresh(ctx, s.RefreshToken); !errors.Is(err, token.ErrInvalid) {
			t.Fatalf("refresh %d must be revoked: %v", i, err)
		}
	}
	if _, err := m.Validate(ctx, other.SessionID); err != nil {
		t.Fatalf("other subject's session must survive: %v", err)
	}
	if _, err := tokens.VerifyRefresh(ctx, other.RefreshToken); err != nil {
		t.Fatalf("other subject's refresh must survive: %v", err)
	}

	logger.Close()
	all := sink.byAction(ActionLogoutAll)
	if len(all) != 1 {
		t.Fatalf("want one summary entry, got %d", len(all))
	}
	if all[0].Next["sessions"] != "2" {
		t.Fatalf("wrong session count in summary: %+v", all[0].Next)
	}
}

func TestStats(t *testing.T) {
	m, _, _, logger := newManagerTest(t)
	defer logger.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := m.Create(ctx, CreateInput{SubjectID: "u1", Role: "user"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	s, err := m.Create(ctx, CreateInput{SubjectID: "u2", Role: "user"})
	if err != nil {
		t.Fatalf("create u2: %v", err)
	}
	if _, err := m.Invalidate(ctx, s.SessionID, "u2", "logout", ""); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Tracked != 3 || stats.Active != 2 || stats.Subjects != 2 {
		t.Fatalf("wrong stats: %+v", stats)
	}
}
