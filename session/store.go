package session

import (
	"context"
	"sync"
	"time"
)

// Store persists session records. Implementations must make Touch and
// MarkInactive atomic per session id: a logout racing an activity ping
// must end with the session inactive, never revived.
type Store interface {
	Save(ctx context.Context, sess *Session) error
	// Get returns a copy of the session and true, or false if unknown.
	Get(ctx context.Context, sessionID string) (*Session, bool, error)
	// Touch sets last-active-at if and only if the session exists and
	// is still active.
	Touch(ctx context.Context, sessionID string, at time.Time) (bool, error)
	// MarkInactive transitions the session to its terminal state.
	// existed reports whether the id was known at all; transitioned
	// reports whether this call performed the active→inactive switch.
	MarkInactive(ctx context.Context, sessionID string) (existed, transitioned bool, err error)
	// IDsForSubject lists the ids of sessions owned by the subject,
	// active or not.
	IDsForSubject(ctx context.Context, subjectID string) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
}

// MemoryStore is the in-process session table: one mutex guards the
// record map and the per-subject index, which is what makes the
// logout-vs-ping race trivially safe here.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	subject  map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		subject:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.sessions[sess.ID] = &cp
	ids, ok := s.subject[sess.SubjectID]
	if !ok {
		ids = make(map[string]struct{})
		s.subject[sess.SubjectID] = ids
	}
	ids[sess.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	cp := *sess
	return &cp, true, nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Active {
		return false, nil
	}
	sess.LastActiveAt = at
	return true, nil
}

func (s *MemoryStore) MarkInactive(_ context.Context, sessionID string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, false, nil
	}
	if !sess.Active {
		return true, false, nil
	}
	sess.Active = false
	return true, true, nil
}

func (s *MemoryStore) IDsForSubject(_ context.Context, subjectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.subject[subjectID]))
	for id := range s.subject[subjectID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Tracked: len(s.sessions), Subjects: len(s.subject)}
	for _, sess := range s.sessions {
		if sess.Active {
			st.Active++
		}
	}
	return st, nil
}

// PruneInactive removes invalidated sessions, dropping them from stats.
// Optional host sweep; the table otherwise retains them.
func (s *MemoryStore) PruneInactive() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Active {
			continue
		}
		delete(s.sessions, id)
		if ids, ok := s.subject[sess.SubjectID]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.subject, sess.SubjectID)
			}
		}
		removed++
	}
	return removed
}
