package token

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreUnavailable wraps backend failures on mutating paths.
// Verification paths never surface it; they fail closed instead.
var ErrStoreUnavailable = errors.New("token store unavailable")

// BlacklistEntry records a force-revoked access token. Entries become
// irrelevant once the token's original expiry passes and may be pruned
// any time after that.
type BlacklistEntry struct {
	SubjectID string
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// BlacklistStore is the revocation list consulted on every access-token
// verification.
type BlacklistStore interface {
	// Add inserts an entry keyed by token id. Inserting an already
	// blacklisted id is a no-op; the first entry wins.
	Add(ctx context.Context, tokenID string, entry BlacklistEntry) error
	// Contains reports whether the token id is currently blacklisted.
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// RefreshRecord is the server-side state of one refresh token.
type RefreshRecord struct {
	SubjectID   string
	Fingerprint string
	Revoked     bool
	ExpiresAt   time.Time
}

// RefreshStore tracks every issued refresh token. Revocation is
// monotonic: a revoked id can never be un-revoked.
type RefreshStore interface {
	Put(ctx context.Context, tokenID string, rec RefreshRecord) error
	// Get returns the record and true, or false if the id is unknown.
	Get(ctx context.Context, tokenID string) (RefreshRecord, bool, error)
	// Revoke marks the id revoked. Unknown or already revoked ids are
	// a no-op.
	Revoke(ctx context.Context, tokenID string) error
	// RevokeAllForSubject revokes every live record owned by the
	// subject and returns how many transitioned to revoked.
	RevokeAllForSubject(ctx context.Context, subjectID string) (int, error)
}

// MemoryBlacklist is the in-process blacklist backend. Expired entries
// are dropped lazily whenever they are touched.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]BlacklistEntry
	now     func() time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		entries: make(map[string]BlacklistEntry),
		now:     time.Now,
	}
}

func (s *MemoryBlacklist) Add(_ context.Context, tokenID string, entry BlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[tokenID]; ok && s.now().Before(existing.ExpiresAt) {
		return nil
	}
	s.entries[tokenID] = entry
	return nil
}

func (s *MemoryBlacklist) Contains(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(entry.ExpiresAt) {
		delete(s.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// PruneExpired drops entries whose original expiry has passed.
func (s *MemoryBlacklist) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// MemoryRefreshStore is the in-process refresh-token backend: a
// mutex-guarded record map plus a per-subject id index for bulk
// revocation.
type MemoryRefreshStore struct {
	mu      sync.Mutex
	records map[string]RefreshRecord
	subject map[string]map[string]struct{}
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{
		records: make(map[string]RefreshRecord),
		subject: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryRefreshStore) Put(_ context.Context, tokenID string, rec RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[tokenID] = rec
	ids, ok := s.subject[rec.SubjectID]
	if !ok {
		ids = make(map[string]struct{})
		s.subject[rec.SubjectID] = ids
	}
	ids[tokenID] = struct{}{}
	return nil
}

func (s *MemoryRefreshStore) Get(_ context.Context, tokenID string) (RefreshRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	return rec, ok, nil
}

func (s *MemoryRefreshStore) Revoke(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tokenID]
	if !ok || rec.Revoked {
		return nil
	}
	rec.Revoked = true
	s.records[tokenID] = rec
	return nil
}

func (s *MemoryRefreshStore) RevokeAllForSubject(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for id := range s.subject[subjectID] {
		rec, ok := s.records[id]
		if !ok || rec.Revoked {
			continue
		}
		rec.Revoked = true
		s.records[id] = rec
		revoked++
	}
	return revoked, nil
}

// PruneExpired drops records past their expiry, revoked or not.
func (s *MemoryRefreshStore) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if now.Before(rec.ExpiresAt) {
			continue
		}
		delete(s.records, id)
		if ids, ok := s.subject[rec.SubjectID]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.subject, rec.SubjectID)
			}
		}
		removed++
	}
	return removed
}
