// Package resetcode stores short-lived verification codes for the
// forgot-password flow. A code validates only against its stored value:
// there is no path that accepts an arbitrary well-formed code. Codes
// are single-use and attempt-bounded.
package resetcode

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

// ErrAttemptsExceeded is returned once the attempt budget for a pending
// code is spent. The code is consumed and can never validate after.
var ErrAttemptsExceeded = errors.New("verification code attempts exceeded")

// ErrStoreUnavailable wraps backend failures.
var ErrStoreUnavailable = errors.New("reset code store unavailable")

// Store keeps at most one pending code per subject.
type Store interface {
	// Issue stores a code for the subject, replacing any pending one.
	Issue(ctx context.Context, subjectID, code string, ttl time.Duration, maxAttempts int) error
	// Validate consumes one attempt. A match consumes the code and
	// returns true; a miss returns false; spending the attempt budget
	// consumes the code and returns ErrAttemptsExceeded. Unknown or
	// expired subjects return false without revealing which.
	Validate(ctx context.Context, subjectID, code string) (bool, error)
}

type pendingCode struct {
	hash        [32]byte
	expiresAt   time.Time
	attempts    int
	maxAttempts int
}

// MemoryStore is the in-process backend.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]*pendingCode
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes: make(map[string]*pendingCode),
		now:   time.Now,
	}
}

func (s *MemoryStore) Issue(_ context.Context, subjectID, code string, ttl time.Duration, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[subjectID] = &pendingCode{
		hash:        sha256.Sum256([]byte(code)),
		expiresAt:   s.now().Add(ttl),
		maxAttempts: maxAttempts,
	}
	return nil
}

func (s *MemoryStore) Validate(_ context.Context, subjectID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.codes[subjectID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(pending.expiresAt) {
		delete(s.codes, subjectID)
		return false, nil
	}

	pending.attempts++
	if pending.attempts > pending.maxAttempts {
		delete(s.codes, subjectID)
		return false, ErrAttemptsExceeded
	}

	hash := sha256.Sum256([]byte(code))
	if subtle.ConstantTimeCompare(hash[:], pending.hash[:]) != 1 {
		return false, nil
	}

	delete(s.codes, subjectID)
	return true, nil
}

// PruneExpired drops expired pending codes.
func (s *MemoryStore) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for subjectID, pending := range s.codes {
		if !now.Before(pending.expiresAt) {
			delete(s.codes, subjectID)
			removed++
		}
	}
	return removed
}
