package authcore

import (
	"errors"

	"github.com/mkhalev/authcore/session"
	"github.com/mkhalev/authcore/token"
)

var (
	// ErrEngineNotReady is returned by methods on a nil or
	// half-constructed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUserNotFound is returned by repository-backed lookups. The
	// external message shown to end users must not distinguish it from
	// a credential failure.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserRepositoryRequired is returned by operations that need the
	// optional user repository when none was configured.
	ErrUserRepositoryRequired = errors.New("user repository not configured")
)

// Component sentinels re-exported for callers that only import the
// root package.
var (
	ErrTokenInvalid    = token.ErrInvalid
	ErrSessionNotFound = session.ErrNotFound
)
