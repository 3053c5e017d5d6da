// Package session owns the lifecycle of logical user sessions. A
// session binds a subject, a device and origin, and one access/refresh
// token pair. Lifecycle is one-way: created → active → invalidated;
// there is no re-activation.
package session

import (
	"errors"
	"time"

	"github.com/mkhalev/authcore/token"
)

// ErrNotFound is returned when a session id is unknown or the session
// is no longer active.
var ErrNotFound = errors.New("session not found")

// ErrStoreUnavailable wraps session store backend failures.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Session is the server-tracked record of one authenticated device.
// Its validity is independent of the tokens' own signature validity:
// revoking either token ends the session, and ending the session
// revokes both tokens.
type Session struct {
	ID             string
	SubjectID      string
	Email          string
	Role           string
	Device         token.DeviceInfo
	IP             string
	CreatedAt      time.Time
	LastActiveAt   time.Time
	Active         bool
	AccessTokenID  string
	RefreshTokenID string
}

// Stats are aggregate counts for observability.
type Stats struct {
	Tracked  int
	Active   int
	Subjects int
}
