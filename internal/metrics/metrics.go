// Package metrics provides lock-free operation counters for authcore
// observability.
//
// Counters are incremented atomically and are allocation-free on the
// write path. Export (Prometheus, OTel, expvar) is the host's concern
// and reads Snapshot values.
package metrics

import "sync/atomic"

// ID identifies a single counter.
type ID uint8

const (
	AccessIssued ID = iota
	AccessVerified
	AccessRejected
	AccessBlacklisted
	RefreshIssued
	RefreshVerified
	RefreshRejected
	RefreshRevoked
	SessionCreated
	SessionInvalidated
	RateLimitRejected
	AuditDropped

	idCount
)

var names = [idCount]string{
	AccessIssued:       "access_issued",
	AccessVerified:     "access_verified",
	AccessRejected:     "access_rejected",
	AccessBlacklisted:  "access_blacklisted",
	RefreshIssued:      "refresh_issued",
	RefreshVerified:    "refresh_verified",
	RefreshRejected:    "refresh_rejected",
	RefreshRevoked:     "refresh_revoked",
	SessionCreated:     "session_created",
	SessionInvalidated: "session_invalidated",
	RateLimitRejected:  "rate_limit_rejected",
	AuditDropped:       "audit_dropped",
}

// Name returns the stable string name of a counter.
func (id ID) Name() string {
	if id >= idCount {
		return "unknown"
	}
	return names[id]
}

// Metrics holds atomic counters. A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled  bool
	counters [idCount]atomic.Uint64
}

func New(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

func (m *Metrics) Inc(id ID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id ID, delta uint64) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	m.counters[id].Add(delta)
}

// Snapshot is a point-in-time copy of all counters keyed by name.
type Snapshot struct {
	Counters map[string]uint64
}

func (m *Metrics) Snapshot() Snapshot {
	out := Snapshot{Counters: make(map[string]uint64, int(idCount))}
	if m == nil || !m.enabled {
		return out
	}
	for id := ID(0); id < idCount; id++ {
		out.Counters[id.Name()] = m.counters[id].Load()
	}
	return out
}
