// Package authcore is the identity and access-control core of a user
// management application: it issues and verifies signed credentials,
// tracks active user sessions, throttles sensitive operations, answers
// role-based authorization queries, and records security-relevant
// actions.
//
// The package is a facade. [Engine] wires the five components — token
// manager, session manager, rate limiter, permission registry, audit
// logger — from a [Config] and exposes them; all real behavior lives in
// the subpackages. Engine methods are safe to call from multiple
// goroutines after construction.
//
// # Architecture boundaries
//
// HTTP routing, the user-credential store, password verification, and
// delivery (email, UI) are external collaborators. They are reached
// only through the narrow interfaces the core declares
// ([UserRepository], [AuditSink]); the core never sees a request
// object or performs a credential comparison.
//
// # State
//
// Shared mutable state (session table, refresh-token table, blacklist,
// rate buckets) lives behind per-component store interfaces. Every
// store ships with an in-process mutex-guarded backend and a
// Redis-backed one; supplying a Redis client in [Config] selects the
// latter for all of them.
package authcore
