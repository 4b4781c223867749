// Package session defines the per-client session storage contract guards
// write their authentication state into, plus two implementations: an
// in-memory store for embedded use and tests, and a Redis-backed store for
// multi-instance deployments.
//
// A Store instance is scoped to exactly one client session. Keys are owned
// by the guard that writes them; no guard reads or writes another guard's
// slot.
package session
