// Package dispatch owns the channel registry and fans notifications out to
// channel adapters with per-channel rate limiting, bounded retries and an
// append-only audit trail.
package dispatch
