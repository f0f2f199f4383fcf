// Package notify wires the outbound notification manager and the inbound
// webhook receiver into one Service.
//
// A Service owns the channel registry, rate limiter and retry policy used by
// Send, Broadcast and SendToUser, and the endpoint registry, signature
// verifier and replay guard used by Receive. Persistence is optional: every
// store is supplied through an Option and in-memory logs are used otherwise.
// The store/sql package provides bun backed implementations of each store.
package notify
