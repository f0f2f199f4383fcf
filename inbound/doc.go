// Package inbound routes verified webhook events to the handler that owns
// the endpoint's target kind (agent, workflow or swarm).
//
// Routing uses claim/complete/fail semantics keyed on the event id, so a
// handler runs at most once per event while a failed run stays retryable.
package inbound
