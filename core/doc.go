// Package core contains the canonical notification and webhook domain types,
// collaborator contracts, error taxonomy and configuration. Channel adapters,
// stores and transports depend on this package; core must not depend on any
// of them.
package core
