// Package channels holds the outbound channel adapters. Each adapter owns the
// translation of a core.NotificationMessage into its provider wire format and
// classifies every failure with a core.ErrorKind so the dispatcher can decide
// between retrying, giving up and flagging the channel unhealthy.
package channels
