// Package webhooks receives inbound webhook deliveries.
//
// Each delivery is matched to a registered endpoint by path, authenticated
// with the endpoint's method (hmac, jwt, api_key or none), checked against
// the replay window and finally handed to a core.EventConsumer. The event is
// appended to the event log once it reaches a decision point and the
// dispatch outcome is appended as a separate record.
package webhooks
