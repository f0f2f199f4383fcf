package query

import (
	"strings"

	"github.com/goliatone/go-notify/core"
)

const (
	TypeListAuditEntries  = "notify.query.audit.list"
	TypeListWebhookEvents = "notify.query.webhook_events.list"
	TypeListChannels      = "notify.query.channels.list"
	TypeGetEndpoint       = "notify.query.endpoint.get"
	TypeListEndpoints     = "notify.query.endpoints.list"
	TypeListPreferences   = "notify.query.preferences.list"
)

// MaxListLimit caps list queries that ask for more rows than a page should
// carry.
const MaxListLimit = 500

type ListAuditEntriesMessage struct {
	Filter core.AuditFilter
}

func (ListAuditEntriesMessage) Type() string { return TypeListAuditEntries }

func (m ListAuditEntriesMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "must not be negative")
	}
	return nil
}

type ListWebhookEventsMessage struct {
	Filter core.WebhookEventFilter
}

func (ListWebhookEventsMessage) Type() string { return TypeListWebhookEvents }

func (m ListWebhookEventsMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "must not be negative")
	}
	return nil
}

type ListChannelsMessage struct {
	// EnabledOnly drops disabled channels from the result.
	EnabledOnly bool
}

func (ListChannelsMessage) Type() string { return TypeListChannels }

type GetEndpointMessage struct {
	EndpointID string
}

func (GetEndpointMessage) Type() string { return TypeGetEndpoint }

func (m GetEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return queryValidationError("endpoint_id", "endpoint id is required")
	}
	return nil
}

type ListEndpointsMessage struct {
	ActiveOnly bool
}

func (ListEndpointsMessage) Type() string { return TypeListEndpoints }

type ListPreferencesMessage struct {
	UserID string
}

func (ListPreferencesMessage) Type() string { return TypeListPreferences }

func (m ListPreferencesMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
