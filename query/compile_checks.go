package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-notify/core"
)

var (
	_ gocmd.Querier[ListAuditEntriesMessage, []core.AuditEntry]    = (*ListAuditEntriesQuery)(nil)
	_ gocmd.Querier[ListWebhookEventsMessage, []core.WebhookEvent] = (*ListWebhookEventsQuery)(nil)
	_ gocmd.Querier[ListChannelsMessage, []core.ChannelConfig]     = (*ListChannelsQuery)(nil)
	_ gocmd.Querier[GetEndpointMessage, core.WebhookEndpoint]      = (*GetEndpointQuery)(nil)
	_ gocmd.Querier[ListEndpointsMessage, []core.WebhookEndpoint]  = (*ListEndpointsQuery)(nil)
	_ gocmd.Querier[ListPreferencesMessage, []core.UserPreference] = (*ListPreferencesQuery)(nil)
)
