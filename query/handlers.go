package query

import (
	"context"

	"github.com/goliatone/go-notify/core"
)

type AuditReader interface {
	List(ctx context.Context, filter core.AuditFilter) ([]core.AuditEntry, error)
}

type EventReader interface {
	ListEvents(ctx context.Context, filter core.WebhookEventFilter) ([]core.WebhookEvent, error)
}

// ChannelReader is satisfied by the dispatch manager's live registry.
type ChannelReader interface {
	Channels() []core.ChannelConfig
}

// EndpointReader is satisfied by the webhook endpoint registry.
type EndpointReader interface {
	Endpoint(endpointID string) (core.WebhookEndpoint, bool)
	Endpoints() []core.WebhookEndpoint
}

type ListAuditEntriesQuery struct {
	reader AuditReader
}

func NewListAuditEntriesQuery(reader AuditReader) *ListAuditEntriesQuery {
	return &ListAuditEntriesQuery{reader: reader}
}

func (q *ListAuditEntriesQuery) Query(ctx context.Context, msg ListAuditEntriesMessage) ([]core.AuditEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: audit reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	filter := msg.Filter
	filter.Limit = clampLimit(filter.Limit)
	return q.reader.List(ctx, filter)
}

type ListWebhookEventsQuery struct {
	reader EventReader
}

func NewListWebhookEventsQuery(reader EventReader) *ListWebhookEventsQuery {
	return &ListWebhookEventsQuery{reader: reader}
}

func (q *ListWebhookEventsQuery) Query(ctx context.Context, msg ListWebhookEventsMessage) ([]core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: webhook event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	filter := msg.Filter
	filter.Limit = clampLimit(filter.Limit)
	return q.reader.ListEvents(ctx, filter)
}

type ListChannelsQuery struct {
	reader ChannelReader
}

func NewListChannelsQuery(reader ChannelReader) *ListChannelsQuery {
	return &ListChannelsQuery{reader: reader}
}

func (q *ListChannelsQuery) Query(_ context.Context, msg ListChannelsMessage) ([]core.ChannelConfig, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: channel reader is required")
	}
	channels := q.reader.Channels()
	if !msg.EnabledOnly {
		return channels, nil
	}
	out := make([]core.ChannelConfig, 0, len(channels))
	for _, channel := range channels {
		if channel.Enabled {
			out = append(out, channel)
		}
	}
	return out, nil
}

type GetEndpointQuery struct {
	reader EndpointReader
}

func NewGetEndpointQuery(reader EndpointReader) *GetEndpointQuery {
	return &GetEndpointQuery{reader: reader}
}

func (q *GetEndpointQuery) Query(_ context.Context, msg GetEndpointMessage) (core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEndpoint{}, queryDependencyError("query: endpoint reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.WebhookEndpoint{}, err
	}
	endpoint, ok := q.reader.Endpoint(msg.EndpointID)
	if !ok {
		return core.WebhookEndpoint{}, queryNotFoundError("webhook endpoint", msg.EndpointID)
	}
	return endpoint, nil
}

type ListEndpointsQuery struct {
	reader EndpointReader
}

func NewListEndpointsQuery(reader EndpointReader) *ListEndpointsQuery {
	return &ListEndpointsQuery{reader: reader}
}

func (q *ListEndpointsQuery) Query(_ context.Context, msg ListEndpointsMessage) ([]core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: endpoint reader is required")
	}
	endpoints := q.reader.Endpoints()
	if !msg.ActiveOnly {
		return endpoints, nil
	}
	out := make([]core.WebhookEndpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.Active {
			out = append(out, endpoint)
		}
	}
	return out, nil
}

type ListPreferencesQuery struct {
	reader core.PreferenceStore
}

func NewListPreferencesQuery(reader core.PreferenceStore) *ListPreferencesQuery {
	return &ListPreferencesQuery{reader: reader}
}

func (q *ListPreferencesQuery) Query(ctx context.Context, msg ListPreferencesMessage) ([]core.UserPreference, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: preference reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListPreferences(ctx, msg.UserID)
}
