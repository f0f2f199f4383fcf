package notify

import (
	"github.com/goliatone/go-notify/command"
	"github.com/goliatone/go-notify/query"
)

// Commands holds one go-command commander per mutating operation.
type Commands struct {
	Send               *command.SendNotificationCommand
	Broadcast          *command.BroadcastCommand
	SendToUser         *command.SendToUserCommand
	ConfigureChannel   *command.ConfigureChannelCommand
	DisableChannel     *command.DisableChannelCommand
	EnableChannel      *command.EnableChannelCommand
	RegisterEndpoint   *command.RegisterEndpointCommand
	DeactivateEndpoint *command.DeactivateEndpointCommand
}

type Queries struct {
	ListAuditEntries  *query.ListAuditEntriesQuery
	ListWebhookEvents *query.ListWebhookEventsQuery
	ListChannels      *query.ListChannelsQuery
	GetEndpoint       *query.GetEndpointQuery
	ListEndpoints     *query.ListEndpointsQuery
	// ListPreferences is nil when no preference store is configured.
	ListPreferences *query.ListPreferencesQuery
}

var (
	_ command.Sender        = (*Service)(nil)
	_ command.ChannelAdmin  = (*Service)(nil)
	_ command.EndpointAdmin = (*Service)(nil)
)

func newCommands(s *Service) Commands {
	return Commands{
		Send:               command.NewSendNotificationCommand(s),
		Broadcast:          command.NewBroadcastCommand(s),
		SendToUser:         command.NewSendToUserCommand(s),
		ConfigureChannel:   command.NewConfigureChannelCommand(s),
		DisableChannel:     command.NewDisableChannelCommand(s),
		EnableChannel:      command.NewEnableChannelCommand(s),
		RegisterEndpoint:   command.NewRegisterEndpointCommand(s),
		DeactivateEndpoint: command.NewDeactivateEndpointCommand(s),
	}
}

func newQueries(s *Service) Queries {
	queries := Queries{
		ListAuditEntries:  query.NewListAuditEntriesQuery(s.manager.AuditLog()),
		ListWebhookEvents: query.NewListWebhookEventsQuery(s.receiver.EventLog()),
		ListChannels:      query.NewListChannelsQuery(s.manager),
		GetEndpoint:       query.NewGetEndpointQuery(s.endpoints),
		ListEndpoints:     query.NewListEndpointsQuery(s.endpoints),
	}
	if s.prefs != nil {
		queries.ListPreferences = query.NewListPreferencesQuery(s.prefs)
	}
	return queries
}
