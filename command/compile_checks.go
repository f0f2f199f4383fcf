package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[SendNotificationMessage]   = (*SendNotificationCommand)(nil)
	_ gocmd.Commander[BroadcastMessage]          = (*BroadcastCommand)(nil)
	_ gocmd.Commander[SendToUserMessage]         = (*SendToUserCommand)(nil)
	_ gocmd.Commander[ConfigureChannelMessage]   = (*ConfigureChannelCommand)(nil)
	_ gocmd.Commander[DisableChannelMessage]     = (*DisableChannelCommand)(nil)
	_ gocmd.Commander[EnableChannelMessage]      = (*EnableChannelCommand)(nil)
	_ gocmd.Commander[RegisterEndpointMessage]   = (*RegisterEndpointCommand)(nil)
	_ gocmd.Commander[DeactivateEndpointMessage] = (*DeactivateEndpointCommand)(nil)
)
