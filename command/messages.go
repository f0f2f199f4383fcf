package command

import (
	"strings"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/dispatch"
)

const (
	TypeSendNotification   = "notify.command.send"
	TypeBroadcast          = "notify.command.broadcast"
	TypeSendToUser         = "notify.command.send_to_user"
	TypeConfigureChannel   = "notify.command.channel.configure"
	TypeDisableChannel     = "notify.command.channel.disable"
	TypeEnableChannel      = "notify.command.channel.enable"
	TypeRegisterEndpoint   = "notify.command.endpoint.register"
	TypeDeactivateEndpoint = "notify.command.endpoint.deactivate"
)

type SendNotificationMessage struct {
	Request dispatch.SendRequest
}

func (SendNotificationMessage) Type() string { return TypeSendNotification }

func (m SendNotificationMessage) Validate() error {
	if m.Request.Message.IsZero() {
		return commandValidationError("message", "message title or body is required")
	}
	if len(m.Request.Channels) == 0 {
		return commandValidationError("channels", "at least one channel is required")
	}
	if m.Request.Priority != "" && !m.Request.Priority.Valid() {
		return commandValidationError("priority", "unknown priority "+string(m.Request.Priority))
	}
	if m.Request.MaxRetries < 0 {
		return commandValidationError("max_retries", "must not be negative")
	}
	return nil
}

type BroadcastMessage struct {
	ChannelID string
	Message   core.NotificationMessage
}

func (BroadcastMessage) Type() string { return TypeBroadcast }

func (m BroadcastMessage) Validate() error {
	if strings.TrimSpace(m.ChannelID) == "" {
		return commandValidationError("channel_id", "channel id is required")
	}
	if m.Message.IsZero() {
		return commandValidationError("message", "message title or body is required")
	}
	return nil
}

type SendToUserMessage struct {
	UserID  string
	Message core.NotificationMessage
}

func (SendToUserMessage) Type() string { return TypeSendToUser }

func (m SendToUserMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	if m.Message.IsZero() {
		return commandValidationError("message", "message title or body is required")
	}
	return nil
}

type ConfigureChannelMessage struct {
	Config core.ChannelConfig
}

func (ConfigureChannelMessage) Type() string { return TypeConfigureChannel }

func (m ConfigureChannelMessage) Validate() error {
	if strings.TrimSpace(m.Config.ID) == "" {
		return commandValidationError("id", "channel id is required")
	}
	if !m.Config.Kind.Valid() {
		return commandValidationError("kind", "unknown channel kind "+string(m.Config.Kind))
	}
	return nil
}

type DisableChannelMessage struct {
	ChannelID string
}

func (DisableChannelMessage) Type() string { return TypeDisableChannel }

func (m DisableChannelMessage) Validate() error {
	if strings.TrimSpace(m.ChannelID) == "" {
		return commandValidationError("channel_id", "channel id is required")
	}
	return nil
}

type EnableChannelMessage struct {
	ChannelID string
}

func (EnableChannelMessage) Type() string { return TypeEnableChannel }

func (m EnableChannelMessage) Validate() error {
	if strings.TrimSpace(m.ChannelID) == "" {
		return commandValidationError("channel_id", "channel id is required")
	}
	return nil
}

// RegisterEndpointMessage registers a webhook endpoint. Secret is sealed
// before it is stored; Preset names a provider header layout.
type RegisterEndpointMessage struct {
	Endpoint core.WebhookEndpoint
	Secret   string
	Preset   string
}

func (RegisterEndpointMessage) Type() string { return TypeRegisterEndpoint }

func (m RegisterEndpointMessage) Validate() error {
	if strings.TrimSpace(m.Endpoint.ID) == "" {
		return commandValidationError("id", "endpoint id is required")
	}
	if core.NormalizePath(m.Endpoint.Path) == "/" {
		return commandValidationError("path", "endpoint path is required")
	}
	if !m.Endpoint.TargetKind.Valid() {
		return commandValidationError("target_kind", "unknown target kind "+string(m.Endpoint.TargetKind))
	}
	if m.Endpoint.AuthMethod != core.AuthNone && m.Endpoint.AuthMethod != "" && strings.TrimSpace(m.Secret) == "" {
		return commandValidationError("secret", "secret is required for "+string(m.Endpoint.AuthMethod))
	}
	return nil
}

type DeactivateEndpointMessage struct {
	EndpointID string
}

func (DeactivateEndpointMessage) Type() string { return TypeDeactivateEndpoint }

func (m DeactivateEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return commandValidationError("endpoint_id", "endpoint id is required")
	}
	return nil
}
