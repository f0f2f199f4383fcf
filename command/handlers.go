package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/dispatch"
)

// Sender is the outbound surface of a notification manager.
type Sender interface {
	Send(ctx context.Context, req dispatch.SendRequest) (core.SendResult, error)
	Broadcast(ctx context.Context, channelID string, message core.NotificationMessage) (core.SendResult, error)
	SendToUser(ctx context.Context, userID string, message core.NotificationMessage) (core.SendResult, error)
}

type ChannelAdmin interface {
	ConfigureChannel(ctx context.Context, cfg core.ChannelConfig) (core.ChannelConfig, error)
	DisableChannel(ctx context.Context, channelID string) error
	EnableChannel(ctx context.Context, channelID string) error
}

type EndpointAdmin interface {
	RegisterEndpoint(ctx context.Context, endpoint core.WebhookEndpoint, secret []byte, preset string) (core.WebhookEndpoint, error)
	DeactivateEndpoint(ctx context.Context, endpointID string) error
}

// SendNotificationCommand stores the core.SendResult on the context result
// collector. A partial failure is reported through the result, not the error.
type SendNotificationCommand struct {
	sender Sender
}

func NewSendNotificationCommand(sender Sender) *SendNotificationCommand {
	return &SendNotificationCommand{sender: sender}
}

func (c *SendNotificationCommand) Execute(ctx context.Context, msg SendNotificationMessage) error {
	if c == nil || c.sender == nil {
		return commandDependencyError("command: notification sender is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.sender.Send(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type BroadcastCommand struct {
	sender Sender
}

func NewBroadcastCommand(sender Sender) *BroadcastCommand {
	return &BroadcastCommand{sender: sender}
}

func (c *BroadcastCommand) Execute(ctx context.Context, msg BroadcastMessage) error {
	if c == nil || c.sender == nil {
		return commandDependencyError("command: notification sender is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.sender.Broadcast(ctx, msg.ChannelID, msg.Message)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SendToUserCommand struct {
	sender Sender
}

func NewSendToUserCommand(sender Sender) *SendToUserCommand {
	return &SendToUserCommand{sender: sender}
}

func (c *SendToUserCommand) Execute(ctx context.Context, msg SendToUserMessage) error {
	if c == nil || c.sender == nil {
		return commandDependencyError("command: notification sender is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.sender.SendToUser(ctx, msg.UserID, msg.Message)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ConfigureChannelCommand struct {
	admin ChannelAdmin
}

func NewConfigureChannelCommand(admin ChannelAdmin) *ConfigureChannelCommand {
	return &ConfigureChannelCommand{admin: admin}
}

func (c *ConfigureChannelCommand) Execute(ctx context.Context, msg ConfigureChannelMessage) error {
	if c == nil || c.admin == nil {
		return commandDependencyError("command: channel admin is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.admin.ConfigureChannel(ctx, msg.Config)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisableChannelCommand struct {
	admin ChannelAdmin
}

func NewDisableChannelCommand(admin ChannelAdmin) *DisableChannelCommand {
	return &DisableChannelCommand{admin: admin}
}

func (c *DisableChannelCommand) Execute(ctx context.Context, msg DisableChannelMessage) error {
	if c == nil || c.admin == nil {
		return commandDependencyError("command: channel admin is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.admin.DisableChannel(ctx, msg.ChannelID)
}

type EnableChannelCommand struct {
	admin ChannelAdmin
}

func NewEnableChannelCommand(admin ChannelAdmin) *EnableChannelCommand {
	return &EnableChannelCommand{admin: admin}
}

func (c *EnableChannelCommand) Execute(ctx context.Context, msg EnableChannelMessage) error {
	if c == nil || c.admin == nil {
		return commandDependencyError("command: channel admin is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.admin.EnableChannel(ctx, msg.ChannelID)
}

type RegisterEndpointCommand struct {
	admin EndpointAdmin
}

func NewRegisterEndpointCommand(admin EndpointAdmin) *RegisterEndpointCommand {
	return &RegisterEndpointCommand{admin: admin}
}

func (c *RegisterEndpointCommand) Execute(ctx context.Context, msg RegisterEndpointMessage) error {
	if c == nil || c.admin == nil {
		return commandDependencyError("command: endpoint admin is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.admin.RegisterEndpoint(ctx, msg.Endpoint, []byte(msg.Secret), msg.Preset)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeactivateEndpointCommand struct {
	admin EndpointAdmin
}

func NewDeactivateEndpointCommand(admin EndpointAdmin) *DeactivateEndpointCommand {
	return &DeactivateEndpointCommand{admin: admin}
}

func (c *DeactivateEndpointCommand) Execute(ctx context.Context, msg DeactivateEndpointMessage) error {
	if c == nil || c.admin == nil {
		return commandDependencyError("command: endpoint admin is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.admin.DeactivateEndpoint(ctx, msg.EndpointID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
