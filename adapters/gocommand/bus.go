package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	notify "github.com/goliatone/go-notify"
	notifycmd "github.com/goliatone/go-notify/command"
	"github.com/goliatone/go-notify/core"
	notifyquery "github.com/goliatone/go-notify/query"
)

// ValidateMessageContract checks that msg names its type and, when it has a
// Validate method, that the payload is valid.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Bus exposes the notify commands and queries on the go-command dispatcher.
// Every handler is also added to the registry so resolvers, such as the
// go-job queue resolver, see it during Initialize.
type Bus struct {
	registry      *command.Registry
	runnerOpts    []runner.Option
	subscriptions []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry, runnerOpts ...runner.Option) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry, runnerOpts: runnerOpts}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// Mount subscribes every command and query of svc.
func (b *Bus) Mount(svc *notify.Service) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if svc == nil {
		return fmt.Errorf("gocommand: service is required")
	}
	if err := b.MountCommands(svc.Commands()); err != nil {
		return err
	}
	return b.MountQueries(svc.Queries())
}

func (b *Bus) MountCommands(cmds notify.Commands) error {
	return firstErr(
		subscribeCommand[notifycmd.SendNotificationMessage](b, cmds.Send),
		subscribeCommand[notifycmd.BroadcastMessage](b, cmds.Broadcast),
		subscribeCommand[notifycmd.SendToUserMessage](b, cmds.SendToUser),
		subscribeCommand[notifycmd.ConfigureChannelMessage](b, cmds.ConfigureChannel),
		subscribeCommand[notifycmd.DisableChannelMessage](b, cmds.DisableChannel),
		subscribeCommand[notifycmd.EnableChannelMessage](b, cmds.EnableChannel),
		subscribeCommand[notifycmd.RegisterEndpointMessage](b, cmds.RegisterEndpoint),
		subscribeCommand[notifycmd.DeactivateEndpointMessage](b, cmds.DeactivateEndpoint),
	)
}

// MountQueries skips nil queries, such as ListPreferences without a store.
func (b *Bus) MountQueries(queries notify.Queries) error {
	errs := []error{
		subscribeQuery[notifyquery.ListAuditEntriesMessage, []core.AuditEntry](b, queries.ListAuditEntries),
		subscribeQuery[notifyquery.ListWebhookEventsMessage, []core.WebhookEvent](b, queries.ListWebhookEvents),
		subscribeQuery[notifyquery.ListChannelsMessage, []core.ChannelConfig](b, queries.ListChannels),
		subscribeQuery[notifyquery.GetEndpointMessage, core.WebhookEndpoint](b, queries.GetEndpoint),
		subscribeQuery[notifyquery.ListEndpointsMessage, []core.WebhookEndpoint](b, queries.ListEndpoints),
	}
	if queries.ListPreferences != nil {
		errs = append(errs, subscribeQuery[notifyquery.ListPreferencesMessage, []core.UserPreference](b, queries.ListPreferences))
	}
	return firstErr(errs...)
}

func (b *Bus) AddResolver(key string, resolver command.Resolver) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can be executed by queue workers.
func (b *Bus) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.Initialize()
}

// Close removes every dispatcher subscription made by the bus.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, sub := range b.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func subscribeCommand[T any](b *Bus, cmd command.Commander[T]) error {
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	sub := commanddispatcher.SubscribeCommand(cmd, b.runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.subscriptions = append(b.subscriptions, sub)
	return nil
}

func subscribeQuery[T any, R any](b *Bus, qry command.Querier[T, R]) error {
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	sub := commanddispatcher.SubscribeQuery(qry, b.runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.subscriptions = append(b.subscriptions, sub)
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
