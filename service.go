package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-notify/channels"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/dispatch"
	"github.com/goliatone/go-notify/inbound"
	"github.com/goliatone/go-notify/security"
	"github.com/goliatone/go-notify/webhooks"
)

// Service is the explicit context object shared by every notify operation.
type Service struct {
	config    core.Config
	logger    core.Logger
	manager   *dispatch.Manager
	endpoints *webhooks.EndpointRegistry
	keys      *webhooks.KeyResolver
	receiver  *webhooks.Receiver
	router    *inbound.Router
	handler   http.Handler
	secrets   core.SecretProvider
	hasher    core.SecretHasher
	channels  core.ChannelStore
	prefs     core.PreferenceStore
	commands  Commands
	queries   Queries
}

func NewService(ctx context.Context, opts ...Option) (*Service, error) {
	builder := &serviceBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(builder)
		}
	}
	cfg, err := core.LoadConfig(ctx, builder.raw, builder.runtime)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "notify: invalid configuration").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ServiceErrorBadInput)
	}
	provider, logger := glog.Resolve(cfg.ServiceName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	factory := builder.factory
	if factory == nil {
		factory = channels.NewDefaultRegistry(builder.channelDeps)
	}
	managerOpts := []dispatch.Option{
		dispatch.WithConfig(cfg),
		dispatch.WithLoggerProvider(provider),
		dispatch.WithMetricsRecorder(builder.metrics),
		dispatch.WithAuditLog(builder.auditLog),
		dispatch.WithPreferenceStore(builder.preferences),
		dispatch.WithChannelStore(builder.channelStore),
	}
	if builder.now != nil {
		managerOpts = append(managerOpts, dispatch.WithClock(builder.now))
	}
	manager, err := dispatch.NewManager(factory, managerOpts...)
	if err != nil {
		return nil, err
	}

	hasher := builder.hasher
	if hasher == nil {
		hasher = security.NewBcryptHasher()
	}
	endpoints := webhooks.NewEndpointRegistry(builder.endpointStore)
	if builder.now != nil {
		endpoints.Now = builder.now
	}
	keys := webhooks.NewKeyResolver(builder.secrets, hasher)

	var router *inbound.Router
	consumer := builder.consumer
	if consumer == nil {
		claims := builder.claims
		if claims == nil {
			claims = inbound.NewMemoryClaimStore()
		}
		router = inbound.NewRouter(claims)
		for _, handler := range builder.handlers {
			if err := router.Register(handler); err != nil {
				return nil, err
			}
		}
		consumer = router
	}

	receiverOpts := []webhooks.ReceiverOption{
		webhooks.WithConfig(cfg),
		webhooks.WithLoggerProvider(provider),
		webhooks.WithMetricsRecorder(builder.metrics),
		webhooks.WithKeyResolver(keys),
		webhooks.WithEventLog(builder.eventLog),
	}
	if builder.now != nil {
		receiverOpts = append(receiverOpts, webhooks.WithClock(builder.now))
	}
	receiver, err := webhooks.NewReceiver(endpoints, consumer, receiverOpts...)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		config:    cfg,
		logger:    logger,
		manager:   manager,
		endpoints: endpoints,
		keys:      keys,
		receiver:  receiver,
		router:    router,
		handler:   webhooks.NewHTTPHandler(receiver, cfg.Receiver),
		secrets:   builder.secrets,
		hasher:    hasher,
		channels:  builder.channelStore,
		prefs:     builder.preferences,
	}
	svc.commands = newCommands(svc)
	svc.queries = newQueries(svc)
	return svc, nil
}

func (s *Service) Config() core.Config                   { return s.config }
func (s *Service) Manager() *dispatch.Manager            { return s.manager }
func (s *Service) Endpoints() *webhooks.EndpointRegistry { return s.endpoints }
func (s *Service) Receiver() *webhooks.Receiver          { return s.receiver }
func (s *Service) Commands() Commands                    { return s.commands }
func (s *Service) Queries() Queries                      { return s.queries }

// Router returns the built-in inbound router, or nil when an external
// consumer was supplied.
func (s *Service) Router() *inbound.Router { return s.router }

// Handler serves webhook deliveries over HTTP.
func (s *Service) Handler() http.Handler { return s.handler }

// Load restores channels and endpoints from their stores. Channels whose
// adapter can no longer be built are skipped and logged by the manager.
func (s *Service) Load(ctx context.Context) error {
	if s.channels != nil {
		loaded, err := s.manager.LoadChannels(ctx, s.channels)
		if err != nil {
			return err
		}
		s.logger.Info("notify channels loaded", "count", loaded)
	}
	loaded, err := s.endpoints.Load(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("notify webhook endpoints loaded", "count", loaded)
	return nil
}

// Run purges the replay ledger until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	interval := s.config.Replay.Window / 2
	if interval < time.Second {
		interval = time.Second
	}
	s.receiver.ReplayGuard().Run(ctx, interval)
	return nil
}

func (s *Service) Send(ctx context.Context, req dispatch.SendRequest) (core.SendResult, error) {
	return s.manager.Send(ctx, req)
}

func (s *Service) Broadcast(ctx context.Context, channelID string, message core.NotificationMessage) (core.SendResult, error) {
	return s.manager.Broadcast(ctx, channelID, message)
}

func (s *Service) SendToUser(ctx context.Context, userID string, message core.NotificationMessage) (core.SendResult, error) {
	return s.manager.SendToUser(ctx, userID, message)
}

func (s *Service) ConfigureChannel(ctx context.Context, cfg core.ChannelConfig) (core.ChannelConfig, error) {
	return s.manager.ConfigureChannel(ctx, cfg)
}

func (s *Service) DisableChannel(ctx context.Context, channelID string) error {
	return s.manager.DisableChannel(ctx, channelID)
}

func (s *Service) EnableChannel(ctx context.Context, channelID string) error {
	return s.manager.EnableChannel(ctx, channelID)
}

// Receive runs one delivery through the receiver state machine.
func (s *Service) Receive(ctx context.Context, req core.InboundRequest) core.WebhookResponse {
	return s.receiver.Receive(ctx, req)
}

// RegisterEndpoint applies the named preset, seals secret and publishes the
// endpoint. An empty auth method becomes hmac when a secret is given and
// none otherwise. Registered endpoints are active.
func (s *Service) RegisterEndpoint(ctx context.Context, endpoint core.WebhookEndpoint, secret []byte, preset string) (core.WebhookEndpoint, error) {
	if preset = strings.TrimSpace(preset); preset != "" {
		applied, err := webhooks.ApplyPreset(endpoint, preset)
		if err != nil {
			return core.WebhookEndpoint{}, badInput(err.Error(), map[string]any{"preset": preset})
		}
		endpoint = applied
	}
	if endpoint.AuthMethod == "" {
		endpoint.AuthMethod = core.AuthNone
		if len(secret) > 0 {
			endpoint.AuthMethod = core.AuthHMAC
		}
	}
	endpoint.SecretHash = ""
	endpoint.SealedSecret = nil
	if endpoint.AuthMethod != core.AuthNone {
		if len(secret) == 0 {
			return core.WebhookEndpoint{}, badInput("notify: secret is required for "+string(endpoint.AuthMethod), map[string]any{
				"endpoint_id": endpoint.ID,
			})
		}
		hash, sealed, err := webhooks.SealSecret(ctx, s.secrets, s.hasher, secret)
		if err != nil {
			return core.WebhookEndpoint{}, err
		}
		endpoint.SecretHash = hash
		endpoint.SealedSecret = sealed
	}
	endpoint.Active = true

	registered, err := s.endpoints.Register(ctx, endpoint)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	s.keys.Invalidate(registered.ID)
	return registered, nil
}

func (s *Service) DeactivateEndpoint(ctx context.Context, endpointID string) error {
	if err := s.endpoints.Deactivate(ctx, endpointID); err != nil {
		return err
	}
	s.keys.Invalidate(endpointID)
	return nil
}

func badInput(message string, metadata map[string]any) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput).
		WithMetadata(metadata)
}
