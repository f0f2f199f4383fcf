package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/ratelimit"
	"github.com/goliatone/go-notify/retry"
	"github.com/goliatone/go-notify/transport"
)

// SendRequest describes one fan-out. Duplicate channel ids collapse to a
// single delivery. MaxRetries bounds the attempts per channel; zero uses the
// configured retry.max_attempts.
type SendRequest struct {
	Channels   []string
	Message    core.NotificationMessage
	Priority   core.Priority
	MaxRetries int
	// Targets carries per-channel recipient addresses.
	Targets map[string]core.Target
}

// Manager fans notifications out to channel adapters. Every channel of a
// send runs in its own goroutine; a slow or failing channel never delays
// its siblings or other sends. dispatch.max_concurrency bounds the in-flight
// adapter calls per channel; the slot is held only for the adapter call,
// never across rate-limit waits or retry backoff.
type Manager struct {
	factory      core.AdapterFactory
	config       core.Config
	limiter      *ratelimit.Limiter
	retry        retry.Policy
	auditLog     core.AuditLog
	preferences  core.PreferenceStore
	channelStore core.ChannelStore
	observer     *core.Observer
	logger       core.Logger
	concurrency  int
	now          func() time.Time
	newID        func() string

	writeMu  sync.Mutex
	registry atomic.Pointer[snapshot]

	slotsMu sync.Mutex
	slots   map[string]chan struct{}
}

func NewManager(factory core.AdapterFactory, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, badRequest("dispatch: adapter factory is required")
	}
	builder := &managerBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(builder)
		}
	}
	cfg := core.DefaultConfig()
	if builder.configSet {
		cfg = builder.config
	}
	if err := cfg.Validate(); err != nil {
		return nil, badRequest(err.Error())
	}

	_, logger := glog.Resolve("notify.dispatch", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	m := &Manager{
		factory:      factory,
		config:       cfg,
		limiter:      builder.limiter,
		auditLog:     builder.auditLog,
		preferences:  builder.preferences,
		channelStore: builder.channelStore,
		observer:     core.NewObserver("notify", logger, builder.metrics, "channel_id", "channel_kind", "priority"),
		logger:       logger,
		now:          builder.now,
		newID:        builder.newID,
	}
	if m.limiter == nil {
		m.limiter = ratelimit.NewLimiter()
	}
	if builder.retryPolicy != nil {
		m.retry = *builder.retryPolicy
	} else {
		m.retry = retry.FromConfig(cfg.Retry)
	}
	if m.auditLog == nil {
		m.auditLog = NewMemoryAuditLog()
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	concurrency := cfg.Dispatch.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	m.concurrency = concurrency
	m.slots = map[string]chan struct{}{}
	m.registry.Store(&snapshot{channels: map[string]channelEntry{}})
	return m, nil
}

func (m *Manager) AuditLog() core.AuditLog {
	return m.auditLog
}

func (m *Manager) Limiter() *ratelimit.Limiter {
	return m.limiter
}

// Send delivers req.Message to every requested channel and returns one
// result per distinct channel. The error is reserved for malformed requests;
// channel failures are reported in the result.
func (m *Manager) Send(ctx context.Context, req SendRequest) (core.SendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Message.IsZero() {
		return core.SendResult{}, badRequest("dispatch: message is required")
	}
	channelIDs, err := dedupeChannels(req.Channels)
	if err != nil {
		return core.SendResult{}, err
	}
	req.Priority = req.Priority.Normalize()
	notificationID := m.newID()
	snap := m.current()
	wait := m.acquireWait(req.Priority)

	results := make([]core.NotificationResult, len(channelIDs))
	var wg sync.WaitGroup
	for index, channelID := range channelIDs {
		wg.Add(1)
		go func(index int, channelID string) {
			defer wg.Done()
			results[index] = m.deliver(ctx, snap, notificationID, channelID, req, wait)
		}(index, channelID)
	}
	wg.Wait()

	return core.SendResult{NotificationID: notificationID, Results: results}, nil
}

// Broadcast sends message to a single channel.
func (m *Manager) Broadcast(ctx context.Context, channelID string, message core.NotificationMessage) (core.SendResult, error) {
	return m.Send(ctx, SendRequest{
		Channels: []string{channelID},
		Message:  message,
		Priority: core.PriorityNormal,
	})
}

// SendToUser resolves the user's channel preferences and sends to every
// channel that admits the message level. Quiet hours suppress delivery
// unless the message is critical.
func (m *Manager) SendToUser(ctx context.Context, userID string, message core.NotificationMessage) (core.SendResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.SendResult{}, badRequest("dispatch: user id is required")
	}
	if message.IsZero() {
		return core.SendResult{}, badRequest("dispatch: message is required")
	}
	if m.preferences == nil {
		return core.SendResult{}, core.NewKindError(core.ErrorKindChannelUnavailable, "dispatch: preference store not configured", map[string]any{
			"user_id": userID,
		})
	}
	prefs, err := m.preferences.ListPreferences(ctx, userID)
	if err != nil {
		return core.SendResult{}, err
	}

	now := m.now()
	targets := map[string]core.Target{}
	channels := make([]string, 0, len(prefs))
	for _, pref := range prefs {
		channelID := strings.TrimSpace(pref.ChannelID)
		if channelID == "" {
			continue
		}
		if !message.Level().AtLeast(pref.MinLevel) {
			continue
		}
		if message.Level() != core.LevelCritical && pref.QuietHours.Contains(now) {
			continue
		}
		if _, seen := targets[channelID]; seen {
			continue
		}
		targets[channelID] = core.Target{Address: strings.TrimSpace(pref.Address)}
		channels = append(channels, channelID)
	}
	if len(channels) == 0 {
		return core.SendResult{}, core.NewKindError(core.ErrorKindChannelUnavailable, fmt.Sprintf("dispatch: no eligible channels for user %q", userID), map[string]any{
			"user_id":     userID,
			"preferences": len(prefs),
			"level":       string(message.Level()),
		})
	}
	return m.Send(ctx, SendRequest{
		Channels: channels,
		Message:  message,
		Priority: core.PriorityNormal,
		Targets:  targets,
	})
}

func (m *Manager) deliver(
	ctx context.Context,
	snap *snapshot,
	notificationID string,
	channelID string,
	req SendRequest,
	wait time.Duration,
) core.NotificationResult {
	began := time.Now()
	result := core.NotificationResult{
		NotificationID: notificationID,
		ChannelID:      channelID,
		StartedAt:      m.now(),
	}
	entry, ok := snap.lookup(channelID)

	var err error
	switch {
	case !ok:
		err = unavailable(channelID, "is not configured")
	case !entry.config.Enabled:
		err = unavailable(channelID, "is disabled")
	case !entry.config.Healthy:
		err = unavailable(channelID, "is unhealthy")
	default:
		result.Attempts, err = m.attempt(ctx, entry, req, wait)
	}

	result.FinishedAt = m.now()
	result.Latency = result.FinishedAt.Sub(result.StartedAt)
	result.Success = err == nil
	if err != nil {
		result.ErrorKind = core.KindOf(err)
		result.Error = err.Error()
		if result.ErrorKind == core.ErrorKindAuthFailure && ok {
			if markErr := m.MarkUnhealthy(ctx, channelID, err.Error()); markErr != nil {
				m.observer.Log(ctx, "warn", "failed to mark channel unhealthy", map[string]any{
					"channel_id": channelID,
					"error":      markErr.Error(),
				})
			}
		}
	}

	fields := map[string]any{
		"notification_id": notificationID,
		"channel_id":      channelID,
		"priority":        string(req.Priority),
		"attempts":        result.Attempts,
	}
	if ok {
		fields["channel_kind"] = string(entry.config.Kind)
	}
	m.observer.Observe(ctx, began, "channel_send", err, fields)
	m.audit(ctx, req, result)
	return result
}

// attempt takes a rate-limit permit and runs the adapter through the retry
// policy. Retries after the first attempt take their own permit, so a
// provider backoff hint recorded through Penalize also slows the retry loop.
func (m *Manager) attempt(ctx context.Context, entry channelEntry, req SendRequest, wait time.Duration) (int, error) {
	channelID := entry.config.ID
	if err := m.acquirePermit(ctx, channelID, wait); err != nil {
		return 0, err
	}

	target := req.Targets[channelID]
	policy := m.retry.WithMaxAttempts(req.MaxRetries)
	outcome, err := policy.Execute(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := m.acquirePermit(ctx, channelID, wait); err != nil {
				return err
			}
		}
		sendErr := m.send(ctx, entry, req.Message, target)
		if hint, ok := transport.RetryAfterHint(sendErr); ok {
			m.limiter.Penalize(channelID, hint)
		}
		return sendErr
	})
	return outcome.Attempts, err
}

func (m *Manager) acquirePermit(ctx context.Context, channelID string, wait time.Duration) error {
	err := m.limiter.AcquireErr(ctx, channelID, wait)
	if err == nil {
		return nil
	}
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttled.ToServiceError()
	}
	return core.WrapKind(err, core.ErrorKindTimeout, "dispatch: deadline reached waiting for rate limit permit", map[string]any{
		"channel_id": channelID,
	})
}

// send runs one adapter call inside the channel's concurrency slot.
func (m *Manager) send(ctx context.Context, entry channelEntry, message core.NotificationMessage, target core.Target) error {
	slot := m.slotFor(entry.config.ID)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return core.WrapKind(ctx.Err(), core.ErrorKindTimeout, "dispatch: deadline reached waiting for a send slot", map[string]any{
			"channel_id": entry.config.ID,
		})
	}
	defer func() { <-slot }()
	return entry.adapter.Send(ctx, message, target)
}

func (m *Manager) slotFor(channelID string) chan struct{} {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	slot, ok := m.slots[channelID]
	if !ok {
		slot = make(chan struct{}, m.concurrency)
		m.slots[channelID] = slot
	}
	return slot
}

// acquireWait maps priority to the bounded rate-limit wait. Low priority
// never waits.
func (m *Manager) acquireWait(priority core.Priority) time.Duration {
	timeout := m.config.RateLimit.AcquireTimeout
	switch priority {
	case core.PriorityLow:
		return 0
	case core.PriorityHigh, core.PriorityUrgent:
		return 2 * timeout
	default:
		return timeout
	}
}

func (m *Manager) audit(ctx context.Context, req SendRequest, result core.NotificationResult) {
	status := core.AuditStatusSent
	if !result.Success {
		status = core.AuditStatusFailed
	}
	entry := core.AuditEntry{
		ID:             m.newID(),
		NotificationID: result.NotificationID,
		ChannelID:      result.ChannelID,
		Status:         status,
		ErrorKind:      result.ErrorKind,
		Error:          result.Error,
		Attempts:       result.Attempts,
		Priority:       req.Priority,
		Level:          req.Message.Level(),
		CorrelationID:  req.Message.CorrelationID(),
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
	}
	if err := m.auditLog.Append(ctx, entry); err != nil {
		m.observer.Log(ctx, "error", "audit append failed", map[string]any{
			"notification_id": result.NotificationID,
			"channel_id":      result.ChannelID,
			"error":           err.Error(),
		})
	}
}

// dedupeChannels collapses repeated ids. A blank id rejects the whole
// request, so every requested channel gets a result.
func dedupeChannels(channels []string) ([]string, error) {
	if len(channels) == 0 {
		return nil, badRequest("dispatch: at least one channel is required")
	}
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for index, channelID := range channels {
		channelID = strings.TrimSpace(channelID)
		if channelID == "" {
			return nil, badRequest(fmt.Sprintf("dispatch: channel id at position %d is blank", index))
		}
		if _, ok := seen[channelID]; ok {
			continue
		}
		seen[channelID] = struct{}{}
		out = append(out, channelID)
	}
	return out, nil
}
