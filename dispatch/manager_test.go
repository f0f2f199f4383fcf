package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/retry"
)

type stubAdapter struct {
	kind  core.ChannelKind
	limit core.RateLimitSpec

	mu      sync.Mutex
	calls   int
	targets []core.Target
	errs    []error
	started chan struct{}
	release chan struct{}
}

func (a *stubAdapter) Kind() core.ChannelKind        { return a.kind }
func (a *stubAdapter) ValidateConfig() error         { return nil }
func (a *stubAdapter) RateLimit() core.RateLimitSpec { return a.limit }

func (a *stubAdapter) Send(ctx context.Context, _ core.NotificationMessage, target core.Target) error {
	a.mu.Lock()
	a.calls++
	a.targets = append(a.targets, target)
	var err error
	if len(a.errs) > 0 {
		index := a.calls - 1
		if index >= len(a.errs) {
			index = len(a.errs) - 1
		}
		err = a.errs[index]
	}
	started, release := a.started, a.release
	a.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type stubFactory struct {
	adapters map[string]*stubAdapter
}

func (f *stubFactory) Build(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
	adapter, ok := f.adapters[cfg.ID]
	if !ok {
		return nil, fmt.Errorf("stub: no adapter for %q", cfg.ID)
	}
	return adapter, nil
}

type stubPreferenceStore struct {
	prefs map[string][]core.UserPreference
}

func (s stubPreferenceStore) ListPreferences(_ context.Context, userID string) ([]core.UserPreference, error) {
	return s.prefs[userID], nil
}

type stubChannelStore struct {
	channels []core.ChannelConfig
	healthy  map[string]bool
	writeErr error
}

func (s *stubChannelStore) SaveChannel(_ context.Context, cfg core.ChannelConfig) (core.ChannelConfig, error) {
	s.channels = append(s.channels, cfg)
	return cfg, nil
}

func (s *stubChannelStore) GetChannel(_ context.Context, id string) (core.ChannelConfig, error) {
	for _, cfg := range s.channels {
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return core.ChannelConfig{}, fmt.Errorf("stub: channel %q not found", id)
}

func (s *stubChannelStore) ListChannels(context.Context) ([]core.ChannelConfig, error) {
	return append([]core.ChannelConfig(nil), s.channels...), nil
}

func (s *stubChannelStore) SetChannelEnabled(context.Context, string, bool) error { return s.writeErr }

func (s *stubChannelStore) SetChannelHealthy(_ context.Context, id string, healthy bool) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.healthy == nil {
		s.healthy = map[string]bool{}
	}
	s.healthy[id] = healthy
	return nil
}

var testNow = time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

func noSleepPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Factor:      2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func newTestManager(t *testing.T, adapters map[string]*stubAdapter, opts ...Option) *Manager {
	t.Helper()
	sequence := 0
	var mu sync.Mutex
	base := []Option{
		WithRetryPolicy(noSleepPolicy(3)),
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			sequence++
			return fmt.Sprintf("id-%d", sequence)
		}),
	}
	manager, err := NewManager(&stubFactory{adapters: adapters}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func configure(t *testing.T, manager *Manager, id string, kind core.ChannelKind, spec core.RateLimitSpec) {
	t.Helper()
	if _, err := manager.ConfigureChannel(context.Background(), core.ChannelConfig{
		ID:        id,
		Kind:      kind,
		Enabled:   true,
		RateLimit: spec,
	}); err != nil {
		t.Fatalf("configure %s: %v", id, err)
	}
}

func testMessage(t *testing.T, level core.Level) core.NotificationMessage {
	t.Helper()
	msg, err := core.NewMessage(core.MessageInput{
		Title:         "Deploy finished",
		Body:          "api v2.3.1 is live",
		Level:         level,
		CorrelationID: "corr-1",
		CreatedAt:     testNow,
	})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	return msg
}

func TestManagerSend_MixedSuccessAndUnavailable(t *testing.T) {
	slack := &stubAdapter{kind: core.ChannelSlack}
	manager := newTestManager(t, map[string]*stubAdapter{"slack": slack})
	configure(t, manager, "slack", core.ChannelSlack, core.RateLimitSpec{})

	result, err := manager.Send(context.Background(), SendRequest{
		Channels: []string{"slack", "ghost", "slack"},
		Message:  testMessage(t, core.LevelInfo),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected one result per distinct channel, got %d", len(result.Results))
	}
	if delivered, _ := result.Result("slack"); !delivered.Success || delivered.Attempts != 1 {
		t.Fatalf("expected slack success after one attempt, got %#v", delivered)
	}
	ghost, _ := result.Result("ghost")
	if ghost.Success || ghost.ErrorKind != core.ErrorKindChannelUnavailable {
		t.Fatalf("expected ghost channel_unavailable, got %#v", ghost)
	}
	if result.Success() {
		t.Fatalf("expected aggregate to report partial failure")
	}
	if slack.callCount() != 1 {
		t.Fatalf("expected duplicate channel ids to collapse to one send, got %d", slack.callCount())
	}

	entries, err := manager.AuditLog().List(context.Background(), core.AuditFilter{NotificationID: result.NotificationID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.CorrelationID != "corr-1" || entry.Priority != core.PriorityNormal {
			t.Fatalf("unexpected audit entry: %#v", entry)
		}
	}
}

func TestManagerSend_RetryableFailureExhaustsMaxRetries(t *testing.T) {
	email := &stubAdapter{kind: core.ChannelEmail, errs: []error{core.NewKindError(core.ErrorKindProvider, "smtp: 451 try later")}}
	manager := newTestManager(t, map[string]*stubAdapter{"email": email})
	configure(t, manager, "email", core.ChannelEmail, core.RateLimitSpec{})

	result, err := manager.Send(context.Background(), SendRequest{
		Channels:   []string{"email"},
		Message:    testMessage(t, core.LevelWarning),
		MaxRetries: 4,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got := result.Results[0]
	if got.ErrorKind != core.ErrorKindMaxRetriesExceeded || got.Attempts != 4 {
		t.Fatalf("expected max_retries_exceeded after 4 attempts, got %#v", got)
	}
	if email.callCount() != 4 {
		t.Fatalf("expected 4 adapter calls, got %d", email.callCount())
	}
}

func TestManagerSend_FormatErrorIsNotRetried(t *testing.T) {
	teams := &stubAdapter{kind: core.ChannelTeams, errs: []error{core.NewKindError(core.ErrorKindFormat, "teams: bad override")}}
	manager := newTestManager(t, map[string]*stubAdapter{"teams": teams})
	configure(t, manager, "teams", core.ChannelTeams, core.RateLimitSpec{})

	result, _ := manager.Send(context.Background(), SendRequest{Channels: []string{"teams"}, Message: testMessage(t, core.LevelInfo)})
	if result.Results[0].ErrorKind != core.ErrorKindFormat || teams.callCount() != 1 {
		t.Fatalf("expected single format_error attempt, got %#v (%d calls)", result.Results[0], teams.callCount())
	}
}

func TestManagerSend_AuthFailureMarksChannelUnhealthy(t *testing.T) {
	slack := &stubAdapter{kind: core.ChannelSlack, errs: []error{core.NewKindError(core.ErrorKindAuthFailure, "slack: invalid_auth")}}
	store := &stubChannelStore{}
	manager := newTestManager(t, map[string]*stubAdapter{"slack": slack}, WithChannelStore(store))
	configure(t, manager, "slack", core.ChannelSlack, core.RateLimitSpec{})

	first, _ := manager.Send(context.Background(), SendRequest{Channels: []string{"slack"}, Message: testMessage(t, core.LevelError)})
	if first.Results[0].ErrorKind != core.ErrorKindAuthFailure {
		t.Fatalf("expected auth_failure, got %#v", first.Results[0])
	}
	cfg, _ := manager.Channel("slack")
	if cfg.Healthy {
		t.Fatalf("expected channel to be marked unhealthy")
	}
	if healthy, ok := store.healthy["slack"]; !ok || healthy {
		t.Fatalf("expected unhealthy flag persisted, got %#v", store.healthy)
	}

	second, _ := manager.Send(context.Background(), SendRequest{Channels: []string{"slack"}, Message: testMessage(t, core.LevelError)})
	if second.Results[0].ErrorKind != core.ErrorKindChannelUnavailable {
		t.Fatalf("expected unhealthy channel to be unavailable, got %#v", second.Results[0])
	}
	if slack.callCount() != 1 {
		t.Fatalf("expected no send to an unhealthy channel, got %d calls", slack.callCount())
	}
}

func TestManagerSend_RateLimitedWhenNoPermit(t *testing.T) {
	sms := &stubAdapter{kind: core.ChannelSMS}
	manager := newTestManager(t, map[string]*stubAdapter{"sms": sms})
	configure(t, manager, "sms", core.ChannelSMS, core.RateLimitSpec{Permits: 1, Interval: time.Hour, Burst: 1})

	req := SendRequest{Channels: []string{"sms"}, Message: testMessage(t, core.LevelInfo), Priority: core.PriorityLow}
	first, _ := manager.Send(context.Background(), req)
	if !first.Success() {
		t.Fatalf("expected first send to take the only permit, got %#v", first.Results[0])
	}
	second, _ := manager.Send(context.Background(), req)
	got := second.Results[0]
	if got.ErrorKind != core.ErrorKindRateLimited || got.Attempts != 0 {
		t.Fatalf("expected rate_limited with no attempts, got %#v", got)
	}
	if sms.callCount() != 1 {
		t.Fatalf("expected the adapter to be skipped, got %d calls", sms.callCount())
	}
}

func TestManagerSend_ProviderRetryHintPenalizesChannel(t *testing.T) {
	hinted := core.NewKindError(core.ErrorKindProvider, "slack: 429", map[string]any{"retry_after_ms": int64(60000)})
	slack := &stubAdapter{kind: core.ChannelSlack, errs: []error{hinted}}
	manager := newTestManager(t, map[string]*stubAdapter{"slack": slack})
	configure(t, manager, "slack", core.ChannelSlack, core.RateLimitSpec{Permits: 10, Interval: time.Second, Burst: 10})

	_, _ = manager.Send(context.Background(), SendRequest{Channels: []string{"slack"}, Message: testMessage(t, core.LevelInfo), MaxRetries: 1})
	if manager.Limiter().TryAcquire("slack") {
		t.Fatalf("expected provider retry hint to block further permits")
	}
}

func TestManagerSend_SlowChannelDoesNotBlockSiblings(t *testing.T) {
	slow := &stubAdapter{kind: core.ChannelEmail, started: make(chan struct{}), release: make(chan struct{})}
	fast := &stubAdapter{kind: core.ChannelSlack}
	manager := newTestManager(t, map[string]*stubAdapter{"email": slow, "slack": fast})
	configure(t, manager, "email", core.ChannelEmail, core.RateLimitSpec{})
	configure(t, manager, "slack", core.ChannelSlack, core.RateLimitSpec{})

	done := make(chan core.SendResult, 1)
	go func() {
		result, _ := manager.Send(context.Background(), SendRequest{Channels: []string{"email", "slack"}, Message: testMessage(t, core.LevelInfo)})
		done <- result
	}()

	select {
	case <-slow.started:
	case <-time.After(time.Second):
		t.Fatalf("slow channel never started")
	}
	deadline := time.Now().Add(time.Second)
	for fast.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("fast channel was blocked by the slow channel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(slow.release)

	result := <-done
	if !result.Success() {
		t.Fatalf("expected both channels to succeed, got %#v", result.Failures())
	}
}

func TestManagerSend_SeparateSendsStayIndependent(t *testing.T) {
	slow := &stubAdapter{kind: core.ChannelEmail, started: make(chan struct{}), release: make(chan struct{})}
	fast := &stubAdapter{kind: core.ChannelSlack}
	cfg := core.DefaultConfig()
	cfg.Dispatch.MaxConcurrency = 1
	manager := newTestManager(t, map[string]*stubAdapter{"email": slow, "slack": fast}, WithConfig(cfg))
	configure(t, manager, "email", core.ChannelEmail, core.RateLimitSpec{})
	configure(t, manager, "slack", core.ChannelSlack, core.RateLimitSpec{})

	slowDone := make(chan core.SendResult, 1)
	go func() {
		result, _ := manager.Send(context.Background(), SendRequest{Channels: []string{"email"}, Message: testMessage(t, core.LevelInfo)})
		slowDone <- result
	}()
	select {
	case <-slow.started:
	case <-time.After(time.Second):
		t.Fatalf("slow channel never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := manager.Send(ctx, SendRequest{Channels: []string{"slack"}, Message: testMessage(t, core.LevelInfo)})
	if err != nil || !result.Success() {
		t.Fatalf("expected unrelated send to complete while email is in flight, got %#v (%v)", result.Results, err)
	}
	close(slow.release)
	if result := <-slowDone; !result.Success() {
		t.Fatalf("expected slow send to finish, got %#v", result.Failures())
	}
}

func TestManagerSend_BackoffDoesNotHoldChannelSlot(t *testing.T) {
	flaky := &stubAdapter{kind: core.ChannelWebhook, errs: []error{
		core.NewKindError(core.ErrorKindProvider, "upstream 503"),
		nil,
	}}
	sleeping := make(chan struct{})
	wake := make(chan struct{})
	policy := noSleepPolicy(2)
	policy.Sleep = func(ctx context.Context, _ time.Duration) error {
		close(sleeping)
		select {
		case <-wake:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cfg := core.DefaultConfig()
	cfg.Dispatch.MaxConcurrency = 1
	manager := newTestManager(t, map[string]*stubAdapter{"hook": flaky}, WithConfig(cfg), WithRetryPolicy(policy))
	configure(t, manager, "hook", core.ChannelWebhook, core.RateLimitSpec{})

	retried := make(chan core.SendResult, 1)
	go func() {
		result, _ := manager.Send(context.Background(), SendRequest{Channels: []string{"hook"}, Message: testMessage(t, core.LevelInfo)})
		retried <- result
	}()
	select {
	case <-sleeping:
	case <-time.After(time.Second):
		t.Fatalf("first attempt never entered backoff")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, _ := manager.Send(ctx, SendRequest{Channels: []string{"hook"}, Message: testMessage(t, core.LevelInfo), MaxRetries: 1})
	if !result.Success() {
		t.Fatalf("expected a send during another send's backoff to proceed, got %#v", result.Results)
	}
	close(wake)
	if result := <-retried; !result.Success() || result.Results[0].Attempts != 2 {
		t.Fatalf("expected retried send to succeed on attempt 2, got %#v", result.Results)
	}
}

func TestManagerSend_DeadlineSurfacesTimeout(t *testing.T) {
	slow := &stubAdapter{kind: core.ChannelWebhook, release: make(chan struct{})}
	manager := newTestManager(t, map[string]*stubAdapter{"hook": slow})
	configure(t, manager, "hook", core.ChannelWebhook, core.RateLimitSpec{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result, _ := manager.Send(ctx, SendRequest{Channels: []string{"hook"}, Message: testMessage(t, core.LevelInfo)})
	if result.Results[0].ErrorKind != core.ErrorKindTimeout {
		t.Fatalf("expected timeout, got %#v", result.Results[0])
	}
}

func TestManagerSend_RejectsEmptyRequests(t *testing.T) {
	manager := newTestManager(t, map[string]*stubAdapter{})
	if _, err := manager.Send(context.Background(), SendRequest{Channels: []string{"slack"}}); err == nil {
		t.Fatalf("expected missing message to fail")
	}
	for _, channels := range [][]string{nil, {" "}, {"slack", ""}} {
		_, err := manager.Send(context.Background(), SendRequest{Channels: channels, Message: testMessage(t, core.LevelInfo)})
		var rich *goerrors.Error
		if !errors.As(err, &rich) || rich.TextCode != core.ServiceErrorBadInput {
			t.Fatalf("channels %q: expected bad input, got %v", channels, err)
		}
	}
}

func TestManager_DisableChannelMakesItUnavailable(t *testing.T) {
	teams := &stubAdapter{kind: core.ChannelTeams}
	manager := newTestManager(t, map[string]*stubAdapter{"teams": teams})
	configure(t, manager, "teams", core.ChannelTeams, core.RateLimitSpec{})

	if err := manager.DisableChannel(context.Background(), "teams"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	result, _ := manager.Broadcast(context.Background(), "teams", testMessage(t, core.LevelInfo))
	if result.Results[0].ErrorKind != core.ErrorKindChannelUnavailable {
		t.Fatalf("expected disabled channel to be unavailable, got %#v", result.Results[0])
	}
	if cfg, ok := manager.Channel("teams"); !ok || cfg.Enabled {
		t.Fatalf("expected disabled config to be retained, got %#v", cfg)
	}
	if err := manager.DisableChannel(context.Background(), "missing"); core.MapError(err).TextCode != core.ServiceErrorNotFound {
		t.Fatalf("expected not found for unknown channel, got %v", err)
	}
}

func TestManager_StoreFailureLeavesChannelStateUnchanged(t *testing.T) {
	teams := &stubAdapter{kind: core.ChannelTeams}
	store := &stubChannelStore{}
	manager := newTestManager(t, map[string]*stubAdapter{"teams": teams}, WithChannelStore(store))
	configure(t, manager, "teams", core.ChannelTeams, core.RateLimitSpec{})

	store.writeErr = errors.New("database is locked")
	if err := manager.DisableChannel(context.Background(), "teams"); err == nil {
		t.Fatalf("expected store failure to surface")
	}
	if err := manager.MarkUnhealthy(context.Background(), "teams", "401"); err == nil {
		t.Fatalf("expected store failure to surface")
	}
	cfg, ok := manager.Channel("teams")
	if !ok || !cfg.Enabled || !cfg.Healthy {
		t.Fatalf("expected in-memory state to match the store, got %#v", cfg)
	}
	result, _ := manager.Broadcast(context.Background(), "teams", testMessage(t, core.LevelInfo))
	if !result.Success() {
		t.Fatalf("expected channel to stay usable, got %#v", result.Results)
	}
}

func TestManager_SendToUserAppliesPreferences(t *testing.T) {
	slack := &stubAdapter{kind: core.ChannelSlack}
	sms := &stubAdapter{kind: core.ChannelSMS}
	email := &stubAdapter{kind: core.ChannelEmail}
	prefs := stubPreferenceStore{prefs: map[string][]core.UserPreference{
		"u-1": {
			{UserID: "u-1", ChannelID: "slack", MinLevel: core.LevelWarning},
			{UserID: "u-1", ChannelID: "sms", Address: "+15550001111", QuietHours: core.QuietHours{Start: "11:00", End: "13:00"}},
			{UserID: "u-1", ChannelID: "email", Address: "ops@example.com"},
		},
	}}
	manager := newTestManager(t, map[string]*stubAdapter{"slack": slack, "sms": sms, "email": email}, WithPreferenceStore(prefs))
	configure(t, manager, "slack", core.ChannelSlack, core.RateLimitSpec{})
	configure(t, manager, "sms", core.ChannelSMS, core.RateLimitSpec{})
	configure(t, manager, "email", core.ChannelEmail, core.RateLimitSpec{})

	result, err := manager.SendToUser(context.Background(), "u-1", testMessage(t, core.LevelInfo))
	if err != nil {
		t.Fatalf("send to user: %v", err)
	}
	if len(result.Results) != 1 || result.Results[0].ChannelID != "email" {
		t.Fatalf("expected only email to be eligible, got %#v", result.Results)
	}
	if email.targets[0].Address != "ops@example.com" {
		t.Fatalf("expected preference address, got %#v", email.targets)
	}

	critical, err := manager.SendToUser(context.Background(), "u-1", testMessage(t, core.LevelCritical))
	if err != nil {
		t.Fatalf("send critical: %v", err)
	}
	if len(critical.Results) != 3 {
		t.Fatalf("expected critical to bypass quiet hours and min level, got %#v", critical.Results)
	}

	_, err = manager.SendToUser(context.Background(), "u-unknown", testMessage(t, core.LevelInfo))
	if core.KindOf(err) != core.ErrorKindChannelUnavailable {
		t.Fatalf("expected channel_unavailable for user without channels, got %v", err)
	}
}

func TestManager_LoadChannelsSkipsBrokenConfigs(t *testing.T) {
	store := &stubChannelStore{channels: []core.ChannelConfig{
		{ID: "slack", Kind: core.ChannelSlack, Enabled: true, Healthy: true},
		{ID: "orphan", Kind: core.ChannelTeams, Enabled: true, Healthy: true},
	}}
	manager := newTestManager(t, map[string]*stubAdapter{"slack": {kind: core.ChannelSlack}})

	loaded, err := manager.LoadChannels(context.Background(), store)
	if loaded != 1 {
		t.Fatalf("expected one loaded channel, got %d", loaded)
	}
	if err == nil {
		t.Fatalf("expected error describing the skipped channel")
	}
	if len(manager.Channels()) != 1 {
		t.Fatalf("expected registry to hold only the loadable channel")
	}
}
