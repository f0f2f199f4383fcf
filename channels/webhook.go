package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/security"
	"github.com/goliatone/go-notify/transport"
)

const (
	WebhookSignatureHeader = "X-Notify-Signature"
	WebhookTimestampHeader = "X-Notify-Timestamp"
)

// WebhookAdapter posts the JSON encoded message to an arbitrary URL. When a
// secret is configured the request carries an HMAC-SHA256 signature over
// "<timestamp>.<body>", the same scheme the inbound receiver verifies.
type WebhookAdapter struct {
	Client *transport.Client
	URL    string
	Secret string
	Now    func() time.Time
}

func NewWebhookAdapter(cfg core.ChannelConfig, client *transport.Client) (*WebhookAdapter, error) {
	if client == nil {
		client = transport.NewClient(nil)
	}
	target := cfg.Credential("url")
	if target == "" {
		target = cfg.Setting("url")
	}
	adapter := &WebhookAdapter{
		Client: client,
		URL:    target,
		Secret: cfg.Credential("secret"),
		Now:    func() time.Time { return time.Now().UTC() },
	}
	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (*WebhookAdapter) Kind() core.ChannelKind { return core.ChannelWebhook }

func (a *WebhookAdapter) ValidateConfig() error {
	if a == nil || a.URL == "" {
		return missingConfig(core.ChannelWebhook, "url")
	}
	return nil
}

func (*WebhookAdapter) RateLimit() core.RateLimitSpec {
	return core.RateLimitSpec{Permits: 10, Interval: time.Second, Burst: 10}
}

type webhookEnvelope struct {
	Message core.NotificationMessage `json:"message"`
	Target  string                   `json:"target,omitempty"`
	Custom  json.RawMessage          `json:"custom,omitempty"`
	SentAt  time.Time                `json:"sent_at"`
}

func (a *WebhookAdapter) Send(ctx context.Context, msg core.NotificationMessage, target core.Target) error {
	if err := a.ValidateConfig(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now().UTC()
	}
	envelope := webhookEnvelope{Message: msg, Target: target.Address, SentAt: now}
	if raw, ok := msg.Override(core.ChannelWebhook); ok {
		if !json.Valid(raw) {
			return core.NewKindError(core.ErrorKindFormat, "webhook: malformed override payload", map[string]any{"channel_kind": string(core.ChannelWebhook)})
		}
		envelope.Custom = raw
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return core.WrapKind(err, core.ErrorKindFormat, "webhook: encode payload")
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if a.Secret != "" {
		timestamp := strconv.FormatInt(now.Unix(), 10)
		headers[WebhookTimestampHeader] = timestamp
		headers[WebhookSignatureHeader] = security.Sign([]byte(a.Secret), timestamp, body)
	}
	if correlationID := msg.CorrelationID(); correlationID != "" {
		headers["X-Correlation-ID"] = correlationID
	}
	res, err := a.Client.Do(ctx, transport.Request{Method: http.MethodPost, URL: a.URL, Headers: headers, Body: body})
	if err != nil {
		return err
	}
	return a.Client.Classify(res)
}

var _ core.ChannelAdapter = (*WebhookAdapter)(nil)
