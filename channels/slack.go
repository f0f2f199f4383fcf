package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/transport"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackAdapter posts Block Kit messages either to an incoming webhook URL or,
// when a bot token is configured, through chat.postMessage.
type SlackAdapter struct {
	Client     *transport.Client
	WebhookURL string
	BotToken   string
	Channel    string
	APIURL     string
}

func NewSlackAdapter(cfg core.ChannelConfig, client *transport.Client) (*SlackAdapter, error) {
	if client == nil {
		client = transport.NewClient(nil)
	}
	adapter := &SlackAdapter{
		Client:     client,
		WebhookURL: cfg.Credential("webhook_url"),
		BotToken:   cfg.Credential("bot_token"),
		Channel:    cfg.Setting("channel"),
		APIURL:     cfg.Setting("api_url"),
	}
	if adapter.APIURL == "" {
		adapter.APIURL = slackPostMessageURL
	}
	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (*SlackAdapter) Kind() core.ChannelKind { return core.ChannelSlack }

func (a *SlackAdapter) ValidateConfig() error {
	if a == nil {
		return missingConfig(core.ChannelSlack, "adapter")
	}
	if a.WebhookURL == "" && a.BotToken == "" {
		return missingConfig(core.ChannelSlack, "webhook_url or bot_token")
	}
	return nil
}

// RateLimit follows Slack's one message per second per channel guidance.
func (*SlackAdapter) RateLimit() core.RateLimitSpec {
	return core.RateLimitSpec{Permits: 1, Interval: time.Second, Burst: 3}
}

func (a *SlackAdapter) Send(ctx context.Context, msg core.NotificationMessage, target core.Target) error {
	if err := a.ValidateConfig(); err != nil {
		return err
	}
	payload, err := a.payload(msg)
	if err != nil {
		return err
	}

	if a.BotToken == "" {
		_, err := a.Client.PostJSON(ctx, a.WebhookURL, payload, nil)
		return err
	}

	channel, err := requireAddress(core.ChannelSlack, a.Channel, target)
	if err != nil {
		return err
	}
	payload["channel"] = channel
	res, err := a.Client.PostJSON(ctx, a.APIURL, payload, map[string]string{
		"Authorization": "Bearer " + a.BotToken,
	})
	if err != nil {
		return err
	}
	return classifySlackAPIResponse(res.Body)
}

func (a *SlackAdapter) payload(msg core.NotificationMessage) (map[string]any, error) {
	override := map[string]any{}
	ok, err := decodeOverride(msg, core.ChannelSlack, &override)
	if err != nil {
		return nil, err
	}
	if ok {
		if _, hasText := override["text"]; !hasText {
			override["text"] = fallbackText(msg)
		}
		return override, nil
	}
	return map[string]any{
		"text":   fallbackText(msg),
		"blocks": slackBlocks(msg),
	}, nil
}

func fallbackText(msg core.NotificationMessage) string {
	if msg.Title() != "" {
		return levelEmoji(msg.Level()) + " " + msg.Title()
	}
	return truncateRunes(msg.Body(), 150)
}

func slackBlocks(msg core.NotificationMessage) []map[string]any {
	blocks := []map[string]any{}
	if title := msg.Title(); title != "" {
		blocks = append(blocks, map[string]any{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": truncateRunes(levelEmoji(msg.Level())+" "+title, 150), "emoji": true},
		})
	}
	if body := msg.Body(); body != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": truncateRunes(body, 3000)},
		})
	}
	if fields := msg.Fields(); len(fields) > 0 {
		items := make([]map[string]any, 0, len(fields))
		for _, field := range fields {
			items = append(items, map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s*\n%s", field.Key, field.Value),
			})
		}
		// Slack caps a section at ten fields.
		for start := 0; start < len(items); start += 10 {
			end := min(start+10, len(items))
			blocks = append(blocks, map[string]any{"type": "section", "fields": items[start:end]})
		}
	}
	if actions := msg.Actions(); len(actions) > 0 {
		elements := make([]map[string]any, 0, len(actions))
		for _, action := range actions {
			elements = append(elements, map[string]any{
				"type": "button",
				"text": map[string]any{"type": "plain_text", "text": truncateRunes(action.Label, 75)},
				"url":  action.URL,
			})
		}
		blocks = append(blocks, map[string]any{"type": "actions", "elements": elements})
	}
	footer := []map[string]any{}
	if source := msg.Source(); source != "" {
		footer = append(footer, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("%s `%s`", msg.SourceKind(), source)})
	}
	if correlationID := msg.CorrelationID(); correlationID != "" {
		footer = append(footer, map[string]any{"type": "mrkdwn", "text": "correlation `" + correlationID + "`"})
	}
	if len(footer) > 0 {
		blocks = append(blocks, map[string]any{"type": "context", "elements": footer})
	}
	return blocks
}

type slackAPIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// classifySlackAPIResponse inspects the Web API envelope, which reports
// failures with HTTP 200 and ok=false.
func classifySlackAPIResponse(body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	var res slackAPIResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return core.WrapKind(err, core.ErrorKindProvider, "slack: unreadable api response")
	}
	if res.OK {
		return nil
	}
	metadata := map[string]any{"slack_error": res.Error}
	message := "slack: api error " + res.Error
	switch res.Error {
	case "invalid_auth", "not_authed", "account_inactive", "token_revoked", "token_expired", "missing_scope", "not_in_channel":
		return core.NewKindError(core.ErrorKindAuthFailure, message, metadata)
	case "ratelimited", "rate_limited", "internal_error", "fatal_error", "service_unavailable", "request_timeout":
		return core.NewKindError(core.ErrorKindProvider, message, metadata)
	case "channel_not_found", "is_archived":
		return core.NewKindError(core.ErrorKindChannelUnavailable, message, metadata)
	default:
		return core.NewKindError(core.ErrorKindFormat, message, metadata)
	}
}

var _ core.ChannelAdapter = (*SlackAdapter)(nil)
