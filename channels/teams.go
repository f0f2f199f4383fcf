package channels

import (
	"context"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/transport"
)

// TeamsAdapter posts Adaptive Cards to a Teams incoming webhook or workflow
// URL.
type TeamsAdapter struct {
	Client     *transport.Client
	WebhookURL string
}

func NewTeamsAdapter(cfg core.ChannelConfig, client *transport.Client) (*TeamsAdapter, error) {
	if client == nil {
		client = transport.NewClient(nil)
	}
	adapter := &TeamsAdapter{Client: client, WebhookURL: cfg.Credential("webhook_url")}
	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (*TeamsAdapter) Kind() core.ChannelKind { return core.ChannelTeams }

func (a *TeamsAdapter) ValidateConfig() error {
	if a == nil || a.WebhookURL == "" {
		return missingConfig(core.ChannelTeams, "webhook_url")
	}
	return nil
}

func (*TeamsAdapter) RateLimit() core.RateLimitSpec {
	return core.RateLimitSpec{Permits: 4, Interval: time.Second, Burst: 4}
}

func (a *TeamsAdapter) Send(ctx context.Context, msg core.NotificationMessage, _ core.Target) error {
	if err := a.ValidateConfig(); err != nil {
		return err
	}
	payload := map[string]any{}
	ok, err := decodeOverride(msg, core.ChannelTeams, &payload)
	if err != nil {
		return err
	}
	if !ok {
		payload = teamsEnvelope(msg)
	}
	_, err = a.Client.PostJSON(ctx, a.WebhookURL, payload, nil)
	return err
}

func teamsEnvelope(msg core.NotificationMessage) map[string]any {
	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{{
			"contentType": "application/vnd.microsoft.card.adaptive",
			"content":     teamsCard(msg),
		}},
	}
}

func teamsCard(msg core.NotificationMessage) map[string]any {
	body := []map[string]any{}
	if title := msg.Title(); title != "" {
		body = append(body, map[string]any{
			"type":   "TextBlock",
			"text":   levelEmoji(msg.Level()) + " " + title,
			"weight": "Bolder",
			"size":   "Medium",
			"color":  teamsColor(msg.Level()),
			"wrap":   true,
		})
	}
	if text := msg.Body(); text != "" {
		body = append(body, map[string]any{"type": "TextBlock", "text": text, "wrap": true})
	}
	if fields := msg.Fields(); len(fields) > 0 {
		facts := make([]map[string]any, 0, len(fields))
		for _, field := range fields {
			facts = append(facts, map[string]any{"title": field.Key, "value": field.Value})
		}
		body = append(body, map[string]any{"type": "FactSet", "facts": facts})
	}
	card := map[string]any{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body":    body,
	}
	if actions := msg.Actions(); len(actions) > 0 {
		items := make([]map[string]any, 0, len(actions))
		for _, action := range actions {
			items = append(items, map[string]any{"type": "Action.OpenUrl", "title": action.Label, "url": action.URL})
		}
		card["actions"] = items
	}
	return card
}

func teamsColor(level core.Level) string {
	switch level {
	case core.LevelSuccess:
		return "Good"
	case core.LevelWarning:
		return "Warning"
	case core.LevelError, core.LevelCritical:
		return "Attention"
	default:
		return "Default"
	}
}

var _ core.ChannelAdapter = (*TeamsAdapter)(nil)
