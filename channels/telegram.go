package channels

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/transport"
	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"github.com/mymmrac/telego/telegoutil"
)

const telegramMaxMessageLength = 4096

// TelegramSender is the subset of *telego.Bot used by the adapter.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type TelegramAdapter struct {
	Bot    TelegramSender
	ChatID string
}

func NewTelegramAdapter(cfg core.ChannelConfig, bot TelegramSender) (*TelegramAdapter, error) {
	if bot == nil {
		token := cfg.Credential("bot_token")
		if token == "" {
			return nil, missingConfig(core.ChannelTelegram, "bot_token")
		}
		options := []telego.BotOption{telego.WithDiscardLogger()}
		if server := cfg.Setting("api_url"); server != "" {
			options = append(options, telego.WithAPIServer(server))
		}
		built, err := telego.NewBot(token, options...)
		if err != nil {
			return nil, core.WrapKind(err, core.ErrorKindAuthFailure, "telegram: invalid bot token")
		}
		bot = built
	}
	adapter := &TelegramAdapter{Bot: bot, ChatID: cfg.Setting("chat_id")}
	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (*TelegramAdapter) Kind() core.ChannelKind { return core.ChannelTelegram }

func (a *TelegramAdapter) ValidateConfig() error {
	if a == nil || a.Bot == nil {
		return missingConfig(core.ChannelTelegram, "bot_token")
	}
	return nil
}

// RateLimit follows the Bot API limit of roughly one message per second per
// chat.
func (*TelegramAdapter) RateLimit() core.RateLimitSpec {
	return core.RateLimitSpec{Permits: 1, Interval: time.Second, Burst: 1}
}

type telegramOverride struct {
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (a *TelegramAdapter) Send(ctx context.Context, msg core.NotificationMessage, target core.Target) error {
	if err := a.ValidateConfig(); err != nil {
		return err
	}
	address, err := requireAddress(core.ChannelTelegram, a.ChatID, target)
	if err != nil {
		return err
	}
	params, err := telegramParams(msg, address)
	if err != nil {
		return err
	}
	if _, err := a.Bot.SendMessage(ctx, params); err != nil {
		return classifyTelegramError(err)
	}
	return nil
}

func telegramParams(msg core.NotificationMessage, address string) (*telego.SendMessageParams, error) {
	chatID := telegoutil.Username(address)
	if numeric, err := strconv.ParseInt(address, 10, 64); err == nil {
		chatID = telegoutil.ID(numeric)
	}

	override := telegramOverride{}
	ok, err := decodeOverride(msg, core.ChannelTelegram, &override)
	if err != nil {
		return nil, err
	}
	if ok && strings.TrimSpace(override.Text) != "" {
		params := telegoutil.Message(chatID, truncateRunes(override.Text, telegramMaxMessageLength))
		if override.ParseMode != "" {
			params = params.WithParseMode(override.ParseMode)
		}
		return params, nil
	}
	return telegoutil.Message(chatID, truncateRunes(telegramHTML(msg), telegramMaxMessageLength)).
		WithParseMode(telego.ModeHTML), nil
}

func telegramHTML(msg core.NotificationMessage) string {
	var b strings.Builder
	if title := msg.Title(); title != "" {
		fmt.Fprintf(&b, "%s <b>%s</b>\n", levelEmoji(msg.Level()), html.EscapeString(title))
	}
	if body := msg.Body(); body != "" {
		b.WriteString(html.EscapeString(body))
		b.WriteString("\n")
	}
	for _, field := range msg.Fields() {
		fmt.Fprintf(&b, "\n<b>%s:</b> %s", html.EscapeString(field.Key), html.EscapeString(field.Value))
	}
	for _, action := range msg.Actions() {
		fmt.Fprintf(&b, "\n<a href=\"%s\">%s</a>", html.EscapeString(action.URL), html.EscapeString(action.Label))
	}
	return strings.TrimSpace(b.String())
}

func classifyTelegramError(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		metadata := map[string]any{"telegram_code": apiErr.ErrorCode}
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			metadata[transport.RetryAfterMetadataKey] = int64(apiErr.Parameters.RetryAfter) * 1000
		}
		switch {
		case apiErr.ErrorCode == 401 || apiErr.ErrorCode == 403:
			return core.WrapKind(err, core.ErrorKindAuthFailure, "telegram: bot is not authorized", metadata)
		case apiErr.ErrorCode == 429 || apiErr.ErrorCode >= 500:
			return core.WrapKind(err, core.ErrorKindProvider, "telegram: api temporarily unavailable", metadata)
		default:
			return core.WrapKind(err, core.ErrorKindFormat, "telegram: api rejected the message", metadata)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.WrapKind(err, core.ErrorKindTimeout, "telegram: deadline reached")
	}
	return core.WrapKind(err, core.ErrorKindProvider, "telegram: transport failure")
}

var _ core.ChannelAdapter = (*TelegramAdapter)(nil)
var _ TelegramSender = (*telego.Bot)(nil)
