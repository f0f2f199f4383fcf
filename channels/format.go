package channels

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-notify/core"
)

// decodeOverride unmarshals the channel specific override for kind into
// target. A present but malformed override is a format error.
func decodeOverride(msg core.NotificationMessage, kind core.ChannelKind, target any) (bool, error) {
	raw, ok := msg.Override(kind)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, core.WrapKind(err, core.ErrorKindFormat, fmt.Sprintf("%s: malformed override payload", kind), map[string]any{
			"channel_kind": string(kind),
		})
	}
	return true, nil
}

func levelEmoji(level core.Level) string {
	switch level {
	case core.LevelDebug:
		return "🔍"
	case core.LevelSuccess:
		return "✅"
	case core.LevelWarning:
		return "⚠️"
	case core.LevelError:
		return "❌"
	case core.LevelCritical:
		return "🚨"
	default:
		return "ℹ️"
	}
}

func levelColor(level core.Level) string {
	switch level {
	case core.LevelDebug:
		return "808080"
	case core.LevelSuccess:
		return "2EB67D"
	case core.LevelWarning:
		return "ECB22E"
	case core.LevelError:
		return "E01E5A"
	case core.LevelCritical:
		return "8B0000"
	default:
		return "36C5F0"
	}
}

// plainText renders msg for transports without rich formatting.
func plainText(msg core.NotificationMessage) string {
	var b strings.Builder
	title := msg.Title()
	if title != "" {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(msg.Level())), title)
	}
	if body := msg.Body(); body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(body)
		b.WriteString("\n")
	}
	fields := msg.Fields()
	if len(fields) > 0 {
		b.WriteString("\n")
		for _, field := range fields {
			fmt.Fprintf(&b, "%s: %s\n", field.Key, field.Value)
		}
	}
	actions := msg.Actions()
	if len(actions) > 0 {
		b.WriteString("\n")
		for _, action := range actions {
			fmt.Fprintf(&b, "%s: %s\n", action.Label, action.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// subject is the one line summary used by email and SMS.
func subject(msg core.NotificationMessage) string {
	if title := msg.Title(); title != "" {
		return title
	}
	body := msg.Body()
	if line, _, ok := strings.Cut(body, "\n"); ok {
		body = line
	}
	return truncateRunes(body, 78)
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}

func missingConfig(kind core.ChannelKind, field string) error {
	return core.NewKindError(core.ErrorKindChannelUnavailable, fmt.Sprintf("%s: %s is required", kind, field), map[string]any{
		"channel_kind": string(kind),
		"field":        field,
	})
}

func requireAddress(kind core.ChannelKind, configured string, target core.Target) (string, error) {
	if address := strings.TrimSpace(target.Address); address != "" {
		return address, nil
	}
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, nil
	}
	return "", core.NewKindError(core.ErrorKindFormat, fmt.Sprintf("%s: recipient address is required", kind), map[string]any{
		"channel_kind": string(kind),
	})
}
