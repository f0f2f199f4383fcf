package webhooks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-notify/core"
)

// Preset carries the header conventions of a well known webhook sender.
type Preset struct {
	Name            string
	AuthMethod      core.AuthMethod
	SignatureHeader string
	TimestampHeader string
	EventTypeHeader string
}

var presets = map[string]Preset{
	"github": {
		Name:            "github",
		AuthMethod:      core.AuthHMAC,
		SignatureHeader: "X-Hub-Signature-256",
		EventTypeHeader: "X-GitHub-Event",
	},
	"shopify": {
		Name:            "shopify",
		AuthMethod:      core.AuthHMAC,
		SignatureHeader: "X-Shopify-Hmac-Sha256",
		EventTypeHeader: "X-Shopify-Topic",
	},
	"meta": {
		Name:            "meta",
		AuthMethod:      core.AuthHMAC,
		SignatureHeader: "X-Hub-Signature-256",
	},
	"pinterest": {
		Name:            "pinterest",
		AuthMethod:      core.AuthHMAC,
		SignatureHeader: "X-Pinterest-Hmac-Sha256",
	},
	"google": {
		Name:            "google",
		AuthMethod:      core.AuthAPIKey,
		SignatureHeader: "X-Goog-Channel-Token",
		EventTypeHeader: "X-Goog-Resource-State",
	},
	"notify": {
		Name:            "notify",
		AuthMethod:      core.AuthHMAC,
		SignatureHeader: "X-Notify-Signature",
		TimestampHeader: "X-Notify-Timestamp",
		EventTypeHeader: "X-Notify-Event",
	},
}

// LookupPreset returns the named preset.
func LookupPreset(name string) (Preset, bool) {
	preset, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return preset, ok
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset fills the endpoint's auth method and header names from the
// preset. Values already set on the endpoint win.
func ApplyPreset(endpoint core.WebhookEndpoint, name string) (core.WebhookEndpoint, error) {
	preset, ok := LookupPreset(name)
	if !ok {
		return endpoint, fmt.Errorf("webhooks: preset %q not found", name)
	}
	if endpoint.AuthMethod == "" {
		endpoint.AuthMethod = preset.AuthMethod
	}
	if strings.TrimSpace(endpoint.SignatureHeader) == "" {
		endpoint.SignatureHeader = preset.SignatureHeader
	}
	if strings.TrimSpace(endpoint.TimestampHeader) == "" {
		endpoint.TimestampHeader = preset.TimestampHeader
	}
	if strings.TrimSpace(endpoint.EventTypeHeader) == "" {
		endpoint.EventTypeHeader = preset.EventTypeHeader
	}
	return endpoint, nil
}

var deliveryIDHeaders = []string{
	"X-Delivery-Id",
	"X-Request-Id",
	"X-Nonce",
	"X-GitHub-Delivery",
	"X-Shopify-Webhook-Id",
	"X-Pinterest-Delivery-Id",
	"X-Goog-Message-Number",
}

// deliveryID returns the sender supplied delivery id, if any. It is the
// replay key for deliveries that carry no per-request signature.
func deliveryID(headers map[string]string) string {
	for _, key := range deliveryIDHeaders {
		if value := headerValue(headers, key); value != "" {
			return value
		}
	}
	return ""
}
