package channels

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/transport"
)

const (
	defaultSMSAPIURL  = "https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json"
	smsMaxCharacters  = 1600
	smsOverrideFormat = "body"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// SMSAdapter sends text messages through a Twilio compatible REST gateway
// using form encoded requests and basic auth.
type SMSAdapter struct {
	Client     *transport.Client
	AccountSID string
	AuthToken  string
	From       string
	To         string
	APIURL     string
}

func NewSMSAdapter(cfg core.ChannelConfig, client *transport.Client) (*SMSAdapter, error) {
	if client == nil {
		client = transport.NewClient(nil)
	}
	adapter := &SMSAdapter{
		Client:     client,
		AccountSID: cfg.Credential("account_sid"),
		AuthToken:  cfg.Credential("auth_token"),
		From:       cfg.Setting("from"),
		To:         cfg.Setting("to"),
		APIURL:     cfg.Setting("api_url"),
	}
	if adapter.APIURL == "" && adapter.AccountSID != "" {
		adapter.APIURL = fmt.Sprintf(defaultSMSAPIURL, url.PathEscape(adapter.AccountSID))
	}
	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (*SMSAdapter) Kind() core.ChannelKind { return core.ChannelSMS }

func (a *SMSAdapter) ValidateConfig() error {
	switch {
	case a == nil:
		return missingConfig(core.ChannelSMS, "adapter")
	case a.AccountSID == "":
		return missingConfig(core.ChannelSMS, "account_sid")
	case a.AuthToken == "":
		return missingConfig(core.ChannelSMS, "auth_token")
	case a.From == "":
		return missingConfig(core.ChannelSMS, "from")
	case a.APIURL == "":
		return missingConfig(core.ChannelSMS, "api_url")
	}
	return nil
}

func (*SMSAdapter) RateLimit() core.RateLimitSpec {
	return core.RateLimitSpec{Permits: 1, Interval: time.Second, Burst: 1}
}

type smsOverride struct {
	Body string `json:"body"`
}

func (a *SMSAdapter) Send(ctx context.Context, msg core.NotificationMessage, target core.Target) error {
	if err := a.ValidateConfig(); err != nil {
		return err
	}
	to, err := requireAddress(core.ChannelSMS, a.To, target)
	if err != nil {
		return err
	}
	if !e164Pattern.MatchString(to) {
		return core.NewKindError(core.ErrorKindFormat, "sms: recipient must be an E.164 number", map[string]any{"field": "to"})
	}
	text, err := smsText(msg)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", a.From)
	form.Set("Body", text)
	credentials := base64.StdEncoding.EncodeToString([]byte(a.AccountSID + ":" + a.AuthToken))
	res, err := a.Client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    a.APIURL,
		Headers: map[string]string{
			"Content-Type":  "application/x-www-form-urlencoded",
			"Authorization": "Basic " + credentials,
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return err
	}
	return a.Client.Classify(res)
}

func smsText(msg core.NotificationMessage) (string, error) {
	var override smsOverride
	ok, err := decodeOverride(msg, core.ChannelSMS, &override)
	if err != nil {
		return "", err
	}
	if ok {
		if strings.TrimSpace(override.Body) == "" {
			return "", core.NewKindError(core.ErrorKindFormat, "sms: override body is empty", map[string]any{"field": smsOverrideFormat})
		}
		return truncateRunes(override.Body, smsMaxCharacters), nil
	}
	text := subject(msg)
	if body := msg.Body(); body != "" && body != text {
		text += "\n" + body
	}
	return truncateRunes(text, smsMaxCharacters), nil
}

var _ core.ChannelAdapter = (*SMSAdapter)(nil)
