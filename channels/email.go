package channels

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
)

// Mailer delivers a fully formed RFC 5322 message.
type Mailer interface {
	SendMail(ctx context.Context, from string, to []string, message []byte) error
}

// SMTPMailer speaks SMTP with optional implicit TLS and PLAIN auth.
type SMTPMailer struct {
	Addr     string
	Username string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

func (m SMTPMailer) SendMail(ctx context.Context, from string, to []string, message []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	host := smtpHost(m.Addr)
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if m.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", m.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", m.Addr)
	}
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = client.Close() }()

	if !m.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
				return err
			}
		}
	}
	if m.Username != "" || m.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", m.Username, m.Password, host)); err != nil {
				return err
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return err
		}
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write(message); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func smtpHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// EmailAdapter renders a multipart text/HTML message and hands it to a Mailer.
type EmailAdapter struct {
	Mailer        Mailer
	From          string
	To            string
	SubjectPrefix string
	Now           func() time.Time
}

func NewEmailAdapter(cfg core.ChannelConfig, mailer Mailer) (*EmailAdapter, error) {
	if mailer == nil {
		port := cfg.Setting("port")
		if port == "" {
			port = "587"
		}
		useTLS, _ := strconv.ParseBool(cfg.Setting("use_tls"))
		if cfg.Setting("host") != "" {
			mailer = SMTPMailer{
				Addr:     net.JoinHostPort(cfg.Setting("host"), port),
				Username: cfg.Credential("username"),
				Password: cfg.Credential("password"),
				UseTLS:   useTLS,
			}
		}
	}
	adapter := &EmailAdapter{
		Mailer:        mailer,
		From:          cfg.Setting("from"),
		To:            cfg.Setting("to"),
		SubjectPrefix: cfg.Setting("subject_prefix"),
		Now:           func() time.Time { return time.Now().UTC() },
	}
	if err := adapter.ValidateConfig(); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (*EmailAdapter) Kind() core.ChannelKind { return core.ChannelEmail }

func (a *EmailAdapter) ValidateConfig() error {
	switch {
	case a == nil || a.Mailer == nil:
		return missingConfig(core.ChannelEmail, "host")
	case a.From == "":
		return missingConfig(core.ChannelEmail, "from")
	}
	if _, err := mail.ParseAddress(a.From); err != nil {
		return core.WrapKind(err, core.ErrorKindChannelUnavailable, "email: from address is invalid")
	}
	return nil
}

func (*EmailAdapter) RateLimit() core.RateLimitSpec {
	return core.RateLimitSpec{Permits: 10, Interval: time.Second, Burst: 10}
}

type emailOverride struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

func (a *EmailAdapter) Send(ctx context.Context, msg core.NotificationMessage, target core.Target) error {
	if err := a.ValidateConfig(); err != nil {
		return err
	}
	raw, err := requireAddress(core.ChannelEmail, a.To, target)
	if err != nil {
		return err
	}
	recipients, err := mail.ParseAddressList(raw)
	if err != nil {
		return core.WrapKind(err, core.ErrorKindFormat, "email: recipient address is invalid")
	}
	to := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		to = append(to, recipient.Address)
	}
	from, _ := mail.ParseAddress(a.From)

	content := emailOverride{
		Subject: strings.TrimSpace(a.SubjectPrefix + " " + subject(msg)),
		Text:    plainText(msg),
		HTML:    emailHTML(msg),
	}
	override := emailOverride{}
	ok, err := decodeOverride(msg, core.ChannelEmail, &override)
	if err != nil {
		return err
	}
	if ok {
		if override.Subject != "" {
			content.Subject = override.Subject
		}
		if override.Text != "" {
			content.Text = override.Text
		}
		if override.HTML != "" {
			content.HTML = override.HTML
		}
	}

	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}
	message := buildMIMEMessage(a.From, raw, content, msg.CorrelationID(), now)
	if err := a.Mailer.SendMail(ctx, from.Address, to, message); err != nil {
		return classifySMTPError(err)
	}
	return nil
}

const mimeBoundary = "notify-alt-boundary"

func buildMIMEMessage(from string, to string, content emailOverride, correlationID string, now time.Time) []byte {
	var b strings.Builder
	writeHeader := func(key, value string) {
		b.WriteString(key + ": " + value + "\r\n")
	}
	writeHeader("From", from)
	writeHeader("To", to)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", content.Subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	if correlationID != "" {
		writeHeader("X-Correlation-ID", correlationID)
	}
	writeHeader("Content-Type", `multipart/alternative; boundary="`+mimeBoundary+`"`)
	b.WriteString("\r\n")
	b.WriteString("--" + mimeBoundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(normalizeCRLF(content.Text) + "\r\n")
	b.WriteString("--" + mimeBoundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(normalizeCRLF(content.HTML) + "\r\n")
	b.WriteString("--" + mimeBoundary + "--\r\n")
	return []byte(b.String())
}

func normalizeCRLF(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	return strings.ReplaceAll(value, "\n", "\r\n")
}

func emailHTML(msg core.NotificationMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div style="border-left:4px solid #%s;padding:8px 12px">`, levelColor(msg.Level()))
	if title := msg.Title(); title != "" {
		fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(title))
	}
	if body := msg.Body(); body != "" {
		fmt.Fprintf(&b, "<p>%s</p>", strings.ReplaceAll(html.EscapeString(body), "\n", "<br>"))
	}
	if fields := msg.Fields(); len(fields) > 0 {
		b.WriteString("<table>")
		for _, field := range fields {
			fmt.Fprintf(&b, "<tr><th align=\"left\">%s</th><td>%s</td></tr>", html.EscapeString(field.Key), html.EscapeString(field.Value))
		}
		b.WriteString("</table>")
	}
	if actions := msg.Actions(); len(actions) > 0 {
		b.WriteString("<p>")
		for _, action := range actions {
			fmt.Fprintf(&b, `<a href="%s">%s</a> `, html.EscapeString(action.URL), html.EscapeString(action.Label))
		}
		b.WriteString("</p>")
	}
	b.WriteString("</div>")
	return b.String()
}

// classifySMTPError maps reply codes: 535/530 are auth failures, other 5xx
// are permanent format errors and 4xx or network failures are retryable.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		metadata := map[string]any{"smtp_code": protoErr.Code}
		switch {
		case protoErr.Code == 535 || protoErr.Code == 530 || protoErr.Code == 534:
			return core.WrapKind(err, core.ErrorKindAuthFailure, "email: smtp authentication rejected", metadata)
		case protoErr.Code >= 500:
			return core.WrapKind(err, core.ErrorKindFormat, "email: smtp rejected the message", metadata)
		default:
			return core.WrapKind(err, core.ErrorKindProvider, "email: smtp temporary failure", metadata)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.WrapKind(err, core.ErrorKindTimeout, "email: smtp deadline reached")
	}
	return core.WrapKind(err, core.ErrorKindProvider, "email: smtp transport failure")
}

var _ core.ChannelAdapter = (*EmailAdapter)(nil)
var _ Mailer = SMTPMailer{}
