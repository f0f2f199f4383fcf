package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelSuccess  Level = "success"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

var levelSeverity = map[Level]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelSuccess:  2,
	LevelWarning:  3,
	LevelError:    4,
	LevelCritical: 5,
}

// Severity returns the ordinal of the level, or -1 when unknown.
func (l Level) Severity() int {
	if value, ok := levelSeverity[l]; ok {
		return value
	}
	return -1
}

func (l Level) Valid() bool {
	return l.Severity() >= 0
}

// AtLeast reports whether l is as severe as min. An empty min admits every level.
func (l Level) AtLeast(min Level) bool {
	if strings.TrimSpace(string(min)) == "" {
		return true
	}
	return l.Severity() >= min.Severity()
}

func ParseLevel(value string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(value)))
	if level == "" {
		return LevelInfo, nil
	}
	if !level.Valid() {
		return "", fmt.Errorf("core: unknown level %q", value)
	}
	return level, nil
}

type SourceKind string

const (
	SourceSystem   SourceKind = "system"
	SourceAgent    SourceKind = "agent"
	SourceWorkflow SourceKind = "workflow"
	SourceSwarm    SourceKind = "swarm"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceSystem, SourceAgent, SourceWorkflow, SourceSwarm:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Normalize() Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(string(p)))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityUrgent:
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

type ChannelKind string

const (
	ChannelSlack    ChannelKind = "slack"
	ChannelTeams    ChannelKind = "teams"
	ChannelEmail    ChannelKind = "email"
	ChannelSMS      ChannelKind = "sms"
	ChannelTelegram ChannelKind = "telegram"
	ChannelWebhook  ChannelKind = "webhook"
)

func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelSlack, ChannelTeams, ChannelEmail, ChannelSMS, ChannelTelegram, ChannelWebhook:
		return true
	default:
		return false
	}
}

type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// MessageInput carries the caller supplied values for NewMessage.
type MessageInput struct {
	Title         string
	Body          string
	Level         Level
	Fields        []Field
	Actions       []Action
	Attachments   []Attachment
	Source        string
	SourceKind    SourceKind
	CorrelationID string
	Overrides     map[ChannelKind]json.RawMessage
	CreatedAt     time.Time
}

// NotificationMessage is immutable after NewMessage returns: accessors hand
// out copies of every slice and map.
type NotificationMessage struct {
	title         string
	body          string
	level         Level
	fields        []Field
	actions       []Action
	attachments   []Attachment
	source        string
	sourceKind    SourceKind
	correlationID string
	overrides     map[ChannelKind]json.RawMessage
	createdAt     time.Time
}

func NewMessage(in MessageInput) (NotificationMessage, error) {
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	if title == "" && body == "" {
		return NotificationMessage{}, fmt.Errorf("core: message title or body is required")
	}
	level := in.Level
	if level == "" {
		level = LevelInfo
	}
	if !level.Valid() {
		return NotificationMessage{}, fmt.Errorf("core: invalid message level %q", in.Level)
	}
	sourceKind := in.SourceKind
	if sourceKind == "" {
		sourceKind = SourceSystem
	}
	if !sourceKind.Valid() {
		return NotificationMessage{}, fmt.Errorf("core: invalid source kind %q", in.SourceKind)
	}
	for _, action := range in.Actions {
		if strings.TrimSpace(action.Label) == "" || strings.TrimSpace(action.URL) == "" {
			return NotificationMessage{}, fmt.Errorf("core: action label and url are required")
		}
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return NotificationMessage{
		title:         title,
		body:          body,
		level:         level,
		fields:        append([]Field(nil), in.Fields...),
		actions:       append([]Action(nil), in.Actions...),
		attachments:   append([]Attachment(nil), in.Attachments...),
		source:        strings.TrimSpace(in.Source),
		sourceKind:    sourceKind,
		correlationID: strings.TrimSpace(in.CorrelationID),
		overrides:     cloneOverrides(in.Overrides),
		createdAt:     createdAt.UTC(),
	}, nil
}

func (m NotificationMessage) Title() string          { return m.title }
func (m NotificationMessage) Body() string           { return m.body }
func (m NotificationMessage) Level() Level           { return m.level }
func (m NotificationMessage) Source() string         { return m.source }
func (m NotificationMessage) SourceKind() SourceKind { return m.sourceKind }
func (m NotificationMessage) CorrelationID() string  { return m.correlationID }
func (m NotificationMessage) CreatedAt() time.Time   { return m.createdAt }
func (m NotificationMessage) Fields() []Field        { return append([]Field(nil), m.fields...) }
func (m NotificationMessage) Actions() []Action      { return append([]Action(nil), m.actions...) }
func (m NotificationMessage) Attachments() []Attachment {
	return append([]Attachment(nil), m.attachments...)
}

// Override returns the channel specific payload for kind, if any.
func (m NotificationMessage) Override(kind ChannelKind) (json.RawMessage, bool) {
	raw, ok := m.overrides[kind]
	if !ok || len(raw) == 0 {
		return nil, false
	}
	return append(json.RawMessage(nil), raw...), true
}

func (m NotificationMessage) IsZero() bool {
	return m.title == "" && m.body == ""
}

// Input returns a MessageInput equivalent to m, used to derive new messages.
func (m NotificationMessage) Input() MessageInput {
	return MessageInput{
		Title:         m.title,
		Body:          m.body,
		Level:         m.level,
		Fields:        m.Fields(),
		Actions:       m.Actions(),
		Attachments:   m.Attachments(),
		Source:        m.source,
		SourceKind:    m.sourceKind,
		CorrelationID: m.correlationID,
		Overrides:     cloneOverrides(m.overrides),
		CreatedAt:     m.createdAt,
	}
}

type messageJSON struct {
	Title         string                          `json:"title"`
	Body          string                          `json:"body"`
	Level         Level                           `json:"level"`
	Fields        []Field                         `json:"fields,omitempty"`
	Actions       []Action                        `json:"actions,omitempty"`
	Attachments   []Attachment                    `json:"attachments,omitempty"`
	Source        string                          `json:"source,omitempty"`
	SourceKind    SourceKind                      `json:"source_kind"`
	CorrelationID string                          `json:"correlation_id,omitempty"`
	Overrides     map[ChannelKind]json.RawMessage `json:"overrides,omitempty"`
	CreatedAt     time.Time                       `json:"created_at"`
}

func (m NotificationMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Title:         m.title,
		Body:          m.body,
		Level:         m.level,
		Fields:        m.fields,
		Actions:       m.actions,
		Attachments:   m.attachments,
		Source:        m.source,
		SourceKind:    m.sourceKind,
		CorrelationID: m.correlationID,
		Overrides:     m.overrides,
		CreatedAt:     m.createdAt,
	})
}

func (m *NotificationMessage) UnmarshalJSON(data []byte) error {
	var decoded messageJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	built, err := NewMessage(MessageInput{
		Title:         decoded.Title,
		Body:          decoded.Body,
		Level:         decoded.Level,
		Fields:        decoded.Fields,
		Actions:       decoded.Actions,
		Attachments:   decoded.Attachments,
		Source:        decoded.Source,
		SourceKind:    decoded.SourceKind,
		CorrelationID: decoded.CorrelationID,
		Overrides:     decoded.Overrides,
		CreatedAt:     decoded.CreatedAt,
	})
	if err != nil {
		return err
	}
	*m = built
	return nil
}

func cloneOverrides(in map[ChannelKind]json.RawMessage) map[ChannelKind]json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make(map[ChannelKind]json.RawMessage, len(in))
	for kind, raw := range in {
		out[kind] = append(json.RawMessage(nil), raw...)
	}
	return out
}

// Target addresses a recipient inside a channel. Address is empty for channels
// with a fixed destination such as an incoming webhook URL.
type Target struct {
	Address string
}

type RateLimitSpec struct {
	Permits  int           `json:"permits"`
	Interval time.Duration `json:"interval"`
	Burst    int           `json:"burst"`
}

func (s RateLimitSpec) IsZero() bool {
	return s.Permits <= 0 || s.Interval <= 0
}

// PerSecond returns the steady refill rate.
func (s RateLimitSpec) PerSecond() float64 {
	if s.IsZero() {
		return 0
	}
	return float64(s.Permits) / s.Interval.Seconds()
}

// Capacity returns the bucket size, defaulting to Permits.
func (s RateLimitSpec) Capacity() int {
	if s.Burst > 0 {
		return s.Burst
	}
	if s.Permits > 0 {
		return s.Permits
	}
	return 1
}

type ChannelConfig struct {
	ID          string            `json:"id"`
	Kind        ChannelKind       `json:"kind"`
	Name        string            `json:"name,omitempty"`
	Credentials map[string]string `json:"-"`
	Settings    map[string]string `json:"settings,omitempty"`
	Enabled     bool              `json:"enabled"`
	Healthy     bool              `json:"healthy"`
	RateLimit   RateLimitSpec     `json:"rate_limit"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (c ChannelConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("core: channel id is required")
	}
	if strings.TrimSpace(string(c.Kind)) == "" {
		return fmt.Errorf("core: channel kind is required")
	}
	return nil
}

func (c ChannelConfig) Clone() ChannelConfig {
	out := c
	out.Credentials = cloneStringMap(c.Credentials)
	out.Settings = cloneStringMap(c.Settings)
	return out
}

func (c ChannelConfig) Credential(key string) string {
	return strings.TrimSpace(c.Credentials[key])
}

func (c ChannelConfig) Setting(key string) string {
	return strings.TrimSpace(c.Settings[key])
}

type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindChannelUnavailable ErrorKind = "channel_unavailable"
	ErrorKindFormat             ErrorKind = "format_error"
	ErrorKindProvider           ErrorKind = "provider_error"
	ErrorKindAuthFailure        ErrorKind = "auth_failure"
	ErrorKindRateLimited        ErrorKind = "rate_limited"
	ErrorKindMaxRetriesExceeded ErrorKind = "max_retries_exceeded"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindSignatureInvalid   ErrorKind = "signature_invalid"
	ErrorKindExpired            ErrorKind = "expired"
	ErrorKindDuplicate          ErrorKind = "duplicate"
	ErrorKindDispatchFailed     ErrorKind = "dispatch_failed"
	ErrorKindInternal           ErrorKind = "internal"
)

type NotificationResult struct {
	NotificationID string        `json:"notification_id"`
	ChannelID      string        `json:"channel_id"`
	Success        bool          `json:"success"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	Error          string        `json:"error,omitempty"`
	Attempts       int           `json:"attempts"`
	Latency        time.Duration `json:"latency"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

type SendResult struct {
	NotificationID string               `json:"notification_id"`
	Results        []NotificationResult `json:"results"`
}

// Success reports whether every requested channel succeeded. A send with no
// channels is not a success.
func (r SendResult) Success() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, result := range r.Results {
		if !result.Success {
			return false
		}
	}
	return true
}

func (r SendResult) Failures() []NotificationResult {
	failures := make([]NotificationResult, 0)
	for _, result := range r.Results {
		if !result.Success {
			failures = append(failures, result)
		}
	}
	return failures
}

func (r SendResult) Result(channelID string) (NotificationResult, bool) {
	for _, result := range r.Results {
		if result.ChannelID == channelID {
			return result, true
		}
	}
	return NotificationResult{}, false
}

type AuditStatus string

const (
	AuditStatusSent   AuditStatus = "sent"
	AuditStatusFailed AuditStatus = "failed"
)

type AuditEntry struct {
	ID             string      `json:"id"`
	NotificationID string      `json:"notification_id"`
	ChannelID      string      `json:"channel_id"`
	Status         AuditStatus `json:"status"`
	ErrorKind      ErrorKind   `json:"error_kind,omitempty"`
	Error          string      `json:"error,omitempty"`
	Attempts       int         `json:"attempts"`
	Priority       Priority    `json:"priority"`
	Level          Level       `json:"level"`
	CorrelationID  string      `json:"correlation_id,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

type AuditFilter struct {
	NotificationID string
	ChannelID      string
	Status         AuditStatus
	Limit          int
}

type QuietHours struct {
	// Start and End are "HH:MM" wall clock values in Location.
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location,omitempty"`
}

func (q QuietHours) IsZero() bool {
	return strings.TrimSpace(q.Start) == "" || strings.TrimSpace(q.End) == ""
}

// Contains reports whether at falls inside the quiet window. Windows may wrap
// past midnight.
func (q QuietHours) Contains(at time.Time) bool {
	if q.IsZero() {
		return false
	}
	start, okStart := parseClock(q.Start)
	end, okEnd := parseClock(q.End)
	if !okStart || !okEnd || start == end {
		return false
	}
	if name := strings.TrimSpace(q.Location); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			at = at.In(loc)
		}
	}
	minute := at.Hour()*60 + at.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(value string) (int, bool) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return parsed.Hour()*60 + parsed.Minute(), true
}

type UserPreference struct {
	UserID     string     `json:"user_id"`
	ChannelID  string     `json:"channel_id"`
	Address    string     `json:"address"`
	MinLevel   Level      `json:"min_level,omitempty"`
	QuietHours QuietHours `json:"quiet_hours"`
}

type AuthMethod string

const (
	AuthHMAC   AuthMethod = "hmac"
	AuthJWT    AuthMethod = "jwt"
	AuthAPIKey AuthMethod = "api_key"
	AuthNone   AuthMethod = "none"
)

func (m AuthMethod) Valid() bool {
	switch m {
	case AuthHMAC, AuthJWT, AuthAPIKey, AuthNone:
		return true
	default:
		return false
	}
}

type TargetKind string

const (
	TargetAgent    TargetKind = "agent"
	TargetWorkflow TargetKind = "workflow"
	TargetSwarm    TargetKind = "swarm"
)

func (k TargetKind) Valid() bool {
	switch k {
	case TargetAgent, TargetWorkflow, TargetSwarm:
		return true
	default:
		return false
	}
}

type WebhookEndpoint struct {
	ID              string     `json:"id"`
	Path            string     `json:"path"`
	AuthMethod      AuthMethod `json:"auth_method"`
	SecretHash      string     `json:"-"`
	SealedSecret    []byte     `json:"-"`
	SignatureHeader string     `json:"signature_header,omitempty"`
	TimestampHeader string     `json:"timestamp_header,omitempty"`
	EventTypeHeader string     `json:"event_type_header,omitempty"`
	TargetKind      TargetKind `json:"target_kind"`
	TargetID        string     `json:"target_id"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (e WebhookEndpoint) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("core: endpoint id is required")
	}
	if NormalizePath(e.Path) == "/" {
		return fmt.Errorf("core: endpoint path is required")
	}
	if !e.AuthMethod.Valid() {
		return fmt.Errorf("core: invalid endpoint auth method %q", e.AuthMethod)
	}
	if e.AuthMethod != AuthNone && strings.TrimSpace(e.SecretHash) == "" {
		return fmt.Errorf("core: endpoint secret hash is required for %s", e.AuthMethod)
	}
	if !e.TargetKind.Valid() {
		return fmt.Errorf("core: invalid endpoint target kind %q", e.TargetKind)
	}
	if strings.TrimSpace(e.TargetID) == "" {
		return fmt.Errorf("core: endpoint target id is required")
	}
	return nil
}

func (e WebhookEndpoint) Clone() WebhookEndpoint {
	out := e
	out.SealedSecret = append([]byte(nil), e.SealedSecret...)
	return out
}

// NormalizePath trims whitespace and trailing slashes and guarantees a
// leading slash.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimRight(path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

type WebhookState string

const (
	StateReceived       WebhookState = "received"
	StateAuthenticating WebhookState = "authenticating"
	StateVerified       WebhookState = "verified"
	StateRejected       WebhookState = "rejected"
	StateDeduplicating  WebhookState = "deduplicating"
	StateAccepted       WebhookState = "accepted"
	StateDuplicate      WebhookState = "duplicate"
	StateDispatching    WebhookState = "dispatching"
	StateProcessed      WebhookState = "processed"
	StateDispatchFailed WebhookState = "dispatch_failed"
)

// Terminal reports whether no further transition follows s.
func (s WebhookState) Terminal() bool {
	switch s {
	case StateRejected, StateDuplicate, StateProcessed, StateDispatchFailed:
		return true
	default:
		return false
	}
}

type WebhookEvent struct {
	ID            string            `json:"id"`
	EndpointID    string            `json:"endpoint_id"`
	EventType     string            `json:"event_type"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers"`
	SourceIP      string            `json:"source_ip"`
	ReceivedAt    time.Time         `json:"received_at"`
	Verified      bool              `json:"verified"`
	Processed     bool              `json:"processed"`
	State         WebhookState      `json:"state"`
	ProcessResult map[string]any    `json:"process_result,omitempty"`
	ErrorKind     ErrorKind         `json:"error_kind,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

type WebhookEventFilter struct {
	EndpointID string
	State      WebhookState
	Limit      int
}

// InboundRequest is the transport independent view of a webhook delivery.
type InboundRequest struct {
	Path     string
	Method   string
	Headers  map[string]string
	Body     []byte
	SourceIP string
}

// WebhookResponse is returned to the caller of the receiver.
type WebhookResponse struct {
	StatusCode int          `json:"-"`
	State      WebhookState `json:"-"`
	Success    bool         `json:"success"`
	EventID    string       `json:"event_id,omitempty"`
	Message    string       `json:"message"`
}

// DispatchOutcome is what a downstream consumer reports back for an event.
type DispatchOutcome struct {
	Accepted bool           `json:"accepted"`
	Result   map[string]any `json:"result,omitempty"`
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func CloneStringMap(in map[string]string) map[string]string {
	return cloneStringMap(in)
}
