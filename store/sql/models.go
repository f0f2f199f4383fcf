package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type channelRecord struct {
	bun.BaseModel `bun:"table:notify_channels,alias:nc"`

	ID             string            `bun:"id,pk"`
	Kind           string            `bun:"kind,notnull"`
	Name           string            `bun:"name,notnull"`
	Credentials    []byte            `bun:"credentials"`
	Settings       map[string]string `bun:"settings,type:jsonb,notnull"`
	Enabled        bool              `bun:"enabled,notnull"`
	Healthy        bool              `bun:"healthy,notnull"`
	RatePermits    int               `bun:"rate_permits,notnull"`
	RateIntervalMS int64             `bun:"rate_interval_ms,notnull"`
	RateBurst      int               `bun:"rate_burst,notnull"`
	CreatedAt      time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type userPreferenceRecord struct {
	bun.BaseModel `bun:"table:notify_user_preferences,alias:nup"`

	ID            string    `bun:"id,pk"`
	UserID        string    `bun:"user_id,notnull"`
	ChannelID     string    `bun:"channel_id,notnull"`
	Address       string    `bun:"address,notnull"`
	MinLevel      string    `bun:"min_level,notnull"`
	QuietStart    string    `bun:"quiet_start,notnull"`
	QuietEnd      string    `bun:"quiet_end,notnull"`
	QuietLocation string    `bun:"quiet_location,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:notify_audit_entries,alias:nae"`

	ID             string    `bun:"id,pk"`
	NotificationID string    `bun:"notification_id,notnull"`
	ChannelID      string    `bun:"channel_id,notnull"`
	Status         string    `bun:"status,notnull"`
	ErrorKind      string    `bun:"error_kind,notnull"`
	Error          string    `bun:"error,notnull"`
	Attempts       int       `bun:"attempts,notnull"`
	Priority       string    `bun:"priority,notnull"`
	Level          string    `bun:"level,notnull"`
	CorrelationID  string    `bun:"correlation_id,notnull"`
	StartedAt      time.Time `bun:"started_at,notnull"`
	FinishedAt     time.Time `bun:"finished_at,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type webhookEndpointRecord struct {
	bun.BaseModel `bun:"table:webhook_endpoints,alias:we"`

	ID              string    `bun:"id,pk"`
	Path            string    `bun:"path,notnull"`
	AuthMethod      string    `bun:"auth_method,notnull"`
	SecretHash      string    `bun:"secret_hash,notnull"`
	SealedSecret    []byte    `bun:"sealed_secret"`
	SignatureHeader string    `bun:"signature_header,notnull"`
	TimestampHeader string    `bun:"timestamp_header,notnull"`
	EventTypeHeader string    `bun:"event_type_header,notnull"`
	TargetKind      string    `bun:"target_kind,notnull"`
	TargetID        string    `bun:"target_id,notnull"`
	Active          bool      `bun:"active,notnull"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:webhook_events,alias:wev"`

	ID           string            `bun:"id,pk"`
	EndpointID   string            `bun:"endpoint_id,notnull"`
	EventType    string            `bun:"event_type,notnull"`
	Payload      string            `bun:"payload,notnull"`
	Headers      map[string]string `bun:"headers,type:jsonb,notnull"`
	SourceIP     string            `bun:"source_ip,notnull"`
	ReceivedAt   time.Time         `bun:"received_at,notnull"`
	Verified     bool              `bun:"verified,notnull"`
	State        string            `bun:"state,notnull"`
	ErrorKind    string            `bun:"error_kind,notnull"`
	ErrorMessage string            `bun:"error_message,notnull"`
}

// webhookEventOutcomeRecord is appended once per dispatch result; the event
// row itself is never updated.
type webhookEventOutcomeRecord struct {
	bun.BaseModel `bun:"table:webhook_event_outcomes,alias:weo"`

	ID            string         `bun:"id,pk"`
	EventID       string         `bun:"event_id,notnull"`
	State         string         `bun:"state,notnull"`
	Processed     bool           `bun:"processed,notnull"`
	ProcessResult map[string]any `bun:"process_result,type:jsonb,notnull"`
	ErrorKind     string         `bun:"error_kind,notnull"`
	ErrorMessage  string         `bun:"error_message,notnull"`
	RecordedAt    time.Time      `bun:"recorded_at,notnull"`
}
