package sqlstore

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EventStore is the append-only webhook event log. Dispatch outcomes go to
// webhook_event_outcomes and are merged into the event on read.
type EventStore struct {
	db  *bun.DB
	Now func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, badInput("sqlstore: bun db is required")
	}
	return &EventStore{db: db}, nil
}

func (s *EventStore) AppendEvent(ctx context.Context, event core.WebhookEvent) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	if strings.TrimSpace(event.ID) == "" {
		return badInput("sqlstore: event id is required")
	}
	headers := core.CloneStringMap(event.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	record := &webhookEventRecord{
		ID:           event.ID,
		EndpointID:   event.EndpointID,
		EventType:    event.EventType,
		Payload:      string(event.Payload),
		Headers:      headers,
		SourceIP:     event.SourceIP,
		ReceivedAt:   event.ReceivedAt.UTC(),
		Verified:     event.Verified,
		State:        string(event.State),
		ErrorKind:    string(event.ErrorKind),
		ErrorMessage: event.ErrorMessage,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.WrapKind(err, core.ErrorKindDuplicate, "sqlstore: event already recorded", map[string]any{"event_id": event.ID})
		}
		return storeError("sqlstore: append webhook event", err)
	}
	return nil
}

func (s *EventStore) AppendOutcome(ctx context.Context, event core.WebhookEvent) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	result := event.ProcessResult
	if result == nil {
		result = map[string]any{}
	}
	record := &webhookEventOutcomeRecord{
		ID:            uuid.NewString(),
		EventID:       event.ID,
		State:         string(event.State),
		Processed:     event.Processed,
		ProcessResult: result,
		ErrorKind:     string(event.ErrorKind),
		ErrorMessage:  event.ErrorMessage,
		RecordedAt:    s.now(),
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*webhookEventRecord)(nil)).Where("id = ?", event.ID).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return core.NewKindError(core.ErrorKindInternal, "sqlstore: outcome for unknown event", map[string]any{"event_id": event.ID})
		}
		_, err = tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	return storeError("sqlstore: append webhook event outcome", err)
}

// ListEvents returns matching events oldest first with their latest outcome
// applied. A positive Limit keeps the most recent matches.
func (s *EventStore) ListEvents(ctx context.Context, filter core.WebhookEventFilter) ([]core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, errNotConfigured
	}
	var records []*webhookEventRecord
	query := s.db.NewSelect().Model(&records).OrderExpr("?TableAlias.received_at ASC, ?TableAlias.id ASC")
	if value := strings.TrimSpace(filter.EndpointID); value != "" {
		query = query.Where("?TableAlias.endpoint_id = ?", value)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, storeError("sqlstore: list webhook events", err)
	}
	if len(records) == 0 {
		return []core.WebhookEvent{}, nil
	}

	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	var outcomes []*webhookEventOutcomeRecord
	if err := s.db.NewSelect().
		Model(&outcomes).
		Where("?TableAlias.event_id IN (?)", bun.In(ids)).
		OrderExpr("?TableAlias.recorded_at ASC").
		Scan(ctx); err != nil {
		return nil, storeError("sqlstore: list webhook event outcomes", err)
	}
	latest := make(map[string]*webhookEventOutcomeRecord, len(outcomes))
	for _, outcome := range outcomes {
		latest[outcome.EventID] = outcome
	}

	out := make([]core.WebhookEvent, 0, len(records))
	for _, record := range records {
		event := eventToDomain(record, latest[record.ID])
		if filter.State != "" && event.State != filter.State {
			continue
		}
		out = append(out, event)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = slices.Clone(out[len(out)-filter.Limit:])
	}
	return out, nil
}

func (s *EventStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func eventToDomain(record *webhookEventRecord, outcome *webhookEventOutcomeRecord) core.WebhookEvent {
	event := core.WebhookEvent{
		ID:           record.ID,
		EndpointID:   record.EndpointID,
		EventType:    record.EventType,
		Payload:      json.RawMessage(record.Payload),
		Headers:      core.CloneStringMap(record.Headers),
		SourceIP:     record.SourceIP,
		ReceivedAt:   record.ReceivedAt.UTC(),
		Verified:     record.Verified,
		State:        core.WebhookState(record.State),
		ErrorKind:    core.ErrorKind(record.ErrorKind),
		ErrorMessage: record.ErrorMessage,
	}
	if outcome != nil {
		event.State = core.WebhookState(outcome.State)
		event.Processed = outcome.Processed
		event.ProcessResult = outcome.ProcessResult
		event.ErrorKind = core.ErrorKind(outcome.ErrorKind)
		event.ErrorMessage = outcome.ErrorMessage
	}
	return event
}

var _ core.EventLog = (*EventStore)(nil)
