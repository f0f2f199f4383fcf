package webhooks

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-notify/core"
)

// MemoryEventLog stores events and their outcomes as separate records.
// ListEvents presents each event with its latest outcome applied.
type MemoryEventLog struct {
	mu       sync.RWMutex
	events   []core.WebhookEvent
	index    map[string]int
	outcomes map[string][]core.WebhookEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		index:    map[string]int{},
		outcomes: map[string][]core.WebhookEvent{},
	}
}

func (l *MemoryEventLog) AppendEvent(_ context.Context, event core.WebhookEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return core.NewKindError(core.ErrorKindInternal, "webhooks: event id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index == nil {
		l.index = map[string]int{}
	}
	if _, exists := l.index[event.ID]; exists {
		return core.NewKindError(core.ErrorKindDuplicate, "webhooks: event already recorded", map[string]any{"event_id": event.ID})
	}
	l.index[event.ID] = len(l.events)
	l.events = append(l.events, cloneEvent(event))
	return nil
}

func (l *MemoryEventLog) AppendOutcome(_ context.Context, event core.WebhookEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.index[event.ID]; !exists {
		return core.NewKindError(core.ErrorKindInternal, "webhooks: outcome for unknown event", map[string]any{"event_id": event.ID})
	}
	if l.outcomes == nil {
		l.outcomes = map[string][]core.WebhookEvent{}
	}
	l.outcomes[event.ID] = append(l.outcomes[event.ID], cloneEvent(event))
	return nil
}

// ListEvents returns matching events oldest first. A positive Limit keeps the
// most recent matches.
func (l *MemoryEventLog) ListEvents(_ context.Context, filter core.WebhookEventFilter) ([]core.WebhookEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.WebhookEvent, 0, len(l.events))
	for _, stored := range l.events {
		event := cloneEvent(stored)
		if outcomes := l.outcomes[event.ID]; len(outcomes) > 0 {
			event = applyOutcome(event, outcomes[len(outcomes)-1])
		}
		if filter.EndpointID != "" && event.EndpointID != filter.EndpointID {
			continue
		}
		if filter.State != "" && event.State != filter.State {
			continue
		}
		out = append(out, event)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func applyOutcome(event core.WebhookEvent, outcome core.WebhookEvent) core.WebhookEvent {
	event.State = outcome.State
	event.Processed = outcome.Processed
	event.ProcessResult = outcome.ProcessResult
	event.ErrorKind = outcome.ErrorKind
	event.ErrorMessage = outcome.ErrorMessage
	return event
}

func cloneEvent(event core.WebhookEvent) core.WebhookEvent {
	out := event
	out.Payload = append([]byte(nil), event.Payload...)
	out.Headers = core.CloneStringMap(event.Headers)
	if event.ProcessResult != nil {
		out.ProcessResult = make(map[string]any, len(event.ProcessResult))
		for key, value := range event.ProcessResult {
			out.ProcessResult[key] = value
		}
	}
	return out
}

var _ core.EventLog = (*MemoryEventLog)(nil)
