package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
)

const DefaultClaimTTL = 10 * time.Minute

// Handler processes events for one target kind.
type Handler interface {
	Kind() core.TargetKind
	Handle(ctx context.Context, targetID string, event core.WebhookEvent) (core.DispatchOutcome, error)
}

type HandlerFunc struct {
	TargetKind core.TargetKind
	Fn         func(ctx context.Context, targetID string, event core.WebhookEvent) (core.DispatchOutcome, error)
}

func (h HandlerFunc) Kind() core.TargetKind { return h.TargetKind }

func (h HandlerFunc) Handle(ctx context.Context, targetID string, event core.WebhookEvent) (core.DispatchOutcome, error) {
	if h.Fn == nil {
		return core.DispatchOutcome{}, inboundInternal("inbound: handler func is nil", nil)
	}
	return h.Fn(ctx, targetID, event)
}

// ClaimStore hands out exclusive claims on a key. A claim that is failed
// becomes claimable again at retryAt; a completed claim blocks the key until
// its TTL passes.
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

// Router implements core.EventConsumer by selecting a Handler on the
// endpoint's target kind.
type Router struct {
	Store    ClaimStore
	ClaimTTL time.Duration

	mu       sync.RWMutex
	handlers map[core.TargetKind]Handler
}

var _ core.EventConsumer = (*Router)(nil)

func NewRouter(store ClaimStore) *Router {
	return &Router{
		Store:    store,
		ClaimTTL: DefaultClaimTTL,
		handlers: map[core.TargetKind]Handler{},
	}
}

func (r *Router) Register(handler Handler) error {
	if r == nil {
		return inboundInternal("inbound: router is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	kind := normalizeKind(handler.Kind())
	if !kind.Valid() {
		return inboundBadInput(
			fmt.Sprintf("inbound: unsupported target kind %q", kind),
			map[string]any{"target_kind": string(kind)},
		)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[core.TargetKind]Handler{}
	}
	if _, exists := r.handlers[kind]; exists {
		return inboundError(
			fmt.Sprintf("inbound: handler already registered for target kind %q", kind),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.ServiceErrorConflict,
			map[string]any{"target_kind": string(kind)},
		)
	}
	r.handlers[kind] = handler
	return nil
}

func (r *Router) Dispatch(ctx context.Context, kind core.TargetKind, targetID string, event core.WebhookEvent) (core.DispatchOutcome, error) {
	if r == nil {
		return core.DispatchOutcome{}, inboundInternal("inbound: router is nil", nil)
	}
	kind = normalizeKind(kind)
	targetID = strings.TrimSpace(targetID)
	meta := map[string]any{"target_kind": string(kind), "target_id": targetID, "event_id": event.ID}
	if targetID == "" {
		return core.DispatchOutcome{}, inboundBadInput("inbound: target id is required", meta)
	}
	handler := r.handlerFor(kind)
	if handler == nil {
		return core.DispatchOutcome{}, dispatchFailed(nil, fmt.Sprintf("inbound: no handler registered for target kind %q", kind), meta)
	}

	claimID := ""
	if r.Store != nil && strings.TrimSpace(event.ID) != "" {
		var accepted bool
		var err error
		claimID, accepted, err = r.Store.Claim(ctx, string(kind)+":"+targetID+":"+event.ID, r.claimTTL())
		if err != nil {
			return core.DispatchOutcome{}, dispatchFailed(err, "inbound: claim event", meta)
		}
		if !accepted {
			return core.DispatchOutcome{
				Accepted: true,
				Result:   map[string]any{"deduped": true, "target_kind": string(kind), "target_id": targetID},
			}, nil
		}
	}

	outcome, err := handler.Handle(ctx, targetID, event)
	if err == nil && !outcome.Accepted {
		err = fmt.Errorf("inbound: %s %s declined event", kind, targetID)
	}
	if err != nil {
		handlerErr := dispatchFailed(err, "inbound: handler execution failed", meta)
		if claimID != "" {
			if failErr := r.Store.Fail(ctx, claimID, err, time.Time{}); failErr != nil {
				return outcome, errors.Join(handlerErr, failErr)
			}
		}
		return outcome, handlerErr
	}
	if claimID != "" {
		if err := r.Store.Complete(ctx, claimID); err != nil {
			return outcome, dispatchFailed(err, "inbound: complete event claim", meta)
		}
	}
	if outcome.Result == nil {
		outcome.Result = map[string]any{}
	}
	outcome.Result["target_kind"] = string(kind)
	outcome.Result["target_id"] = targetID
	return outcome, nil
}

func (r *Router) claimTTL() time.Duration {
	if r != nil && r.ClaimTTL > 0 {
		return r.ClaimTTL
	}
	return DefaultClaimTTL
}

func (r *Router) handlerFor(kind core.TargetKind) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

func normalizeKind(kind core.TargetKind) core.TargetKind {
	return core.TargetKind(strings.ToLower(strings.TrimSpace(string(kind))))
}
