package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
)

type endpointSnapshot struct {
	byID   map[string]core.WebhookEndpoint
	byPath map[string]string
}

func (s *endpointSnapshot) clone() *endpointSnapshot {
	next := &endpointSnapshot{
		byID:   make(map[string]core.WebhookEndpoint, len(s.byID)+1),
		byPath: make(map[string]string, len(s.byPath)+1),
	}
	for id, endpoint := range s.byID {
		next.byID[id] = endpoint
	}
	for path, id := range s.byPath {
		next.byPath[path] = id
	}
	return next
}

// EndpointRegistry maps inbound paths to endpoints. Reads are lock free;
// writers publish a fresh snapshot, so a path is owned by at most one
// endpoint at any instant.
type EndpointRegistry struct {
	Store core.EndpointStore
	Now   func() time.Time

	writeMu  sync.Mutex
	snapshot atomic.Pointer[endpointSnapshot]
}

func NewEndpointRegistry(store core.EndpointStore) *EndpointRegistry {
	registry := &EndpointRegistry{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
	}
	registry.snapshot.Store(&endpointSnapshot{byID: map[string]core.WebhookEndpoint{}, byPath: map[string]string{}})
	return registry
}

func (r *EndpointRegistry) current() *endpointSnapshot {
	if snap := r.snapshot.Load(); snap != nil {
		return snap
	}
	return &endpointSnapshot{byID: map[string]core.WebhookEndpoint{}, byPath: map[string]string{}}
}

// Register adds or replaces an endpoint. A path already owned by another
// endpoint is a conflict.
func (r *EndpointRegistry) Register(ctx context.Context, endpoint core.WebhookEndpoint) (core.WebhookEndpoint, error) {
	endpoint.ID = strings.TrimSpace(endpoint.ID)
	endpoint.Path = core.NormalizePath(endpoint.Path)
	if err := endpoint.Validate(); err != nil {
		return core.WebhookEndpoint{}, goerrors.New(err.Error(), goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ServiceErrorBadInput)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	snap := r.current()
	if owner, ok := snap.byPath[endpoint.Path]; ok && owner != endpoint.ID {
		return core.WebhookEndpoint{}, goerrors.New(fmt.Sprintf("webhooks: path %q already registered", endpoint.Path), goerrors.CategoryConflict).
			WithCode(http.StatusConflict).
			WithTextCode(core.ServiceErrorConflict).
			WithMetadata(map[string]any{"path": endpoint.Path, "endpoint_id": owner})
	}
	now := r.now()
	if previous, ok := snap.byID[endpoint.ID]; ok {
		if endpoint.CreatedAt.IsZero() {
			endpoint.CreatedAt = previous.CreatedAt
		}
	} else if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = now
	}
	endpoint.UpdatedAt = now

	if r.Store != nil {
		saved, err := r.Store.SaveEndpoint(ctx, endpoint)
		if err != nil {
			return core.WebhookEndpoint{}, err
		}
		endpoint = saved
	}
	r.publish(snap, endpoint)
	return endpoint.Clone(), nil
}

func (r *EndpointRegistry) publish(snap *endpointSnapshot, endpoint core.WebhookEndpoint) {
	next := snap.clone()
	if previous, ok := next.byID[endpoint.ID]; ok && previous.Path != endpoint.Path {
		delete(next.byPath, previous.Path)
	}
	next.byID[endpoint.ID] = endpoint.Clone()
	next.byPath[endpoint.Path] = endpoint.ID
	r.snapshot.Store(next)
}

// Deactivate soft-deletes an endpoint. It keeps owning its path.
func (r *EndpointRegistry) Deactivate(ctx context.Context, endpointID string) error {
	return r.setActive(ctx, endpointID, false)
}

func (r *EndpointRegistry) Activate(ctx context.Context, endpointID string) error {
	return r.setActive(ctx, endpointID, true)
}

func (r *EndpointRegistry) setActive(ctx context.Context, endpointID string, active bool) error {
	endpointID = strings.TrimSpace(endpointID)
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	snap := r.current()
	endpoint, ok := snap.byID[endpointID]
	if !ok {
		return endpointNotFound(endpointID)
	}
	if r.Store != nil {
		if err := r.Store.SetEndpointActive(ctx, endpointID, active); err != nil {
			return err
		}
	}
	endpoint.Active = active
	endpoint.UpdatedAt = r.now()
	r.publish(snap, endpoint)
	return nil
}

// Lookup resolves an inbound path to its endpoint, active or not.
func (r *EndpointRegistry) Lookup(path string) (core.WebhookEndpoint, bool) {
	snap := r.current()
	id, ok := snap.byPath[core.NormalizePath(path)]
	if !ok {
		return core.WebhookEndpoint{}, false
	}
	endpoint, ok := snap.byID[id]
	return endpoint.Clone(), ok
}

func (r *EndpointRegistry) Endpoint(endpointID string) (core.WebhookEndpoint, bool) {
	endpoint, ok := r.current().byID[strings.TrimSpace(endpointID)]
	return endpoint.Clone(), ok
}

func (r *EndpointRegistry) Endpoints() []core.WebhookEndpoint {
	snap := r.current()
	out := make([]core.WebhookEndpoint, 0, len(snap.byID))
	for _, endpoint := range snap.byID {
		out = append(out, endpoint.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Load installs every endpoint held by the store. Invalid records and path
// collisions are skipped and reported in the joined error.
func (r *EndpointRegistry) Load(ctx context.Context) (int, error) {
	if r.Store == nil {
		return 0, nil
	}
	endpoints, err := r.Store.ListEndpoints(ctx)
	if err != nil {
		return 0, err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	loaded := 0
	var errs []error
	for _, endpoint := range endpoints {
		endpoint.Path = core.NormalizePath(endpoint.Path)
		if err := endpoint.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("webhooks: endpoint %q: %w", endpoint.ID, err))
			continue
		}
		snap := r.current()
		if owner, ok := snap.byPath[endpoint.Path]; ok && owner != endpoint.ID {
			errs = append(errs, fmt.Errorf("webhooks: path %q already registered", endpoint.Path))
			continue
		}
		r.publish(snap, endpoint)
		loaded++
	}
	return loaded, errors.Join(errs...)
}

func (r *EndpointRegistry) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func endpointNotFound(endpointID string) error {
	return goerrors.New(fmt.Sprintf("webhooks: endpoint %q not found", endpointID), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(core.ServiceErrorNotFound)
}
