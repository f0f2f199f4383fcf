package sqlstore

import (
	"context"
	"net/url"
	"strings"

	"github.com/goliatone/go-notify/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const endpointCacheKeyPrefix = "go-notify::webhook_endpoint::v1"

// CachedEndpointStore serves endpoint reads from a cache and drops the
// affected keys on every write.
type CachedEndpointStore struct {
	base  core.EndpointStore
	cache repositorycache.CacheService
}

func NewCachedEndpointStore(base core.EndpointStore, cacheService repositorycache.CacheService) (*CachedEndpointStore, error) {
	if base == nil {
		return nil, badInput("sqlstore: base endpoint store is required")
	}
	if cacheService == nil {
		return nil, badInput("sqlstore: endpoint cache service is required")
	}
	return &CachedEndpointStore{base: base, cache: cacheService}, nil
}

// EndpointCacheKey returns go-notify::webhook_endpoint::v1::<by>::<value>
// with the value URL-path escaped.
func EndpointCacheKey(by string, value string) string {
	return strings.Join([]string{endpointCacheKeyPrefix, by, url.PathEscape(value)}, "::")
}

func (s *CachedEndpointStore) SaveEndpoint(ctx context.Context, endpoint core.WebhookEndpoint) (core.WebhookEndpoint, error) {
	previous, prevErr := s.base.GetEndpoint(ctx, endpoint.ID)
	saved, err := s.base.SaveEndpoint(ctx, endpoint)
	if err != nil {
		return core.WebhookEndpoint{}, err
	}
	keys := []string{EndpointCacheKey("id", saved.ID), EndpointCacheKey("path", saved.Path)}
	if prevErr == nil && previous.Path != saved.Path {
		keys = append(keys, EndpointCacheKey("path", previous.Path))
	}
	return saved, s.invalidate(ctx, keys...)
}

func (s *CachedEndpointStore) GetEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	id = strings.TrimSpace(id)
	endpoint, err := repositorycache.GetOrFetch(ctx, s.cache, EndpointCacheKey("id", id), func(ctx context.Context) (core.WebhookEndpoint, error) {
		return s.base.GetEndpoint(ctx, id)
	})
	return cloneEndpoint(endpoint), err
}

func (s *CachedEndpointStore) GetEndpointByPath(ctx context.Context, path string) (core.WebhookEndpoint, error) {
	path = core.NormalizePath(path)
	endpoint, err := repositorycache.GetOrFetch(ctx, s.cache, EndpointCacheKey("path", path), func(ctx context.Context) (core.WebhookEndpoint, error) {
		return s.base.GetEndpointByPath(ctx, path)
	})
	return cloneEndpoint(endpoint), err
}

func (s *CachedEndpointStore) ListEndpoints(ctx context.Context) ([]core.WebhookEndpoint, error) {
	return s.base.ListEndpoints(ctx)
}

func (s *CachedEndpointStore) SetEndpointActive(ctx context.Context, id string, active bool) error {
	id = strings.TrimSpace(id)
	if err := s.base.SetEndpointActive(ctx, id, active); err != nil {
		return err
	}
	keys := []string{EndpointCacheKey("id", id)}
	if current, err := s.base.GetEndpoint(ctx, id); err == nil {
		keys = append(keys, EndpointCacheKey("path", current.Path))
	}
	return s.invalidate(ctx, keys...)
}

func (s *CachedEndpointStore) invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func cloneEndpoint(endpoint core.WebhookEndpoint) core.WebhookEndpoint {
	endpoint.SealedSecret = append([]byte(nil), endpoint.SealedSecret...)
	return endpoint
}

var _ core.EndpointStore = (*CachedEndpointStore)(nil)
