package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-notify/core"
)

// KeyResolver unseals endpoint secrets. A decrypted secret is checked once
// against the endpoint's stored hash and cached until the endpoint changes.
type KeyResolver struct {
	Secrets core.SecretProvider
	Hasher  core.SecretHasher

	mu    sync.RWMutex
	cache map[string]cachedKey
}

type cachedKey struct {
	version time.Time
	hash    string
	secret  []byte
}

func NewKeyResolver(secrets core.SecretProvider, hasher core.SecretHasher) *KeyResolver {
	return &KeyResolver{
		Secrets: secrets,
		Hasher:  hasher,
		cache:   map[string]cachedKey{},
	}
}

// Resolve returns the plaintext secret for endpoint. Endpoints using the
// "none" method resolve to nil.
func (r *KeyResolver) Resolve(ctx context.Context, endpoint core.WebhookEndpoint) ([]byte, error) {
	if endpoint.AuthMethod == core.AuthNone {
		return nil, nil
	}
	if cached, ok := r.cached(endpoint); ok {
		return cached, nil
	}
	if len(endpoint.SealedSecret) == 0 {
		return nil, core.NewKindError(core.ErrorKindInternal, "webhooks: endpoint has no sealed secret", endpointMetadata(endpoint))
	}
	if r.Secrets == nil {
		return nil, core.NewKindError(core.ErrorKindInternal, "webhooks: secret provider not configured", endpointMetadata(endpoint))
	}
	secret, err := r.Secrets.Decrypt(ctx, endpoint.SealedSecret)
	if err != nil {
		return nil, core.WrapKind(err, core.ErrorKindInternal, "webhooks: unseal endpoint secret", endpointMetadata(endpoint))
	}
	if r.Hasher != nil && !r.Hasher.Verify(endpoint.SecretHash, secret) {
		return nil, core.NewKindError(core.ErrorKindInternal, "webhooks: sealed secret does not match stored hash", endpointMetadata(endpoint))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = map[string]cachedKey{}
	}
	r.cache[endpoint.ID] = cachedKey{
		version: endpoint.UpdatedAt,
		hash:    endpoint.SecretHash,
		secret:  append([]byte(nil), secret...),
	}
	return secret, nil
}

func (r *KeyResolver) Invalidate(endpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, strings.TrimSpace(endpointID))
}

func (r *KeyResolver) cached(endpoint core.WebhookEndpoint) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[endpoint.ID]
	if !ok || !entry.version.Equal(endpoint.UpdatedAt) || entry.hash != endpoint.SecretHash {
		return nil, false
	}
	return append([]byte(nil), entry.secret...), true
}

// SealSecret hashes and seals a plaintext secret for storage on an endpoint.
func SealSecret(ctx context.Context, secrets core.SecretProvider, hasher core.SecretHasher, secret []byte) (string, []byte, error) {
	if len(secret) == 0 {
		return "", nil, core.NewKindError(core.ErrorKindFormat, "webhooks: secret is required")
	}
	if secrets == nil || hasher == nil {
		return "", nil, core.NewKindError(core.ErrorKindInternal, "webhooks: secret provider and hasher are required")
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return "", nil, err
	}
	sealed, err := secrets.Encrypt(ctx, secret)
	if err != nil {
		return "", nil, err
	}
	return hash, sealed, nil
}
