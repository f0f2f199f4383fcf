package sqlstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// ChannelStore persists channel configurations. Credentials are sealed with
// the configured SecretProvider before they reach the database.
type ChannelStore struct {
	db      *bun.DB
	repo    repository.Repository[*channelRecord]
	secrets core.SecretProvider
}

func NewChannelStore(db *bun.DB, secrets core.SecretProvider) (*ChannelStore, error) {
	if db == nil {
		return nil, badInput("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, channelHandlers(), "channel")
	if err != nil {
		return nil, err
	}
	return &ChannelStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *ChannelStore) SaveChannel(ctx context.Context, cfg core.ChannelConfig) (core.ChannelConfig, error) {
	if s == nil || s.db == nil {
		return core.ChannelConfig{}, errNotConfigured
	}
	cfg.ID = strings.TrimSpace(cfg.ID)
	if cfg.ID == "" {
		return core.ChannelConfig{}, badInput("sqlstore: channel id is required")
	}
	sealed, err := s.seal(ctx, cfg.Credentials)
	if err != nil {
		return core.ChannelConfig{}, err
	}
	now := time.Now().UTC()
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = now
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &channelRecord{}
		findErr := tx.NewSelect().Model(existing).Where("?TableAlias.id = ?", cfg.ID).Limit(1).Scan(ctx)
		if findErr != nil && !isNoRows(findErr) {
			return findErr
		}
		record := newChannelRecord(cfg, sealed)
		if isNoRows(findErr) {
			if record.CreatedAt.IsZero() {
				record.CreatedAt = now
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		record.CreatedAt = existing.CreatedAt
		_, updateErr := tx.NewUpdate().Model(record).WherePK().Exec(ctx)
		return updateErr
	})
	if err != nil {
		return core.ChannelConfig{}, storeError("sqlstore: save channel", err)
	}
	return s.GetChannel(ctx, cfg.ID)
}

func (s *ChannelStore) GetChannel(ctx context.Context, id string) (core.ChannelConfig, error) {
	if s == nil || s.db == nil {
		return core.ChannelConfig{}, errNotConfigured
	}
	id = strings.TrimSpace(id)
	record := &channelRecord{}
	if err := s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return core.ChannelConfig{}, notFound("channel", id)
		}
		return core.ChannelConfig{}, storeError("sqlstore: get channel", err)
	}
	return s.toDomain(ctx, record)
}

func (s *ChannelStore) ListChannels(ctx context.Context) ([]core.ChannelConfig, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("id ASC"))
	if err != nil {
		return nil, storeError("sqlstore: list channels", err)
	}
	out := make([]core.ChannelConfig, 0, len(records))
	for _, record := range records {
		cfg, err := s.toDomain(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *ChannelStore) SetChannelEnabled(ctx context.Context, id string, enabled bool) error {
	return s.setFlag(ctx, id, "enabled", enabled)
}

func (s *ChannelStore) SetChannelHealthy(ctx context.Context, id string, healthy bool) error {
	return s.setFlag(ctx, id, "healthy", healthy)
}

func (s *ChannelStore) setFlag(ctx context.Context, id string, column string, value bool) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	id = strings.TrimSpace(id)
	result, err := s.db.NewUpdate().
		Model((*channelRecord)(nil)).
		Set("? = ?", bun.Ident(column), value).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storeError("sqlstore: update channel "+column, err)
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		return notFound("channel", id)
	}
	return nil
}

func (s *ChannelStore) seal(ctx context.Context, credentials map[string]string) ([]byte, error) {
	if len(credentials) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(credentials)
	if err != nil {
		return nil, storeError("sqlstore: encode channel credentials", err)
	}
	if s.secrets == nil {
		return raw, nil
	}
	sealed, err := s.secrets.Encrypt(ctx, raw)
	if err != nil {
		return nil, storeError("sqlstore: seal channel credentials", err)
	}
	return sealed, nil
}

func (s *ChannelStore) toDomain(ctx context.Context, record *channelRecord) (core.ChannelConfig, error) {
	cfg := core.ChannelConfig{
		ID:       record.ID,
		Kind:     core.ChannelKind(record.Kind),
		Name:     record.Name,
		Settings: core.CloneStringMap(record.Settings),
		Enabled:  record.Enabled,
		Healthy:  record.Healthy,
		RateLimit: core.RateLimitSpec{
			Permits:  record.RatePermits,
			Interval: time.Duration(record.RateIntervalMS) * time.Millisecond,
			Burst:    record.RateBurst,
		},
		CreatedAt: record.CreatedAt.UTC(),
		UpdatedAt: record.UpdatedAt.UTC(),
	}
	if len(record.Credentials) == 0 {
		return cfg, nil
	}
	raw := record.Credentials
	if s.secrets != nil {
		opened, err := s.secrets.Decrypt(ctx, record.Credentials)
		if err != nil {
			return core.ChannelConfig{}, storeError("sqlstore: open channel credentials", err)
		}
		raw = opened
	}
	if err := json.Unmarshal(raw, &cfg.Credentials); err != nil {
		return core.ChannelConfig{}, storeError("sqlstore: decode channel credentials", err)
	}
	return cfg, nil
}

func newChannelRecord(cfg core.ChannelConfig, sealed []byte) *channelRecord {
	settings := core.CloneStringMap(cfg.Settings)
	if settings == nil {
		settings = map[string]string{}
	}
	return &channelRecord{
		ID:             cfg.ID,
		Kind:           string(cfg.Kind),
		Name:           strings.TrimSpace(cfg.Name),
		Credentials:    sealed,
		Settings:       settings,
		Enabled:        cfg.Enabled,
		Healthy:        cfg.Healthy,
		RatePermits:    cfg.RateLimit.Permits,
		RateIntervalMS: cfg.RateLimit.Interval.Milliseconds(),
		RateBurst:      cfg.RateLimit.Burst,
		CreatedAt:      cfg.CreatedAt.UTC(),
		UpdatedAt:      cfg.UpdatedAt.UTC(),
	}
}

var _ core.ChannelStore = (*ChannelStore)(nil)
