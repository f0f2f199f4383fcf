package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// EndpointStore persists webhook endpoints. Paths are unique across the
// table, including inactive endpoints.
type EndpointStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEndpointRecord]
}

func NewEndpointStore(db *bun.DB) (*EndpointStore, error) {
	if db == nil {
		return nil, badInput("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, endpointHandlers(), "webhook endpoint")
	if err != nil {
		return nil, err
	}
	return &EndpointStore{db: db, repo: repo}, nil
}

func (s *EndpointStore) SaveEndpoint(ctx context.Context, endpoint core.WebhookEndpoint) (core.WebhookEndpoint, error) {
	if s == nil || s.db == nil {
		return core.WebhookEndpoint{}, errNotConfigured
	}
	endpoint.ID = strings.TrimSpace(endpoint.ID)
	endpoint.Path = core.NormalizePath(endpoint.Path)
	if err := endpoint.Validate(); err != nil {
		return core.WebhookEndpoint{}, badInput(err.Error())
	}
	now := time.Now().UTC()
	if endpoint.UpdatedAt.IsZero() {
		endpoint.UpdatedAt = now
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &webhookEndpointRecord{}
		findErr := tx.NewSelect().Model(existing).Where("?TableAlias.id = ?", endpoint.ID).Limit(1).Scan(ctx)
		if findErr != nil && !isNoRows(findErr) {
			return findErr
		}
		record := newEndpointRecord(endpoint)
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
		return core.WebhookEndpoint{}, storeError("sqlstore: save webhook endpoint", err)
	}
	return s.GetEndpoint(ctx, endpoint.ID)
}

func (s *EndpointStore) GetEndpoint(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	return s.getBy(ctx, "id", strings.TrimSpace(id))
}

func (s *EndpointStore) GetEndpointByPath(ctx context.Context, path string) (core.WebhookEndpoint, error) {
	return s.getBy(ctx, "path", core.NormalizePath(path))
}

func (s *EndpointStore) ListEndpoints(ctx context.Context) ([]core.WebhookEndpoint, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("path ASC"))
	if err != nil {
		return nil, storeError("sqlstore: list webhook endpoints", err)
	}
	out := make([]core.WebhookEndpoint, 0, len(records))
	for _, record := range records {
		out = append(out, endpointToDomain(record))
	}
	return out, nil
}

func (s *EndpointStore) SetEndpointActive(ctx context.Context, id string, active bool) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	id = strings.TrimSpace(id)
	result, err := s.db.NewUpdate().
		Model((*webhookEndpointRecord)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return storeError("sqlstore: update webhook endpoint", err)
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		return notFound("webhook endpoint", id)
	}
	return nil
}

func (s *EndpointStore) getBy(ctx context.Context, column string, value string) (core.WebhookEndpoint, error) {
	if s == nil || s.db == nil {
		return core.WebhookEndpoint{}, errNotConfigured
	}
	record := &webhookEndpointRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return core.WebhookEndpoint{}, notFound("webhook endpoint", value)
		}
		return core.WebhookEndpoint{}, storeError("sqlstore: get webhook endpoint", err)
	}
	return endpointToDomain(record), nil
}

func newEndpointRecord(endpoint core.WebhookEndpoint) *webhookEndpointRecord {
	return &webhookEndpointRecord{
		ID:              endpoint.ID,
		Path:            endpoint.Path,
		AuthMethod:      string(endpoint.AuthMethod),
		SecretHash:      endpoint.SecretHash,
		SealedSecret:    append([]byte(nil), endpoint.SealedSecret...),
		SignatureHeader: strings.TrimSpace(endpoint.SignatureHeader),
		TimestampHeader: strings.TrimSpace(endpoint.TimestampHeader),
		EventTypeHeader: strings.TrimSpace(endpoint.EventTypeHeader),
		TargetKind:      string(endpoint.TargetKind),
		TargetID:        strings.TrimSpace(endpoint.TargetID),
		Active:          endpoint.Active,
		CreatedAt:       endpoint.CreatedAt.UTC(),
		UpdatedAt:       endpoint.UpdatedAt.UTC(),
	}
}

func endpointToDomain(record *webhookEndpointRecord) core.WebhookEndpoint {
	if record == nil {
		return core.WebhookEndpoint{}
	}
	return core.WebhookEndpoint{
		ID:              record.ID,
		Path:            record.Path,
		AuthMethod:      core.AuthMethod(record.AuthMethod),
		SecretHash:      record.SecretHash,
		SealedSecret:    append([]byte(nil), record.SealedSecret...),
		SignatureHeader: record.SignatureHeader,
		TimestampHeader: record.TimestampHeader,
		EventTypeHeader: record.EventTypeHeader,
		TargetKind:      core.TargetKind(record.TargetKind),
		TargetID:        record.TargetID,
		Active:          record.Active,
		CreatedAt:       record.CreatedAt.UTC(),
		UpdatedAt:       record.UpdatedAt.UTC(),
	}
}

var _ core.EndpointStore = (*EndpointStore)(nil)
