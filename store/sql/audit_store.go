package sqlstore

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditStore is the append-only notification log.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, badInput("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, auditEntryHandlers(), "audit entry")
	if err != nil {
		return nil, err
	}
	return &AuditStore{db: db, repo: repo}, nil
}

func (s *AuditStore) Append(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return errNotConfigured
	}
	if strings.TrimSpace(entry.NotificationID) == "" || strings.TrimSpace(entry.ChannelID) == "" {
		return badInput("sqlstore: audit entry notification id and channel id are required")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	record := &auditEntryRecord{
		ID:             entry.ID,
		NotificationID: entry.NotificationID,
		ChannelID:      entry.ChannelID,
		Status:         string(entry.Status),
		ErrorKind:      string(entry.ErrorKind),
		Error:          entry.Error,
		Attempts:       entry.Attempts,
		Priority:       string(entry.Priority),
		Level:          string(entry.Level),
		CorrelationID:  entry.CorrelationID,
		StartedAt:      entry.StartedAt.UTC(),
		FinishedAt:     entry.FinishedAt.UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return storeError("sqlstore: append audit entry", err)
	}
	return nil
}

// List returns matching entries oldest first. A positive Limit keeps the most
// recent matches.
func (s *AuditStore) List(ctx context.Context, filter core.AuditFilter) ([]core.AuditEntry, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("finished_at DESC"),
		repository.OrderBy("created_at DESC"),
	}
	if value := strings.TrimSpace(filter.NotificationID); value != "" {
		selectors = append(selectors, repository.SelectBy("notification_id", "=", value))
	}
	if value := strings.TrimSpace(filter.ChannelID); value != "" {
		selectors = append(selectors, repository.SelectBy("channel_id", "=", value))
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if filter.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(filter.Limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, storeError("sqlstore: list audit entries", err)
	}
	slices.Reverse(records)

	out := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		out = append(out, core.AuditEntry{
			ID:             record.ID,
			NotificationID: record.NotificationID,
			ChannelID:      record.ChannelID,
			Status:         core.AuditStatus(record.Status),
			ErrorKind:      core.ErrorKind(record.ErrorKind),
			Error:          record.Error,
			Attempts:       record.Attempts,
			Priority:       core.Priority(record.Priority),
			Level:          core.Level(record.Level),
			CorrelationID:  record.CorrelationID,
			StartedAt:      record.StartedAt.UTC(),
			FinishedAt:     record.FinishedAt.UTC(),
		})
	}
	return out, nil
}

var _ core.AuditLog = (*AuditStore)(nil)
