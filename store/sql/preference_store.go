package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-notify/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PreferenceStore keeps one preference row per user and channel.
type PreferenceStore struct {
	db   *bun.DB
	repo repository.Repository[*userPreferenceRecord]
}

func NewPreferenceStore(db *bun.DB) (*PreferenceStore, error) {
	if db == nil {
		return nil, badInput("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, preferenceHandlers(), "user preference")
	if err != nil {
		return nil, err
	}
	return &PreferenceStore{db: db, repo: repo}, nil
}

func (s *PreferenceStore) SavePreference(ctx context.Context, pref core.UserPreference) (core.UserPreference, error) {
	if s == nil || s.db == nil {
		return core.UserPreference{}, errNotConfigured
	}
	pref.UserID = strings.TrimSpace(pref.UserID)
	pref.ChannelID = strings.TrimSpace(pref.ChannelID)
	if pref.UserID == "" || pref.ChannelID == "" {
		return core.UserPreference{}, badInput("sqlstore: preference user id and channel id are required")
	}
	if pref.MinLevel != "" && !pref.MinLevel.Valid() {
		return core.UserPreference{}, badInput("sqlstore: invalid preference level " + string(pref.MinLevel))
	}
	now := time.Now().UTC()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &userPreferenceRecord{}
		findErr := tx.NewSelect().
			Model(record).
			Where("?TableAlias.user_id = ?", pref.UserID).
			Where("?TableAlias.channel_id = ?", pref.ChannelID).
			Limit(1).
			Scan(ctx)
		if findErr != nil && !isNoRows(findErr) {
			return findErr
		}
		created := isNoRows(findErr)
		if created {
			record = &userPreferenceRecord{ID: uuid.NewString(), UserID: pref.UserID, ChannelID: pref.ChannelID, CreatedAt: now}
		}
		record.Address = strings.TrimSpace(pref.Address)
		record.MinLevel = string(pref.MinLevel)
		record.QuietStart = strings.TrimSpace(pref.QuietHours.Start)
		record.QuietEnd = strings.TrimSpace(pref.QuietHours.End)
		record.QuietLocation = strings.TrimSpace(pref.QuietHours.Location)
		record.UpdatedAt = now
		if created {
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		_, updateErr := tx.NewUpdate().Model(record).WherePK().Exec(ctx)
		return updateErr
	})
	if err != nil {
		return core.UserPreference{}, storeError("sqlstore: save user preference", err)
	}
	return pref, nil
}

func (s *PreferenceStore) ListPreferences(ctx context.Context, userID string) ([]core.UserPreference, error) {
	if s == nil || s.repo == nil {
		return nil, errNotConfigured
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.OrderBy("channel_id ASC"),
	)
	if err != nil {
		return nil, storeError("sqlstore: list user preferences", err)
	}
	out := make([]core.UserPreference, 0, len(records))
	for _, record := range records {
		out = append(out, core.UserPreference{
			UserID:    record.UserID,
			ChannelID: record.ChannelID,
			Address:   record.Address,
			MinLevel:  core.Level(record.MinLevel),
			QuietHours: core.QuietHours{
				Start:    record.QuietStart,
				End:      record.QuietEnd,
				Location: record.QuietLocation,
			},
		})
	}
	return out, nil
}

func (s *PreferenceStore) DeletePreference(ctx context.Context, userID string, channelID string) error {
	if s == nil || s.db == nil {
		return errNotConfigured
	}
	_, err := s.db.NewDelete().
		Model((*userPreferenceRecord)(nil)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("channel_id = ?", strings.TrimSpace(channelID)).
		Exec(ctx)
	return storeError("sqlstore: delete user preference", err)
}

var _ core.PreferenceStore = (*PreferenceStore)(nil)
