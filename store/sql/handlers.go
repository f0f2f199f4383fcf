package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// recordHandlers builds repository handlers for records keyed by a string id
// column. Channel and endpoint ids are operator chosen, so GetID only reports
// a uuid when the id parses as one.
func recordHandlers[T any](newRecord func() T, getID func(T) string, setID func(T, string)) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			return parseUUID(getID(record))
		},
		SetID: func(record T, id uuid.UUID) {
			setID(record, id.String())
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			return strings.TrimSpace(getID(record))
		},
	}
}

func channelHandlers() repository.ModelHandlers[*channelRecord] {
	return recordHandlers(
		func() *channelRecord { return &channelRecord{} },
		func(r *channelRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *channelRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func preferenceHandlers() repository.ModelHandlers[*userPreferenceRecord] {
	return recordHandlers(
		func() *userPreferenceRecord { return &userPreferenceRecord{} },
		func(r *userPreferenceRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *userPreferenceRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func auditEntryHandlers() repository.ModelHandlers[*auditEntryRecord] {
	return recordHandlers(
		func() *auditEntryRecord { return &auditEntryRecord{} },
		func(r *auditEntryRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *auditEntryRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func endpointHandlers() repository.ModelHandlers[*webhookEndpointRecord] {
	return recordHandlers(
		func() *webhookEndpointRecord { return &webhookEndpointRecord{} },
		func(r *webhookEndpointRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *webhookEndpointRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func newRepository[T any](db *bun.DB, handlers repository.ModelHandlers[T], name string) (repository.Repository[T], error) {
	repo := repository.NewRepository[T](db, handlers)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, storeError("sqlstore: invalid "+name+" repository wiring", err)
		}
	}
	return repo, nil
}
