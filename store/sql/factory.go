package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-notify/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// Stores groups every bun backed store over one database handle.
type Stores struct {
	db *bun.DB

	channels    *ChannelStore
	endpoints   *EndpointStore
	preferences *PreferenceStore
	audit       *AuditStore
	events      *EventStore
}

// NewStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client. secrets seals channel credentials and may be nil.
func NewStores(client any, secrets core.SecretProvider) (*Stores, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	stores := &Stores{db: db}
	if stores.channels, err = NewChannelStore(db, secrets); err != nil {
		return nil, err
	}
	if stores.endpoints, err = NewEndpointStore(db); err != nil {
		return nil, err
	}
	if stores.preferences, err = NewPreferenceStore(db); err != nil {
		return nil, err
	}
	if stores.audit, err = NewAuditStore(db); err != nil {
		return nil, err
	}
	if stores.events, err = NewEventStore(db); err != nil {
		return nil, err
	}
	return stores, nil
}

func NewStoresFromPersistence(client *persistence.Client, secrets core.SecretProvider) (*Stores, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewStores(client, secrets)
}

func (s *Stores) DB() *bun.DB                   { return s.db }
func (s *Stores) Channels() *ChannelStore       { return s.channels }
func (s *Stores) Endpoints() *EndpointStore     { return s.endpoints }
func (s *Stores) Preferences() *PreferenceStore { return s.preferences }
func (s *Stores) Audit() *AuditStore            { return s.audit }
func (s *Stores) Events() *EventStore           { return s.events }

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
