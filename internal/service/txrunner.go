package service

import (
	"context"

	"omnidesk.app/core/core/db"
	"omnidesk.app/core/internal/store"
)

// StoreProvider exposes only the stores needed by transactional
// operations in this package.
type StoreProvider interface {
	Organizations() store.OrganizationStore
	Members() store.MemberStore
	Connections() store.ConnectionStore
	Tickets() store.TicketStore
	Settings() store.SettingsStore
	Stats() store.StatsStore
}

// TxRunner runs functions within a transaction and provides stores bound
// to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(q db.DBTX) error {
		stores := store.NewStores(q)
		return fn(stores)
	})
}
