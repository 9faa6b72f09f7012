package commit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/crewdispatch/libs/db"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/outbox"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/storage"
)

// PostgresRunner runs commits in a pgx transaction. Worker locks are
// transaction-scoped advisory locks, so they need no cleanup.
type PostgresRunner struct {
	pool   *db.Pool
	store  *storage.Store
	outbox *outbox.Repository
}

func NewPostgresRunner(pool *db.Pool, store *storage.Store, repo *outbox.Repository) *PostgresRunner {
	return &PostgresRunner{pool: pool, store: store, outbox: repo}
}

func (r *PostgresRunner) InTx(ctx context.Context, fn func(Tx) error) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{Store: r.store.WithTx(tx), tx: tx, outbox: r.outbox})
	})
}

type pgTx struct {
	*storage.Store
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) LockWorker(ctx context.Context, workerID string) error {
	return db.AdvisoryXactLock(ctx, t.tx, "dispatch:worker:"+workerID)
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}
