// Package postgres implements the trade-history feed and the derived-ledger
// stores on top of pgx.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the PostgreSQL-backed repositories used by the services.
type Store struct {
	Trades    *TradeStore
	Lots      *LotMatchStore
	Episodes  *EpisodeStore
	Snapshots *SnapshotStore
}

// New constructs a PostgreSQL persistence store over a shared pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Trades:    NewTradeStore(pool),
		Lots:      NewLotMatchStore(pool),
		Episodes:  NewEpisodeStore(pool),
		Snapshots: NewSnapshotStore(pool),
	}
}
