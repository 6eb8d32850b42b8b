package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
)

// EpisodeStore persists the position-episode ledger.
type EpisodeStore struct {
	pool *pgxpool.Pool
}

// NewEpisodeStore constructs an EpisodeStore backed by the provided pool.
func NewEpisodeStore(pool *pgxpool.Pool) *EpisodeStore {
	return &EpisodeStore{pool: pool}
}

const (
	episodeDeleteAllSQL = `DELETE FROM position_episodes;`

	episodeInsertSQL = `
INSERT INTO position_episodes (
    instrument_code,
    instrument_name,
    credit_class,
    episode_seq,
    start_ts,
    end_ts,
    start_qty,
    end_qty,
    pass_id
)
VALUES (
    @instrument_code,
    @instrument_name,
    @credit_class,
    @episode_seq,
    @start_ts,
    @end_ts,
    @start_qty,
    @end_qty,
    @pass_id
);
`

	episodeSelectSQL = `
SELECT
    instrument_code,
    instrument_name,
    credit_class,
    episode_seq,
    start_ts,
    end_ts,
    start_qty,
    end_qty
FROM position_episodes
ORDER BY instrument_code, credit_class, episode_seq;
`
)

// ReplaceAll wipes and rewrites the episode ledger in one transaction.
// Episodes are always rebuilt from the complete history: an episode's start
// can lie arbitrarily far in the past, so no windowed variant exists.
func (s *EpisodeStore) ReplaceAll(ctx context.Context, passID uuid.UUID, episodes []tradestore.PositionEpisode) error {
	if s.pool == nil {
		return fmt.Errorf("episode store: nil pool")
	}

	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite

	tx, err := s.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("begin episode tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, episodeDeleteAllSQL); err != nil {
		return fmt.Errorf("clear episodes: %w", err)
	}

	for _, ep := range episodes {
		args := pgx.NamedArgs{
			"instrument_code": ep.InstrumentCode,
			"instrument_name": ep.InstrumentName,
			"credit_class":    ep.CreditClass,
			"episode_seq":     ep.EpisodeSeq,
			"start_ts":        ep.StartTime,
			"end_ts":          ep.EndTime,
			"start_qty":       ep.StartQty,
			"end_qty":         ep.EndQty,
			"pass_id":         passID,
		}
		if _, err := tx.Exec(ctx, episodeInsertSQL, args); err != nil {
			return fmt.Errorf("insert episode: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit episode tx: %w", err)
	}
	return nil
}

// List returns every episode ordered per key by sequence.
func (s *EpisodeStore) List(ctx context.Context) ([]tradestore.PositionEpisode, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("episode store: nil pool")
	}
	rows, err := s.pool.Query(ctx, episodeSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("select episodes: %w", err)
	}
	defer rows.Close()

	var episodes []tradestore.PositionEpisode
	for rows.Next() {
		var (
			ep    tradestore.PositionEpisode
			endTS *time.Time
		)
		if err := rows.Scan(
			&ep.InstrumentCode,
			&ep.InstrumentName,
			&ep.CreditClass,
			&ep.EpisodeSeq,
			&ep.StartTime,
			&endTS,
			&ep.StartQty,
			&ep.EndQty,
		); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.EndTime = endTS
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return episodes, nil
}
