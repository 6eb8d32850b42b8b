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

// LotMatchStore persists the LIFO matched-lot ledger.
type LotMatchStore struct {
	pool *pgxpool.Pool
}

// NewLotMatchStore constructs a LotMatchStore backed by the provided pool.
func NewLotMatchStore(pool *pgxpool.Pool) *LotMatchStore {
	return &LotMatchStore{pool: pool}
}

const (
	lotMatchDeleteAllSQL = `DELETE FROM lot_matches;`

	lotMatchDeleteWindowSQL = `
DELETE FROM lot_matches
WHERE sell_ts::date >= @start_date AND sell_ts::date <= @end_date;
`

	lotMatchInsertSQL = `
INSERT INTO lot_matches (
    instrument_code,
    instrument_name,
    credit_class,
    buy_source_id,
    sell_source_id,
    buy_ts,
    sell_ts,
    buy_price,
    sell_price,
    matched_qty,
    realized_pnl,
    holding_seconds,
    holding_days,
    pass_id
)
VALUES (
    @instrument_code,
    @instrument_name,
    @credit_class,
    @buy_source_id,
    @sell_source_id,
    @buy_ts,
    @sell_ts,
    @buy_price,
    @sell_price,
    @matched_qty,
    @realized_pnl,
    @holding_seconds,
    @holding_days,
    @pass_id
);
`

	lotMatchSelectSQL = `
SELECT
    instrument_code,
    instrument_name,
    credit_class,
    buy_source_id,
    sell_source_id,
    buy_ts,
    sell_ts,
    buy_price::text,
    sell_price::text,
    matched_qty,
    realized_pnl::text,
    holding_seconds,
    holding_days
FROM lot_matches
ORDER BY sell_ts, sell_source_id, id;
`
)

// Replace atomically swaps the matched-lot rows in scope for the provided
// set: rows whose sell date falls inside the window are deleted first (all
// rows for a zero window), then matches are inserted, all inside one
// transaction. A failure rolls the whole pass back.
func (s *LotMatchStore) Replace(ctx context.Context, window tradestore.Window, passID uuid.UUID, matches []tradestore.MatchedLot) error {
	if s.pool == nil {
		return fmt.Errorf("lot match store: nil pool")
	}

	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite

	tx, err := s.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("begin lot match tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if window.IsZero() {
		if _, err := tx.Exec(ctx, lotMatchDeleteAllSQL); err != nil {
			return fmt.Errorf("clear lot matches: %w", err)
		}
	} else {
		args := pgx.NamedArgs{
			"start_date": window.Start,
			"end_date":   window.End,
		}
		if _, err := tx.Exec(ctx, lotMatchDeleteWindowSQL, args); err != nil {
			return fmt.Errorf("clear lot match window: %w", err)
		}
	}

	for _, m := range matches {
		buyPrice, err := numericFromDecimal(m.BuyPrice)
		if err != nil {
			return fmt.Errorf("buy price: %w", err)
		}
		sellPrice, err := numericFromDecimal(m.SellPrice)
		if err != nil {
			return fmt.Errorf("sell price: %w", err)
		}
		pnl, err := numericFromDecimal(m.RealizedPnL)
		if err != nil {
			return fmt.Errorf("realized pnl: %w", err)
		}
		args := pgx.NamedArgs{
			"instrument_code": m.InstrumentCode,
			"instrument_name": m.InstrumentName,
			"credit_class":    m.CreditClass,
			"buy_source_id":   m.BuySourceID,
			"sell_source_id":  m.SellSourceID,
			"buy_ts":          m.BuyTime,
			"sell_ts":         m.SellTime,
			"buy_price":       buyPrice,
			"sell_price":      sellPrice,
			"matched_qty":     m.MatchedQty,
			"realized_pnl":    pnl,
			"holding_seconds": m.HoldingSeconds,
			"holding_days":    m.HoldingDays,
			"pass_id":         passID,
		}
		if _, err := tx.Exec(ctx, lotMatchInsertSQL, args); err != nil {
			return fmt.Errorf("insert lot match: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lot match tx: %w", err)
	}
	return nil
}

// List returns every matched lot ordered by sell time; downstream P&L
// reporting reads this, not the raw execution feed.
func (s *LotMatchStore) List(ctx context.Context) ([]tradestore.MatchedLot, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("lot match store: nil pool")
	}
	rows, err := s.pool.Query(ctx, lotMatchSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("select lot matches: %w", err)
	}
	defer rows.Close()

	var matches []tradestore.MatchedLot
	for rows.Next() {
		var (
			m                          tradestore.MatchedLot
			buyText, sellText, pnlText string
			buyTime, sellTime          time.Time
		)
		if err := rows.Scan(
			&m.InstrumentCode,
			&m.InstrumentName,
			&m.CreditClass,
			&m.BuySourceID,
			&m.SellSourceID,
			&buyTime,
			&sellTime,
			&buyText,
			&sellText,
			&m.MatchedQty,
			&pnlText,
			&m.HoldingSeconds,
			&m.HoldingDays,
		); err != nil {
			return nil, fmt.Errorf("scan lot match: %w", err)
		}
		m.BuyTime = buyTime
		m.SellTime = sellTime
		if m.BuyPrice, err = decimalFromText(buyText); err != nil {
			return nil, fmt.Errorf("lot match buy price: %w", err)
		}
		if m.SellPrice, err = decimalFromText(sellText); err != nil {
			return nil, fmt.Errorf("lot match sell price: %w", err)
		}
		if m.RealizedPnL, err = decimalFromText(pnlText); err != nil {
			return nil, fmt.Errorf("lot match pnl: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lot matches: %w", err)
	}
	return matches, nil
}
