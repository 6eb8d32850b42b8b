package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
)

// TradeStore persists and loads the raw execution history.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore constructs a TradeStore backed by the provided pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const (
	executionSelectSQL = `
SELECT
    id,
    trade_date,
    COALESCE(ord_tm, ''),
    instrument_code,
    instrument_name,
    credit_class,
    side_descriptor,
    executed_qty,
    executed_price::text
FROM account_trade_history
WHERE executed_qty > 0
`

	executionWindowSQL = ` AND trade_date >= @start_date AND trade_date <= @end_date`

	// The ordering is load-bearing: the matcher and the episode builder both
	// assume strictly chronological, insertion-tiebroken input.
	executionOrderSQL = ` ORDER BY trade_date ASC, COALESCE(ord_tm, '') ASC, id ASC;`

	executionInsertSQL = `
INSERT INTO account_trade_history (
    trade_date,
    ord_tm,
    instrument_code,
    instrument_name,
    credit_class,
    side_descriptor,
    executed_qty,
    executed_price,
    source_order_no
)
VALUES (
    @trade_date,
    @ord_tm,
    @instrument_code,
    @instrument_name,
    @credit_class,
    @side_descriptor,
    @executed_qty,
    @executed_price,
    @source_order_no
);
`
)

// LoadExecutions returns the execution records with a positive quantity
// inside the window (the full history for a zero window), ordered by
// (trade_date, ord_tm, id) ascending.
func (s *TradeStore) LoadExecutions(ctx context.Context, window tradestore.Window) ([]tradestore.ExecutionRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("trade store: nil pool")
	}

	query := executionSelectSQL
	var args pgx.NamedArgs
	if !window.IsZero() {
		query += executionWindowSQL
		args = pgx.NamedArgs{
			"start_date": window.Start,
			"end_date":   window.End,
		}
	}
	query += executionOrderSQL

	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("select executions: %w", err)
	}
	defer rows.Close()

	var records []tradestore.ExecutionRecord
	for rows.Next() {
		var (
			rec       tradestore.ExecutionRecord
			orderTime string
			priceText string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.TradeDate,
			&orderTime,
			&rec.InstrumentCode,
			&rec.InstrumentName,
			&rec.CreditClass,
			&rec.SideDescriptor,
			&rec.Quantity,
			&priceText,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.OrderTime = strings.TrimSpace(orderTime)
		price, err := decimalFromText(priceText)
		if err != nil {
			return nil, fmt.Errorf("execution %d: %w", rec.ID, err)
		}
		rec.Price = price
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return records, nil
}

// InsertExecutions appends broker-reported executions to the history in a
// single transaction, preserving slice order so that row ids remain a stable
// intra-day tiebreak.
func (s *TradeStore) InsertExecutions(ctx context.Context, execs []tradestore.NewExecution) error {
	if s.pool == nil {
		return fmt.Errorf("trade store: nil pool")
	}
	if len(execs) == 0 {
		return nil
	}

	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.ReadCommitted
	txOptions.AccessMode = pgx.ReadWrite

	tx, err := s.pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("begin execution tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, exec := range execs {
		price, err := numericFromDecimal(exec.Price)
		if err != nil {
			return fmt.Errorf("execution price: %w", err)
		}
		args := pgx.NamedArgs{
			"trade_date":      exec.TradeDate,
			"ord_tm":          nullableString(exec.OrderTime),
			"instrument_code": strings.TrimSpace(exec.InstrumentCode),
			"instrument_name": strings.TrimSpace(exec.InstrumentName),
			"credit_class":    strings.TrimSpace(exec.CreditClass),
			"side_descriptor": strings.TrimSpace(exec.SideDescriptor),
			"executed_qty":    exec.Quantity,
			"executed_price":  price,
			"source_order_no": nullableString(exec.SourceOrderNo),
		}
		if _, err := tx.Exec(ctx, executionInsertSQL, args); err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit execution tx: %w", err)
	}
	return nil
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
