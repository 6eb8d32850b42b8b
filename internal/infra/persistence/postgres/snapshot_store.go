package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SnapshotStore archives raw brokerage API payloads (account balances, daily
// realized P&L responses) for audit and replay.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore constructs a SnapshotStore backed by the provided pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotInsertSQL = `
INSERT INTO account_snapshots (kind, query_date, payload)
VALUES (@kind, @query_date, @payload::jsonb);
`

// Insert archives one raw payload under the given kind. queryDate may be nil
// for snapshots without a business date.
func (s *SnapshotStore) Insert(ctx context.Context, kind string, queryDate *time.Time, payload map[string]any) error {
	if s.pool == nil {
		return fmt.Errorf("snapshot store: nil pool")
	}
	trimmed := strings.TrimSpace(kind)
	if trimmed == "" {
		return fmt.Errorf("snapshot store: kind required")
	}
	encoded, err := encodeJSON(payload)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}
	args := pgx.NamedArgs{
		"kind":       trimmed,
		"query_date": queryDate,
		"payload":    encoded,
	}
	if _, err := s.pool.Exec(ctx, snapshotInsertSQL, args); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func encodeJSON(value map[string]any) ([]byte, error) {
	if len(value) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}
