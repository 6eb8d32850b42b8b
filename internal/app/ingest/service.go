// Package ingest pulls executions and account snapshots from the brokerage
// into the persisted ledger.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kfin-labs/lotledger/internal/calendar"
	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
	"github.com/kfin-labs/lotledger/internal/telemetry"
)

// Snapshot kinds written by Archive.
const (
	snapshotKindBalance     = "account_balance"
	snapshotKindRealizedPnL = "realized_pnl_daily"
)

// Broker is the brokerage API surface the ingest service consumes.
type Broker interface {
	TradeHistory(ctx context.Context, day time.Time) ([]tradestore.NewExecution, error)
	AccountBalance(ctx context.Context) (map[string]any, error)
	RealizedPnLDaily(ctx context.Context, start, end time.Time) (map[string]any, error)
}

// ExecutionWriter appends broker-reported executions to the history.
type ExecutionWriter interface {
	InsertExecutions(ctx context.Context, execs []tradestore.NewExecution) error
}

// SnapshotWriter archives raw brokerage payloads.
type SnapshotWriter interface {
	Insert(ctx context.Context, kind string, queryDate *time.Time, payload map[string]any) error
}

// Service drives brokerage synchronisation. A nil logger disables
// informational logging.
type Service struct {
	broker    Broker
	trades    ExecutionWriter
	snapshots SnapshotWriter
	cal       *calendar.Calendar
	logger    *log.Logger
}

// NewService wires an ingest service.
func NewService(broker Broker, trades ExecutionWriter, snapshots SnapshotWriter, cal *calendar.Calendar, logger *log.Logger) (*Service, error) {
	if broker == nil || trades == nil || snapshots == nil || cal == nil {
		return nil, fmt.Errorf("ingest service: nil dependency")
	}
	return &Service{broker: broker, trades: trades, snapshots: snapshots, cal: cal, logger: logger}, nil
}

// SyncDay ingests every execution the brokerage reports for the given day.
// Non-trading days are skipped without touching the brokerage. Returns the
// number of executions persisted.
func (s *Service) SyncDay(ctx context.Context, day time.Time) (int, error) {
	if !s.cal.IsTradingDay(day) {
		if s.logger != nil {
			s.logger.Printf("market closed, skipping sync: day=%s", day.Format("2006-01-02"))
		}
		return 0, nil
	}
	return s.fetchDay(ctx, day)
}

// ForceSyncDay ingests the given day without consulting the trading calendar,
// for backfilling past gaps regardless of the configured holiday list.
func (s *Service) ForceSyncDay(ctx context.Context, day time.Time) (int, error) {
	return s.fetchDay(ctx, day)
}

func (s *Service) fetchDay(ctx context.Context, day time.Time) (int, error) {
	execs, err := s.broker.TradeHistory(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("fetch trade history: %w", err)
	}
	if len(execs) == 0 {
		if s.logger != nil {
			s.logger.Printf("no executions reported: day=%s", day.Format("2006-01-02"))
		}
		return 0, nil
	}

	if err := s.trades.InsertExecutions(ctx, execs); err != nil {
		return 0, fmt.Errorf("persist executions: %w", err)
	}
	recordIngested(ctx, len(execs))

	if s.logger != nil {
		s.logger.Printf("executions ingested: day=%s count=%d", day.Format("2006-01-02"), len(execs))
	}
	return len(execs), nil
}

// SyncRange ingests every trading day in the inclusive [start, end] range.
// Returns the total number of executions persisted.
func (s *Service) SyncRange(ctx context.Context, start, end time.Time) (int, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("sync range: end before start")
	}
	total := 0
	for day := s.cal.Today(start); !day.After(end); day = day.AddDate(0, 0, 1) {
		n, err := s.SyncDay(ctx, day)
		if err != nil {
			return total, fmt.Errorf("sync %s: %w", day.Format("2006-01-02"), err)
		}
		total += n
	}
	return total, nil
}

// Archive snapshots the account balance and the brokerage-computed realized
// P&L for the date containing now. The raw payloads are stored for audit and
// later cross-checking against the lot matcher.
func (s *Service) Archive(ctx context.Context, now time.Time) error {
	day := s.cal.Today(now)

	balance, err := s.broker.AccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch account balance: %w", err)
	}
	if err := s.snapshots.Insert(ctx, snapshotKindBalance, &day, balance); err != nil {
		return fmt.Errorf("archive balance: %w", err)
	}

	pnl, err := s.broker.RealizedPnLDaily(ctx, day, day)
	if err != nil {
		return fmt.Errorf("fetch realized pnl: %w", err)
	}
	if err := s.snapshots.Insert(ctx, snapshotKindRealizedPnL, &day, pnl); err != nil {
		return fmt.Errorf("archive realized pnl: %w", err)
	}

	if s.logger != nil {
		s.logger.Printf("account snapshots archived: day=%s", day.Format("2006-01-02"))
	}
	return nil
}

var (
	ingestOnce    sync.Once
	ingestCounter metric.Int64Counter
)

func recordIngested(ctx context.Context, count int) {
	ingestOnce.Do(func() {
		meter := otel.Meter("app.ingest")
		ingestCounter, _ = meter.Int64Counter("lotledger_executions_ingested_total",
			metric.WithDescription("Executions persisted from the brokerage feed"),
			metric.WithUnit("{record}"))
	})
	if ingestCounter == nil {
		return
	}
	ingestCounter.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
	))
}
