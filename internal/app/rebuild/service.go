// Package rebuild recomputes the derived ledgers (matched lots and position
// episodes) from the persisted execution history.
package rebuild

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
	"github.com/kfin-labs/lotledger/internal/ledger"
	"github.com/kfin-labs/lotledger/internal/telemetry"
)

// ExecutionLoader loads chronologically ordered executions.
type ExecutionLoader interface {
	LoadExecutions(ctx context.Context, window tradestore.Window) ([]tradestore.ExecutionRecord, error)
}

// LotMatchWriter swaps the matched-lot rows in scope for a recomputed set.
type LotMatchWriter interface {
	Replace(ctx context.Context, window tradestore.Window, passID uuid.UUID, matches []tradestore.MatchedLot) error
}

// EpisodeWriter rewrites the episode ledger.
type EpisodeWriter interface {
	ReplaceAll(ctx context.Context, passID uuid.UUID, episodes []tradestore.PositionEpisode) error
}

// Result summarises one rebuild pass.
type Result struct {
	PassID       uuid.UUID
	Executions   int
	Matches      int
	Episodes     int
	MatcherStats ledger.MatcherStats
	UnknownSides int
}

// Service orchestrates rebuild passes. A nil logger disables informational
// logging.
type Service struct {
	loader   ExecutionLoader
	lots     LotMatchWriter
	episodes EpisodeWriter
	logger   *log.Logger
}

// NewService wires a rebuild service over the given stores.
func NewService(loader ExecutionLoader, lots LotMatchWriter, episodes EpisodeWriter, logger *log.Logger) (*Service, error) {
	if loader == nil || lots == nil || episodes == nil {
		return nil, fmt.Errorf("rebuild service: nil store")
	}
	return &Service{loader: loader, lots: lots, episodes: episodes, logger: logger}, nil
}

// Run executes one rebuild pass. Matched lots are recomputed over the window
// (the full history for a zero window) and swapped transactionally; episodes
// are always rebuilt from the complete history because an episode's start can
// precede any window.
//
// A windowed pass cannot see buy lots opened before the window, so sells at
// the window edge may go unmatched. Callers wanting exact results run a full
// pass.
func (s *Service) Run(ctx context.Context, window tradestore.Window) (Result, error) {
	passID := uuid.New()

	windowRecords, err := s.loader.LoadExecutions(ctx, window)
	if err != nil {
		return Result{}, fmt.Errorf("load executions: %w", err)
	}
	fullRecords := windowRecords
	if !window.IsZero() {
		fullRecords, err = s.loader.LoadExecutions(ctx, tradestore.Window{})
		if err != nil {
			return Result{}, fmt.Errorf("load full history: %w", err)
		}
	}

	// The two derivations read disjoint state and only share the immutable
	// input slices.
	var (
		matcher  = ledger.NewLotMatcher()
		episodes = ledger.NewEpisodeBuilder()
		wg       conc.WaitGroup
	)
	wg.Go(func() {
		for _, rec := range windowRecords {
			matcher.Apply(rec)
		}
	})
	wg.Go(func() {
		for _, rec := range fullRecords {
			episodes.Apply(rec)
		}
	})
	wg.Wait()

	matches := matcher.Matches()
	eps := episodes.Finish()

	if err := s.lots.Replace(ctx, window, passID, matches); err != nil {
		return Result{}, fmt.Errorf("replace lot matches: %w", err)
	}
	if err := s.episodes.ReplaceAll(ctx, passID, eps); err != nil {
		return Result{}, fmt.Errorf("replace episodes: %w", err)
	}

	result := Result{
		PassID:       passID,
		Executions:   len(windowRecords),
		Matches:      len(matches),
		Episodes:     len(eps),
		MatcherStats: matcher.Stats(),
		UnknownSides: episodes.UnknownRecords(),
	}
	recordPassMetrics(ctx, result, window)

	if s.logger != nil {
		s.logger.Printf("rebuild pass complete: pass=%s executions=%d matches=%d episodes=%d oversold_qty=%d unknown=%d",
			passID, result.Executions, result.Matches, result.Episodes,
			result.MatcherStats.OversoldQty, result.MatcherStats.Unknown)
	}
	return result, nil
}

var (
	metricsOnce     sync.Once
	passCounter     metric.Int64Counter
	matchCounter    metric.Int64Counter
	oversoldCounter metric.Int64Counter
	unknownCounter  metric.Int64Counter
)

func recordPassMetrics(ctx context.Context, result Result, window tradestore.Window) {
	metricsOnce.Do(func() {
		meter := otel.Meter("app.rebuild")
		passCounter, _ = meter.Int64Counter("lotledger_rebuild_passes_total",
			metric.WithDescription("Completed rebuild passes"),
			metric.WithUnit("{pass}"))
		matchCounter, _ = meter.Int64Counter("lotledger_lot_matches_total",
			metric.WithDescription("Matched lots emitted by rebuild passes"),
			metric.WithUnit("{match}"))
		oversoldCounter, _ = meter.Int64Counter("lotledger_oversold_qty_total",
			metric.WithDescription("Sell quantity dropped for lack of a recorded buy lot"),
			metric.WithUnit("{share}"))
		unknownCounter, _ = meter.Int64Counter("lotledger_unknown_side_total",
			metric.WithDescription("Executions excluded by side classification"),
			metric.WithUnit("{record}"))
	})
	scope := "full"
	if !window.IsZero() {
		scope = "window"
	}
	attrs := metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("scope", scope),
	)
	if passCounter != nil {
		passCounter.Add(ctx, 1, attrs)
	}
	if matchCounter != nil {
		matchCounter.Add(ctx, int64(result.Matches), attrs)
	}
	if oversoldCounter != nil {
		oversoldCounter.Add(ctx, result.MatcherStats.OversoldQty, attrs)
	}
	if unknownCounter != nil {
		unknownCounter.Add(ctx, int64(result.MatcherStats.Unknown), attrs)
	}
}
