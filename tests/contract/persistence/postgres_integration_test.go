package persistence_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
	pgstore "github.com/kfin-labs/lotledger/internal/infra/persistence/postgres"
	"github.com/kfin-labs/lotledger/internal/ledger"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "lotledger"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/lotledger?sslmode=disable", host, port.Port())

	if err := applyMigrations(dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func applyMigrations(dsn string) error {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("runtime caller lookup failed")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
	migrationsDir := filepath.Join(root, "db", "migrations")
	sourceURL := fmt.Sprintf("file://%s", migrationsDir)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func newTestExecution(day time.Time, orderTime, side string, qty int64, price string) tradestore.NewExecution {
	return tradestore.NewExecution{
		TradeDate:      day,
		OrderTime:      orderTime,
		InstrumentCode: "005930",
		InstrumentName: "삼성전자",
		CreditClass:    "현금",
		SideDescriptor: side,
		Quantity:       qty,
		Price:          decimal.RequireFromString(price),
	}
}

func TestTradeLedgerStores(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgstore.New(testPool)

	dayOne := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	dayTwo := dayOne.AddDate(0, 0, 1)

	// Deliberately out of chronological order: the loader must sort, and the
	// zero-quantity row must be filtered.
	execs := []tradestore.NewExecution{
		newTestExecution(dayTwo, "09:05:00", "매도", 8, "71000"),
		newTestExecution(dayOne, "14:10:00", "매수", 5, "70500"),
		newTestExecution(dayOne, "09:30:00", "매수", 10, "70000"),
		newTestExecution(dayTwo, "", "매수", 0, "0"),
	}
	if err := store.Trades.InsertExecutions(ctx, execs); err != nil {
		t.Fatalf("insert executions: %v", err)
	}

	records, err := store.Trades.LoadExecutions(ctx, tradestore.Window{})
	if err != nil {
		t.Fatalf("load executions: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 positive-quantity records, got %d", len(records))
	}
	if records[0].OrderTime != "09:30:00" || records[1].OrderTime != "14:10:00" || records[2].OrderTime != "09:05:00" {
		t.Fatalf("records not in chronological order: %+v", records)
	}
	if !records[0].Price.Equal(decimal.RequireFromString("70000")) {
		t.Fatalf("price round trip failed: %s", records[0].Price)
	}

	windowed, err := store.Trades.LoadExecutions(ctx, tradestore.Window{Start: dayTwo, End: dayTwo})
	if err != nil {
		t.Fatalf("load windowed executions: %v", err)
	}
	if len(windowed) != 1 || windowed[0].SideDescriptor != "매도" {
		t.Fatalf("unexpected windowed records %+v", windowed)
	}

	matches := ledger.MatchLots(records)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matched lots, got %d", len(matches))
	}

	passOne := uuid.New()
	if err := store.Lots.Replace(ctx, tradestore.Window{}, passOne, matches); err != nil {
		t.Fatalf("replace lot matches: %v", err)
	}
	stored, err := store.Lots.List(ctx)
	if err != nil {
		t.Fatalf("list lot matches: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored matches, got %d", len(stored))
	}
	// LIFO: the day-one 14:10 lot of 5 closes first, then 3 from the 09:30 lot.
	if stored[0].MatchedQty != 5 || stored[1].MatchedQty != 3 {
		t.Fatalf("unexpected LIFO depletion: %+v", stored)
	}
	wantPnL := decimal.RequireFromString("500").Mul(decimal.NewFromInt(5))
	if !stored[0].RealizedPnL.Equal(wantPnL) {
		t.Fatalf("expected pnl %s, got %s", wantPnL, stored[0].RealizedPnL)
	}

	// A second full replace swaps rather than accumulates.
	if err := store.Lots.Replace(ctx, tradestore.Window{}, uuid.New(), matches); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	stored, err = store.Lots.List(ctx)
	if err != nil {
		t.Fatalf("list after second replace: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("replace accumulated rows: got %d", len(stored))
	}

	// A windowed replace only touches rows whose sell date is inside the
	// window.
	if err := store.Lots.Replace(ctx, tradestore.Window{Start: dayTwo, End: dayTwo}, uuid.New(), nil); err != nil {
		t.Fatalf("windowed replace: %v", err)
	}
	stored, err = store.Lots.List(ctx)
	if err != nil {
		t.Fatalf("list after windowed replace: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected window rows cleared, got %d", len(stored))
	}

	episodes := ledger.BuildEpisodes(records)
	if len(episodes) != 1 {
		t.Fatalf("expected 1 episode, got %d", len(episodes))
	}
	if err := store.Episodes.ReplaceAll(ctx, passOne, episodes); err != nil {
		t.Fatalf("replace episodes: %v", err)
	}
	storedEpisodes, err := store.Episodes.List(ctx)
	if err != nil {
		t.Fatalf("list episodes: %v", err)
	}
	if len(storedEpisodes) != 1 {
		t.Fatalf("expected 1 stored episode, got %d", len(storedEpisodes))
	}
	// 15 bought, 8 sold: the position is still open.
	ep := storedEpisodes[0]
	if ep.EndTime != nil || ep.EndQty != 7 || ep.StartQty != 10 {
		t.Fatalf("unexpected episode %+v", ep)
	}

	queryDate := dayTwo
	err = store.Snapshots.Insert(ctx, "account_balance", &queryDate, map[string]any{
		"tot_est_amt": "1234567",
	})
	if err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
	var snapshotCount int
	if err := testPool.QueryRow(ctx, "SELECT count(*) FROM account_snapshots WHERE kind = 'account_balance'").Scan(&snapshotCount); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if snapshotCount != 1 {
		t.Fatalf("expected 1 snapshot, got %d", snapshotCount)
	}
}
