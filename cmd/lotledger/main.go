// Command lotledger drives brokerage ingestion and derived-ledger rebuilds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kfin-labs/lotledger/internal/app/ingest"
	"github.com/kfin-labs/lotledger/internal/app/rebuild"
	"github.com/kfin-labs/lotledger/internal/calendar"
	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
	"github.com/kfin-labs/lotledger/internal/infra/broker/kiwoom"
	"github.com/kfin-labs/lotledger/internal/infra/config"
	"github.com/kfin-labs/lotledger/internal/infra/persistence/migrations"
	"github.com/kfin-labs/lotledger/internal/infra/persistence/postgres"
	"github.com/kfin-labs/lotledger/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	dateLayout               = "2006-01-02"
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", defaultConfigPath, "Path to the YAML configuration file")
		dateFlag   = flag.String("date", "", "Single day to process (YYYY-MM-DD)")
		startFlag  = flag.String("start", "", "Window start date (YYYY-MM-DD)")
		endFlag    = flag.String("end", "", "Window end date (YYYY-MM-DD)")
		snapshots  = flag.Bool("snapshots", false, "Archive account snapshots after syncing")
		force      = flag.Bool("force", false, "Sync even on non-trading days")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		return errors.New("command required (sync|rebuild|stream)")
	}
	command := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stdout, "lotledger ", log.LstdFlags|log.Lmicroseconds)

	cfg, fromFile, err := config.LoadOrDefault(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !fromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s", cfg.Environment)

	telemetryProvider, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	if cfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, cfg.Database.DSN, cfg.Database.MigrationsPath, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	postgres.ObservePoolMetrics(pool, "primary")

	store := postgres.New(pool)

	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return fmt.Errorf("build calendar: %w", err)
	}

	switch command {
	case "sync":
		return runSync(ctx, cfg, store, cal, logger, *dateFlag, *startFlag, *endFlag, *snapshots, *force)
	case "rebuild":
		return runRebuild(ctx, store, logger, *startFlag, *endFlag)
	case "stream":
		return runStream(ctx, cfg, store, cal, logger)
	default:
		return fmt.Errorf("unknown command %q (expected sync, rebuild or stream)", command)
	}
}

func runSync(ctx context.Context, cfg config.AppConfig, store *postgres.Store, cal *calendar.Calendar, logger *log.Logger, dateFlag, startFlag, endFlag string, snapshots, force bool) error {
	client, err := kiwoom.NewClient(cfg.Broker, cal.Location(), logger)
	if err != nil {
		return err
	}
	svc, err := ingest.NewService(client, store.Trades, store.Snapshots, cal, logger)
	if err != nil {
		return err
	}

	syncDay := svc.SyncDay
	if force {
		syncDay = svc.ForceSyncDay
	}

	switch {
	case dateFlag != "":
		day, err := parseDate(dateFlag, cal)
		if err != nil {
			return err
		}
		if _, err := syncDay(ctx, day); err != nil {
			return err
		}
	case startFlag != "" || endFlag != "":
		start, end, err := parseWindowBounds(startFlag, endFlag, cal)
		if err != nil {
			return err
		}
		if _, err := svc.SyncRange(ctx, start, end); err != nil {
			return err
		}
	default:
		if _, err := syncDay(ctx, cal.Today(time.Now())); err != nil {
			return err
		}
	}

	if snapshots {
		if err := svc.Archive(ctx, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func runRebuild(ctx context.Context, store *postgres.Store, logger *log.Logger, startFlag, endFlag string) error {
	var window tradestore.Window
	if startFlag != "" || endFlag != "" {
		start, err := time.Parse(dateLayout, strings.TrimSpace(startFlag))
		if err != nil {
			return fmt.Errorf("parse -start: %w", err)
		}
		end, err := time.Parse(dateLayout, strings.TrimSpace(endFlag))
		if err != nil {
			return fmt.Errorf("parse -end: %w", err)
		}
		window = tradestore.Window{Start: start, End: end}
	}

	svc, err := rebuild.NewService(store.Trades, store.Lots, store.Episodes, logger)
	if err != nil {
		return err
	}
	_, err = svc.Run(ctx, window)
	return err
}

func runStream(ctx context.Context, cfg config.AppConfig, store *postgres.Store, cal *calendar.Calendar, logger *log.Logger) error {
	client, err := kiwoom.NewClient(cfg.Broker, cal.Location(), logger)
	if err != nil {
		return err
	}
	stream, err := kiwoom.NewStream(client, func(ctx context.Context, exec tradestore.NewExecution) {
		if err := store.Trades.InsertExecutions(ctx, []tradestore.NewExecution{exec}); err != nil {
			logger.Printf("persist realtime execution: %v", err)
		}
	}, logger)
	if err != nil {
		return err
	}

	logger.Printf("realtime stream starting: url=%s", cfg.Broker.SocketURL)
	if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initTelemetry(ctx context.Context, cfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry.EnableMetrics
	telemetryCfg.Environment = string(cfg.Environment)
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		telemetryCfg.OTLPEndpoint = endpoint
	}
	if name := strings.TrimSpace(cfg.Telemetry.ServiceName); name != "" {
		telemetryCfg.ServiceName = name
	}
	telemetryCfg.OTLPInsecure = telemetryCfg.OTLPInsecure || cfg.Telemetry.OTLPInsecure
	return telemetry.NewProvider(ctx, telemetryCfg)
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func parseDate(raw string, cal *calendar.Calendar) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), cal.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return day, nil
}

func parseWindowBounds(startFlag, endFlag string, cal *calendar.Calendar) (time.Time, time.Time, error) {
	if startFlag == "" || endFlag == "" {
		return time.Time{}, time.Time{}, errors.New("-start and -end must be given together")
	}
	start, err := parseDate(startFlag, cal)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDate(endFlag, cal)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
