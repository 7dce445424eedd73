package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"MarginLedger/internal/core"
	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/ledger"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/price"
	"MarginLedger/internal/projection"
	"MarginLedger/internal/query"
	"MarginLedger/internal/server"
	"MarginLedger/internal/symbol"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all application configuration, loaded from MARGIN_*
// environment variables.
type Config struct {
	// Op-log store
	OplogDriver    string
	PostgresDSN    string
	SQLitePath     string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// NATS
	NATSURL           string
	NATSSubjectPrefix string

	// Channels
	PersistChanSize int
	NotifyChanSize  int

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	SnapshotInterval time.Duration

	// gRPC/HTTP/Metrics
	GRPCPort    int
	HTTPPort    int
	MetricsPort int

	// Engine
	DirectoryFile      string
	TickURL            string
	StopOutLevel       string
	GMTOffsetHours     int
	LegacyWeekdayHours bool
}

func DefaultConfig() Config {
	return Config{
		OplogDriver:         envOrDefault("MARGIN_OPLOG_DRIVER", "postgres"),
		PostgresDSN:         envOrDefault("MARGIN_POSTGRES_DSN", ""),
		SQLitePath:          envOrDefault("MARGIN_SQLITE_PATH", ""),
		DBMaxOpenConns:      envIntOrDefault("MARGIN_DB_MAX_OPEN_CONNS", 0),
		DBMaxIdleConns:      envIntOrDefault("MARGIN_DB_MAX_IDLE_CONNS", 0),
		NATSURL:             envOrDefault("MARGIN_NATS_URL", ""),
		NATSSubjectPrefix:   envOrDefault("MARGIN_NATS_SUBJECT_PREFIX", "margin.events"),
		PersistChanSize:     envIntOrDefault("MARGIN_PERSIST_CHAN_SIZE", 1024),
		NotifyChanSize:      envIntOrDefault("MARGIN_NOTIFY_CHAN_SIZE", 4096),
		PersistBatchSize:    envIntOrDefault("MARGIN_PERSIST_BATCH_SIZE", 100),
		PersistFlushTimeout: time.Duration(envIntOrDefault("MARGIN_PERSIST_FLUSH_MS", 10)) * time.Millisecond,
		SnapshotInterval:    envDurationOrDefault("MARGIN_SNAPSHOT_INTERVAL", 10*time.Minute),
		GRPCPort:            envIntOrDefault("MARGIN_GRPC_PORT", 9090),
		HTTPPort:            envIntOrDefault("MARGIN_HTTP_PORT", 8080),
		MetricsPort:         envIntOrDefault("MARGIN_METRICS_PORT", 9091),
		DirectoryFile:       envOrDefault("MARGIN_DIRECTORY_FILE", "config/directory.yaml"),
		TickURL:             envOrDefault("MARGIN_TICK_URL", ""),
		StopOutLevel:        envOrDefault("MARGIN_STOP_OUT_LEVEL", "0.5"),
		GMTOffsetHours:      envIntOrDefault("MARGIN_GMT_OFFSET_HOURS", 0),
		LegacyWeekdayHours:  envBoolOrDefault("MARGIN_LEGACY_WEEKDAY_HOURS", false),
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	if err := godotenv.Load(); err == nil {
		log.Println("INFO: loaded .env")
	}
	log.Println("INFO: MarginLedger starting...")

	cfg := DefaultConfig()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer bootCancel()

	// --- Directory ---
	dir, err := symbol.LoadFile(cfg.DirectoryFile, symbol.Options{
		GMTOffsetHours:     cfg.GMTOffsetHours,
		LegacyWeekdayHours: cfg.LegacyWeekdayHours,
	})
	if err != nil {
		log.Fatalf("FATAL: load directory: %v", err)
	}
	log.Printf("INFO: directory loaded (%d symbols, %d groups)", len(dir.Symbols()), len(dir.Groups()))

	stopOut, err := ledger.Parse(cfg.StopOutLevel, ledger.PrecDefault)
	if err != nil {
		log.Fatalf("FATAL: MARGIN_STOP_OUT_LEVEL: %v", err)
	}

	// --- Op-log store ---
	store, err := persistence.Open(bootCtx, cfg.OplogDriver, cfg.PostgresDSN, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("FATAL: open op-log store: %v", err)
	}
	defer store.Close()
	if cfg.DBMaxOpenConns > 0 && store.Dialect() == persistence.Postgres {
		store.DB().SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		store.DB().SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	log.Printf("INFO: op-log store connected (%s)", store.Dialect())

	if _, err := persistence.NewMigrator(store, observability.NewLogger("migrate")).Up(bootCtx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Engine ---
	persistChan := make(chan core.Output, cfg.PersistChanSize)
	notifyChan := make(chan core.Notification, cfg.NotifyChanSize)
	quotes := price.NewCache(dir.FixedQuotes())

	engine := core.New(dir, quotes, core.Config{
		StopOutLevel: stopOut,
		Location:     time.FixedZone(fmt.Sprintf("GMT%+d", cfg.GMTOffsetHours), cfg.GMTOffsetHours*3600),
	}, core.Outputs{Persist: persistChan, Notify: notifyChan}, observability.NewLogger("core"), metrics)

	// --- Recovery: load snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(store)
	snap, err := snapMgr.LoadLatestSnapshot(bootCtx)
	if err != nil {
		log.Fatalf("FATAL: load snapshot: %v", err)
	}
	if snap != nil {
		if err := engine.Restore(snap); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		log.Printf("INFO: restored snapshot %s at op-log id %d", snap.ID, snap.LastOplogID)
	} else {
		log.Println("INFO: no snapshot found, cold start from op-log id 0")
	}

	replayed, err := engine.ReplayFrom(bootCtx, store)
	if err != nil {
		log.Fatalf("FATAL: op-log replay failed: %v", err)
	}
	log.Printf("INFO: replayed %d entries (op-log id now %d, state hash %s)", replayed, engine.LastOplogID(), engine.StateHash())

	// --- Downstream writers ---
	persistWorker := persistence.NewPersistenceWorker(store, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLogger("persistence"))
	persistWorker.SetLastID(engine.LastOplogID())

	history := projection.NewHistoryWriter(store)
	gate := []server.Checker{persistWorker, history}
	healthChecker.Register("oplog", persistWorker.Healthy)
	healthChecker.Register("history", history.Healthy)

	var publisher projection.Publisher
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		if err := ingestion.EnsureOutboundStream(bootCtx, js, cfg.NATSSubjectPrefix); err != nil {
			log.Fatalf("FATAL: ensure outbound stream: %v", err)
		}
		outbound := ingestion.NewOutboundPublisher(js, cfg.NATSSubjectPrefix)
		publisher = outbound
		gate = append(gate, outbound)
		healthChecker.Register("publisher", outbound.Healthy)
		log.Println("INFO: NATS connected")
	} else {
		log.Println("WARN: MARGIN_NATS_URL not set, outbound events disabled")
	}
	projWorker := projection.NewProjectionWorker(notifyChan, history, publisher, metrics, observability.NewLogger("projection"))

	var (
		feed     *ingestion.TickFeed
		feedStat query.FeedStatus
	)
	if cfg.TickURL != "" {
		feed = ingestion.NewTickFeed(cfg.TickURL, quotes, engine, metrics, observability.NewLogger("tickfeed"))
		feedStat = feed
	} else {
		log.Println("WARN: MARGIN_TICK_URL not set, quotes come from fixed quotes only")
	}

	// --- Services ---
	queries := query.NewQueryService(engine, quotes, feedStat)
	svc := server.NewService(engine, queries, gate...)
	grpcServer := server.NewGRPCServer(fmt.Sprintf(":%d", cfg.GRPCPort), svc, metrics, observability.NewLogger("rpc"))

	// --- Start goroutines ---
	// Workers stop when their channel closes; servers and the feed stop
	// with serveCtx; the engine stops with engineCtx.
	serveCtx, serveCancel := context.WithCancel(context.Background())
	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer serveCancel()
	defer engineCancel()

	errChan := make(chan error, 8)

	// 1. Persistence worker
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		persistWorker.Run(context.Background())
	}()

	// 2. Projection worker
	projDone := make(chan struct{})
	go func() {
		defer close(projDone)
		projWorker.Run(context.Background())
	}()

	// 3. Engine loop
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(engineCtx, core.LoopConfig{SnapshotInterval: cfg.SnapshotInterval}); err != nil {
			errChan <- fmt.Errorf("engine loop: %w", err)
		}
	}()

	// 4. Tick feed
	if feed != nil {
		go func() {
			if err := feed.Run(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("tick feed: %w", err)
			}
		}()
	}

	// 5. gRPC server
	go func() {
		if err := grpcServer.Start(serveCtx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// 6. Admin HTTP
	go func() {
		errChan <- serveHTTP(serveCtx, fmt.Sprintf(":%d", cfg.HTTPPort), "admin",
			server.NewAdminRouter(queries, history, healthChecker, promhttp.Handler()))
	}()

	// 7. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		errChan <- serveHTTP(serveCtx, fmt.Sprintf(":%d", cfg.MetricsPort), "metrics", metricsMux)
	}()

	// 8. Channel utilization
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-serveCtx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("notify", len(notifyChan), cap(notifyChan))
			}
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Printf("INFO: MarginLedger ready (oplog_id=%d, grpc=:%d, http=:%d, metrics=:%d)",
		engine.LastOplogID(), cfg.GRPCPort, cfg.HTTPPort, cfg.MetricsPort)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		if err != nil {
			log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
		}
	}

	// --- Graceful shutdown ---
	// Stop intake, let the engine drain and queue its final snapshot, then
	// close the channels so the workers flush and return.
	healthChecker.SetReady(false)
	serveCancel()
	engineCancel()
	<-engineDone

	close(persistChan)
	close(notifyChan)

	select {
	case <-persistDone:
		log.Printf("INFO: op-log flushed (last id %d)", persistWorker.LastID())
	case <-time.After(30 * time.Second):
		log.Println("ERROR: op-log flush timed out")
	}
	select {
	case <-projDone:
	case <-time.After(10 * time.Second):
		log.Println("WARN: history flush timed out")
	}

	log.Println("INFO: MarginLedger shutdown complete")
}

func serveHTTP(ctx context.Context, addr, name string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()
	log.Printf("INFO: %s server listening on %s", name, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Printf("WARN: %s=%q is not an integer, using %d", key, v, defaultVal)
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("WARN: %s=%q is not a duration, using %s", key, v, defaultVal)
	}
	return defaultVal
}

func envBoolOrDefault(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("WARN: %s=%q is not a bool, using %t", key, v, defaultVal)
	}
	return defaultVal
}
