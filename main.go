package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"turpe-billing/internal/audit"
	"turpe-billing/internal/auth"
	billingapp "turpe-billing/internal/billing/application"
	billing "turpe-billing/internal/billing/domain"
	billingmemory "turpe-billing/internal/billing/infrastructure/memory"
	billingrepo "turpe-billing/internal/billing/infrastructure/postgres"
	billinginterfaces "turpe-billing/internal/billing/interfaces"
	billinghttp "turpe-billing/internal/billing/interfaces/http"
	"turpe-billing/internal/config"
	"turpe-billing/internal/eventing"
	outboxrepo "turpe-billing/internal/eventing/infrastructure/postgres"
	"turpe-billing/internal/observability/logging"
	"turpe-billing/internal/observability/metrics"
	perimeter "turpe-billing/internal/perimeter/domain"
	eventmemory "turpe-billing/internal/perimeter/infrastructure/memory"
	eventrepo "turpe-billing/internal/perimeter/infrastructure/postgres"
	readings "turpe-billing/internal/readings/domain"
	readingmemory "turpe-billing/internal/readings/infrastructure/memory"
	readingrepo "turpe-billing/internal/readings/infrastructure/postgres"
	tariff "turpe-billing/internal/tariff/domain"
	tariffrepo "turpe-billing/internal/tariff/infrastructure/postgres"
	"turpe-billing/internal/tariff/infrastructure/yamlfile"
)

type eventStore interface {
	perimeter.EventSource
	perimeter.EventSink
}

type readingStore interface {
	readings.Snapshotter
	readings.Sink
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("logger error", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("db ping error", zap.Error(err))
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}
	metrics.Init(db, logger)

	var (
		events      eventStore
		snapshots   readingStore
		records     billing.RecordRepository
		auditLogger audit.Logger
		publisher   billingapp.RunPublisher = billinginterfaces.NewLoggingPublisher(logger)
	)
	if db != nil {
		events = eventrepo.NewEventRepository(db)
		snapshots = readingrepo.NewReadingStore(db)
		records = billingrepo.NewRecordRepository(db)
		auditLogger = audit.NewRepository(db)
		outbox := eventing.NewPublisher(outboxrepo.NewOutboxStore(db), cfg.TenantID)
		publisher = billinginterfaces.MultiPublisher{publisher, billinginterfaces.NewOutboxPublisher(outbox)}
	} else {
		events = eventmemory.NewEventStore()
		snapshots = readingmemory.NewTenants()
		records = billingmemory.NewRecordRepository()
		auditLogger = audit.NewZapLogger(logger)
	}

	rules, err := buildRuleSource(cfg, db)
	if err != nil {
		logger.Fatal("tariff source error", zap.Error(err))
	}
	if table, err := tariff.LoadTable(ctx, rules); err != nil {
		logger.Fatal("tariff rules invalid", zap.Error(err))
	} else {
		logger.Info("tariff rules loaded", zap.Int("rules", table.Len()), zap.Strings("formulas", table.Formulas()))
	}

	service, err := billingapp.NewRunService(events, snapshots, rules, records,
		billingapp.WithServiceWorkers(cfg.Workers),
		billingapp.WithServiceLogger(logger),
		billingapp.WithPublisher(publisher),
	)
	if err != nil {
		logger.Fatal("run service init error", zap.Error(err))
	}

	if cfg.Schedule.DailyAt != "" {
		hour, minute, err := config.ParseDailyAt(cfg.Schedule.DailyAt)
		if err != nil {
			logger.Fatal("schedule error", zap.Error(err))
		}
		scheduler := billingapp.NewScheduler(service, cfg.Schedule.Tenants, hour, minute, logger)
		go scheduler.Start(ctx)
	}

	billingHandler, err := billinghttp.NewHandler(service, auditLogger, logger)
	if err != nil {
		logger.Fatal("billing handler init error", zap.Error(err))
	}
	ingestHandler, err := billinghttp.NewIngestHandler(events, snapshots, auditLogger, logger)
	if err != nil {
		logger.Fatal("ingest handler init error", zap.Error(err))
	}

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy(
		[]string{"/healthz", "/metrics"},
		[]string{"/api/v1/ingest/"},
	))
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestMaxSkew)

	router := billinghttp.NewRouter(billingHandler, ingestHandler, authMiddleware.Wrap, ingestAuth.Wrap)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(router, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("billing service listening", zap.String("addr", cfg.HTTPAddr), zap.String("tariff_source", cfg.TariffSource))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func buildRuleSource(cfg config.Config, db *sql.DB) (tariff.RuleSource, error) {
	if cfg.TariffSource == config.TariffSourceDB {
		return tariffrepo.NewRuleRepository(db), nil
	}
	source, err := yamlfile.NewSource(cfg.TariffRulesFile)
	if err != nil {
		return nil, err
	}
	return source, nil
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	httpLogger := logger.Named("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		httpLogger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
