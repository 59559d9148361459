package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"custos/internal/approval"
	approvalstore "custos/internal/approval/store"
	"custos/internal/checklist"
	checkliststore "custos/internal/checklist/store"
	"custos/internal/evidence"
	evidencestore "custos/internal/evidence/store"
	"custos/internal/ledger"
	ledgerstore "custos/internal/ledger/store"
	"custos/internal/opslog"
	"custos/internal/platform/config"
	"custos/internal/platform/httpserver"
	"custos/internal/platform/logger"
	platformredis "custos/internal/platform/redis"
	"custos/internal/readiness"
	readinessmetrics "custos/internal/readiness/metrics"
	"custos/internal/registry"
	registrystore "custos/internal/registry/store"
	"custos/internal/scheme"
	schemestore "custos/internal/scheme/store"
	"custos/internal/schemesync"
	syncmetrics "custos/internal/schemesync/metrics"
	syncstore "custos/internal/schemesync/store"
	httptransport "custos/internal/transport/http"
	wsmetrics "custos/internal/workspace/metrics"
	wsservice "custos/internal/workspace/service"
	wsstore "custos/internal/workspace/store"
	"custos/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence. Without a DSN everything runs on the in-memory stores,
	// which is enough for local development and the test suites.
	var (
		db     *sql.DB
		runner tx.Runner
		err    error

		ledgerStore    ledger.Store
		workspaceStore wsservice.Store
		approvalStore  approval.Store
		checklistStore checklist.Store
		registryStore  registry.Store
		schemeStore    scheme.Store
		evidenceStore  evidence.Store
		externalStore  schemesync.ExternalStore
	)
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		runner = tx.NewSQLRunner(db)
		ledgerStore = ledgerstore.NewPostgres(db)
		workspaceStore = wsstore.NewPostgres(db)
		approvalStore = approvalstore.NewPostgres(db)
		checklistStore = checkliststore.NewPostgres(db)
		registryStore = registrystore.NewPostgres(db)
		schemeStore = schemestore.NewPostgres(db)
		evidenceStore = evidencestore.NewPostgres(db)
		externalStore = syncstore.NewPostgresExternal(db)
	} else {
		log.Warn("no postgres dsn configured, using in-memory stores")
		runner = tx.NewMemoryRunner()
		ledgerStore = ledgerstore.NewInMemory()
		workspaceStore = wsstore.NewInMemory()
		approvalStore = approvalstore.NewInMemory()
		checklistStore = checkliststore.NewInMemory()
		registryStore = registrystore.NewInMemory()
		schemeStore = schemestore.NewInMemory()
		evidenceStore = evidencestore.NewInMemory()
		externalStore = syncstore.NewInMemoryExternal()
	}

	var sink opslog.Sink = opslog.Logging{Logger: log}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := opslog.NewKafkaSink(cfg.Kafka, log)
		if err != nil {
			log.Error("kafka sink", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafkaSink.Close(flushCtx); err != nil {
				log.Error("kafka flush", "error", err)
			}
		}()
		sink = kafkaSink
	}

	ledgerSvc := ledger.New(ledgerStore)
	dispatcher := approval.NewDispatcher()
	approvalSvc := approval.New(approvalStore, ledgerSvc, dispatcher, runner,
		approval.WithLogger(log), approval.WithOpsSink(sink))
	evidenceSvc := evidence.New(evidenceStore, ledgerSvc, runner, evidence.WithLogger(log))
	checklistSvc := checklist.New(checklistStore, ledgerSvc, approvalSvc, evidenceSvc, runner,
		checklist.WithLogger(log))
	registrySvc := registry.New(registryStore, ledgerSvc, approvalSvc, runner,
		registry.WithLogger(log))
	schemeSvc := scheme.New(schemeStore, approvalSvc, ledgerSvc, runner,
		scheme.WithLogger(log), scheme.WithOpsSink(sink))
	workspaceSvc := wsservice.New(workspaceStore, registrySvc, schemeSvc, checklistSvc,
		checklistSvc, evidenceSvc, ledgerSvc, runner,
		wsservice.WithLogger(log), wsservice.WithMetrics(wsmetrics.New()), wsservice.WithOpsSink(sink))

	// Sensitive change types execute through the dispatch table once a
	// checker approves.
	dispatcher.Register(approval.ChangeCriticalItemVerify, checklistSvc.ApplyVerify)
	dispatcher.Register(approval.ChangeSecretRotation, registrySvc.ApplyRotation)
	dispatcher.Register(approval.ChangeRateCardFreeze, schemeSvc.ApplyFreeze)

	readinessOpts := []readiness.Option{
		readiness.WithLogger(log),
		readiness.WithMetrics(readinessmetrics.New()),
	}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		readinessOpts = append(readinessOpts,
			readiness.WithCache(readiness.NewRedisCache(redisClient, config.ScoreCacheTTL, log)))
	}
	validator := readiness.New(workspaceSvc, registrySvc, schemeSvc, checklistSvc, evidenceSvc,
		externalStore, ledgerSvc, readinessOpts...)

	reconciler := schemesync.New(externalStore, workspaceSvc, schemeSvc, ledgerSvc,
		schemesync.WithLogger(log), schemesync.WithMetrics(syncmetrics.New()))

	health := func(r *http.Request) error {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				return err
			}
		}
		if redisClient != nil {
			return redisClient.Health(r.Context())
		}
		return nil
	}

	router := httptransport.NewRouter(log, health,
		httptransport.NewWorkspaceHandler(workspaceSvc),
		httptransport.NewLedgerHandler(ledgerSvc),
		httptransport.NewApprovalHandler(approvalSvc),
		httptransport.NewChecklistHandler(checklistSvc),
		httptransport.NewEvidenceHandler(evidenceSvc),
		httptransport.NewRegistryHandler(registrySvc),
		httptransport.NewSchemeHandler(schemeSvc),
		httptransport.NewReadinessHandler(validator),
		httptransport.NewSyncHandler(reconciler),
	)

	server := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
}
