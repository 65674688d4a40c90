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

	"github.com/prometheus/client_golang/prometheus"

	checkservice "verisync/internal/check/service"
	checkstore "verisync/internal/check/store"
	"verisync/internal/dispatcher"
	documentservice "verisync/internal/document/service"
	documentstore "verisync/internal/document/store"
	identityservice "verisync/internal/identity/service"
	identitystore "verisync/internal/identity/store"
	"verisync/internal/platform/config"
	"verisync/internal/platform/httpserver"
	"verisync/internal/platform/logger"
	"verisync/internal/platform/metrics"
	"verisync/internal/platform/postgres"
	platformredis "verisync/internal/platform/redis"
	"verisync/internal/platformclient"
	"verisync/internal/providerclient"
	"verisync/internal/scheduler"
	tenantservice "verisync/internal/tenant/service"
	tenantstore "verisync/internal/tenant/store"
	httptransport "verisync/internal/transport/http"
	webhookservice "verisync/internal/webhook/service"
	webhookstore "verisync/internal/webhook/store"
	"verisync/pkg/platform/lock"
)

// main wires dependencies and owns process lifecycle. Business logic lives
// in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	db, err := postgres.Open(cfg.PostgresURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}

	tenants := buildTenantStore(db)
	identities := buildIdentityStore(db)
	documents, mappings := buildDocumentStores(db)
	checks := buildCheckStore(db)
	webhooks := buildWebhookStore(db)

	var queue scheduler.Queue
	if redisClient != nil {
		queue = scheduler.NewRedisQueue(redisClient.Client)
	} else {
		memQueue := scheduler.NewMemoryQueue()
		defer memQueue.Close()
		queue = memQueue
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	platformAPI := platformclient.New(cfg.PlatformURL)
	providerFactory := providerclient.NewHTTPFactory(cfg.ProviderURL, log)

	tenantSvc := tenantservice.New(tenants, platformAPI, providerFactory, cfg.BaseURL, log)
	identitySvc := identityservice.New(identities, platformAPI, tenantSvc, log)

	locks := lock.NewKeyed()
	checkSvc := checkservice.New(checks, documents, mappings, identitySvc, platformAPI, tenantSvc, locks, queue, m, log)
	documentSvc := documentservice.New(documents, mappings, identitySvc, platformAPI, tenantSvc, checkSvc, m, log)

	disp := dispatcher.New(tenantSvc, documentSvc, checkSvc, queue, log)
	webhookSvc := webhookservice.New(webhooks, queue, disp, m, log)

	worker := scheduler.NewWorker(queue, cfg.Workers, m, log)
	worker.Register(scheduler.KindPlatformWebhook, webhookSvc.Process)
	worker.Register(scheduler.KindProviderWebhook, webhookSvc.Process)
	worker.Register(scheduler.KindDocumentUpload, disp.HandleDocumentUpload)
	worker.Register(scheduler.KindCheckGenerate, disp.HandleCheckGenerate)

	handlers := httptransport.NewHandlers(tenantSvc, webhookSvc, documentSvc, log)
	checkers := make(map[string]httptransport.HealthChecker)
	if db != nil {
		checkers["postgres"] = dbChecker{db: db}
	}
	if redisClient != nil {
		checkers["redis"] = redisClient
	}
	checkers["provider"] = providerFactory
	router := httptransport.NewRouter(handlers, registry, log, checkers)

	srv := httpserver.New(cfg.Addr, router)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(workerCtx)
	}()

	log.Info("starting verisync", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	stopWorker()
	select {
	case err := <-workerDone:
		if err != nil {
			log.Error("worker stopped with error", "error", err)
		}
	case <-ctx.Done():
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}

type dbChecker struct {
	db *sql.DB
}

func (c dbChecker) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// The store constructors fall back to in-memory implementations when no
// database is configured, which keeps local development one-command.

func buildTenantStore(db *sql.DB) tenantstore.Store {
	if db != nil {
		return tenantstore.NewPostgres(db)
	}
	return tenantstore.NewInMemory()
}

func buildIdentityStore(db *sql.DB) identitystore.Store {
	if db != nil {
		return identitystore.NewPostgres(db)
	}
	return identitystore.NewInMemory()
}

func buildDocumentStores(db *sql.DB) (documentstore.Store, documentstore.MappingStore) {
	if db != nil {
		return documentstore.NewPostgres(db), documentstore.NewPostgresMappings(db)
	}
	return documentstore.NewInMemory(), documentstore.NewInMemoryMappings()
}

func buildCheckStore(db *sql.DB) checkstore.Store {
	if db != nil {
		return checkstore.NewPostgres(db)
	}
	return checkstore.NewInMemory()
}

func buildWebhookStore(db *sql.DB) webhookstore.Store {
	if db != nil {
		return webhookstore.NewPostgres(db)
	}
	return webhookstore.NewInMemory()
}
