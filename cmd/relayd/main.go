// Command relayd runs the Relay data-movement service: the HTTP API, the
// pipeline execution pool, the schedule sweeper, and the stale-run reaper
// in one process backed by Postgres and an object store.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camdencbrown/relay/internal/api"
	"github.com/camdencbrown/relay/internal/auth"
	"github.com/camdencbrown/relay/internal/cache"
	"github.com/camdencbrown/relay/internal/config"
	"github.com/camdencbrown/relay/internal/connector"
	"github.com/camdencbrown/relay/internal/crypto"
	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/engine"
	"github.com/camdencbrown/relay/internal/executor"
	"github.com/camdencbrown/relay/internal/leader"
	"github.com/camdencbrown/relay/internal/llm"
	"github.com/camdencbrown/relay/internal/metadata"
	"github.com/camdencbrown/relay/internal/ontology"
	"github.com/camdencbrown/relay/internal/postgres"
	"github.com/camdencbrown/relay/internal/queryengine"
	"github.com/camdencbrown/relay/internal/reaper"
	"github.com/camdencbrown/relay/internal/scheduler"
	"github.com/camdencbrown/relay/internal/search"
	"github.com/camdencbrown/relay/internal/semantic"
	"github.com/camdencbrown/relay/internal/storage"
	"github.com/camdencbrown/relay/internal/transform"
)

const version = "2.0.0"

const (
	migrateTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second

	// snapshotTTL bounds how stale a cached ontology snapshot may be for
	// semantic queries. Ontology edits show up within this window.
	snapshotTTL = 10 * time.Second
)

// artifactSource joins pipeline lookups with artifact resolution for the
// transformation engine.
type artifactSource struct {
	*postgres.PipelineStore
	*postgres.RunStore
}

// cachedSnapshots fronts the snapshot store with a short TTL cache so each
// semantic query does not rebuild the full ontology from Postgres.
type cachedSnapshots struct {
	store *postgres.SnapshotStore
	cache *cache.Cache[string, *domain.OntologySnapshot]
}

func (s *cachedSnapshots) GetOntologySnapshot(ctx context.Context) (*domain.OntologySnapshot, error) {
	if snap, ok := s.cache.Get("ontology"); ok {
		return snap, nil
	}
	snap, err := s.store.GetOntologySnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set("ontology", snap)
	return snap, nil
}

func main() {
	// `relayd healthcheck` probes the running server and exits; used as the
	// container HEALTHCHECK command.
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(healthcheck())
	}

	logger := slog.New(api.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := run(logger, cfg); err != nil {
		logger.Error("relayd failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *config.Config) error {
	ctx := context.Background()
	logger.Info("starting relayd", "version", version, "port", cfg.Port, "storage_mode", cfg.StorageMode)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
	err = postgres.Migrate(migrateCtx, pool)
	cancel()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready")

	pipelineStore := postgres.NewPipelineStore(pool)
	runStore := postgres.NewRunStore(pool)
	connectionStore := postgres.NewConnectionStore(pool)
	metadataStore := postgres.NewMetadataStore(pool)
	knowledgeStore := postgres.NewKnowledgeStore(pool)
	entityStore := postgres.NewEntityStore(pool)
	relationshipStore := postgres.NewRelationshipStore(pool)
	metricStore := postgres.NewMetricStore(pool)
	dimensionStore := postgres.NewDimensionStore(pool)
	snapshotStore := postgres.NewSnapshotStore(pool)
	proposalStore := postgres.NewProposalStore(pool)
	apiKeyStore := postgres.NewAPIKeyStore(pool)
	eventStore := postgres.NewEventStore(pool)

	box, err := crypto.NewBox(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init credential encryption: %w", err)
	}

	var objStore storage.ObjectStore
	switch cfg.StorageMode {
	case "s3":
		objStore, err = storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("connect s3: %w", err)
		}
		logger.Info("object store ready", "mode", "s3", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	case "local":
		objStore, err = storage.NewLocalStore(cfg.LocalStoragePath)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		logger.Info("object store ready", "mode", "local", "path", cfg.LocalStoragePath)
	default:
		return fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}

	llmClient := llm.New(llm.Config{
		Provider:        cfg.LLMProvider,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
	})
	if llmClient != nil {
		logger.Info("llm enabled", "provider", cfg.LLMProvider)
	} else {
		logger.Info("llm not configured, heuristics only")
	}

	registry := connector.NewRegistry(connectionStore, box, logger)
	generator := metadata.NewGenerator(knowledgeStore, llmClient, logger)
	writer := engine.NewWriter(objStore, logger)
	eng := engine.New(pipelineStore, runStore, registry, writer, generator, metadataStore, logger)
	dispatcher := executor.NewDispatcher(eng, 0, logger)

	// Only the elected replica runs the schedule sweeper and the reaper, so
	// scaling relayd out does not duplicate pipeline runs.
	sched := scheduler.New(pipelineStore, runStore, dispatcher, cfg.SchedulerInterval, logger)
	reap := reaper.New(runStore, eventStore, 0, 0, logger)
	elect := leader.New(func(ctx context.Context) (bool, error) {
		var acquired bool
		err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
		return acquired, err
	}, leader.RetryInterval, func(ctx context.Context) (stop func()) {
		sched.Start(ctx)
		reap.Start(ctx)
		return func() {
			sched.Stop()
			reap.Stop()
		}
	})
	elect.Start(ctx)
	logger.Info("leader election started", "scheduler_interval", cfg.SchedulerInterval.String())

	query := queryengine.New(pipelineStore, runStore, metadataStore, objStore, logger)
	ontologyManager := ontology.New(pipelineStore, metadataStore, entityStore, proposalStore, llmClient, !cfg.RequireAuth, logger)
	snapshots := &cachedSnapshots{store: snapshotStore, cache: cache.New[string, *domain.OntologySnapshot](cache.Options{TTL: snapshotTTL})}
	semanticEngine := semantic.New(snapshots, pipelineStore, query, llmClient, logger)
	searcher := search.New(pipelineStore, metadataStore, logger)
	transformer := transform.New(registry, artifactSource{pipelineStore, runStore}, objStore, logger)

	if !cfg.RequireAuth {
		logger.Warn("authentication disabled, all requests act as admin; set REQUIRE_AUTH=true in production")
	}

	var rateCfg *api.RateLimitConfig
	if os.Getenv("RATE_LIMIT") != "0" {
		c := api.DefaultRateLimitConfig()
		rateCfg = &c
	}

	srv := &api.Server{
		Pipelines:     pipelineStore,
		Runs:          runStore,
		Connections:   connectionStore,
		Metadata:      metadataStore,
		Knowledge:     knowledgeStore,
		Entities:      entityStore,
		Relationships: relationshipStore,
		Metrics:       metricStore,
		Dimensions:    dimensionStore,
		Snapshots:     snapshotStore,
		Proposals:     proposalStore,
		Keys:          apiKeyStore,
		Events:        eventStore,

		Engine:    eng,
		Dispatch:  dispatcher,
		Query:     query,
		Semantic:  semanticEngine,
		Ontology:  ontologyManager,
		Search:    searcher,
		Transform: transformer,
		Writer:    writer,
		Registry:  registry,
		Box:       box,

		Auth: auth.New(apiKeyStore, cfg.RequireAuth, logger),

		Version:     version,
		StorageMode: cfg.StorageMode,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   rateCfg,

		DBHealth:      postgres.NewHealthChecker(pool),
		StorageHealth: objStore,
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(srv),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS13},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	logger.Info("stopping background workers")
	elect.Stop()
	logger.Info("draining run executor")
	dispatcher.Shutdown()
	if srv.RateLimiterStop != nil {
		srv.RateLimiterStop()
	}

	logger.Info("relayd shutdown complete")
	return nil
}

// healthcheck probes the local /health endpoint and returns a process exit
// code, so the binary doubles as its own container health probe.
func healthcheck() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8001"
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%s/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "healthcheck: status %d\n", resp.StatusCode)
		return 1
	}
	return 0
}
