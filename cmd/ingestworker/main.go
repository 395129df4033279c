// Package main implements the ingestion worker: it pulls audio-transcript
// package events off the durable stream, runs them through the full
// fetch/verify/parse/validate/enrich/chunk/embed/persist pipeline, and
// serves an ops HTTP endpoint for health and Prometheus scraping.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/meridianrag/ingestcore/internal/config"
	"github.com/meridianrag/ingestcore/internal/enrich"
	"github.com/meridianrag/ingestcore/internal/graphstore"
	"github.com/meridianrag/ingestcore/internal/objectstore"
	"github.com/meridianrag/ingestcore/internal/persistence"
	"github.com/meridianrag/ingestcore/internal/pipeline"
	"github.com/meridianrag/ingestcore/internal/stream"
	"github.com/meridianrag/ingestcore/internal/telemetry"
	"github.com/meridianrag/ingestcore/pkg/metrics"
	"github.com/meridianrag/ingestcore/pkg/mid"
	"github.com/meridianrag/ingestcore/pkg/resilience"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutCtx)
	}()

	// --- Connect to the stream broker ---
	nc, err := nats.Connect(cfg.StreamURL, nats.Name(cfg.ServiceName))
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	// --- Connect to object storage (C3), behind a circuit breaker ---
	rawStore, err := objectstore.NewS3Store(ctx, objectstore.Options{
		Endpoint:     objectStoreEndpointURL(cfg),
		AccessKey:    cfg.ObjectStoreAccessKey,
		SecretKey:    cfg.ObjectStoreSecretKey,
		UsePathStyle: true,
	})
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	objStore := objectstore.NewBreakerStore(rawStore, resilience.NewBreaker(resilience.DefaultBreakerOpts))

	tempDir, err := os.MkdirTemp("", "ingest-worker-")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	// --- Connect to the relational store (C7) ---
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	defer pool.Close()

	store := persistence.New(pool)
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}

	// --- Connect to the vector store (C6) ---
	vectorIndex, err := enrich.NewVectorIndex(cfg.VectorStoreURL, cfg.VectorCollection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorIndex.Close()
	if err := vectorIndex.EnsureCollection(ctx, cfg.EmbeddingDim); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}

	embedder := buildEmbedder(cfg)

	var llmAnnotator *enrich.LLMAnnotator
	if cfg.NLPProvider == "llm" {
		llmAnnotator = enrich.NewLLMAnnotator(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	}

	// --- Connect to the knowledge-graph supplement (C7 addendum), optional ---
	var graphSync pipeline.GraphSyncer
	if cfg.Neo4jEnabled {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		graphSync = graphstore.New(driver)
	}

	deps := pipeline.Deps{
		ObjectStore:                objStore,
		TempDir:                    tempDir,
		RequireManifestSelfListing: cfg.RequireManifestSelfListing,
		Embedder:                   embedder,
		EmbeddingBatch:             cfg.EmbeddingBatch,
		NLPEnableLocal:             cfg.NLPEnableLocal,
		LLMAnnotator:               llmAnnotator,
		VectorIndex:                vectorIndex,
		Store:                      store,
		GraphStore:                 graphSync,
		KnownSchemaMajors:          cfg.KnownSchemaMajors,
		MaxRetries:                 cfg.MaxRetries,
		Logger:                     logger,
	}

	consumer, err := stream.New(nc, stream.Config{
		StreamName:      cfg.StreamName,
		ConsumerGroup:   cfg.ConsumerGroup,
		DLQSubject:      cfg.DLQStreamName,
		ServiceName:     cfg.ServiceName,
		BatchSize:       cfg.BatchSize,
		BlockTimeout:    cfg.BlockTimeout,
		MaxRetries:      cfg.MaxRetries,
		MaxParallelJobs: cfg.MaxParallelJobs,
	}, pipeline.NewHandler(deps), logger)
	if err != nil {
		return fmt.Errorf("stream consumer: %w", err)
	}

	// --- Ops HTTP server (metrics + health) ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	opsHandler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel(cfg.ServiceName),
	)
	opsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      opsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ops server starting", "port", cfg.MetricsPort)
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ops server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		logger.Info("stream consumer starting", "stream", cfg.StreamName, "consumer_group", cfg.ConsumerGroup)
		errCh <- consumer.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			stop()
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return opsSrv.Shutdown(shutCtx)
}

func objectStoreEndpointURL(cfg config.Config) string {
	scheme := "http://"
	if cfg.ObjectStoreUseSSL {
		scheme = "https://"
	}
	return scheme + cfg.ObjectStoreEndpoint
}

func buildEmbedder(cfg config.Config) enrich.Embedder {
	if cfg.EmbeddingProvider == "openai" {
		return enrich.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	}
	return enrich.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
