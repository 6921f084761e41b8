// Command ingest runs the document ingestion worker: it consumes upload jobs
// from NATS, chunks and embeds them, and indexes the vectors in Qdrant.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/typehype/rag-backend/engine/ingest"
	"github.com/typehype/rag-backend/engine/semantic"
	"github.com/typehype/rag-backend/pkg/docstore"
	"github.com/typehype/rag-backend/pkg/fn"
	"github.com/typehype/rag-backend/pkg/metrics"
	"github.com/typehype/rag-backend/pkg/voyage"
)

const metricsPort = 9091

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := struct {
		NatsURL     string
		QdrantAddr  string
		DatabaseURL string
		VoyageKey   string
		VoyageURL   string
	}{
		NatsURL:     envOr("NATS_URL", nats.DefaultURL),
		QdrantAddr:  envOr("QDRANT_ADDR", "localhost:6334"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		VoyageKey:   os.Getenv("VOYAGE_API_KEY"),
		VoyageURL:   envOr("VOYAGE_API_URL", voyage.DefaultBaseURL),
	}
	if cfg.VoyageKey == "" {
		logger.Error("VOYAGE_API_KEY is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	met.CollectRuntime("rag_ingest", 15*time.Second)
	met.ServeAsync(metricsPort)

	vectorStore, err := semantic.New(cfg.QdrantAddr, logger)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	defer vectorStore.Close()
	logger.Info("connected to Qdrant", "addr", cfg.QdrantAddr)

	// Postgres and the broker may still be starting when the worker boots.
	docs, err := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[*docstore.Store] {
		return fn.FromPair(docstore.New(ctx, cfg.DatabaseURL, logger))
	}).Unwrap()
	if err != nil {
		logger.Error("docstore connect failed", "error", err)
		os.Exit(1)
	}
	defer docs.Close()

	embedder := voyage.New(voyage.Config{BaseURL: cfg.VoyageURL, APIKey: cfg.VoyageKey}, logger)

	nc, err := fn.Retry(ctx, fn.DefaultRetry, func(_ context.Context) fn.Result[*nats.Conn] {
		return fn.FromPair(nats.Connect(cfg.NatsURL))
	}).Unwrap()
	if err != nil {
		logger.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := ingest.StartConsumer(nc, ingest.Deps{
		Chunker:  ingest.NewChunker(ingest.DefaultChunkSize, ingest.DefaultOverlap),
		Ingestor: ingest.New(embedder, vectorStore, ingest.DefaultOptions(), met, logger),
		Docs:     docs,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	logger.Info("ingest worker running", "subject", ingest.IngestSubject)
	<-ctx.Done()
	logger.Info("shutting down")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
