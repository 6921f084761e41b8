// Package ingest provides the ingestion pipeline that turns extracted
// document text into indexed vectors: chunking, batched embedding with
// provider pacing, and upsert into the user's collection.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/typehype/rag-backend/engine/semantic"
	"github.com/typehype/rag-backend/pkg/fn"
	"github.com/typehype/rag-backend/pkg/metrics"
	"github.com/typehype/rag-backend/pkg/voyage"
)

// Embedder converts a batch of texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string, input voyage.InputType) ([][]float32, error)
}

// VectorIndex is the slice of the vector store ingestion needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string) error
	EnsureSourceIndex(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, records []semantic.VectorRecord) error
}

// Options configures ingestion batching and pacing.
type Options struct {
	// BatchSize is the max chunks per embedding request.
	BatchSize int
	// BatchInterval spaces successive batches to respect provider quotas.
	// This is a throughput throttle, not error recovery.
	BatchInterval time.Duration
}

// DefaultOptions returns the production batching parameters.
func DefaultOptions() Options {
	return Options{
		BatchSize:     voyage.BatchSize,
		BatchInterval: 20 * time.Second,
	}
}

// Ingestor drives chunk batching, embedding, point construction, and upsert.
type Ingestor struct {
	embed   Embedder
	index   VectorIndex
	opts    Options
	pacer   *rate.Limiter
	logger  *slog.Logger
	stored  *metrics.Counter
	batches *metrics.Histogram
}

// New creates an Ingestor. Passing a nil registry registers the metrics on a
// private throwaway one.
func New(embed Embedder, index VectorIndex, opts Options, reg *metrics.Registry, logger *slog.Logger) *Ingestor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = voyage.BatchSize
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = DefaultOptions().BatchInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Ingestor{
		embed: embed,
		index: index,
		opts:  opts,
		// The limiter spaces batch starts, so embed and upsert time counts
		// against the interval rather than adding to it.
		pacer:   rate.NewLimiter(rate.Every(opts.BatchInterval), 1),
		logger:  logger,
		stored:  reg.Counter("ingest_chunks_stored_total", "Chunks embedded and upserted."),
		batches: reg.Histogram("ingest_batch_seconds", "Embed+upsert duration per batch.", nil),
	}
}

// Ingest embeds chunks in order and upserts them into the collection,
// returning how many were stored. The collection and its source index are
// provisioned first; a provisioning failure aborts before any write.
//
// On a mid-batch failure the error is returned together with the count of
// chunks already persisted: there is no rollback, and callers reconcile
// through stored chunk counts.
func (ing *Ingestor) Ingest(ctx context.Context, chunks []string, source, collection string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	if err := ing.index.EnsureCollection(ctx, collection); err != nil {
		return 0, err
	}
	if err := ing.index.EnsureSourceIndex(ctx, collection); err != nil {
		return 0, err
	}

	stored := 0
	for _, batch := range fn.Chunk(chunks, ing.opts.BatchSize) {
		// The first wait is free; later ones space batches BatchInterval
		// apart, which leaves no trailing delay after the final batch.
		if err := ing.pacer.Wait(ctx); err != nil {
			return stored, err
		}

		batchStart := time.Now()

		vectors, err := ing.embed.Embed(ctx, batch, voyage.InputDocument)
		if err != nil {
			return stored, fmt.Errorf("ingest: embed batch at %d: %w", stored, err)
		}

		records := make([]semantic.VectorRecord, len(batch))
		for j, chunk := range batch {
			records[j] = semantic.VectorRecord{
				ID:        uuid.NewString(),
				Embedding: vectors[j],
				Payload: map[string]any{
					"text":        chunk,
					"source":      source,
					"chunk_index": stored + j,
				},
			}
		}
		if err := ing.index.Upsert(ctx, collection, records); err != nil {
			return stored, fmt.Errorf("ingest: upsert batch at %d: %w", stored, err)
		}

		stored += len(batch)
		ing.stored.Add(int64(len(batch)))
		ing.batches.Since(batchStart)
	}

	ing.logger.Info("stored chunks", "count", stored, "source", source, "collection", collection)
	return stored, nil
}
