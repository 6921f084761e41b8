package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/typehype/rag-backend/engine/semantic"
	"github.com/typehype/rag-backend/pkg/fn"
)

const (
	// IngestSubject is the NATS subject for incoming document jobs.
	IngestSubject = "rag.ingest"
	// DLQSubject is the dead letter queue subject for failed jobs.
	DLQSubject = "rag.ingest.dlq"
	// MaxDeliveries before a job is parked on the DLQ.
	MaxDeliveries = 3
)

// DocumentTracker records per-user bookkeeping after a successful ingestion.
// The record store is an external collaborator; this pipeline calls it but
// does not own its schema.
type DocumentTracker interface {
	UpsertDocument(ctx context.Context, username, filename string, chunks int, uploadedAt time.Time) error
}

// Deps holds the external dependencies of the async ingestion pipeline.
type Deps struct {
	Chunker  *Chunker
	Ingestor *Ingestor
	Docs     DocumentTracker
	Logger   *slog.Logger
}

// LoggedTap returns a pass-through stage that logs the stage boundary.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(_ context.Context, _ T) {
		log.Debug("stage", "name", name)
	})
}

// NewPipeline composes Validate → Chunk → Store over a Job, ending with the
// number of chunks persisted.
func NewPipeline(deps Deps) fn.Stage[Job, int] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	validate := func(_ context.Context, job Job) fn.Result[Job] {
		if err := job.Validate(); err != nil {
			return fn.Err[Job](err)
		}
		return fn.Ok(job)
	}

	chunk := fn.MapStage(func(job Job) chunkedJob {
		return chunkedJob{Job: job, Chunks: deps.Chunker.Split(job.Text)}
	})

	store := func(ctx context.Context, doc chunkedJob) fn.Result[int] {
		collection := semantic.CollectionFor(doc.Username)
		count, err := deps.Ingestor.Ingest(ctx, doc.Chunks, doc.Filename, collection)
		if err != nil {
			return fn.Err[int](err)
		}
		if deps.Docs != nil {
			if err := deps.Docs.UpsertDocument(ctx, doc.Username, doc.Filename, count, doc.UploadedAt); err != nil {
				return fn.Errf[int]("ingest: record document: %w", err)
			}
		}
		return fn.Ok(count)
	}

	validated := fn.Then(LoggedTap[Job]("validate", log), validate)
	chunked := fn.Then(validated, fn.Then(LoggedTap[Job]("chunk", log), chunk))
	stored := fn.Then(chunked, fn.Then(LoggedTap[chunkedJob]("store", log), store))
	return fn.TracedStage("ingest.pipeline", stored)
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Job        Job    `json:"job"`
	Error      string `json:"error"`
	Deliveries int    `json:"deliveries"`
}

// StartConsumer subscribes the ingestion pipeline to the ingest subject with
// bounded redelivery and a DLQ. One message is one document: the pipeline
// runs it to completion or failure, and partial ingestion stays visible
// through the recorded chunk count.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		deliveries := 1
		if msg.Header != nil {
			if v := msg.Header.Get("X-Delivery-Count"); v != "" {
				fmt.Sscanf(v, "%d", &deliveries)
			}
		}

		result := pipeline(ctx, job)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"filename", job.Filename,
				"username", job.Username,
				"delivery", deliveries,
			)

			if deliveries >= MaxDeliveries {
				dlq := dlqMessage{Job: job, Error: pipeErr.Error(), Deliveries: deliveries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
				return
			}

			retryMsg := nats.NewMsg(IngestSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Delivery-Count", fmt.Sprintf("%d", deliveries+1))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
			return
		}

		count, _ := result.Unwrap()
		log.Info("ingest: success", "filename", job.Filename, "chunks", count)
	})
}
