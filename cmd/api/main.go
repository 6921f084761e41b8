// Package main implements the document Q&A API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/typehype/rag-backend/engine/ingest"
	"github.com/typehype/rag-backend/engine/rag"
	"github.com/typehype/rag-backend/engine/semantic"
	"github.com/typehype/rag-backend/pkg/docstore"
	"github.com/typehype/rag-backend/pkg/fn"
	"github.com/typehype/rag-backend/pkg/metrics"
	"github.com/typehype/rag-backend/pkg/mid"
	"github.com/typehype/rag-backend/pkg/natsutil"
	"github.com/typehype/rag-backend/pkg/openrouter"
	"github.com/typehype/rag-backend/pkg/resilience"
	"github.com/typehype/rag-backend/pkg/voyage"
)

// Config holds all environment-based configuration.
type Config struct {
	Port            string
	QdrantAddr      string
	DatabaseURL     string
	NatsURL         string
	VoyageKey       string
	VoyageURL       string
	OpenRouterKey   string
	OpenRouterModel string
	CORSOrigin      string
}

func loadConfig() Config {
	_ = godotenv.Load()
	return Config{
		Port:            envOr("PORT", "8080"),
		QdrantAddr:      envOr("QDRANT_ADDR", "localhost:6334"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		NatsURL:         os.Getenv("NATS_URL"),
		VoyageKey:       os.Getenv("VOYAGE_API_KEY"),
		VoyageURL:       envOr("VOYAGE_API_URL", voyage.DefaultBaseURL),
		OpenRouterKey:   os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel: envOr("OPENROUTER_MODEL", openrouter.DefaultModel),
		CORSOrigin:      envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.VoyageKey == "" {
		return fmt.Errorf("VOYAGE_API_KEY is required")
	}
	if cfg.OpenRouterKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}

	met := metrics.New()

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantAddr, logger)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Connect to Postgres (document catalog) ---
	// Postgres may still be starting when the container comes up.
	docs, err := fn.Retry(ctx, fn.DefaultRetry, func(ctx context.Context) fn.Result[*docstore.Store] {
		return fn.FromPair(docstore.New(ctx, cfg.DatabaseURL, logger))
	}).Unwrap()
	if err != nil {
		return fmt.Errorf("docstore connect: %w", err)
	}
	defer docs.Close()

	// --- Embedding and chat providers ---
	embedder := voyage.New(voyage.Config{BaseURL: cfg.VoyageURL, APIKey: cfg.VoyageKey}, logger)
	chat := openrouter.New(openrouter.Config{
		APIKey:  cfg.OpenRouterKey,
		Model:   cfg.OpenRouterModel,
		Referer: "http://localhost",
		Title:   "TypeHype RAG",
	})

	ragSvc := rag.New(embedder, vectorStore, chat, rag.DefaultOptions(), logger)

	pipeline := ingest.NewPipeline(ingest.Deps{
		Chunker:  ingest.NewChunker(ingest.DefaultChunkSize, ingest.DefaultOverlap),
		Ingestor: ingest.New(embedder, vectorStore, ingest.DefaultOptions(), met, logger),
		Docs:     docs,
		Logger:   logger,
	})

	// --- Optional NATS: queue ingestion off the request path ---
	var enqueue func(context.Context, ingest.Job) error
	if cfg.NatsURL != "" {
		nc, err := fn.Retry(ctx, fn.DefaultRetry, func(_ context.Context) fn.Result[*nats.Conn] {
			return fn.FromPair(nats.Connect(cfg.NatsURL))
		}).Unwrap()
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		enqueue = func(ctx context.Context, job ingest.Job) error {
			return natsutil.Publish(ctx, nc, ingest.IngestSubject, job)
		}
		logger.Info("ingestion queued via NATS", "url", cfg.NatsURL)
	} else {
		logger.Info("ingestion runs inline, NATS_URL not set")
	}

	a := &api{
		ask:      ragSvc,
		docs:     docs,
		vectors:  vectorStore,
		pipeline: pipeline,
		enqueue:  enqueue,
		logger:   logger,
	}

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/documents", a.handleUpload)
	mux.HandleFunc("GET /api/documents", a.handleList)
	mux.HandleFunc("DELETE /api/documents", a.handleDelete)
	mux.HandleFunc("POST /api/query", a.handleQuery)
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.Handle("GET /metrics", met.Handler())

	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: 50, Burst: 100})
	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("rag-api"),
		mid.RateLimit(limiter),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handler dependencies ---

type answerer interface {
	Ask(ctx context.Context, question, collection string) (*rag.Answer, error)
}

type catalog interface {
	ListDocuments(ctx context.Context, username string) ([]docstore.DocumentRecord, error)
	DeleteDocument(ctx context.Context, username, filename string) (bool, error)
}

type vectorAdmin interface {
	DeleteBySource(ctx context.Context, collection, source string) error
	Stats(ctx context.Context, collection string) semantic.CollectionStats
}

type api struct {
	ask      answerer
	docs     catalog
	vectors  vectorAdmin
	pipeline fn.Stage[ingest.Job, int]
	enqueue  func(context.Context, ingest.Job) error
	logger   *slog.Logger
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UploadRequest is the JSON body for POST /api/documents. Text extraction
// happens upstream; this service receives plain text.
type UploadRequest struct {
	Username string `json:"username"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

func (a *api) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job := ingest.Job{
		Username:   req.Username,
		Filename:   req.Filename,
		Text:       req.Text,
		UploadedAt: time.Now().UTC(),
	}
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if a.enqueue != nil {
		if err := a.enqueue(r.Context(), job); err != nil {
			a.logger.Error("enqueue failed", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to queue document")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result := a.pipeline(r.Context(), job)
	if result.IsErr() {
		_, err := result.Unwrap()
		a.logger.Error("inline ingestion failed", "err", err, "filename", job.Filename)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}
	count, _ := result.Unwrap()
	writeJSON(w, http.StatusOK, map[string]any{"status": "stored", "chunks_stored": count})
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Username string `json:"username"`
	Question string `json:"question"`
}

func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "username and question are required")
		return
	}

	answer, err := a.ask.Ask(r.Context(), req.Question, semantic.CollectionFor(req.Username))
	if err != nil {
		a.logger.Error("query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	records, err := a.docs.ListDocuments(r.Context(), username)
	if err != nil {
		a.logger.Error("list documents failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []docstore.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": records})
}

// DeleteRequest is the JSON body for DELETE /api/documents.
type DeleteRequest struct {
	Username string `json:"username"`
	Filename string `json:"filename"`
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "username and filename are required")
		return
	}

	collection := semantic.CollectionFor(req.Username)
	if err := a.vectors.DeleteBySource(r.Context(), collection, req.Filename); err != nil {
		a.logger.Error("vector delete failed", "err", err, "filename", req.Filename)
		writeError(w, http.StatusInternalServerError, "failed to delete document chunks")
		return
	}

	existed, err := a.docs.DeleteDocument(r.Context(), req.Username, req.Filename)
	if err != nil {
		a.logger.Error("catalog delete failed", "err", err, "filename", req.Filename)
		writeError(w, http.StatusInternalServerError, "failed to delete document record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": existed, "filename": req.Filename})
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	stats := a.vectors.Stats(r.Context(), semantic.CollectionFor(username))
	writeJSON(w, http.StatusOK, stats)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
