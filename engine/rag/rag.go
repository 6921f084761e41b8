// Package rag orchestrates retrieval-augmented question answering: it embeds
// the question, searches the user's collection for relevant chunks, builds a
// grounded prompt, and calls the chat model for the final answer.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/typehype/rag-backend/engine/semantic"
	"github.com/typehype/rag-backend/pkg/fn"
	"github.com/typehype/rag-backend/pkg/resilience"
	"github.com/typehype/rag-backend/pkg/voyage"
)

// QueryEmbedder embeds question text for similarity search.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string, input voyage.InputType) ([][]float32, error)
}

// VectorSearcher is the slice of the vector store retrieval needs.
type VectorSearcher interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	EnsureSourceIndex(ctx context.Context, collection string) error
	Search(ctx context.Context, collection string, embedding []float32, topK int) ([]semantic.SearchResult, error)
}

// ChatClient produces the final answer from a grounded prompt.
type ChatClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures retrieval behaviour.
type Options struct {
	TopK          int
	SearchTimeout time.Duration
}

// DefaultOptions returns the production retrieval parameters.
func DefaultOptions() Options {
	return Options{
		TopK:          8,
		SearchTimeout: 5 * time.Second,
	}
}

// maxContextChunks bounds how many retrieved chunks enter the prompt.
const maxContextChunks = 8

const emptyContext = "No relevant documents uploaded."

const promptTemplate = `You are a precise and helpful AI assistant for a document Q&A system.

Use ONLY the provided context from the user's documents to answer. Do not add external knowledge.

Context:
%s

Question: %s

Guidelines:
- Answer accurately and concisely using the context.
- If relevant information exists in the context (even partial), provide the best possible answer based on it.
- Only if truly no relevant information is present, say: "I don't have sufficient information from your documents to answer this accurately."

Answer now:`

// Service is the retrieval and answering orchestrator.
type Service struct {
	embed   QueryEmbedder
	store   VectorSearcher
	chat    ChatClient
	breaker *resilience.Breaker
	opts    Options
	logger  *slog.Logger
}

// New creates a Service. The chat client is wrapped in a circuit breaker so
// a failing model provider sheds load instead of queueing 45s timeouts.
func New(embed QueryEmbedder, store VectorSearcher, chat ChatClient, opts Options, logger *slog.Logger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embed:   embed,
		store:   store,
		chat:    chat,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		opts:    opts,
		logger:  logger,
	}
}

// Answer is the structured response to a question.
type Answer struct {
	Text        string `json:"answer"`
	SourcesUsed int    `json:"sources_used"`
}

// Retrieve returns the chunks most similar to the question, best first.
//
// A user with no collection yet gets an Absent result: nothing was indexed
// for them, which is a distinct outcome from a searched collection with no
// hits. Transient embed or search failures are logged and come back Ok with
// no results, degrading to answering without context. A payload index that
// cannot be provisioned is a configuration fault and comes back Err.
func (s *Service) Retrieve(ctx context.Context, question, collection string) fn.Result[[]semantic.SearchResult] {
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		s.logger.Warn("retrieval: collection check failed", "collection", collection, "error", err)
		return fn.Ok[[]semantic.SearchResult](nil)
	}
	if !exists {
		s.logger.Debug("retrieval: no collection", "collection", collection)
		return fn.Absent[[]semantic.SearchResult]()
	}

	if err := s.store.EnsureSourceIndex(ctx, collection); err != nil {
		return fn.Err[[]semantic.SearchResult](fmt.Errorf("rag: ensure source index: %w", err))
	}

	vectors, err := s.embed.Embed(ctx, []string{question}, voyage.InputQuery)
	if err != nil {
		s.logger.Warn("retrieval: query embed failed", "error", err)
		return fn.Ok[[]semantic.SearchResult](nil)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	results, err := s.store.Search(searchCtx, collection, vectors[0], s.opts.TopK)
	if err != nil {
		s.logger.Warn("retrieval: search failed", "collection", collection, "error", err)
		return fn.Ok[[]semantic.SearchResult](nil)
	}
	s.logger.Info("retrieval done", "collection", collection, "results", len(results))
	return fn.Ok(results)
}

// Ask runs retrieval and answers the question grounded on the retrieved
// chunks. With nothing retrieved the model is still called, told there is no
// document context.
func (s *Service) Ask(ctx context.Context, question, collection string) (*Answer, error) {
	retrieved := s.Retrieve(ctx, question, collection)
	if retrieved.IsErr() {
		_, err := retrieved.Unwrap()
		return nil, err
	}
	if retrieved.IsAbsent() {
		s.logger.Debug("answering without documents", "collection", collection)
	}

	results, _ := retrieved.Unwrap()
	chunks := fn.FilterMap(results, func(r semantic.SearchResult) (string, bool) {
		return r.Text, strings.TrimSpace(r.Text) != ""
	})

	prompt := buildPrompt(chunks, question)

	var reply string
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var cerr error
		reply, cerr = s.chat.Complete(ctx, prompt)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("rag: chat: %w", err)
	}
	if reply == "" {
		reply = "No answer generated."
	}

	return &Answer{Text: reply, SourcesUsed: len(chunks)}, nil
}

// buildPrompt joins up to maxContextChunks chunks into the answer prompt.
func buildPrompt(chunks []string, question string) string {
	ctx := emptyContext
	if len(chunks) > 0 {
		if len(chunks) > maxContextChunks {
			chunks = chunks[:maxContextChunks]
		}
		ctx = strings.Join(chunks, "\n\n")
	}
	return fmt.Sprintf(promptTemplate, ctx, question)
}
