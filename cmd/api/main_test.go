package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/typehype/rag-backend/engine/ingest"
	"github.com/typehype/rag-backend/engine/rag"
	"github.com/typehype/rag-backend/engine/semantic"
	"github.com/typehype/rag-backend/pkg/docstore"
	"github.com/typehype/rag-backend/pkg/fn"
)

type fakeAnswerer struct {
	gotQuestion   string
	gotCollection string
	answer        *rag.Answer
	err           error
}

func (f *fakeAnswerer) Ask(_ context.Context, question, collection string) (*rag.Answer, error) {
	f.gotQuestion = question
	f.gotCollection = collection
	return f.answer, f.err
}

type fakeCatalog struct {
	records []docstore.DocumentRecord
	listErr error
	deleted bool
}

func (f *fakeCatalog) ListDocuments(_ context.Context, _ string) ([]docstore.DocumentRecord, error) {
	return f.records, f.listErr
}

func (f *fakeCatalog) DeleteDocument(_ context.Context, _, _ string) (bool, error) {
	return f.deleted, nil
}

type fakeVectors struct {
	deleteErr     error
	gotCollection string
	gotSource     string
	stats         semantic.CollectionStats
}

func (f *fakeVectors) DeleteBySource(_ context.Context, collection, source string) error {
	f.gotCollection = collection
	f.gotSource = source
	return f.deleteErr
}

func (f *fakeVectors) Stats(_ context.Context, _ string) semantic.CollectionStats {
	return f.stats
}

func okPipeline(count int) fn.Stage[ingest.Job, int] {
	return func(_ context.Context, _ ingest.Job) fn.Result[int] {
		return fn.Ok(count)
	}
}

func newAPI() *api {
	return &api{
		ask:     &fakeAnswerer{answer: &rag.Answer{Text: "hi", SourcesUsed: 1}},
		docs:    &fakeCatalog{},
		vectors: &fakeVectors{},
		logger:  slog.New(slog.DiscardHandler),
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestUploadInline(t *testing.T) {
	a := newAPI()
	a.pipeline = okPipeline(7)

	rec := postJSON(t, a.handleUpload, UploadRequest{Username: "alice", Filename: "notes.pdf", Text: "content"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["chunks_stored"] != float64(7) {
		t.Fatalf("chunks_stored = %v", resp["chunks_stored"])
	}
}

func TestUploadQueued(t *testing.T) {
	a := newAPI()
	var queued *ingest.Job
	a.enqueue = func(_ context.Context, job ingest.Job) error {
		queued = &job
		return nil
	}

	rec := postJSON(t, a.handleUpload, UploadRequest{Username: "alice", Filename: "notes.pdf", Text: "content"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if queued == nil || queued.Filename != "notes.pdf" {
		t.Fatalf("queued = %+v", queued)
	}
	if queued.UploadedAt.IsZero() || queued.UploadedAt.After(time.Now().Add(time.Minute)) {
		t.Fatalf("uploaded_at = %v", queued.UploadedAt)
	}
}

func TestUploadValidation(t *testing.T) {
	a := newAPI()
	a.pipeline = okPipeline(0)

	rec := postJSON(t, a.handleUpload, UploadRequest{Filename: "notes.pdf", Text: "content"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing username", rec.Code)
	}
}

func TestUploadPipelineError(t *testing.T) {
	a := newAPI()
	a.pipeline = func(_ context.Context, _ ingest.Job) fn.Result[int] {
		return fn.Err[int](errors.New("embed provider down"))
	}

	rec := postJSON(t, a.handleUpload, UploadRequest{Username: "alice", Filename: "a.pdf", Text: "x"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestQueryRoutesToUserCollection(t *testing.T) {
	a := newAPI()
	ask := a.ask.(*fakeAnswerer)

	rec := postJSON(t, a.handleQuery, QueryRequest{Username: "Alice", Question: "what?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ask.gotCollection != "rag_alice" {
		t.Fatalf("collection = %q", ask.gotCollection)
	}
	var resp rag.Answer
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Text != "hi" || resp.SourcesUsed != 1 {
		t.Fatalf("answer = %+v", resp)
	}
}

func TestQueryValidation(t *testing.T) {
	a := newAPI()
	rec := postJSON(t, a.handleQuery, QueryRequest{Username: "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing question", rec.Code)
	}
}

func TestDeleteRemovesChunksAndRecord(t *testing.T) {
	a := newAPI()
	a.docs = &fakeCatalog{deleted: true}
	vectors := a.vectors.(*fakeVectors)

	data, _ := json.Marshal(DeleteRequest{Username: "alice", Filename: "old.pdf"})
	req := httptest.NewRequest("DELETE", "/api/documents", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	a.handleDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if vectors.gotCollection != "rag_alice" || vectors.gotSource != "old.pdf" {
		t.Fatalf("vector delete = (%q, %q)", vectors.gotCollection, vectors.gotSource)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["deleted"] != true {
		t.Fatalf("resp = %v", resp)
	}
}

func TestDeleteVectorFailure(t *testing.T) {
	a := newAPI()
	a.vectors = &fakeVectors{deleteErr: errors.New("qdrant down")}

	data, _ := json.Marshal(DeleteRequest{Username: "alice", Filename: "old.pdf"})
	req := httptest.NewRequest("DELETE", "/api/documents", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	a.handleDelete(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListDocuments(t *testing.T) {
	a := newAPI()
	a.docs = &fakeCatalog{records: []docstore.DocumentRecord{
		{Username: "alice", Filename: "a.pdf", ChunksStored: 3},
	}}

	req := httptest.NewRequest("GET", "/api/documents?username=alice", nil)
	rec := httptest.NewRecorder()
	a.handleList(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Documents []docstore.DocumentRecord `json:"documents"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Documents) != 1 || resp.Documents[0].Filename != "a.pdf" {
		t.Fatalf("documents = %+v", resp.Documents)
	}
}

func TestListRequiresUsername(t *testing.T) {
	a := newAPI()
	req := httptest.NewRequest("GET", "/api/documents", nil)
	rec := httptest.NewRecorder()
	a.handleList(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	a := newAPI()
	a.vectors = &fakeVectors{stats: semantic.CollectionStats{TotalChunks: 10, UsedMB: 0.05, AvailableMB: 499.95, LimitMB: 500}}

	req := httptest.NewRequest("GET", "/api/stats?username=alice", nil)
	rec := httptest.NewRecorder()
	a.handleStats(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats semantic.CollectionStats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.TotalChunks != 10 || stats.LimitMB != 500 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
