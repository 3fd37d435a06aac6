package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mkravets/taxcore/internal/core/domain"
)

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "c-1", DocID: "doc-1", Text: "quarterly refund policy", Embedding: []float32{0.1, 0.2}},
		{ID: "c-2", DocID: "doc-1", Text: "invoice dispute handling", Embedding: []float32{0.3, 0.4}},
	}
}

func TestIndexChunksEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	if err := client.IndexChunks(context.Background(), testChunks()); err != nil {
		t.Fatalf("first IndexChunks() error = %v", err)
	}
	if err := client.IndexChunks(context.Background(), testChunks()); err != nil {
		t.Fatalf("second IndexChunks() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}
}

func TestIndexChunksWritesBothNamedVectors(t *testing.T) {
	var upsertBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			upsertBody = readAll(t, r)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	if err := client.IndexChunks(context.Background(), testChunks()[:1]); err != nil {
		t.Fatalf("IndexChunks() error = %v", err)
	}

	var parsed struct {
		Points []struct {
			Vector  map[string]json.RawMessage `json:"vector"`
			Payload map[string]any             `json:"payload"`
		} `json:"points"`
	}
	if err := json.Unmarshal(upsertBody, &parsed); err != nil {
		t.Fatalf("unmarshal upsert body: %v", err)
	}
	if len(parsed.Points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(parsed.Points))
	}
	if _, ok := parsed.Points[0].Vector[denseVectorName]; !ok {
		t.Fatalf("missing dense vector in %s", upsertBody)
	}
	if _, ok := parsed.Points[0].Vector[sparseVectorName]; !ok {
		t.Fatalf("missing sparse vector in %s", upsertBody)
	}
	if got := parsed.Points[0].Payload["chunk_id"]; got != "c-1" {
		t.Fatalf("expected chunk_id c-1, got %v", got)
	}
}

func TestSearchDenseMapsPayloadToCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/collections/chunks/points/search" {
			_, _ = w.Write([]byte(`{"result":[{"score":0.87,"payload":{"chunk_id":"c-1","doc_id":"doc-1","text":"refund policy"}}]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	candidates, err := client.SearchDense(context.Background(), []float32{0.1, 0.2}, 10)
	if err != nil {
		t.Fatalf("SearchDense() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	got := candidates[0]
	if got.ChunkID != "c-1" || got.DocID != "doc-1" || got.Score != 0.87 {
		t.Fatalf("unexpected candidate: %+v", got)
	}
}

func TestSearchSparseEmptyQueryShortCircuits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	candidates, err := client.SearchSparse(context.Background(), "___---!!!", 10)
	if err != nil {
		t.Fatalf("SearchSparse() error = %v", err)
	}
	if candidates != nil {
		t.Fatalf("expected nil candidates, got %+v", candidates)
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/chunks" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "chunks")
	err := client.IndexChunks(context.Background(), testChunks()[:1])
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	body := make([]byte, 0, 4096)
	buf := make([]byte, 1024)
	for {
		n, err := r.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			return body
		}
	}
}
