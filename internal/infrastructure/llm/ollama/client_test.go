package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mkravets/taxcore/internal/core/domain"
)

func TestClassifyTextListsAllowedLabelsInPrompt(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":"{\"label\":\"Finance\",\"confidence\":0.72}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 0)
	classifier := NewClassifier(client)
	allowed := []domain.LabelOption{
		{NodeID: "n-1", Label: "Finance"},
		{NodeID: "n-2", Label: "Legal"},
	}

	choice, err := classifier.ClassifyText(context.Background(), "quarterly refund report", allowed)
	if err != nil {
		t.Fatalf("ClassifyText() error = %v", err)
	}
	if choice.Label != "Finance" || choice.Confidence != 0.72 {
		t.Fatalf("unexpected choice: %+v", choice)
	}
	if !strings.Contains(capturedPrompt, "- Finance") || !strings.Contains(capturedPrompt, "- Legal") {
		t.Fatalf("prompt missing allowed labels: %s", capturedPrompt)
	}
	if !strings.Contains(capturedPrompt, "quarterly refund report") {
		t.Fatalf("prompt missing document text: %s", capturedPrompt)
	}
}

func TestClassifyTextRejectsEmptyLabelResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"label\":\"\",\"confidence\":0.9}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 0)
	classifier := NewClassifier(client)
	_, err := classifier.ClassifyText(context.Background(), "text", []domain.LabelOption{{NodeID: "n-1", Label: "Finance"}})
	if err == nil {
		t.Fatalf("expected error for empty label")
	}
}

func TestClassifyTextStripsSurroundingProse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"Here is the answer: {\"label\":\"Legal\",\"confidence\":0.5} hope it helps"}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 0)
	classifier := NewClassifier(client)
	choice, err := classifier.ClassifyText(context.Background(), "text", []domain.LabelOption{{NodeID: "n-2", Label: "Legal"}})
	if err != nil {
		t.Fatalf("ClassifyText() error = %v", err)
	}
	if choice.Label != "Legal" {
		t.Fatalf("unexpected label: %s", choice.Label)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 0)
	embedder := NewEmbedder(client)
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestPostJSONReturnsTypedStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", 0)
	embedder := NewEmbedder(client)
	_, err := embedder.Embed(context.Background(), []string{"hello"})

	class := classifyOllamaError(err)
	if !class.Retryable || !class.RecordFailure {
		t.Fatalf("expected 503 to classify retryable+recorded, got %+v", class)
	}
}
