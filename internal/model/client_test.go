package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vozlab/voz/internal/domain"
)

func completionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}, "finish_reason": "stop"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestComplete(t *testing.T) {
	srv := completionServer(t, "hello there")
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, GeneratorModel: "test"})
	got, err := c.Complete(context.Background(), "test", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hello there" {
		t.Errorf("Expected 'hello there', got %q", got)
	}
}

func TestClassifyIntentParsesVerdict(t *testing.T) {
	srv := completionServer(t, `Sure! {"agent": "health", "tool": "lookup_protocol", "type": "saude", "confidence": 0.9, "entities": {"protocol": "dengue"}}`)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClassifierModel: "test"})
	intent, err := c.ClassifyIntent(context.Background(), "dor de cabeça", []domain.AgentConfig{{Slug: "health"}})
	if err != nil {
		t.Fatalf("ClassifyIntent failed: %v", err)
	}
	if intent.AgentSlug != "health" || intent.ToolName != "lookup_protocol" {
		t.Errorf("Unexpected verdict: %+v", intent)
	}
	if intent.Method != domain.MethodModel {
		t.Errorf("Expected model method, got %s", intent.Method)
	}
	if intent.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", intent.Confidence)
	}
	if intent.Entities["protocol"] != "dengue" {
		t.Errorf("Expected protocol entity dengue, got %v", intent.Entities)
	}
}

func TestClassifyIntentRejectsGarbage(t *testing.T) {
	srv := completionServer(t, "I could not decide, sorry.")
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClassifierModel: "test"})
	if _, err := c.ClassifyIntent(context.Background(), "hm", nil); err == nil {
		t.Error("Expected error for unparseable classification")
	}
}

func TestClassifyIntentRejectsMissingAgent(t *testing.T) {
	srv := completionServer(t, `{"agent": "", "tool": "", "type": "geral", "confidence": 0.2}`)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClassifierModel: "test"})
	if _, err := c.ClassifyIntent(context.Background(), "hm", nil); err == nil {
		t.Error("Expected error for empty agent")
	}
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, CallTimeout: 20 * time.Millisecond})
	if _, err := c.Complete(context.Background(), "test", nil); err == nil {
		t.Error("Expected timeout error")
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/v1/voice-to-text" {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["audio"] == "" {
			t.Error("Expected base64 audio in request")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "bom dia"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	text, err := c.Transcribe(context.Background(), []byte("pcm-bytes"), "dev-1", "sess-1")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "bom dia" {
		t.Errorf("Expected 'bom dia', got %q", text)
	}
}

func TestSynthesizeRequiresAudioURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.Synthesize(context.Background(), "olá", ""); err == nil {
		t.Error("Expected error for missing audio URL")
	}
}
