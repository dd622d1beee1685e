package provider

import (
	"context"
	"errors"
	"testing"
)

func TestMockFetchEntity(t *testing.T) {
	p := NewMock()
	defer p.Close()

	rec, err := p.FetchEntity(context.Background(), "population", "Campinas")
	if err != nil {
		t.Fatalf("FetchEntity failed: %v", err)
	}
	if rec["municipio"] != "Campinas" {
		t.Errorf("Expected Campinas record, got %v", rec)
	}
}

func TestMockFetchEntityNotFound(t *testing.T) {
	p := NewMock()
	defer p.Close()

	if _, err := p.FetchEntity(context.Background(), "population", "narnia"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := p.FetchEntity(context.Background(), "unknown-kind", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown kind, got %v", err)
	}
}

func TestMockFetchEntityCopies(t *testing.T) {
	p := NewMock()
	defer p.Close()

	rec, err := p.FetchEntity(context.Background(), "protocol", "dengue")
	if err != nil {
		t.Fatalf("FetchEntity failed: %v", err)
	}
	rec["cid"] = "mutated"

	again, err := p.FetchEntity(context.Background(), "protocol", "dengue")
	if err != nil {
		t.Fatalf("FetchEntity failed: %v", err)
	}
	if again["cid"] != "A90" {
		t.Errorf("Dataset should be immutable to callers, got %v", again["cid"])
	}
}

func TestMockRespectsContext(t *testing.T) {
	p := NewMock()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.FetchEntity(ctx, "population", "santos"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context error, got %v", err)
	}
}
