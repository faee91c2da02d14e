package vectorstore

import (
	"context"
	"testing"
)

func TestDeterministicEmbedderIsStable(t *testing.T) {
	e := NewDeterministicEmbedder(32)
	ctx := context.Background()
	v1, err := e.Embed(ctx, "how do I upload photos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := e.Embed(ctx, "how do I upload photos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v1) != 32 {
		t.Fatalf("expected dimension 32, got %d", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedding not deterministic at index %d: %v != %v", i, v1[i], v2[i])
		}
	}
}

func TestDeterministicEmbedderDistinguishesText(t *testing.T) {
	e := NewDeterministicEmbedder(32)
	ctx := context.Background()
	v1, _ := e.Embed(ctx, "upload photos")
	v2, _ := e.Embed(ctx, "reset my password")
	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected distinct embeddings for distinct text")
	}
}

func TestDeterministicEmbedderEmptyText(t *testing.T) {
	e := NewDeterministicEmbedder(8)
	v, err := e.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector for empty text, got %v", v)
		}
	}
}
