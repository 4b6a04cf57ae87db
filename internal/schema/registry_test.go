package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

const urlsSchema = `{
	"type": "object",
	"properties": {"urls": {"type": "array", "items": {"type": "string"}}},
	"required": ["urls"]
}`

func TestRegistry_Validate(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	unregister, err := r.Register("fetch", json.RawMessage(urlsSchema))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Validate("fetch", json.RawMessage(`{"urls":["https://a.com"]}`)); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	if err := r.Validate("fetch", json.RawMessage(`{"urls":"nope"}`)); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected ErrInvalidParameters, got %v", err)
	}
	if err := r.Validate("fetch", nil); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("missing required field should fail, got %v", err)
	}
	if err := r.Validate("fetch", json.RawMessage(`{`)); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("malformed JSON should fail, got %v", err)
	}

	unregister()
	if r.Has("fetch") {
		t.Fatal("schema should be removed")
	}
	if err := r.Validate("fetch", json.RawMessage(`{"urls":"nope"}`)); err != nil {
		t.Fatalf("unregistered tool should accept anything, got %v", err)
	}
}

func TestRegistry_InvalidSchema(t *testing.T) {
	t.Parallel()

	r, _ := NewRegistry()
	if _, err := r.Register("bad", json.RawMessage(`{"type": 12}`)); !errors.Is(err, ErrInvalidSchema) {
		t.Fatalf("expected ErrInvalidSchema, got %v", err)
	}
}

func TestRegistry_EmptySchema(t *testing.T) {
	t.Parallel()

	r, _ := NewRegistry()
	unregister, err := r.Register("none", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	unregister()
	if r.Has("none") {
		t.Fatal("empty schema should not be stored")
	}
}

func TestRegistry_SharedCompilation(t *testing.T) {
	t.Parallel()

	r, _ := NewRegistry()
	if _, err := r.Register("a", json.RawMessage(urlsSchema)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register("b", json.RawMessage(urlsSchema)); err != nil {
		t.Fatal(err)
	}
	r.mu.RLock()
	same := r.byID["a"] == r.byID["b"]
	r.mu.RUnlock()
	if !same {
		t.Fatal("identical schemas should share one compiled instance")
	}
}
