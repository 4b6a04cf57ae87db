// Package schema compiles tool input schemas and validates call parameters
// against them.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/maypok86/otter"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const compiledCacheSize = 1024

var (
	// ErrInvalidSchema is returned when a schema cannot be compiled.
	ErrInvalidSchema = errors.New("schema: invalid schema")

	// ErrInvalidParameters is returned when parameters fail validation.
	ErrInvalidParameters = errors.New("schema: parameters do not match schema")
)

// Registry maps tool IDs to compiled schemas. Identical schemas registered
// under different IDs (common for MCP servers restarting) compile once.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*jsonschema.Schema
	compiled otter.Cache[string, *jsonschema.Schema]
}

// NewRegistry creates an empty Registry.
func NewRegistry() (*Registry, error) {
	cache, err := otter.MustBuilder[string, *jsonschema.Schema](compiledCacheSize).Build()
	if err != nil {
		return nil, fmt.Errorf("schema: build cache: %w", err)
	}
	return &Registry{
		byID:     make(map[string]*jsonschema.Schema),
		compiled: cache,
	}, nil
}

// Register compiles raw and associates it with id. An empty schema
// registers nothing and unregister is a no-op.
func (r *Registry) Register(id string, raw json.RawMessage) (unregister func(), err error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return func() {}, nil
	}

	sch, err := r.compile(raw)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInvalidSchema, id, err)
	}

	r.mu.Lock()
	r.byID[id] = sch
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.byID[id] == sch {
			delete(r.byID, id)
		}
	}, nil
}

// Has reports whether id has a schema.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Validate checks params against the schema registered for id. Tools
// without a schema accept anything.
func (r *Registry) Validate(id string, params json.RawMessage) error {
	r.mu.RLock()
	sch, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var doc any = map[string]any{}
	if len(bytes.TrimSpace(params)) > 0 {
		v, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
		if err != nil {
			return fmt.Errorf("%w: %s: not valid JSON: %w", ErrInvalidParameters, id, err)
		}
		doc = v
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidParameters, id, err)
	}
	return nil
}

func (r *Registry) compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])
	if sch, ok := r.compiled.Get(key); ok {
		return sch, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	url := "mem://schema/" + key + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	r.compiled.Set(key, sch)
	return sch, nil
}
