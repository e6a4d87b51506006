// Package server implements the embedding HTTP service: a thin surface over
// an embeddings provider with explicit model lifecycle state, plus status,
// health, and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zanussbaum/fast-penguin/pkg/provider/embeddings"
)

// ErrModelNotLoaded is returned by [ModelState.Embed] before a successful
// Load. Handlers map it to 503.
var ErrModelNotLoaded = errors.New("model not loaded")

// ModelState owns the embedding provider and its load lifecycle. Construct
// with [NewModelState], call [ModelState.Load] once at startup, and inject
// it wherever model access is needed. Safe for concurrent use.
type ModelState struct {
	provider embeddings.Provider

	mu      sync.RWMutex
	loaded  bool
	loadErr error
}

// NewModelState wraps p in an unloaded state.
func NewModelState(p embeddings.Provider) *ModelState {
	return &ModelState{provider: p}
}

// Load loads the model. A failure is recorded and reported by
// [ModelState.LoadError]; the service keeps serving 503s rather than
// crashing. Load may be called again after a failure.
func (s *ModelState) Load(ctx context.Context) error {
	err := s.provider.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
	s.loaded = err == nil
	if err != nil {
		return fmt.Errorf("load model %q: %w", s.provider.ModelID(), err)
	}
	return nil
}

// Loaded reports whether the model loaded successfully.
func (s *ModelState) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// LoadError returns the most recent load failure, or nil.
func (s *ModelState) LoadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Embed embeds text, failing with [ErrModelNotLoaded] before a successful
// Load.
func (s *ModelState) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.Loaded() {
		return nil, ErrModelNotLoaded
	}
	return s.provider.Embed(ctx, text)
}

// ModelID returns the underlying provider's model identifier.
func (s *ModelState) ModelID() string { return s.provider.ModelID() }

// Dimensions returns the model's output dimensionality, 0 before load.
func (s *ModelState) Dimensions() int { return s.provider.Dimensions() }
