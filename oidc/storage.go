package oidc

import (
	"context"
	"sync"
)

// ParamsSlot names a storage slot for user-supplied request parameters.
type ParamsSlot int

const (
	// SlotAuthRequest holds custom parameters for the next authorization
	// request
	SlotAuthRequest ParamsSlot = iota

	// SlotRefresh holds custom parameters for the next refresh-token grant
	SlotRefresh
)

func (s ParamsSlot) String() string {
	switch s {
	case SlotAuthRequest:
		return "auth-request-params"
	case SlotRefresh:
		return "refresh-params"
	}
	return "unknown"
}

// Storage persists per-configuration flow values: the anti-forgery state
// control written before a redirect, and custom request parameter slots.
// Implementations must be concurrently safe.
type Storage interface {
	// AuthStateControl reads the stored anti-forgery value for the
	// configuration.  An empty string means no value is stored.
	AuthStateControl(ctx context.Context, configID string) (string, error)

	// SetAuthStateControl stores the anti-forgery value before a redirect.
	SetAuthStateControl(ctx context.Context, configID string, state string) error

	// CustomRequestParams reads a custom parameter slot.
	CustomRequestParams(ctx context.Context, configID string, slot ParamsSlot) (map[string]string, error)

	// SetCustomRequestParams replaces a custom parameter slot.
	SetCustomRequestParams(ctx context.Context, configID string, slot ParamsSlot, params map[string]string) error
}

// MemoryStorage implements Storage with in-process maps.  It is concurrently
// safe and is what applications without their own persistence layer (and the
// package's tests) use.
type MemoryStorage struct {
	mu     sync.RWMutex
	states map[string]string
	params map[string]map[ParamsSlot]map[string]string
}

// ensure that MemoryStorage implements the Storage interface
var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		states: map[string]string{},
		params: map[string]map[ParamsSlot]map[string]string{},
	}
}

// AuthStateControl implements Storage.
func (s *MemoryStorage) AuthStateControl(ctx context.Context, configID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[configID], nil
}

// SetAuthStateControl implements Storage.
func (s *MemoryStorage) SetAuthStateControl(ctx context.Context, configID string, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[configID] = state
	return nil
}

// CustomRequestParams implements Storage.  The returned map is a copy.
func (s *MemoryStorage) CustomRequestParams(ctx context.Context, configID string, slot ParamsSlot) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.params[configID][slot]
	if stored == nil {
		return nil, nil
	}
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// SetCustomRequestParams implements Storage.
func (s *MemoryStorage) SetCustomRequestParams(ctx context.Context, configID string, slot ParamsSlot, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params[configID] == nil {
		s.params[configID] = map[ParamsSlot]map[string]string{}
	}
	stored := make(map[string]string, len(params))
	for k, v := range params {
		stored[k] = v
	}
	s.params[configID][slot] = stored
	return nil
}
