// Package store defines the namespaced key-value contract the core persists
// through, plus defensive JSON helpers shared by the services.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
)

// ErrNotFound is returned when a key has no value in its namespace.
var ErrNotFound = errors.New("store: key not found")

// Well-known keys inside a user's namespace.
const (
	KeyBalance      = "balance"
	KeyTransactions = "transactions"
	KeyPaused       = "paused_work"
	KeySettings     = "settings"
	KeyActiveTimer  = "active_timer"
	KeyLastActivity = "last_activity"
)

// KV is the abstract persistent store. Implementations must round-trip
// string values without loss; callers treat absent or corrupt values as
// defaults, never as errors.
type KV interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error
}

// LoadJSON reads a key and decodes it into v. It reports false and leaves v
// untouched when the key is absent or the payload does not decode; a corrupt
// value is logged and treated as missing rather than surfaced.
func LoadJSON(ctx context.Context, kv KV, namespace, key string, v any) bool {
	raw, err := kv.Get(ctx, namespace, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("store: read %s/%s: %v", namespace, key, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Printf("store: corrupt payload at %s/%s, using defaults: %v", namespace, key, err)
		return false
	}
	return true
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(ctx context.Context, kv KV, namespace, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.Set(ctx, namespace, key, string(raw))
}

// Memory is an in-process KV used by tests and as a fallback.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]string)}
}

func (m *Memory) Get(_ context.Context, namespace, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		return "", ErrNotFound
	}
	value, ok := ns[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *Memory) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string]string)
		m.data[namespace] = ns
	}
	ns[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}
