package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "tempo/backend/internal/errors"
	"tempo/backend/internal/model"
	"tempo/backend/internal/store"
)

// PausedService keeps suspended work keyed by action, each key holding its
// entries in chronological order. Older installs stored a single object per
// key instead of a list, and hand-edited storage shows up in practice, so
// every read path normalizes before trusting the shape.
type PausedService struct {
	kv store.KV
	mu sync.Mutex
}

func NewPausedService(kv store.KV) *PausedService {
	return &PausedService{kv: kv}
}

// All returns the normalized paused map.
func (s *PausedService) All(ctx context.Context, userID string) map[string][]model.PausedWorkEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, userID)
}

// Entries returns the paused entries for one action key, oldest first.
func (s *PausedService) Entries(ctx context.Context, userID, key string) []model.PausedWorkEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, userID)[key]
}

// Push stores a new paused entry under key. Entries with no accumulated time
// or missing identity are rejected and never persisted.
func (s *PausedService) Push(ctx context.Context, userID, key string, entry model.PausedWorkEntry, now time.Time) (model.PausedWorkEntry, *apperrors.APIError) {
	if !entry.Valid() {
		return model.PausedWorkEntry{}, apperrors.BadRequest("invalid_paused_entry", "paused work needs an item, a type and accumulated time")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.UpdatedAt = now.UTC().Format(time.RFC3339)

	paused := s.load(ctx, userID)
	paused[key] = append(paused[key], entry)
	if err := s.save(ctx, userID, paused); err != nil {
		return model.PausedWorkEntry{}, apperrors.Internal("failed to store paused work")
	}
	return entry, nil
}

// Pop removes and returns the entry matching entryID, or the most recent one
// when entryID is empty. The key disappears once its list drains.
func (s *PausedService) Pop(ctx context.Context, userID, key, entryID string) (model.PausedWorkEntry, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paused := s.load(ctx, userID)
	entries := paused[key]
	if len(entries) == 0 {
		return model.PausedWorkEntry{}, apperrors.NotFound("paused_not_found", "no paused work under that key")
	}

	index := len(entries) - 1
	if entryID != "" {
		index = -1
		for i, entry := range entries {
			if entry.ID == entryID {
				index = i
				break
			}
		}
		if index < 0 {
			return model.PausedWorkEntry{}, apperrors.NotFound("paused_not_found", "no paused entry with that id")
		}
	}

	removed := entries[index]
	entries = append(entries[:index:index], entries[index+1:]...)
	if len(entries) == 0 {
		delete(paused, key)
	} else {
		paused[key] = entries
	}
	if err := s.save(ctx, userID, paused); err != nil {
		return model.PausedWorkEntry{}, apperrors.Internal("failed to update paused work")
	}
	return removed, nil
}

// Update merges a patch into one entry in place and re-stamps it.
func (s *PausedService) Update(ctx context.Context, userID, key, entryID string, accumulatedSeconds *int, now time.Time) (model.PausedWorkEntry, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paused := s.load(ctx, userID)
	entries := paused[key]
	for i := range entries {
		if entries[i].ID != entryID {
			continue
		}
		if accumulatedSeconds != nil {
			if *accumulatedSeconds <= 0 {
				return model.PausedWorkEntry{}, apperrors.BadRequest("invalid_paused_entry", "accumulated time must stay positive")
			}
			entries[i].AccumulatedSeconds = *accumulatedSeconds
		}
		entries[i].UpdatedAt = now.UTC().Format(time.RFC3339)
		paused[key] = entries
		if err := s.save(ctx, userID, paused); err != nil {
			return model.PausedWorkEntry{}, apperrors.Internal("failed to update paused work")
		}
		return entries[i], nil
	}
	return model.PausedWorkEntry{}, apperrors.NotFound("paused_not_found", "no paused entry with that id")
}

func (s *PausedService) load(ctx context.Context, userID string) map[string][]model.PausedWorkEntry {
	raw, err := s.kv.Get(ctx, userID, store.KeyPaused)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("paused: read store: %v", err)
		}
		return map[string][]model.PausedWorkEntry{}
	}
	return NormalizePaused([]byte(raw))
}

func (s *PausedService) save(ctx context.Context, userID string, paused map[string][]model.PausedWorkEntry) error {
	return store.SaveJSON(ctx, s.kv, userID, store.KeyPaused, paused)
}

// NormalizePaused decodes a stored paused map of unknown vintage. A legacy
// single-object value becomes a one-element list, entries that fail
// validation are pruned, and keys left empty are dropped. A payload that does
// not decode at all yields an empty map.
func NormalizePaused(raw []byte) map[string][]model.PausedWorkEntry {
	normalized := map[string][]model.PausedWorkEntry{}

	var loose map[string]json.RawMessage
	if err := json.Unmarshal(raw, &loose); err != nil {
		log.Printf("paused: corrupt store payload, resetting: %v", err)
		return normalized
	}

	for key, value := range loose {
		var entries []model.PausedWorkEntry
		if err := json.Unmarshal(value, &entries); err != nil {
			var single model.PausedWorkEntry
			if err := json.Unmarshal(value, &single); err != nil {
				continue
			}
			entries = []model.PausedWorkEntry{single}
		}

		kept := entries[:0]
		for _, entry := range entries {
			if !entry.Valid() {
				continue
			}
			if entry.ID == "" {
				entry.ID = uuid.NewString()
			}
			kept = append(kept, entry)
		}
		if len(kept) > 0 {
			normalized[key] = kept
		}
	}
	return normalized
}
