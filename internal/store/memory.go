package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/atmx/lending-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Snapshots are held as JSON, the same payload the Postgres store writes,
// so neither the saved value nor anything returned shares memory with the
// store.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]storedSnapshot // account -> oldest first
}

type storedSnapshot struct {
	id      string
	payload []byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]storedSnapshot),
	}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.PortfolioSnapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	key := AccountKey(snap.Account)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.snapshots[key] {
		if existing.id == snap.ID {
			return fmt.Errorf("snapshot %s already exists", snap.ID)
		}
	}

	s.snapshots[key] = append(s.snapshots[key], storedSnapshot{id: snap.ID, payload: payload})
	return nil
}

func (s *MemoryStore) GetLatestSnapshot(_ context.Context, account string) (*model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[AccountKey(account)]
	if len(list) == 0 {
		return nil, fmt.Errorf("account %s: %w", account, ErrNotFound)
	}
	var latest model.PortfolioSnapshot
	if err := json.Unmarshal(list[len(list)-1].payload, &latest); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &latest, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, account string, limit int) ([]model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[AccountKey(account)]
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}

	result := make([]model.PortfolioSnapshot, 0, n)
	for i := len(list) - 1; i >= 0 && len(result) < n; i-- {
		var snap model.PortfolioSnapshot
		if err := json.Unmarshal(list[i].payload, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		result = append(result, snap)
	}
	return result, nil
}
