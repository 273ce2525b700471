package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

// MemoryStore keeps entries in a map guarded by a mutex. Entries are lost on
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.LedgerEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]models.LedgerEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	entry, ok := s.entries[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *MemoryStore) Put(_ context.Context, entry models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[entry.OrderID]; ok && current.Status.Terminal() {
		return ErrLedgerConflict
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.LastUpdatedAt.IsZero() {
		entry.LastUpdatedAt = entry.CreatedAt
	}
	s.entries[entry.OrderID] = entry
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, orderID string, expected models.PaymentStatus, next models.LedgerEntry) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[orderID]
	if !ok {
		return false, ErrNotFound
	}
	if current.Status != expected {
		return false, nil
	}

	next.OrderID = orderID
	next.CreatedAt = current.CreatedAt
	next.LastUpdatedAt = s.now()
	s.entries[orderID] = next
	return true, nil
}
