package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/ledger"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/metrics"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

// Settlement describes a payment a backend reports as committed.
type Settlement struct {
	OrderID     string
	Provider    string
	Method      string
	Reference   string
	Amount      models.Amount
	Currency    string
	PhoneNumber string
	// AllowUnseen records orders that were never written at initiation,
	// which is the case for single-callback providers.
	AllowUnseen bool
}

// Settler moves ledger entries to completed and notifies the storefront
// exactly once per order.
type Settler struct {
	ledger  ledger.Store
	updater OrderUpdater
	locks   *keyedMutex
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewSettler(store ledger.Store, updater OrderUpdater, m *metrics.Metrics, log *zap.Logger) *Settler {
	return &Settler{
		ledger:  store,
		updater: updater,
		locks:   newKeyedMutex(),
		metrics: m,
		log:     log.Named("settlement"),
		now:     time.Now,
	}
}

// Settle completes the order and notifies the storefront. It reports whether
// a notification was sent by this call; a redelivered settlement whose
// notification already went out returns false and a nil error. A settlement
// that disagrees with a terminal entry returns ledger.ErrLedgerConflict.
func (s *Settler) Settle(ctx context.Context, st Settlement) (bool, error) {
	unlock := s.locks.Lock(st.OrderID)
	defer unlock()

	entry, err := s.load(ctx, st)
	if err != nil {
		return false, err
	}

	if entry.Status == models.StatusPending || entry.Status == models.StatusValidated {
		next := *entry
		next.Status = models.StatusCompleted
		next.Provider = st.Provider
		next.ProviderReference = st.Reference
		next.Amount = st.Amount
		if st.PhoneNumber != "" {
			next.PhoneNumber = st.PhoneNumber
		}

		swapped, err := s.ledger.CompareAndSwap(ctx, st.OrderID, entry.Status, next)
		if err != nil {
			return false, fmt.Errorf("failed to complete order %s: %w", st.OrderID, err)
		}
		if swapped {
			entry = &next
			s.log.Info("order completed",
				zap.String("order_id", st.OrderID),
				zap.String("provider", st.Provider),
				zap.String("reference", st.Reference),
			)
		} else if entry, err = s.ledger.Get(ctx, st.OrderID); err != nil {
			return false, fmt.Errorf("failed to reload order %s: %w", st.OrderID, err)
		}
	}

	switch {
	case entry.Status == models.StatusFailed:
		return false, fmt.Errorf("%w: order %s is marked failed", ledger.ErrLedgerConflict, st.OrderID)
	case entry.Status != models.StatusCompleted:
		return false, fmt.Errorf("order %s left in status %s", st.OrderID, entry.Status)
	case entry.ProviderReference != st.Reference:
		return false, fmt.Errorf("%w: order %s settled by %s, callback carries %s",
			ledger.ErrLedgerConflict, st.OrderID, entry.ProviderReference, st.Reference)
	case entry.Notified():
		s.log.Info("duplicate settlement ignored",
			zap.String("order_id", st.OrderID),
			zap.String("reference", st.Reference),
		)
		return false, nil
	}

	err = s.updater.UpdateOrder(ctx, st.OrderID, OrderUpdate{
		Status:      "paid",
		Reference:   entry.ProviderReference,
		Amount:      entry.Amount,
		Currency:    st.Currency,
		PhoneNumber: entry.PhoneNumber,
		Method:      st.Method,
	})
	s.metrics.Notification(err)
	if err != nil {
		return false, fmt.Errorf("failed to update storefront order %s: %w", st.OrderID, err)
	}

	notifiedAt := s.now().UTC()
	stamped := *entry
	stamped.NotifiedAt = &notifiedAt
	if _, err := s.ledger.CompareAndSwap(ctx, st.OrderID, models.StatusCompleted, stamped); err != nil {
		s.log.Warn("failed to record notification; a redelivery may notify again",
			zap.String("order_id", st.OrderID),
			zap.Error(err),
		)
	}
	return true, nil
}

func (s *Settler) load(ctx context.Context, st Settlement) (*models.LedgerEntry, error) {
	entry, err := s.ledger.Get(ctx, st.OrderID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("failed to load order %s: %w", st.OrderID, err)
	}
	if !st.AllowUnseen {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, st.OrderID)
	}

	entry = &models.LedgerEntry{
		OrderID:     st.OrderID,
		Provider:    st.Provider,
		Amount:      st.Amount,
		PhoneNumber: st.PhoneNumber,
		Status:      models.StatusPending,
	}
	if err := s.ledger.Put(ctx, *entry); err != nil {
		if !errors.Is(err, ledger.ErrLedgerConflict) {
			return nil, fmt.Errorf("failed to record order %s: %w", st.OrderID, err)
		}
		// completed concurrently by another instance
		return s.ledger.Get(ctx, st.OrderID)
	}
	return s.ledger.Get(ctx, st.OrderID)
}

// Open records a pending entry for a new payment attempt. It holds the order
// lock so a concurrent settlement never completes from a stale amount. A
// completed or failed entry is left alone and ledger.ErrLedgerConflict is
// returned.
func (s *Settler) Open(ctx context.Context, entry models.LedgerEntry) error {
	unlock := s.locks.Lock(entry.OrderID)
	defer unlock()

	entry.Status = models.StatusPending
	entry.ProviderReference = ""
	entry.NotifiedAt = nil
	if err := s.ledger.Put(ctx, entry); err != nil {
		return err
	}
	return nil
}

// MarkFailed moves a pending or validated entry to failed. Terminal entries
// are left untouched.
func (s *Settler) MarkFailed(ctx context.Context, entry *models.LedgerEntry, reference string) error {
	unlock := s.locks.Lock(entry.OrderID)
	defer unlock()

	if !models.CanTransition(entry.Status, models.StatusFailed) {
		return nil
	}
	next := *entry
	next.Status = models.StatusFailed
	next.ProviderReference = reference
	if _, err := s.ledger.CompareAndSwap(ctx, entry.OrderID, entry.Status, next); err != nil {
		return fmt.Errorf("failed to mark order %s failed: %w", entry.OrderID, err)
	}
	return nil
}
