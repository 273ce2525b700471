// Package ledger holds the authoritative record of order payment state and
// is the single place where idempotency of callbacks is decided.
package ledger

import (
	"context"
	"errors"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

var (
	ErrNotFound          = errors.New("ledger entry not found")
	ErrLedgerConflict    = errors.New("ledger entry already settled")
	ErrInvalidTransition = errors.New("invalid ledger status transition")
)

// Store is a keyed store of ledger entries. Implementations must be safe for
// concurrent use and CompareAndSwap must be atomic per order id.
type Store interface {
	// Get returns ErrNotFound when no entry exists for orderID.
	Get(ctx context.Context, orderID string) (*models.LedgerEntry, error)
	// Put creates or replaces an entry. It returns ErrLedgerConflict instead
	// of overwriting a completed or failed entry.
	Put(ctx context.Context, entry models.LedgerEntry) error
	// CompareAndSwap replaces the entry only if its current status equals
	// expected. It reports false, with a nil error, when the status moved on.
	CompareAndSwap(ctx context.Context, orderID string, expected models.PaymentStatus, next models.LedgerEntry) (bool, error)
}

func checkTransition(expected models.PaymentStatus, next models.LedgerEntry) error {
	if !models.CanTransition(expected, next.Status) {
		return ErrInvalidTransition
	}
	return nil
}
