package models

import "time"

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusValidated PaymentStatus = "validated"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
)

// CanTransition reports whether a ledger entry may move from one status to
// another. Status only moves forward; completed -> completed is allowed so a
// settled entry can be stamped as notified.
func CanTransition(from, to PaymentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusValidated || to == StatusCompleted || to == StatusFailed
	case StatusValidated:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusCompleted
	default:
		return false
	}
}

// Terminal reports whether no further transition other than the notification
// stamp on completed is possible.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LedgerEntry is this service's record of an order's payment state.
type LedgerEntry struct {
	OrderID           string        `bson:"_id" json:"orderId"`
	Provider          string        `bson:"provider" json:"provider"`
	Amount            Amount        `bson:"amount" json:"amount"`
	PhoneNumber       string        `bson:"phone_number" json:"phoneNumber"`
	Status            PaymentStatus `bson:"status" json:"status"`
	ProviderReference string        `bson:"provider_reference,omitempty" json:"providerReference,omitempty"`
	CreatedAt         time.Time     `bson:"created_at" json:"createdAt"`
	LastUpdatedAt     time.Time     `bson:"last_updated_at" json:"lastUpdatedAt"`
	NotifiedAt        *time.Time    `bson:"notified_at,omitempty" json:"notifiedAt,omitempty"`
}

func (e *LedgerEntry) Notified() bool {
	return e.NotifiedAt != nil
}
