package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

// Capability is a bit set of the protocol steps a provider implements.
type Capability uint8

const (
	CapInitiate Capability = 1 << iota
	CapValidate
	CapConfirm
	CapCallback
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapInitiate, "initiate"},
	{CapValidate, "validate"},
	{CapConfirm, "confirm"},
	{CapCallback, "callback"},
}

func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if c.Has(cn.c) {
			names = append(names, cn.name)
		}
	}
	return json.Marshal(names)
}

type Descriptor struct {
	Name         string              `json:"name"`
	Kind         config.ProviderKind `json:"kind"`
	Capabilities Capability          `json:"capabilities"`
	// SigningSecretRef names the configuration key holding the callback
	// signing secret, never the secret itself.
	SigningSecretRef string `json:"signingSecretRef,omitempty"`
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

// PaymentRequest is the provider-neutral initiation input. PhoneNumber is
// already normalized.
type PaymentRequest struct {
	OrderID     string
	Amount      models.Amount
	Currency    string
	PhoneNumber string
	Customer    Customer
}

// PaymentResult is returned to the storefront. Only the fields relevant to
// the selected provider are populated.
type PaymentResult struct {
	Success  bool   `json:"success"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`

	CheckoutRequestID   string `json:"checkoutRequestId,omitempty"`
	MerchantRequestID   string `json:"merchantRequestId,omitempty"`
	ResponseCode        string `json:"responseCode,omitempty"`
	ResponseDescription string `json:"responseDescription,omitempty"`

	Message       string `json:"message,omitempty"`
	PaybillNumber string `json:"paybillNumber,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	Amount        string `json:"amount,omitempty"`
	PhoneNumber   string `json:"phoneNumber,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`

	PaymentURL    string `json:"paymentUrl,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// CallbackEnvelope is one inbound webhook delivery. It is never persisted.
type CallbackEnvelope struct {
	Kind    config.ProviderKind
	SubPath string
	Payload []byte
	Query   url.Values
	Headers http.Header
}

// CallbackResult is the HTTP answer expected by the calling backend.
// Outcome is a short label for logs and metrics.
type CallbackResult struct {
	Status  int
	Body    any
	Outcome string
}

type callbackReply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Provider interface {
	Descriptor() Descriptor
	Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
}

// CallbackHandler is implemented by providers that report the result in a
// single webhook.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, env CallbackEnvelope) CallbackResult
}

// TwoPhaseHandler is implemented by providers that ask to validate a payment
// before committing it and confirm it afterwards.
type TwoPhaseHandler interface {
	Validate(ctx context.Context, payload C2BPayload) C2BResponse
	Confirm(ctx context.Context, payload C2BPayload) C2BResponse
}

// OrderUpdate is what the storefront learns about a settled payment.
type OrderUpdate struct {
	Status      string
	Reference   string
	Amount      models.Amount
	Currency    string
	PhoneNumber string
	Method      string
}

// OrderUpdater is the storefront's order API. Implementations should be
// idempotent or tolerate duplicate identical calls.
type OrderUpdater interface {
	UpdateOrder(ctx context.Context, orderID string, update OrderUpdate) error
}
