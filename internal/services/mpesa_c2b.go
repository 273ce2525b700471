package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/ledger"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

const c2bName = "M-Pesa C2B"

// C2B result codes understood by Daraja.
const (
	c2bAccepted          = "0"
	c2bFailed            = "1"
	c2bInvalidShortCode  = "C2B00010"
	c2bInvalidAccount    = "C2B00011"
	c2bInvalidAmount     = "C2B00012"
	c2bInternalError     = "C2B00013"
	c2bSubPathValidation = "validation"
	c2bSubPathConfirm    = "confirmation"
)

// C2BPayload is the body Daraja posts to both the validation and the
// confirmation URL.
type C2BPayload struct {
	TransactionType   string      `json:"TransactionType"`
	TransID           string      `json:"TransID"`
	TransTime         string      `json:"TransTime"`
	TransAmount       json.Number `json:"TransAmount"`
	BusinessShortCode json.Number `json:"BusinessShortCode"`
	BillRefNumber     string      `json:"BillRefNumber"`
	AccountReference  string      `json:"AccountReference"`
	InvoiceNumber     string      `json:"InvoiceNumber"`
	OrgAccountBalance string      `json:"OrgAccountBalance"`
	ThirdPartyTransID string      `json:"ThirdPartyTransID"`
	MSISDN            string      `json:"MSISDN"`
	FirstName         string      `json:"FirstName"`
}

// Account is the account number the customer typed, i.e. the order id.
func (p C2BPayload) Account() string {
	if p.BillRefNumber != "" {
		return strings.TrimSpace(p.BillRefNumber)
	}
	return strings.TrimSpace(p.AccountReference)
}

type C2BResponse struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// C2BProvider is the paybill flow: the customer pushes funds and Daraja asks
// us to validate, then confirms. Daraja does not sign these calls, so every
// payload is cross-checked against the ledger.
type C2BProvider struct {
	cfg      config.C2BConfig
	simulate bool
	daraja   *DarajaClient
	ledger   ledger.Store
	settler  *Settler
	log      *zap.Logger
	now      func() time.Time

	registerMu sync.Mutex
	registered bool
}

func NewC2BProvider(cfg config.C2BConfig, simulate bool, daraja *DarajaClient, store ledger.Store, settler *Settler, log *zap.Logger) *C2BProvider {
	return &C2BProvider{
		cfg:      cfg,
		simulate: simulate,
		daraja:   daraja,
		ledger:   store,
		settler:  settler,
		log:      log.Named("mpesa_c2b"),
		now:      time.Now,
	}
}

func (p *C2BProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:         c2bName,
		Kind:         config.KindMpesaC2B,
		Capabilities: CapInitiate | CapValidate | CapConfirm,
	}
}

// Initiate records the pending order and returns paybill instructions.
func (p *C2BProvider) Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	token, err := p.daraja.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.registerURLs(ctx, token); err != nil {
		// the URLs may already be registered from a previous run
		p.log.Warn("c2b url registration failed", zap.Error(err))
	}

	err = p.settler.Open(ctx, models.LedgerEntry{
		OrderID:     req.OrderID,
		Provider:    c2bName,
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
		CreatedAt:   p.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrLedgerConflict) {
			return nil, fmt.Errorf("order %s is already settled: %w", req.OrderID, err)
		}
		return nil, fmt.Errorf("failed to record order %s: %w", req.OrderID, err)
	}

	// The simulated payment triggers validation, so it must follow the
	// ledger write.
	if p.simulate {
		if err := p.simulatePayment(ctx, token, req); err != nil {
			p.log.Warn("c2b simulation failed", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = "KES"
	}
	p.log.Info("c2b payment pending", zap.String("order_id", req.OrderID), zap.Stringer("amount", req.Amount))
	return &PaymentResult{
		Message: fmt.Sprintf("Please pay %s %s using:\nPaybill Number: %s\nAccount Number: %s",
			currency, req.Amount, p.cfg.ShortCode, req.OrderID),
		PaybillNumber: p.cfg.ShortCode,
		AccountNumber: req.OrderID,
		Amount:        req.Amount.String(),
		PhoneNumber:   req.PhoneNumber,
		OrderID:       req.OrderID,
		Timestamp:     darajaTimestamp(p.now()),
	}, nil
}

func (p *C2BProvider) registerURLs(ctx context.Context, token string) error {
	p.registerMu.Lock()
	defer p.registerMu.Unlock()
	if p.registered {
		return nil
	}

	body := map[string]string{
		"ShortCode":       p.cfg.ShortCode,
		"ResponseType":    p.cfg.ResponseType,
		"ConfirmationURL": p.cfg.CallbackURL + "/" + c2bSubPathConfirm,
		"ValidationURL":   p.cfg.CallbackURL + "/" + c2bSubPathValidation,
	}
	if err := p.daraja.post(ctx, c2bName, "register urls", "/mpesa/c2b/v1/registerurl", token, body, nil); err != nil {
		return err
	}
	p.registered = true
	p.log.Info("c2b urls registered", zap.String("callback_url", p.cfg.CallbackURL))
	return nil
}

func (p *C2BProvider) simulatePayment(ctx context.Context, token string, req PaymentRequest) error {
	body := map[string]any{
		"ShortCode":     p.cfg.ShortCode,
		"CommandID":     "CustomerPayBillOnline",
		"Amount":        req.Amount.Number(),
		"Msisdn":        req.PhoneNumber,
		"BillRefNumber": req.OrderID,
	}
	return p.daraja.post(ctx, c2bName, "simulate", "/mpesa/c2b/v1/simulate", token, body, nil)
}

// check runs the short code, account and amount checks in that order. The
// entry is returned whenever it was found, even if a later check failed.
func (p *C2BProvider) check(ctx context.Context, payload C2BPayload) (*models.LedgerEntry, error) {
	if payload.BusinessShortCode.String() != p.cfg.ShortCode {
		return nil, &ValidationError{Code: c2bInvalidShortCode, Reason: "Invalid business short code"}
	}

	entry, err := p.ledger.Get(ctx, payload.Account())
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, &ValidationError{Code: c2bInvalidAccount, Reason: "Invalid account number"}
		}
		return nil, err
	}

	amount, err := models.ParseAmount(payload.TransAmount.String())
	if err != nil || amount != entry.Amount {
		return entry, &ValidationError{Code: c2bInvalidAmount, Reason: "Invalid amount"}
	}
	return entry, nil
}

// Validate accepts or rejects a payment before Daraja commits it. It never
// mutates the ledger. Orders that are already completed or failed take no
// further money.
func (p *C2BProvider) Validate(ctx context.Context, payload C2BPayload) C2BResponse {
	entry, err := p.check(ctx, payload)
	if err == nil && entry.Status.Terminal() {
		err = &ValidationError{Code: c2bInvalidAccount, Reason: "Order already settled"}
	}
	var verr *ValidationError
	switch {
	case err == nil:
		return C2BResponse{ResultCode: c2bAccepted, ResultDesc: "Accepted"}
	case errors.As(err, &verr):
		p.log.Info("c2b payment rejected",
			zap.String("account", payload.Account()),
			zap.String("trans_id", payload.TransID),
			zap.String("reason", verr.Reason),
		)
		return C2BResponse{ResultCode: verr.Code, ResultDesc: verr.Reason}
	default:
		p.log.Error("c2b validation failed", zap.String("account", payload.Account()), zap.Error(err))
		return C2BResponse{ResultCode: c2bInternalError, ResultDesc: "Internal server error"}
	}
}

// Confirm completes the order after Daraja committed the payment. Duplicate
// confirmations are acknowledged without notifying the storefront again.
func (p *C2BProvider) Confirm(ctx context.Context, payload C2BPayload) C2BResponse {
	if payload.TransID == "" {
		return C2BResponse{ResultCode: c2bFailed, ResultDesc: "Missing transaction id"}
	}

	entry, err := p.check(ctx, payload)
	var verr *ValidationError
	if errors.As(err, &verr) {
		switch {
		case verr.Code == c2bInvalidShortCode:
			return C2BResponse{ResultCode: c2bFailed, ResultDesc: verr.Reason}
		case verr.Code == c2bInvalidAccount:
			p.log.Warn("c2b confirmation for unknown account",
				zap.String("account", payload.Account()),
				zap.String("trans_id", payload.TransID),
			)
			return C2BResponse{ResultCode: c2bFailed, ResultDesc: verr.Reason}
		case entry.Status != models.StatusCompleted:
			p.log.Warn("c2b confirmation amount mismatch",
				zap.String("order_id", entry.OrderID),
				zap.String("trans_id", payload.TransID),
				zap.String("trans_amount", payload.TransAmount.String()),
				zap.Stringer("expected", entry.Amount),
			)
			if err := p.settler.MarkFailed(ctx, entry, payload.TransID); err != nil {
				p.log.Error("failed to mark order failed", zap.String("order_id", entry.OrderID), zap.Error(err))
			}
			return C2BResponse{ResultCode: verr.Code, ResultDesc: verr.Reason}
		}
		// completed entries are resolved by the settler below
	} else if err != nil {
		p.log.Error("c2b confirmation failed", zap.String("account", payload.Account()), zap.Error(err))
		return C2BResponse{ResultCode: c2bFailed, ResultDesc: "Failed to process payment"}
	}

	_, err = p.settler.Settle(ctx, Settlement{
		OrderID:     entry.OrderID,
		Provider:    c2bName,
		Method:      c2bName,
		Reference:   payload.TransID,
		Amount:      entry.Amount,
		Currency:    "KES",
		PhoneNumber: payload.MSISDN,
	})
	switch {
	case err == nil:
		return C2BResponse{ResultCode: c2bAccepted, ResultDesc: "Success"}
	case errors.Is(err, ledger.ErrLedgerConflict):
		p.log.Warn("c2b confirmation conflicts with ledger", zap.String("order_id", entry.OrderID), zap.Error(err))
		return C2BResponse{ResultCode: c2bAccepted, ResultDesc: "Success"}
	default:
		p.log.Error("c2b confirmation failed",
			zap.String("order_id", entry.OrderID),
			zap.Error(err),
			zap.Bool("retryable", IsRetryable(err)),
		)
		return C2BResponse{ResultCode: c2bFailed, ResultDesc: "Failed to process payment"}
	}
}
