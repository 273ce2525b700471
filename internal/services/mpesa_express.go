package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/ledger"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

const (
	expressName = "M-Pesa Express"
	// orderQueryParam carries the order id on the STK callback URL; the
	// callback body does not reliably echo AccountReference.
	orderQueryParam = "order"
)

// ExpressProvider pushes an STK prompt to the customer's phone. The final
// result arrives in a single callback.
type ExpressProvider struct {
	cfg      config.ExpressConfig
	daraja   *DarajaClient
	settler  *Settler
	verifier CallbackVerifier
	log      *zap.Logger
	now      func() time.Time
}

func NewExpressProvider(cfg config.ExpressConfig, daraja *DarajaClient, settler *Settler, log *zap.Logger) *ExpressProvider {
	return &ExpressProvider{
		cfg:      cfg,
		daraja:   daraja,
		settler:  settler,
		verifier: TrustVerifier{},
		log:      log.Named("mpesa_express"),
		now:      time.Now,
	}
}

func (p *ExpressProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:         expressName,
		Kind:         config.KindMpesaExpress,
		Capabilities: CapInitiate | CapCallback,
	}
}

type stkPushRequest struct {
	BusinessShortCode string      `json:"BusinessShortCode"`
	Password          string      `json:"Password"`
	Timestamp         string      `json:"Timestamp"`
	TransactionType   string      `json:"TransactionType"`
	Amount            json.Number `json:"Amount"`
	PartyA            string      `json:"PartyA"`
	PartyB            string      `json:"PartyB"`
	PhoneNumber       string      `json:"PhoneNumber"`
	CallBackURL       string      `json:"CallBackURL"`
	AccountReference  string      `json:"AccountReference"`
	TransactionDesc   string      `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Initiate sends the STK push. Acceptance by Daraja is not settlement.
func (p *ExpressProvider) Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	token, err := p.daraja.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	callbackURL, err := withOrderParam(p.cfg.CallbackURL, req.OrderID)
	if err != nil {
		return nil, &ProviderRequestError{Provider: expressName, Op: "stk push", Err: err}
	}

	timestamp := darajaTimestamp(p.now())
	body := stkPushRequest{
		BusinessShortCode: p.cfg.ShortCode,
		Password:          darajaPassword(p.cfg.ShortCode, p.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.Number(),
		PartyA:            req.PhoneNumber,
		PartyB:            p.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       callbackURL,
		AccountReference:  req.OrderID,
		TransactionDesc:   "Payment for Order " + req.OrderID,
	}

	var resp stkPushResponse
	if err := p.daraja.post(ctx, expressName, "stk push", "/mpesa/stkpush/v1/processrequest", token, body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, &ProviderRequestError{
			Provider: expressName,
			Op:       "stk push",
			Body:     fmt.Sprintf("unexpected response code %q: %s", resp.ResponseCode, resp.ResponseDescription),
		}
	}

	p.log.Info("stk push accepted",
		zap.String("order_id", req.OrderID),
		zap.String("checkout_request_id", resp.CheckoutRequestID),
	)
	return &PaymentResult{
		CheckoutRequestID:   resp.CheckoutRequestID,
		MerchantRequestID:   resp.MerchantRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
	}, nil
}

type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			AccountReference  string      `json:"AccountReference"`
			CallbackMetadata  struct {
				Item []stkItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type stkItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type stkSettlement struct {
	orderID string
	receipt string
	amount  models.Amount
	phone   string
}

func (p *ExpressProvider) HandleCallback(ctx context.Context, env CallbackEnvelope) CallbackResult {
	if err := p.verifier.Verify(env.Payload, env.Headers); err != nil {
		return CallbackResult{Status: http.StatusUnauthorized, Body: callbackReply{Error: err.Error()}, Outcome: "unauthorized"}
	}

	var cb stkCallback
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	if err := dec.Decode(&cb); err != nil {
		return malformed(fmt.Errorf("%w: %v", ErrMalformedCallback, err))
	}
	stk := cb.Body.StkCallback
	if stk.ResultCode == "" {
		return malformed(fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback))
	}

	if stk.ResultCode.String() != "0" {
		p.log.Warn("stk payment failed",
			zap.String("checkout_request_id", stk.CheckoutRequestID),
			zap.String("result_code", stk.ResultCode.String()),
			zap.String("result_desc", stk.ResultDesc),
		)
		return CallbackResult{Status: http.StatusOK, Body: callbackReply{Error: stk.ResultDesc}, Outcome: "failed"}
	}

	orderID := stk.AccountReference
	if orderID == "" {
		orderID = env.Query.Get(orderQueryParam)
	}
	st, err := parseSTKSettlement(orderID, stk.CallbackMetadata.Item)
	if err != nil {
		p.log.Warn("malformed stk callback", zap.String("checkout_request_id", stk.CheckoutRequestID), zap.Error(err))
		return malformed(err)
	}

	_, err = p.settler.Settle(ctx, Settlement{
		OrderID:     st.orderID,
		Provider:    expressName,
		Method:      expressName,
		Reference:   st.receipt,
		Amount:      st.amount,
		Currency:    "KES",
		PhoneNumber: st.phone,
		AllowUnseen: true,
	})
	return settleReply(p.log, st.orderID, err)
}

func parseSTKSettlement(orderID string, items []stkItem) (stkSettlement, error) {
	values := make(map[string]any, len(items))
	for _, item := range items {
		values[item.Name] = item.Value
	}

	st := stkSettlement{orderID: orderID}
	if orderID == "" {
		return st, fmt.Errorf("%w: no order reference", ErrMalformedCallback)
	}
	for _, name := range []string{"Amount", "MpesaReceiptNumber", "PhoneNumber"} {
		if v, ok := values[name]; !ok || v == nil || fmt.Sprint(v) == "" {
			return st, fmt.Errorf("%w: missing %s", ErrMalformedCallback, name)
		}
	}

	amount, err := models.ParseAmountValue(values["Amount"])
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	st.amount = amount
	st.receipt = fmt.Sprint(values["MpesaReceiptNumber"])
	st.phone = fmt.Sprint(values["PhoneNumber"])
	return st, nil
}

func withOrderParam(rawURL, orderID string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid callback url: %w", err)
	}
	q := u.Query()
	q.Set(orderQueryParam, orderID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func malformed(err error) CallbackResult {
	return CallbackResult{Status: http.StatusBadRequest, Body: callbackReply{Error: err.Error()}, Outcome: "malformed"}
}

// settleReply maps a single-callback settlement result to the reply shape
// shared by the Express and Jenga callbacks.
func settleReply(log *zap.Logger, orderID string, err error) CallbackResult {
	switch {
	case err == nil:
		return CallbackResult{Status: http.StatusOK, Body: callbackReply{Success: true, Message: "Payment processed successfully"}, Outcome: "completed"}
	case errors.Is(err, ledger.ErrLedgerConflict):
		log.Warn("settlement conflicts with ledger", zap.String("order_id", orderID), zap.Error(err))
		return CallbackResult{Status: http.StatusOK, Body: callbackReply{Success: true, Message: "Payment already processed"}, Outcome: "conflict"}
	default:
		log.Error("failed to settle order", zap.String("order_id", orderID), zap.Error(err), zap.Bool("retryable", IsRetryable(err)))
		return CallbackResult{Status: http.StatusInternalServerError, Body: callbackReply{Error: "Failed to update order status"}, Outcome: "error"}
	}
}
