package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
)

const (
	jengaName            = "Jenga"
	jengaSignatureHeader = "X-Jenga-Signature"
	jengaStatusSuccess   = "SUCCESS"
)

// JengaProvider creates a hosted checkout on Equity's Jenga API. The result
// arrives in a signed webhook.
type JengaProvider struct {
	cfg        config.JengaConfig
	httpClient *http.Client
	settler    *Settler
	verifier   CallbackVerifier
	log        *zap.Logger
}

func NewJengaProvider(cfg config.JengaConfig, httpClient *http.Client, settler *Settler, log *zap.Logger) *JengaProvider {
	return &JengaProvider{
		cfg:        cfg,
		httpClient: httpClient,
		settler:    settler,
		verifier:   NewHMACVerifier(jengaSignatureHeader, cfg.ConsumerSecret),
		log:        log.Named("jenga"),
	}
}

func (p *JengaProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:             jengaName,
		Kind:             config.KindJenga,
		Capabilities:     CapInitiate | CapCallback,
		SigningSecretRef: "JENGA_CONSUMER_SECRET",
	}
}

type jengaAmount struct {
	Amount       json.Number `json:"amount"`
	CurrencyCode string      `json:"currencyCode"`
}

type jengaCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type jengaCheckoutRequest struct {
	MerchantCode   string        `json:"merchantCode"`
	OrderReference string        `json:"orderReference"`
	Amount         jengaAmount   `json:"amount"`
	CallbackURL    string        `json:"callbackUrl"`
	Customer       jengaCustomer `json:"customer"`
	PaymentMethods []string      `json:"paymentMethods"`
	ExpiryMinutes  int           `json:"expiryMinutes"`
}

type jengaCheckoutResponse struct {
	CheckoutURL   string `json:"checkoutUrl"`
	TransactionID string `json:"transactionId"`
}

func (p *JengaProvider) Initiate(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	token, err := p.authenticate(ctx)
	if err != nil {
		return nil, &ProviderAuthError{Provider: jengaName, Err: err}
	}

	currency := req.Currency
	if currency == "" {
		currency = "KES"
	}
	body := jengaCheckoutRequest{
		MerchantCode:   p.cfg.MerchantCode,
		OrderReference: req.OrderID,
		Amount:         jengaAmount{Amount: req.Amount.Number(), CurrencyCode: currency},
		CallbackURL:    p.cfg.CallbackURL,
		Customer: jengaCustomer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.PhoneNumber,
		},
		PaymentMethods: []string{"MPESA", "CARD"},
		ExpiryMinutes:  60,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Api-Key", p.cfg.APIKey)
	header.Set("Signature", p.checkoutSignature(req.OrderID, req.Amount))

	var resp jengaCheckoutResponse
	err = doJSON(ctx, p.httpClient, p.log, jsonCall{
		provider: jengaName,
		op:       "checkout",
		method:   http.MethodPost,
		url:      p.cfg.BaseURL + "/transaction/v3/checkout/payment",
		header:   header,
		body:     body,
		out:      &resp,
	})
	if err != nil {
		return nil, err
	}
	if resp.CheckoutURL == "" {
		return nil, &ProviderRequestError{Provider: jengaName, Op: "checkout", Body: "response has no checkoutUrl"}
	}

	p.log.Info("jenga checkout created",
		zap.String("order_id", req.OrderID),
		zap.String("transaction_id", resp.TransactionID),
	)
	return &PaymentResult{
		PaymentURL:    resp.CheckoutURL,
		TransactionID: resp.TransactionID,
	}, nil
}

func (p *JengaProvider) authenticate(ctx context.Context) (string, error) {
	header := http.Header{}
	header.Set("Api-Key", p.cfg.APIKey)

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	err := doJSON(ctx, p.httpClient, p.log, jsonCall{
		provider: jengaName,
		op:       "merchant auth",
		method:   http.MethodPost,
		url:      p.cfg.AuthURL,
		header:   header,
		body: map[string]string{
			"merchantCode":   p.cfg.MerchantCode,
			"consumerSecret": p.cfg.ConsumerSecret,
		},
		out: &resp,
	})
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("empty accessToken in response")
	}
	return resp.AccessToken, nil
}

// checkoutSignature is hex(HMAC-SHA256(apiSecret, orderId + amount + apiSecret)).
func (p *JengaProvider) checkoutSignature(orderID string, amount models.Amount) string {
	return signHMAC(p.cfg.APISecret, orderID+amount.Number().String()+p.cfg.APISecret)
}

type jengaCallback struct {
	TransactionID  string          `json:"transactionId"`
	OrderReference string          `json:"orderReference"`
	Status         string          `json:"status"`
	Amount         any             `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentDetails json.RawMessage `json:"paymentDetails"`
}

// HandleCallback verifies the signature over the raw body before anything
// in it is trusted.
func (p *JengaProvider) HandleCallback(ctx context.Context, env CallbackEnvelope) CallbackResult {
	if err := p.verifier.Verify(env.Payload, env.Headers); err != nil {
		p.log.Warn("rejected jenga callback", zap.Error(err))
		return CallbackResult{
			Status:  http.StatusUnauthorized,
			Body:    callbackReply{Error: "Invalid signature"},
			Outcome: "unauthorized",
		}
	}

	var cb jengaCallback
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	if err := dec.Decode(&cb); err != nil {
		return malformed(fmt.Errorf("%w: %v", ErrMalformedCallback, err))
	}

	if cb.Status != jengaStatusSuccess {
		p.log.Warn("jenga payment failed",
			zap.String("order_id", cb.OrderReference),
			zap.String("transaction_id", cb.TransactionID),
			zap.String("status", cb.Status),
		)
		return CallbackResult{
			Status:  http.StatusOK,
			Body:    callbackReply{Error: "Payment failed: " + cb.Status},
			Outcome: "failed",
		}
	}

	if cb.OrderReference == "" || cb.TransactionID == "" {
		return malformed(fmt.Errorf("%w: missing orderReference or transactionId", ErrMalformedCallback))
	}
	amount, err := models.ParseAmountValue(cb.Amount)
	if err != nil {
		return malformed(fmt.Errorf("%w: %v", ErrMalformedCallback, err))
	}

	_, err = p.settler.Settle(ctx, Settlement{
		OrderID:     cb.OrderReference,
		Provider:    jengaName,
		Method:      jengaName,
		Reference:   cb.TransactionID,
		Amount:      amount,
		Currency:    cb.Currency,
		AllowUnseen: true,
	})
	return settleReply(p.log, cb.OrderReference, err)
}
