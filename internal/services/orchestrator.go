package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/metrics"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/models"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/phone"
)

// Orchestrator picks the provider for a checkout and routes each inbound
// callback to the provider that owns it.
type Orchestrator struct {
	providers []Provider
	byKind    map[config.ProviderKind]Provider
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewOrchestrator registers the enabled providers. Order is kept for
// Descriptors.
func NewOrchestrator(log *zap.Logger, m *metrics.Metrics, providers ...Provider) *Orchestrator {
	o := &Orchestrator{
		byKind:  make(map[config.ProviderKind]Provider, len(providers)),
		metrics: m,
		log:     log.Named("orchestrator"),
	}
	for _, p := range providers {
		kind := p.Descriptor().Kind
		if _, dup := o.byKind[kind]; dup {
			continue
		}
		o.byKind[kind] = p
		o.providers = append(o.providers, p)
	}
	return o
}

// SelectProvider matches method against provider names and kinds, ignoring
// case.
func (o *Orchestrator) SelectProvider(method string) (Provider, error) {
	method = strings.TrimSpace(method)
	for _, p := range o.providers {
		d := p.Descriptor()
		if strings.EqualFold(method, d.Name) || strings.EqualFold(method, string(d.Kind)) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, method)
}

func (o *Orchestrator) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(o.providers))
	for _, p := range o.providers {
		out = append(out, p.Descriptor())
	}
	return out
}

// InitiatePayment starts the payment for a checkout. Every failure is
// reported in the result; the returned value is never nil.
func (o *Orchestrator) InitiatePayment(ctx context.Context, checkout CheckoutPayload) *PaymentResult {
	method := checkout.PaymentMethod()
	log := o.log.With(zap.String("order_id", string(checkout.ID)), zap.String("method", method))

	fail := func(provider string, err error) *PaymentResult {
		log.Warn("payment initiation failed", zap.Error(err), zap.Bool("retryable", IsRetryable(err)))
		o.metrics.Initiation(provider, false)
		return &PaymentResult{Success: false, Error: err.Error()}
	}

	provider, err := o.SelectProvider(method)
	if err != nil {
		return fail("unknown", err)
	}
	name := provider.Descriptor().Name

	req, err := paymentRequest(checkout)
	if err != nil {
		return fail(name, err)
	}

	res, err := provider.Initiate(ctx, req)
	if err != nil {
		return fail(name, err)
	}

	res.Success = true
	res.Provider = name
	o.metrics.Initiation(name, true)
	log.Info("payment initiated", zap.String("provider", name))
	return res
}

func paymentRequest(checkout CheckoutPayload) (PaymentRequest, error) {
	if checkout.ID == "" {
		return PaymentRequest{}, errors.New("order id is required")
	}
	amount, err := models.ParseAmount(string(checkout.TotalPrice))
	if err != nil {
		return PaymentRequest{}, err
	}
	if amount == 0 {
		return PaymentRequest{}, fmt.Errorf("%w: must be greater than zero", models.ErrInvalidAmount)
	}

	msisdn := ""
	if raw := checkout.PhoneNumber(); raw != "" {
		msisdn = phone.Normalize(raw)
	}
	return PaymentRequest{
		OrderID:     string(checkout.ID),
		Amount:      amount,
		Currency:    checkout.Currency,
		PhoneNumber: msisdn,
		Customer: Customer{
			Name:  checkout.CustomerName(),
			Email: checkout.CustomerEmail(),
			Phone: msisdn,
		},
	}, nil
}

// RouteCallback hands an inbound delivery to its provider and returns the
// reply that provider's backend expects.
func (o *Orchestrator) RouteCallback(ctx context.Context, env CallbackEnvelope) CallbackResult {
	res := o.routeCallback(ctx, env)
	o.metrics.Callback(string(env.Kind), res.Outcome)
	o.log.Info("callback handled",
		zap.String("kind", string(env.Kind)),
		zap.String("sub_path", env.SubPath),
		zap.Int("status", res.Status),
		zap.String("outcome", res.Outcome),
	)
	return res
}

func (o *Orchestrator) routeCallback(ctx context.Context, env CallbackEnvelope) CallbackResult {
	provider, ok := o.byKind[env.Kind]
	if !ok {
		return CallbackResult{
			Status:  http.StatusNotFound,
			Body:    callbackReply{Error: "Payment provider not enabled"},
			Outcome: "disabled",
		}
	}

	if twoPhase, ok := provider.(TwoPhaseHandler); ok {
		return routeTwoPhase(ctx, twoPhase, env)
	}
	if handler, ok := provider.(CallbackHandler); ok {
		return handler.HandleCallback(ctx, env)
	}
	return CallbackResult{
		Status:  http.StatusNotFound,
		Body:    callbackReply{Error: "Provider does not accept callbacks"},
		Outcome: "unsupported",
	}
}

func routeTwoPhase(ctx context.Context, handler TwoPhaseHandler, env CallbackEnvelope) CallbackResult {
	sub := strings.ToLower(strings.Trim(env.SubPath, "/"))
	if sub != c2bSubPathValidation && sub != c2bSubPathConfirm {
		return CallbackResult{
			Status:  http.StatusBadRequest,
			Body:    C2BResponse{ResultCode: c2bFailed, ResultDesc: "Invalid callback type"},
			Outcome: "invalid_path",
		}
	}

	var payload C2BPayload
	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return CallbackResult{
			Status:  http.StatusBadRequest,
			Body:    C2BResponse{ResultCode: c2bFailed, ResultDesc: "Invalid payload"},
			Outcome: "malformed",
		}
	}

	var resp C2BResponse
	if sub == c2bSubPathValidation {
		resp = handler.Validate(ctx, payload)
	} else {
		resp = handler.Confirm(ctx, payload)
	}

	outcome := sub + "_accepted"
	if resp.ResultCode != c2bAccepted {
		outcome = sub + "_rejected"
	}
	return CallbackResult{Status: http.StatusOK, Body: resp, Outcome: outcome}
}
