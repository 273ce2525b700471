package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/services"
)

// PaymentService starts payments for storefront checkouts.
type PaymentService interface {
	InitiatePayment(ctx context.Context, checkout services.CheckoutPayload) *services.PaymentResult
	Descriptors() []services.Descriptor
}

type OrderHandler struct {
	service PaymentService
	log     *zap.Logger
}

func NewOrderHandler(service PaymentService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{service: service, log: log.Named("order_handler")}
}

// CreateOrder starts the payment for a Shopify order. Provider failures are
// reported with status 200 and success=false so the storefront always gets
// the same shape.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var checkout services.CheckoutPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&checkout); err != nil {
		h.log.Info("invalid order payload", zap.Error(err), zap.String("request_id", RequestIDFrom(r.Context())))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res := h.service.InitiatePayment(r.Context(), checkout)
	writeJSON(w, http.StatusOK, res)
}

// Providers lists the enabled payment providers.
func (h *OrderHandler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.service.Descriptors()})
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
