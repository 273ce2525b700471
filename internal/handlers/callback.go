package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/config"
	"github.com/markjakearzadon/shopify-mpesa-gateway/internal/services"
)

// CallbackRouter dispatches provider webhooks.
type CallbackRouter interface {
	RouteCallback(ctx context.Context, env services.CallbackEnvelope) services.CallbackResult
}

type CallbackHandler struct {
	router  CallbackRouter
	timeout time.Duration
	log     *zap.Logger
}

func NewCallbackHandler(router CallbackRouter, timeout time.Duration, log *zap.Logger) *CallbackHandler {
	return &CallbackHandler{router: router, timeout: timeout, log: log.Named("callback_handler")}
}

// Handle returns the webhook endpoint for one provider kind. The optional
// {sub} route variable selects the C2B validation or confirmation step.
//
// Backends do not always redeliver, so processing is detached from the
// client connection and bounded only by the callback timeout.
func (h *CallbackHandler) Handle(kind config.ProviderKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			h.log.Warn("failed to read callback body",
				zap.String("kind", string(kind)),
				zap.String("request_id", RequestIDFrom(r.Context())),
				zap.Error(err),
			)
			writeError(w, http.StatusBadRequest, "Invalid callback body")
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
		defer cancel()

		res := h.router.RouteCallback(ctx, services.CallbackEnvelope{
			Kind:    kind,
			SubPath: mux.Vars(r)["sub"],
			Payload: payload,
			Query:   r.URL.Query(),
			Headers: r.Header.Clone(),
		})
		writeJSON(w, res.Status, res.Body)
	}
}
