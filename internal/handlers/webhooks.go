package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clearcart/api/internal/platform/httpx"
	"github.com/clearcart/api/internal/platform/requestctx"
	"github.com/clearcart/api/internal/services"
)

const (
	maxWebhookBody        = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives asynchronous gateway notifications. No bearer
// auth: authenticity comes from the gateway signature on the raw body.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", http.StatusBadRequest))
		return
	}

	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if err := h.payments.HandleWebhook(ctx, signature, payload); err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature rejected", http.StatusBadRequest))
			return
		}
		// Processing failures after signature verification return 500 so the
		// gateway retries; the event-id dedupe makes the retry safe.
		requestctx.Logger(ctx).Sugar().Errorw("stripe webhook processing failed", "error", err.Error())
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"received": "true"})
}
