package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/platform/auth"
	"github.com/clearcart/api/internal/platform/httpx"
	"github.com/clearcart/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the checkout endpoints for authenticated users.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// NewCheckoutHandlers constructs checkout handlers. The idempotency
// middleware, when provided, guards the order-creating POST only.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, idempotency func(http.Handler) http.Handler) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:       authn,
		checkout:    checkout,
		idempotency: idempotency,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAuth())
	}
	create := group
	if h.idempotency != nil {
		create = create.With(h.idempotency)
	}
	create.Post("/", h.createOrder)
	group.Post("/validate", h.validateCheckout)
}

type checkoutRequest struct {
	ShippingAddressID string `json:"shippingAddressId"`
	CouponCode        string `json:"couponCode,omitempty"`
	PaymentMethod     string `json:"paymentMethod"`
	PaymentToken      string `json:"paymentToken,omitempty"`
}

type orderItemResponse struct {
	VariantID   string `json:"variantId"`
	ProductName string `json:"productName"`
	VariantName string `json:"variantName,omitempty"`
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TotalPrice  string `json:"totalPrice"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	OrderNumber    string              `json:"orderNumber"`
	Status         string              `json:"status"`
	PaymentStatus  string              `json:"paymentStatus"`
	PaymentMethod  string              `json:"paymentMethod"`
	Subtotal       string              `json:"subtotal"`
	DiscountAmount string              `json:"discountAmount"`
	ShippingAmount string              `json:"shippingAmount"`
	TotalAmount    string              `json:"totalAmount"`
	Currency       string              `json:"currency"`
	TrackingNumber string              `json:"trackingNumber,omitempty"`
	Items          []orderItemResponse `json:"items"`
	CreatedAt      string              `json:"createdAt"`
}

type paymentResponse struct {
	IntentID     string `json:"intentId"`
	Provider     string `json:"provider"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Status       string `json:"status"`
}

type checkoutResponse struct {
	Order   orderResponse   `json:"order"`
	Payment paymentResponse `json:"payment"`
}

type checkoutIssueResponse struct {
	Kind      string             `json:"kind"`
	Message   string             `json:"message"`
	Shortages []shortageResponse `json:"shortages,omitempty"`
}

type shortageResponse struct {
	VariantID   string `json:"variantId"`
	ProductName string `json:"productName,omitempty"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

type checkoutValidationResponse struct {
	Valid  bool                    `json:"valid"`
	Issues []checkoutIssueResponse `json:"errors"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	method, ok := domain.ParsePaymentMethod(strings.TrimSpace(req.PaymentMethod))
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod must be one of stripe, cod", http.StatusBadRequest))
		return
	}

	cmd := services.CheckoutCommand{
		UserID:            identity.UserID,
		ShippingAddressID: strings.TrimSpace(req.ShippingAddressID),
		CouponCode:        strings.TrimSpace(req.CouponCode),
		PaymentMethod:     method,
		PaymentToken:      strings.TrimSpace(req.PaymentToken),
		IdempotencyKey:    strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order: toOrderResponse(result.Order),
		Payment: paymentResponse{
			IntentID:     result.Payment.IntentID,
			Provider:     string(result.Payment.Provider),
			ClientSecret: result.Payment.ClientSecret,
			Status:       result.Payment.Status,
		},
	})
}

func (h *CheckoutHandlers) validateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	validation, err := h.checkout.ValidateCheckout(ctx, identity.UserID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	resp := checkoutValidationResponse{Valid: validation.Valid, Issues: []checkoutIssueResponse{}}
	for _, issue := range validation.Issues {
		out := checkoutIssueResponse{Kind: issue.Kind, Message: issue.Message}
		for _, shortage := range issue.Shortages {
			out.Shortages = append(out.Shortages, shortageResponse{
				VariantID:   shortage.VariantID,
				ProductName: shortage.ProductName,
				Requested:   shortage.Requested,
				Available:   shortage.Available,
			})
		}
		resp.Issues = append(resp.Issues, out)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var stockErr *services.InsufficientStockError
	var couponErr *services.InvalidCouponError

	switch {
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no items to check out", http.StatusBadRequest))
	case errors.As(err, &stockErr):
		details := make([]map[string]any, 0, len(stockErr.Shortages))
		for _, shortage := range stockErr.Shortages {
			details = append(details, map[string]any{
				"variantId":   shortage.VariantID,
				"productName": shortage.ProductName,
				"requested":   shortage.Requested,
				"available":   shortage.Available,
			})
		}
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for one or more items", http.StatusConflict).
			WithDetails(map[string]any{"shortages": details}))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for one or more items", http.StatusConflict))
	case errors.As(err, &couponErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", couponErr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"reason": string(couponErr.Reason)}))
	case errors.Is(err, services.ErrInvalidCoupon):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", "coupon cannot be applied", http.StatusBadRequest))
	case errors.Is(err, services.ErrConcurrencyConflict):
		httpx.WriteError(ctx, w, httpx.NewError("concurrency_conflict", "checkout lost a concurrent update; retry", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be completed", http.StatusBadGateway))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout dependencies unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			VariantName: item.VariantName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			TotalPrice:  item.TotalPrice.StringFixed(2),
		})
	}

	resp := orderResponse{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		Subtotal:       order.Subtotal.StringFixed(2),
		DiscountAmount: order.DiscountAmount.StringFixed(2),
		ShippingAmount: order.ShippingAmount.StringFixed(2),
		TotalAmount:    order.TotalAmount.StringFixed(2),
		Currency:       order.Currency,
		Items:          items,
		CreatedAt:      formatTime(order.CreatedAt),
	}
	if order.TrackingNumber != nil {
		resp.TrackingNumber = *order.TrackingNumber
	}
	return resp
}
