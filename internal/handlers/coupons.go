package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clearcart/api/internal/platform/httpx"
	"github.com/clearcart/api/internal/services"
)

const maxCouponRequestBody = 2 * 1024

// CouponHandlers exposes the public coupon pre-check endpoint.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers coupon endpoints under the provided router.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/apply", h.applyCoupon)
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type applyCouponResponse struct {
	Code          string `json:"code"`
	Type          string `json:"type"`
	DiscountValue string `json:"discountValue"`
	MaxDiscount   string `json:"maxDiscount,omitempty"`
	MinOrderValue string `json:"minOrderValue"`
}

func (h *CouponHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupons_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCouponRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req applyCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	preview, err := h.coupons.Preview(ctx, strings.TrimSpace(req.Code))
	if err != nil {
		writeCouponError(w, r, err)
		return
	}

	resp := applyCouponResponse{
		Code:          preview.Code,
		Type:          string(preview.Type),
		DiscountValue: preview.Value.StringFixed(2),
		MinOrderValue: preview.MinOrderValue.StringFixed(2),
	}
	if preview.MaxDiscount != nil {
		resp.MaxDiscount = preview.MaxDiscount.StringFixed(2)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func writeCouponError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var couponErr *services.InvalidCouponError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "coupon not found", http.StatusNotFound))
	case errors.As(err, &couponErr):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", couponErr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"reason": string(couponErr.Reason)}))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to look up coupon", http.StatusInternalServerError))
	}
}
