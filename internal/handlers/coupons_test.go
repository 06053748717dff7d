package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/services"
)

type stubCouponService struct {
	previewFunc func(ctx context.Context, code string) (services.CouponPreview, error)
}

func (s *stubCouponService) Validate(context.Context, string, string, decimal.Decimal, domain.CartSnapshot) (domain.Coupon, error) {
	return domain.Coupon{}, services.ErrNotFound
}

func (s *stubCouponService) ComputeDiscount(domain.Coupon, decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

func (s *stubCouponService) RedeemInTx(context.Context, string) error { return nil }

func (s *stubCouponService) Preview(ctx context.Context, code string) (services.CouponPreview, error) {
	if s.previewFunc == nil {
		return services.CouponPreview{}, services.ErrNotFound
	}
	return s.previewFunc(ctx, code)
}

func newCouponRouter(coupons services.CouponService) http.Handler {
	h := NewCouponHandlers(coupons)
	return NewRouter(WithCouponRoutes(h.Routes))
}

func TestApplyCoupon(t *testing.T) {
	maxDiscount := decimal.NewFromInt(15)
	coupons := &stubCouponService{
		previewFunc: func(_ context.Context, code string) (services.CouponPreview, error) {
			if code != "SAVE10" {
				return services.CouponPreview{}, services.ErrNotFound
			}
			return services.CouponPreview{
				Code:          "SAVE10",
				Type:          domain.CouponPercentage,
				Value:         decimal.NewFromInt(10),
				MaxDiscount:   &maxDiscount,
				MinOrderValue: decimal.NewFromInt(50),
			}, nil
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/apply", strings.NewReader(`{"code":"SAVE10"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["code"] != "SAVE10" || payload["type"] != "percentage" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["discountValue"] != "10.00" || payload["maxDiscount"] != "15.00" || payload["minOrderValue"] != "50.00" {
		t.Fatalf("unexpected amounts %v", payload)
	}
}

func TestApplyCouponNotFound(t *testing.T) {
	router := newCouponRouter(&stubCouponService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/apply", strings.NewReader(`{"code":"NOPE"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != "not_found" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestApplyCouponRejected(t *testing.T) {
	coupons := &stubCouponService{
		previewFunc: func(context.Context, string) (services.CouponPreview, error) {
			return services.CouponPreview{}, &services.InvalidCouponError{Code: "OLD", Reason: services.CouponRejectionExpired}
		},
	}
	router := newCouponRouter(coupons)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/apply", strings.NewReader(`{"code":"OLD"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["error"] != "invalid_coupon" || payload["reason"] != "expired" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestApplyCouponMalformedJSON(t *testing.T) {
	router := newCouponRouter(&stubCouponService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/apply", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
