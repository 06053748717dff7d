package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/platform/auth"
	"github.com/clearcart/api/internal/services"
)

type stubOrderService struct {
	listFunc         func(ctx context.Context, cmd services.ListOrdersCommand) (domain.Page[domain.Order], error)
	getFunc          func(ctx context.Context, orderID, userID string) (domain.Order, error)
	updateStatusFunc func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, cmd services.ListOrdersCommand) (domain.Page[domain.Order], error) {
	if s.listFunc == nil {
		return domain.Page[domain.Order]{Page: cmd.Pager.Page, PageSize: cmd.Pager.PageSize}, nil
	}
	return s.listFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID, userID string) (domain.Order, error) {
	if s.getFunc == nil {
		return domain.Order{}, services.ErrNotFound
	}
	return s.getFunc(ctx, orderID, userID)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
	if s.updateStatusFunc == nil {
		return domain.Order{}, services.ErrNotFound
	}
	return s.updateStatusFunc(ctx, cmd)
}

func newOrderRouter(orders services.OrderService, identity *auth.Identity) http.Handler {
	h := NewOrderHandlers(nil, orders)
	opts := []Option{WithOrderRoutes(h.Routes)}
	if identity != nil {
		opts = append(opts, WithMiddlewares(identityMiddleware(identity)))
	}
	return NewRouter(opts...)
}

func TestListOrdersPagination(t *testing.T) {
	var got services.ListOrdersCommand
	orders := &stubOrderService{
		listFunc: func(_ context.Context, cmd services.ListOrdersCommand) (domain.Page[domain.Order], error) {
			got = cmd
			return domain.Page[domain.Order]{
				Items:    []domain.Order{sampleOrder()},
				Total:    41,
				Page:     cmd.Pager.Page,
				PageSize: cmd.Pager.PageSize,
			}, nil
		},
	}
	router := newOrderRouter(orders, &auth.Identity{UserID: "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?page=3&pageSize=15", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.UserID != "user-1" || got.Pager.Page != 3 || got.Pager.PageSize != 15 {
		t.Fatalf("unexpected command %+v", got)
	}
	payload := decodeBody(t, rec)
	if payload["total"] != float64(41) || payload["page"] != float64(3) {
		t.Fatalf("unexpected page payload %v", payload)
	}
	list, ok := payload["orders"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("expected one order, got %v", payload)
	}
}

func TestListOrdersClampsPageSize(t *testing.T) {
	var got services.ListOrdersCommand
	orders := &stubOrderService{
		listFunc: func(_ context.Context, cmd services.ListOrdersCommand) (domain.Page[domain.Order], error) {
			got = cmd
			return domain.Page[domain.Order]{Page: cmd.Pager.Page, PageSize: cmd.Pager.PageSize}, nil
		},
	}
	router := newOrderRouter(orders, &auth.Identity{UserID: "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/?page=0&pageSize=5000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Pager.Page != 1 || got.Pager.PageSize != 100 {
		t.Fatalf("expected clamped pagination, got %+v", got.Pager)
	}
}

func TestGetOrder(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(_ context.Context, orderID, userID string) (domain.Order, error) {
			if orderID != "ord_1" || userID != "user-1" {
				return domain.Order{}, services.ErrNotFound
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(orders, &auth.Identity{UserID: "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["id"] != "ord_1" || payload["orderNumber"] != "ORD-20250615-0001" {
		t.Fatalf("unexpected order payload %v", payload)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &auth.Identity{UserID: "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if payload := decodeBody(t, rec); payload["error"] != "not_found" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestGetOrderRequiresIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	var got services.UpdateOrderStatusCommand
	orders := &stubOrderService{
		updateStatusFunc: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (domain.Order, error) {
			got = cmd
			order := sampleOrder()
			order.Status = cmd.Status
			order.TrackingNumber = cmd.TrackingNumber
			return order, nil
		},
	}
	router := newOrderRouter(orders, &auth.Identity{UserID: "staff-1", Roles: []string{auth.RoleStaff}})

	body := `{"status":"shipped","trackingNumber":"TRK-123"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/ord_1/status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.OrderID != "ord_1" || got.Status != domain.OrderShipped {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.TrackingNumber == nil || *got.TrackingNumber != "TRK-123" {
		t.Fatalf("expected tracking number in command, got %+v", got)
	}
	payload := decodeBody(t, rec)
	if payload["status"] != "shipped" || payload["trackingNumber"] != "TRK-123" {
		t.Fatalf("unexpected order payload %v", payload)
	}
}

func TestUpdateOrderStatusMissingStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &auth.Identity{UserID: "staff-1", Roles: []string{auth.RoleStaff}})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/ord_1/status", strings.NewReader(`{"trackingNumber":"TRK-123"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateOrderStatusInvalidTransition(t *testing.T) {
	orders := &stubOrderService{
		updateStatusFunc: func(context.Context, services.UpdateOrderStatusCommand) (domain.Order, error) {
			return domain.Order{}, &services.InvalidTransitionError{From: domain.OrderShipped, To: domain.OrderCancelled}
		},
	}
	router := newOrderRouter(orders, &auth.Identity{UserID: "staff-1", Roles: []string{auth.RoleStaff}})

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/ord_1/status", strings.NewReader(`{"status":"cancelled"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["error"] != "invalid_transition" || payload["from"] != "shipped" || payload["to"] != "cancelled" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}
