package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/repositories"
)

type stubNotFoundError struct{}

func (stubNotFoundError) Error() string       { return "not found" }
func (stubNotFoundError) IsNotFound() bool    { return true }
func (stubNotFoundError) IsConflict() bool    { return false }
func (stubNotFoundError) IsUnavailable() bool { return false }

type stubInventoryRepository struct {
	getVariantsFunc    func(ctx context.Context, ids []string) ([]domain.ProductVariant, error)
	lockVariantsFunc   func(ctx context.Context, ids []string) ([]domain.ProductVariant, error)
	adjustReservedFunc func(ctx context.Context, variantID string, delta int) error
	setOnHandFunc      func(ctx context.Context, variantID string, quantity int) error
	insertLogFunc      func(ctx context.Context, log domain.InventoryLog) error
}

func (s *stubInventoryRepository) GetVariants(ctx context.Context, ids []string) ([]domain.ProductVariant, error) {
	if s.getVariantsFunc == nil {
		return nil, nil
	}
	return s.getVariantsFunc(ctx, ids)
}

func (s *stubInventoryRepository) LockVariants(ctx context.Context, ids []string) ([]domain.ProductVariant, error) {
	if s.lockVariantsFunc == nil {
		return nil, nil
	}
	return s.lockVariantsFunc(ctx, ids)
}

func (s *stubInventoryRepository) AdjustReserved(ctx context.Context, variantID string, delta int) error {
	if s.adjustReservedFunc == nil {
		return nil
	}
	return s.adjustReservedFunc(ctx, variantID, delta)
}

func (s *stubInventoryRepository) SetOnHand(ctx context.Context, variantID string, quantity int) error {
	if s.setOnHandFunc == nil {
		return nil
	}
	return s.setOnHandFunc(ctx, variantID, quantity)
}

func (s *stubInventoryRepository) InsertLog(ctx context.Context, log domain.InventoryLog) error {
	if s.insertLogFunc == nil {
		return nil
	}
	return s.insertLogFunc(ctx, log)
}

type stubOrderRepository struct {
	insertFunc       func(ctx context.Context, order domain.Order) error
	findByIDFunc     func(ctx context.Context, orderID string) (domain.Order, error)
	findForUserFunc  func(ctx context.Context, orderID, userID string) (domain.Order, error)
	listByUserFunc   func(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error)
	updateStatusFunc func(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) error
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc == nil {
		return nil
	}
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc == nil {
		return domain.Order{}, stubNotFoundError{}
	}
	return s.findByIDFunc(ctx, orderID)
}

func (s *stubOrderRepository) FindForUser(ctx context.Context, orderID, userID string) (domain.Order, error) {
	if s.findForUserFunc == nil {
		return domain.Order{}, stubNotFoundError{}
	}
	return s.findForUserFunc(ctx, orderID, userID)
}

func (s *stubOrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	if s.listByUserFunc == nil {
		return domain.Page[domain.Order]{}, nil
	}
	return s.listByUserFunc(ctx, userID, pager)
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) error {
	if s.updateStatusFunc == nil {
		return nil
	}
	return s.updateStatusFunc(ctx, orderID, update)
}

func snapshotWith(lines ...domain.CartLine) domain.CartSnapshot {
	return domain.CartSnapshot{
		CartID:   "cart-1",
		UserID:   "user-1",
		Currency: "USD",
		Lines:    lines,
	}
}

func TestInventoryServiceReserveAllLocksInAscendingOrder(t *testing.T) {
	ctx := context.Background()

	var locked []string
	repo := &stubInventoryRepository{
		lockVariantsFunc: func(_ context.Context, ids []string) ([]domain.ProductVariant, error) {
			locked = ids
			return []domain.ProductVariant{
				{ID: "var-a", SKU: "A", OnHand: 10},
				{ID: "var-b", SKU: "B", OnHand: 10},
				{ID: "var-c", SKU: "C", OnHand: 10},
			}, nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{
		Inventory: repo,
		Orders:    &stubOrderRepository{},
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	snapshot := snapshotWith(
		domain.CartLine{VariantID: "var-c", Quantity: 1},
		domain.CartLine{VariantID: "var-a", Quantity: 2},
		domain.CartLine{VariantID: "var-b", Quantity: 3},
	)

	if _, err := service.ReserveAll(ctx, snapshot); err != nil {
		t.Fatalf("ReserveAll: %v", err)
	}

	want := []string{"var-a", "var-b", "var-c"}
	if len(locked) != len(want) {
		t.Fatalf("expected %d lock ids, got %d", len(want), len(locked))
	}
	for i, id := range want {
		if locked[i] != id {
			t.Fatalf("lock order mismatch at %d: want %s, got %s", i, id, locked[i])
		}
	}
}

func TestInventoryServiceReserveAllAggregatesDuplicateLines(t *testing.T) {
	ctx := context.Background()

	adjusted := map[string]int{}
	repo := &stubInventoryRepository{
		lockVariantsFunc: func(_ context.Context, ids []string) ([]domain.ProductVariant, error) {
			if len(ids) != 1 || ids[0] != "var-a" {
				t.Fatalf("expected single aggregated id, got %v", ids)
			}
			return []domain.ProductVariant{{ID: "var-a", SKU: "A", OnHand: 5}}, nil
		},
		adjustReservedFunc: func(_ context.Context, variantID string, delta int) error {
			adjusted[variantID] += delta
			return nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{
		Inventory: repo,
		Orders:    &stubOrderRepository{},
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	snapshot := snapshotWith(
		domain.CartLine{VariantID: "var-a", Quantity: 2},
		domain.CartLine{VariantID: "var-a", Quantity: 3},
	)

	if _, err := service.ReserveAll(ctx, snapshot); err != nil {
		t.Fatalf("ReserveAll: %v", err)
	}
	if adjusted["var-a"] != 5 {
		t.Fatalf("expected reserved delta 5, got %d", adjusted["var-a"])
	}
}

func TestInventoryServiceReserveAllReportsShortages(t *testing.T) {
	ctx := context.Background()

	adjustCalls := 0
	repo := &stubInventoryRepository{
		lockVariantsFunc: func(_ context.Context, ids []string) ([]domain.ProductVariant, error) {
			return []domain.ProductVariant{
				{ID: "var-a", SKU: "A", OnHand: 5, Reserved: 4},
				{ID: "var-b", SKU: "B", OnHand: 10},
			}, nil
		},
		adjustReservedFunc: func(context.Context, string, int) error {
			adjustCalls++
			return nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{
		Inventory: repo,
		Orders:    &stubOrderRepository{},
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	snapshot := snapshotWith(
		domain.CartLine{VariantID: "var-a", ProductName: "Mug", Quantity: 3},
		domain.CartLine{VariantID: "var-b", ProductName: "Cap", Quantity: 1},
	)

	_, err = service.ReserveAll(ctx, snapshot)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if len(stockErr.Shortages) != 1 {
		t.Fatalf("expected 1 shortage, got %d", len(stockErr.Shortages))
	}
	shortage := stockErr.Shortages[0]
	if shortage.VariantID != "var-a" || shortage.Requested != 3 || shortage.Available != 1 {
		t.Fatalf("unexpected shortage %+v", shortage)
	}
	if shortage.ProductName != "Mug" {
		t.Fatalf("expected product name Mug, got %s", shortage.ProductName)
	}
	if adjustCalls != 0 {
		t.Fatalf("expected no reservation writes on shortage, got %d", adjustCalls)
	}
}

func TestInventoryServiceReserveAllEmptySnapshot(t *testing.T) {
	service, err := NewInventoryService(InventoryServiceDeps{
		Inventory: &stubInventoryRepository{},
		Orders:    &stubOrderRepository{},
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	if _, err := service.ReserveAll(context.Background(), snapshotWith()); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestInventoryServiceReserveAllEmitsLowStockAlerts(t *testing.T) {
	ctx := context.Background()

	repo := &stubInventoryRepository{
		lockVariantsFunc: func(context.Context, []string) ([]domain.ProductVariant, error) {
			return []domain.ProductVariant{
				{ID: "var-a", SKU: "SKU-A", OnHand: 10, Reserved: 4, LowStockThreshold: 5},
			}, nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{
		Inventory: repo,
		Orders:    &stubOrderRepository{},
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	summary, err := service.ReserveAll(ctx, snapshotWith(domain.CartLine{VariantID: "var-a", Quantity: 2}))
	if err != nil {
		t.Fatalf("ReserveAll: %v", err)
	}
	if len(summary.LowStock) != 1 {
		t.Fatalf("expected 1 low-stock alert, got %d", len(summary.LowStock))
	}
	alert := summary.LowStock[0]
	if alert.VariantID != "var-a" || alert.SKU != "SKU-A" || alert.Available != 4 || alert.Threshold != 5 {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestInventoryServiceReleaseReservation(t *testing.T) {
	ctx := context.Background()

	adjusted := map[string]int{}
	repo := &stubInventoryRepository{
		adjustReservedFunc: func(_ context.Context, variantID string, delta int) error {
			adjusted[variantID] += delta
			return nil
		},
	}
	orders := &stubOrderRepository{
		findByIDFunc: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID: orderID,
				Items: []domain.OrderItem{
					{VariantID: "var-a", Quantity: 2},
					{VariantID: "var-b", Quantity: 1},
				},
			}, nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{Inventory: repo, Orders: orders})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	if err := service.ReleaseReservation(ctx, "ord_1"); err != nil {
		t.Fatalf("ReleaseReservation: %v", err)
	}
	if adjusted["var-a"] != -2 || adjusted["var-b"] != -1 {
		t.Fatalf("unexpected adjustments %v", adjusted)
	}
}

func TestInventoryServiceReleaseReservationUnknownOrder(t *testing.T) {
	service, err := NewInventoryService(InventoryServiceDeps{
		Inventory: &stubInventoryRepository{},
		Orders:    &stubOrderRepository{},
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	if err := service.ReleaseReservation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInventoryServiceAdjustInventoryGuardsReserved(t *testing.T) {
	ctx := context.Background()

	repo := &stubInventoryRepository{
		lockVariantsFunc: func(context.Context, []string) ([]domain.ProductVariant, error) {
			return []domain.ProductVariant{{ID: "var-a", OnHand: 10, Reserved: 4}}, nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{Inventory: repo, Orders: &stubOrderRepository{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	_, err = service.AdjustInventory(ctx, AdjustInventoryCommand{VariantID: "var-a", Quantity: 3})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput when dropping below reserved, got %v", err)
	}
}

func TestInventoryServiceAdjustInventoryWritesAuditLog(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var written domain.InventoryLog
	var setQuantity int
	repo := &stubInventoryRepository{
		lockVariantsFunc: func(context.Context, []string) ([]domain.ProductVariant, error) {
			return []domain.ProductVariant{{ID: "var-a", OnHand: 10, Reserved: 2}}, nil
		},
		setOnHandFunc: func(_ context.Context, _ string, quantity int) error {
			setQuantity = quantity
			return nil
		},
		insertLogFunc: func(_ context.Context, log domain.InventoryLog) error {
			written = log
			return nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{
		Inventory: repo,
		Orders:    &stubOrderRepository{},
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	variant, err := service.AdjustInventory(ctx, AdjustInventoryCommand{
		VariantID: "var-a",
		Quantity:  25,
		Reason:    "restock",
		ActorID:   "staff-1",
	})
	if err != nil {
		t.Fatalf("AdjustInventory: %v", err)
	}
	if setQuantity != 25 {
		t.Fatalf("expected on-hand write of 25, got %d", setQuantity)
	}
	if variant.OnHand != 25 {
		t.Fatalf("expected returned on-hand 25, got %d", variant.OnHand)
	}
	if written.OldQuantity != 10 || written.NewQuantity != 25 || written.Change != 15 {
		t.Fatalf("unexpected audit log %+v", written)
	}
	if written.Reason != "restock" || written.ActorID != "staff-1" {
		t.Fatalf("unexpected audit attribution %+v", written)
	}
	if !written.CreatedAt.Equal(now) {
		t.Fatalf("expected log timestamp %v, got %v", now, written.CreatedAt)
	}
}

func TestInventoryServiceCheckAvailabilityDoesNotLock(t *testing.T) {
	ctx := context.Background()

	lockCalls := 0
	repo := &stubInventoryRepository{
		getVariantsFunc: func(context.Context, []string) ([]domain.ProductVariant, error) {
			return []domain.ProductVariant{{ID: "var-a", OnHand: 1}}, nil
		},
		lockVariantsFunc: func(context.Context, []string) ([]domain.ProductVariant, error) {
			lockCalls++
			return nil, nil
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{Inventory: repo, Orders: &stubOrderRepository{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	shortages, err := service.CheckAvailability(ctx, snapshotWith(domain.CartLine{VariantID: "var-a", Quantity: 3}))
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if lockCalls != 0 {
		t.Fatalf("expected no lock calls, got %d", lockCalls)
	}
	if len(shortages) != 1 || shortages[0].Available != 1 {
		t.Fatalf("unexpected shortages %+v", shortages)
	}
}

func TestInventoryServiceTranslatesVariantNotFound(t *testing.T) {
	repo := &stubInventoryRepository{
		lockVariantsFunc: func(context.Context, []string) ([]domain.ProductVariant, error) {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorVariantNotFound, "variant missing", nil)
		},
	}

	service, err := NewInventoryService(InventoryServiceDeps{Inventory: repo, Orders: &stubOrderRepository{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	_, err = service.ReserveAll(context.Background(), snapshotWith(domain.CartLine{VariantID: "var-x", Quantity: 1}))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
