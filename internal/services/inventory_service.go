package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/repositories"
)

// InventoryServiceDeps wires the dependencies required by the inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Orders    repositories.OrderRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	orders    repositories.OrderRepository
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryService constructs an InventoryService validating required dependencies.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("inventory service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		inventory: deps.Inventory,
		orders:    deps.Orders,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CheckAvailability reads current quantities without locks and reports which
// lines exceed available stock. Advisory only: a clean result does not hold
// anything, the locked re-check in ReserveAll is the one that counts.
func (s *inventoryService) CheckAvailability(ctx context.Context, snapshot domain.CartSnapshot) ([]domain.VariantShortage, error) {
	wanted := aggregateLineQuantities(snapshot.Lines)
	if len(wanted) == 0 {
		return nil, nil
	}

	variants, err := s.inventory.GetVariants(ctx, sortedVariantIDs(wanted))
	if err != nil {
		return nil, s.translateInventoryError(err)
	}
	return shortagesAgainst(variants, wanted, snapshot.Lines), nil
}

// ReserveAll locks every distinct variant, re-validates availability under
// the lock, and increments the reserved counters. All-or-nothing: the first
// shortage aborts with nothing written, the enclosing transaction rolls back
// whatever the repository had already touched.
func (s *inventoryService) ReserveAll(ctx context.Context, snapshot domain.CartSnapshot) (ReservationSummary, error) {
	wanted := aggregateLineQuantities(snapshot.Lines)
	if len(wanted) == 0 {
		return ReservationSummary{}, ErrEmptyCart
	}

	variants, err := s.inventory.LockVariants(ctx, sortedVariantIDs(wanted))
	if err != nil {
		return ReservationSummary{}, s.translateInventoryError(err)
	}

	if shortages := shortagesAgainst(variants, wanted, snapshot.Lines); len(shortages) > 0 {
		return ReservationSummary{}, &InsufficientStockError{Shortages: shortages}
	}

	var summary ReservationSummary
	for _, variant := range variants {
		qty := wanted[variant.ID]
		if err := s.inventory.AdjustReserved(ctx, variant.ID, qty); err != nil {
			return ReservationSummary{}, s.translateInventoryError(err)
		}
		available := variant.Available() - qty
		if variant.LowStockThreshold > 0 && available < variant.LowStockThreshold {
			summary.LowStock = append(summary.LowStock, LowStockAlert{
				VariantID: variant.ID,
				SKU:       variant.SKU,
				Available: available,
				Threshold: variant.LowStockThreshold,
			})
		}
	}
	return summary, nil
}

// ReleaseReservation gives back the reserved stock of every item of the
// order. Used on cancellation and on failed payments.
func (s *inventoryService) ReleaseReservation(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrNotFound
		}
		return err
	}

	for _, item := range order.Items {
		if item.Quantity <= 0 {
			continue
		}
		if err := s.inventory.AdjustReserved(ctx, item.VariantID, -item.Quantity); err != nil {
			return s.translateInventoryError(err)
		}
	}

	s.logger(ctx, "inventory.reservation_released", map[string]any{
		"orderId": orderID,
		"items":   len(order.Items),
	})
	return nil
}

// AdjustInventory rewrites a variant's on-hand count under a row lock and
// appends an audit log row in the same transaction context.
func (s *inventoryService) AdjustInventory(ctx context.Context, cmd AdjustInventoryCommand) (domain.ProductVariant, error) {
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return domain.ProductVariant{}, fmt.Errorf("%w: variant id is required", ErrInvalidInput)
	}
	if cmd.Quantity < 0 {
		return domain.ProductVariant{}, fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}

	variants, err := s.inventory.LockVariants(ctx, []string{variantID})
	if err != nil {
		return domain.ProductVariant{}, s.translateInventoryError(err)
	}
	if len(variants) == 0 {
		return domain.ProductVariant{}, ErrNotFound
	}
	variant := variants[0]

	if cmd.Quantity < variant.Reserved {
		return domain.ProductVariant{}, fmt.Errorf("%w: on-hand %d would drop below reserved %d",
			ErrInvalidInput, cmd.Quantity, variant.Reserved)
	}

	if err := s.inventory.SetOnHand(ctx, variantID, cmd.Quantity); err != nil {
		return domain.ProductVariant{}, s.translateInventoryError(err)
	}

	now := s.now()
	log := domain.InventoryLog{
		ID:          newLogID(),
		VariantID:   variantID,
		OldQuantity: variant.OnHand,
		NewQuantity: cmd.Quantity,
		Change:      cmd.Quantity - variant.OnHand,
		Reason:      strings.TrimSpace(cmd.Reason),
		ActorID:     strings.TrimSpace(cmd.ActorID),
		CreatedAt:   now,
	}
	if err := s.inventory.InsertLog(ctx, log); err != nil {
		return domain.ProductVariant{}, s.translateInventoryError(err)
	}

	s.logger(ctx, "inventory.adjusted", map[string]any{
		"variantId": variantID,
		"old":       variant.OnHand,
		"new":       cmd.Quantity,
		"actorId":   cmd.ActorID,
	})

	variant.OnHand = cmd.Quantity
	variant.UpdatedAt = now
	return variant, nil
}

// GetStock reads a single variant's counters.
func (s *inventoryService) GetStock(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return domain.ProductVariant{}, fmt.Errorf("%w: variant id is required", ErrInvalidInput)
	}
	variants, err := s.inventory.GetVariants(ctx, []string{variantID})
	if err != nil {
		return domain.ProductVariant{}, s.translateInventoryError(err)
	}
	if len(variants) == 0 {
		return domain.ProductVariant{}, ErrNotFound
	}
	return variants[0], nil
}

func (s *inventoryService) translateInventoryError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorVariantNotFound:
			return ErrNotFound
		case repositories.InventoryErrorInvariantViolated, repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrNotFound
		case repoErr.IsConflict():
			return ErrConcurrencyConflict
		case repoErr.IsUnavailable():
			return ErrUnavailable
		}
	}
	return err
}

func aggregateLineQuantities(lines []domain.CartLine) map[string]int {
	wanted := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		wanted[line.VariantID] += line.Quantity
	}
	return wanted
}

func sortedVariantIDs(wanted map[string]int) []string {
	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func shortagesAgainst(variants []domain.ProductVariant, wanted map[string]int, lines []domain.CartLine) []domain.VariantShortage {
	byID := make(map[string]domain.ProductVariant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}
	names := make(map[string]string, len(lines))
	for _, line := range lines {
		if _, ok := names[line.VariantID]; !ok {
			names[line.VariantID] = line.ProductName
		}
	}

	var shortages []domain.VariantShortage
	for _, id := range sortedVariantIDs(wanted) {
		qty := wanted[id]
		variant, ok := byID[id]
		available := 0
		if ok {
			available = variant.Available()
		}
		if qty > available {
			shortages = append(shortages, domain.VariantShortage{
				VariantID:   id,
				ProductName: names[id],
				Requested:   qty,
				Available:   available,
			})
		}
	}
	return shortages
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
