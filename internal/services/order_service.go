package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/clearcart/api/internal/domain"
	"github.com/clearcart/api/internal/repositories"
)

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Inventory  InventoryService
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory InventoryService
	uow       repositories.UnitOfWork
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		uow:       deps.UnitOfWork,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListOrders returns the user's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.Page[domain.Order], error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Page[domain.Order]{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, cmd.Pager)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	return page, nil
}

// GetOrder loads an order only when it belongs to the user.
func (s *orderService) GetOrder(ctx context.Context, orderID, userID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	userID = strings.TrimSpace(userID)
	if orderID == "" || userID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id and user id are required", ErrInvalidInput)
	}

	order, err := s.orders.FindForUser(ctx, orderID, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

// UpdateStatus applies one transition of the fulfilment state machine. A move
// to cancelled also releases the order's inventory reservation; both writes
// share one transaction so stock is never given back without the cancellation
// sticking, or vice versa.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	var updated domain.Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrNotFound
			}
			return err
		}

		if !domain.CanTransition(order.Status, cmd.Status) {
			return &InvalidTransitionError{From: order.Status, To: cmd.Status}
		}

		status := cmd.Status
		update := repositories.OrderStatusUpdate{
			Status:         &status,
			TrackingNumber: cmd.TrackingNumber,
		}
		if err := s.orders.UpdateStatus(txCtx, orderID, update); err != nil {
			return err
		}

		if cmd.Status == domain.OrderCancelled {
			if err := s.inventory.ReleaseReservation(txCtx, orderID); err != nil {
				return err
			}
		}

		order.Status = cmd.Status
		if cmd.TrackingNumber != nil {
			order.TrackingNumber = cmd.TrackingNumber
		}
		order.UpdatedAt = s.now()
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, "order.status_updated", map[string]any{
		"orderId": orderID,
		"status":  string(cmd.Status),
	})
	return updated, nil
}
