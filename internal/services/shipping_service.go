package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clearcart/api/internal/repositories"
)

// ShippingCalculatorDeps wires the dependencies required by the shipping calculator.
type ShippingCalculatorDeps struct {
	Addresses repositories.AddressRepository
	Shipping  repositories.ShippingRepository
	// FreeShippingThreshold waives the cost when the discounted order value
	// reaches it. Zero disables free shipping.
	FreeShippingThreshold decimal.Decimal
	// BaseCost is multiplied by the destination region's multiplier.
	BaseCost decimal.Decimal
}

type shippingCalculator struct {
	addresses repositories.AddressRepository
	shipping  repositories.ShippingRepository
	threshold decimal.Decimal
	baseCost  decimal.Decimal
}

// NewShippingCalculator constructs a ShippingCalculator validating required dependencies.
func NewShippingCalculator(deps ShippingCalculatorDeps) (ShippingCalculator, error) {
	if deps.Addresses == nil {
		return nil, errors.New("shipping calculator: address repository is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("shipping calculator: shipping repository is required")
	}
	if deps.BaseCost.IsNegative() {
		return nil, errors.New("shipping calculator: base cost must not be negative")
	}

	return &shippingCalculator{
		addresses: deps.Addresses,
		shipping:  deps.Shipping,
		threshold: deps.FreeShippingThreshold,
		baseCost:  deps.BaseCost,
	}, nil
}

// Calculate prices delivery of the discounted order value to the user's
// stored address. Pure from the coordinator's perspective: reads only,
// bounded latency, safe to call inside the checkout transaction.
func (c *shippingCalculator) Calculate(ctx context.Context, addressID, userID string, orderValue decimal.Decimal) (decimal.Decimal, error) {
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: shipping address id is required", ErrInvalidInput)
	}

	address, err := c.addresses.FindForUser(ctx, addressID, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return decimal.Decimal{}, fmt.Errorf("%w: shipping address %s", ErrNotFound, addressID)
		}
		return decimal.Decimal{}, err
	}

	if c.threshold.IsPositive() && orderValue.GreaterThanOrEqual(c.threshold) {
		return decimal.Zero, nil
	}

	multiplier, err := c.shipping.RegionMultiplier(ctx, address.Country)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return c.baseCost.Mul(multiplier).Round(2), nil
}
