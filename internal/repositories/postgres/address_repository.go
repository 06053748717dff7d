package postgres

import (
	"context"
	"errors"

	domain "github.com/clearcart/api/internal/domain"
	platformpg "github.com/clearcart/api/internal/platform/postgres"
)

// AddressRepository reads shipping addresses in Postgres.
type AddressRepository struct {
	runner *platformpg.Runner
}

// NewAddressRepository constructs a Postgres-backed address repository.
func NewAddressRepository(runner *platformpg.Runner) (*AddressRepository, error) {
	if runner == nil {
		return nil, errors.New("address repository requires a transaction runner")
	}
	return &AddressRepository{runner: runner}, nil
}

// FindForUser loads the address only when it belongs to the user, so a
// checkout can never ship to someone else's saved address.
func (r *AddressRepository) FindForUser(ctx context.Context, addressID, userID string) (domain.Address, error) {
	q := r.runner.Querier(ctx)
	var address domain.Address
	err := q.QueryRow(ctx, `
		SELECT id, user_id, country, city, postal_code
		FROM addresses WHERE id = $1 AND user_id = $2`,
		addressID, userID,
	).Scan(
		&address.ID,
		&address.UserID,
		&address.Country,
		&address.City,
		&address.PostalCode,
	)
	if err != nil {
		return domain.Address{}, platformpg.WrapError("addresses.find", err)
	}
	return address, nil
}
