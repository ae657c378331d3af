package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/acai-shop/api/internal/repositories"
)

type repositoryCatalog struct {
	repo repositories.CatalogRepository
}

// NewRepositoryCatalog adapts the catalog repository to CatalogLookup.
func NewRepositoryCatalog(repo repositories.CatalogRepository) (CatalogLookup, error) {
	if repo == nil {
		return nil, errors.New("catalog lookup: repository is required")
	}
	return repositoryCatalog{repo: repo}, nil
}

func (c repositoryCatalog) GetProduct(ctx context.Context, productID int64) (Product, error) {
	products, err := c.repo.FindProducts(ctx, []int64{productID})
	if err != nil {
		return Product{}, err
	}
	product, ok := products[productID]
	if !ok {
		return Product{}, notFound(ErrOrderNotFound, "productId", "product %d not found", productID)
	}
	return product, nil
}

func (c repositoryCatalog) GetProducts(ctx context.Context, productIDs []int64) (map[int64]Product, error) {
	return c.repo.FindProducts(ctx, dedupeIDs(productIDs))
}

// GetComplementNames returns names in the order of complementIDs.
func (c repositoryCatalog) GetComplementNames(ctx context.Context, complementIDs []int64) ([]string, error) {
	if len(complementIDs) == 0 {
		return []string{}, nil
	}
	complements, err := c.repo.FindComplements(ctx, complementIDs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(complementIDs))
	var missing []int64
	for _, id := range complementIDs {
		complement, ok := complements[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		names = append(names, complement.Name)
	}
	if len(missing) > 0 {
		return nil, notFound(ErrOrderNotFound, "complementIds", "complements %v not found", missing)
	}
	return names, nil
}

type repositoryDirectory struct {
	users     repositories.UserRepository
	addresses repositories.AddressRepository
}

// NewRepositoryDirectory adapts the user and address repositories to UserDirectory.
func NewRepositoryDirectory(users repositories.UserRepository, addresses repositories.AddressRepository) (UserDirectory, error) {
	if users == nil || addresses == nil {
		return nil, errors.New("user directory: user and address repositories are required")
	}
	return repositoryDirectory{users: users, addresses: addresses}, nil
}

func (d repositoryDirectory) GetUser(ctx context.Context, userID int64) (User, error) {
	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, fmt.Errorf("find user %d: %w", userID, err)
	}
	return user, nil
}

func (d repositoryDirectory) GetAddress(ctx context.Context, userID, addressID int64) (Address, error) {
	address, err := d.addresses.FindByID(ctx, userID, addressID)
	if err != nil {
		return Address{}, fmt.Errorf("find address %d: %w", addressID, err)
	}
	return address, nil
}
