package inventory

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

var _ product.Catalog = (*LiveCatalog)(nil)

// LiveCatalog serves products from one catalog with stock read from a
// separate Store, for deployments where stock is not kept beside the
// product rows. Products unknown to the store report zero stock.
type LiveCatalog struct {
	catalog product.Catalog
	stock   Store
}

// NewLiveCatalog wraps catalog so every product carries live stock.
func NewLiveCatalog(catalog product.Catalog, stock Store) *LiveCatalog {
	return &LiveCatalog{catalog: catalog, stock: stock}
}

func (c *LiveCatalog) List(ctx context.Context) ([]product.Product, error) {
	products, err := c.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	return c.overlay(ctx, products)
}

func (c *LiveCatalog) Search(ctx context.Context, query string) ([]product.Product, error) {
	products, err := c.catalog.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.overlay(ctx, products)
}

func (c *LiveCatalog) GetByID(ctx context.Context, id string) (*product.Product, error) {
	p, err := c.catalog.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := c.overlay(ctx, []product.Product{*p})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (c *LiveCatalog) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	products, err := c.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return c.overlay(ctx, products)
}

func (c *LiveCatalog) overlay(ctx context.Context, products []product.Product) ([]product.Product, error) {
	if len(products) == 0 {
		return products, nil
	}
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	levels, err := c.stock.Levels(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "read live stock")
	}
	for i := range products {
		products[i].Stock = levels[products[i].ID]
	}
	return products, nil
}
