package artisan

import (
	"context"

	"github.com/midnight-artisan/artisan/model"
)

func (a *Artisan) CreateProduct(ctx context.Context, product model.Product) (model.Product, error) {
	created, err := a.datasource.CreateProduct(ctx, product)
	if err != nil {
		return model.Product{}, err
	}
	a.log.WithField("product_id", created.ProductID).Info("product created")
	return created, nil
}

func (a *Artisan) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return a.datasource.GetProductByID(ctx, id)
}

func (a *Artisan) GetAllProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	return a.datasource.GetAllProducts(ctx, limit, offset)
}
