package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/midnight-artisan/artisan/internal/apierror"
	"github.com/midnight-artisan/artisan/model"
)

// CreateProduct inserts a product into the inventory.
func (d Datasource) CreateProduct(ctx context.Context, product model.Product) (model.Product, error) {
	if product.ProductID == "" {
		product.ProductID = model.GenerateUUIDWithSuffix("prd")
	}
	product.CreatedAt = time.Now().UTC()
	product.UpdatedAt = product.CreatedAt

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO artisan.inventory (product_id, product_name, product_price, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, product.ProductID, product.ProductName, product.ProductPrice, product.StockQuantity, product.CreatedAt)
	if err != nil {
		return model.Product{}, mapWriteError(err, fmt.Sprintf("Product %s already exists", product.ProductID), "Failed to create product")
	}

	return product, nil
}

func (d Datasource) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	product := model.Product{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT product_id, product_name, product_price, stock_quantity, created_at, updated_at
		FROM artisan.inventory
		WHERE product_id = $1
	`, id).Scan(&product.ProductID, &product.ProductName, &product.ProductPrice, &product.StockQuantity, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Product %s not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve product", err)
	}
	return &product, nil
}

func (d Datasource) GetAllProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT product_id, product_name, product_price, stock_quantity, created_at, updated_at
		FROM artisan.inventory
		ORDER BY product_name ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve products", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.ProductPrice, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan product data", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over products", err)
	}
	return products, nil
}
