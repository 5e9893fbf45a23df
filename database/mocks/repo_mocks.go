/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/midnight-artisan/artisan/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Order methods

func (m *MockDataSource) CreateOrder(ctx context.Context, order model.Order, items []model.OrderItemRequest) (*model.Order, error) {
	args := m.Called(ctx, order, items)
	if o, ok := args.Get(0).(*model.Order); ok {
		return o, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	args := m.Called(ctx, id)
	if o, ok := args.Get(0).(*model.Order); ok {
		return o, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetAllOrders(ctx context.Context, limit, offset int) ([]model.Order, error) {
	args := m.Called(ctx, limit, offset)
	if list, ok := args.Get(0).([]model.Order); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) MarkInvoiceSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) GetUninvoicedOrders(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	args := m.Called(ctx, createdBefore, limit)
	if list, ok := args.Get(0).([]model.Order); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// Inventory methods

func (m *MockDataSource) CreateProduct(ctx context.Context, product model.Product) (model.Product, error) {
	args := m.Called(ctx, product)
	return args.Get(0).(model.Product), args.Error(1)
}

func (m *MockDataSource) GetProductByID(ctx context.Context, id string) (*model.Product, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*model.Product); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetAllProducts(ctx context.Context, limit, offset int) ([]model.Product, error) {
	args := m.Called(ctx, limit, offset)
	if list, ok := args.Get(0).([]model.Product); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
