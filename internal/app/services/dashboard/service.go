// Package dashboard aggregates back-office figures.
package dashboard

import (
	"context"

	"github.com/R3E-Network/storefront/internal/app/domain/catalog"
	"github.com/R3E-Network/storefront/internal/app/domain/customer"
	"github.com/R3E-Network/storefront/internal/app/domain/order"
	"github.com/R3E-Network/storefront/internal/app/storage"
)

const (
	recentOrders  = 10
	lowStockLimit = 20
)

// Summary is the dashboard payload.
type Summary struct {
	ProductCount       int                  `json:"product_count"`
	ActiveProductCount int                  `json:"active_product_count"`
	LowStock           []catalog.Product    `json:"low_stock"`
	LowStockThreshold  int                  `json:"low_stock_threshold"`
	OrderCount         int                  `json:"order_count"`
	OrdersByStatus     map[order.Status]int `json:"orders_by_status"`
	RevenueCents       int64                `json:"revenue_cents"`
	CustomerCount      int                  `json:"customer_count"`
	RecentOrders       []order.Order        `json:"recent_orders"`
}

// Service builds dashboard summaries.
type Service struct {
	catalog   storage.CatalogStore
	orders    storage.OrderStore
	customers storage.CustomerStore
	threshold int
}

// New constructs a dashboard service. Products with stock below threshold
// are reported as low stock.
func New(catalogStore storage.CatalogStore, orderStore storage.OrderStore, customerStore storage.CustomerStore, threshold int) *Service {
	return &Service{catalog: catalogStore, orders: orderStore, customers: customerStore, threshold: threshold}
}

// Summary gathers the current figures.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{LowStockThreshold: s.threshold, LowStock: []catalog.Product{}}

	var err error
	if _, sum.ProductCount, err = s.catalog.ListProducts(ctx, catalog.ProductFilter{Limit: 1}); err != nil {
		return Summary{}, err
	}
	if _, sum.ActiveProductCount, err = s.catalog.ListProducts(ctx, catalog.ProductFilter{ActiveOnly: true, Limit: 1}); err != nil {
		return Summary{}, err
	}
	if s.threshold > 0 {
		low, _, err := s.catalog.ListProducts(ctx, catalog.ProductFilter{ActiveOnly: true, LowStockBelow: s.threshold, Limit: lowStockLimit})
		if err != nil {
			return Summary{}, err
		}
		sum.LowStock = low
	}

	stats, err := s.orders.OrderStats(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum.OrderCount = stats.Count
	sum.OrdersByStatus = stats.ByStatus
	sum.RevenueCents = stats.RevenueCents
	if sum.OrdersByStatus == nil {
		sum.OrdersByStatus = map[order.Status]int{}
	}

	if _, sum.CustomerCount, err = s.customers.ListCustomers(ctx, customer.Filter{Limit: 1}); err != nil {
		return Summary{}, err
	}
	if sum.RecentOrders, _, err = s.orders.ListOrders(ctx, order.Filter{Limit: recentOrders}); err != nil {
		return Summary{}, err
	}
	return sum, nil
}
