package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careline/careline/internal/domain"
)

// SyntheticOrders returns the built-in synthetic order fixtures. The same
// rows ship as scripts/database/seed_orders.sql for seeding an external
// database by hand.
func SyntheticOrders() []domain.Order {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return []domain.Order{
		{OrderID: "ORD-20250601-0001", Username: "demo-user", ProductName: "iPhone 15 Pro 256GB", Quantity: 1, AmountCents: 899900, Status: "shipped", Carrier: "顺丰速运", TrackingNo: "SF1390283745", CreatedAt: base},
		{OrderID: "ORD-20250603-0002", Username: "demo-user", ProductName: "华为 MatePad 11", Quantity: 2, AmountCents: 519800, Status: "delivered", Carrier: "京东物流", TrackingNo: "JD0038291102", CreatedAt: base.AddDate(0, 0, 2)},
		{OrderID: "ORD-20250607-0003", Username: "alice", ProductName: "小米14 Ultra", Quantity: 1, AmountCents: 649900, Status: "processing", CreatedAt: base.AddDate(0, 0, 6)},
		{OrderID: "ORD-20250612-0004", Username: "alice", ProductName: "联想 ThinkPad X1 Carbon", Quantity: 1, AmountCents: 1299900, Status: "shipped", Carrier: "顺丰速运", TrackingNo: "SF1392208817", CreatedAt: base.AddDate(0, 0, 11)},
		{OrderID: "ORD-20250618-0005", Username: "bob", ProductName: "戴尔 XPS 13", Quantity: 1, AmountCents: 1099900, Status: "cancelled", CreatedAt: base.AddDate(0, 0, 17)},
		{OrderID: "ORD-20250622-0006", Username: "bob", ProductName: "OPPO Find X7", Quantity: 1, AmountCents: 459900, Status: "refunding", CreatedAt: base.AddDate(0, 0, 21)},
		{OrderID: "ORD-20250701-0007", Username: "demo-user", ProductName: "iPad Air 第六代", Quantity: 1, AmountCents: 479900, Status: "pending", CreatedAt: base.AddDate(0, 1, 0)},
		{OrderID: "ORD-20250705-0008", Username: "carol", ProductName: "惠普 暗影精灵10", Quantity: 1, AmountCents: 799900, Status: "delivered", Carrier: "德邦快递", TrackingNo: "DB2284910034", CreatedAt: base.AddDate(0, 1, 4)},
	}
}

// SeedOrdersIfEmpty populates the orders table with synthetic fixtures
// when no rows exist yet.
func SeedOrdersIfEmpty(ctx context.Context, repo Repository) error {
	n, err := repo.CountOrders(ctx)
	if err != nil {
		return fmt.Errorf("check order count: %w", err)
	}
	if n > 0 {
		return nil
	}

	fixtures := SyntheticOrders()
	if err := repo.SeedOrders(ctx, fixtures); err != nil {
		return fmt.Errorf("seed orders: %w", err)
	}
	slog.Info("Seeded synthetic orders", "count", len(fixtures))
	return nil
}
