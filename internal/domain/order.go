package domain

import (
	"time"
)

// Order is a synthetic order record used by the order-intent responder.
// The table is seeded from scripts/database/seed_orders.sql.
type Order struct {
	OrderID     string    `json:"order_id"`
	Username    string    `json:"username"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `json:"status"`
	Carrier     string    `json:"carrier,omitempty"`
	TrackingNo  string    `json:"tracking_no,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
