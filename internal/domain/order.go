package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses. Only terminal statuses contribute to revenue metrics.
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
)

// TerminalOrderStatuses are the statuses in which an order counts toward
// revenue, average order value and recency.
var TerminalOrderStatuses = []string{OrderDelivered, OrderCompleted}

// Order is a single customer order.
type Order struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CustomerID  uuid.UUID `json:"customer_id" db:"customer_id"`
	ProductCode string    `json:"product_code" db:"product_code"`
	Amount      float64   `json:"amount" db:"amount"`
	Status      string    `json:"status" db:"status"`
	OrderedAt   time.Time `json:"ordered_at" db:"ordered_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
}

// IsTerminal reports whether the order is in a delivered/completed status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderDelivered || o.Status == OrderCompleted
}
