package orders

import "time"

// Order statuses
const (
	StatusPending        = "PENDING"
	StatusConfirmed      = "CONFIRMED"
	StatusPreparing      = "PREPARING"
	StatusReady          = "READY"
	StatusOutForDelivery = "OUT_FOR_DELIVERY"
	StatusDelivered      = "DELIVERED"
	StatusCancelled      = "CANCELLED"
)

// Fulfilment types
const (
	FulfilmentDelivery = "DELIVERY"
	FulfilmentTakeaway = "TAKEAWAY"
)

// IsTerminal reports whether no transition may leave the status.
func IsTerminal(status string) bool {
	return status == StatusDelivered || status == StatusCancelled
}

// Redemption is the points discount attached to an order at checkout. It is
// written once at creation and never altered afterwards; cancelling the order
// does not reverse it.
type Redemption struct {
	PointsRedeemed int     `dynamodbav:"points_redeemed" json:"points_redeemed"`
	DiscountAmount float64 `dynamodbav:"discount_amount" json:"discount_amount"`
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID        string                   `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerID     string                   `dynamodbav:"customer_id" json:"customer_id"`
	Status         string                   `dynamodbav:"status" json:"status"`
	FulfilmentType string                   `dynamodbav:"fulfilment_type" json:"fulfilment_type"` // DELIVERY | TAKEAWAY
	TotalAmount    float64                  `dynamodbav:"total_amount" json:"total_amount"`
	Items          []map[string]interface{} `dynamodbav:"items,omitempty" json:"items,omitempty"`
	Redemption     *Redemption              `dynamodbav:"redemption,omitempty" json:"redemption,omitempty"`
	PointsAwarded  bool                     `dynamodbav:"points_awarded" json:"points_awarded"`
	CreatedAt      time.Time                `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time                `dynamodbav:"updated_at" json:"updated_at"`
	Attempts       int                      `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"`
}
