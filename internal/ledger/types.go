package ledger

import "time"

// Customer is the loyalty record stored in the customers table. The balance
// and order counter are mutated only through Store operations so every change
// stays auditable.
type Customer struct {
	CustomerID          string    `dynamodbav:"customer_id"` // PK
	PointBalance        int       `dynamodbav:"point_balance"`
	CompletedOrderCount int       `dynamodbav:"completed_order_count"`
	CreatedAt           time.Time `dynamodbav:"created_at"`
	UpdatedAt           time.Time `dynamodbav:"updated_at"`
}

// Op kinds recorded in the ops table.
const (
	OpAward  = "AWARD"
	OpRedeem = "REDEEM"
	OpRefund = "REFUND"
)

// OpRecord is the idempotency record for a single ledger mutation. Retried
// mutations carrying the same token are applied at most once.
type OpRecord struct {
	OpToken    string    `dynamodbav:"op_token"` // PK
	CustomerID string    `dynamodbav:"customer_id"`
	Kind       string    `dynamodbav:"kind"` // AWARD | REDEEM | REFUND
	Points     int       `dynamodbav:"points"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	ExpiresAt  int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
