package validation

// Item represents a single order line item.
type Item struct {
	SKU      string  `json:"sku" validate:"required"`            // stock keeping unit
	Quantity int     `json:"quantity" validate:"required,min=1"` // must be >= 1
	Price    float64 `json:"price" validate:"required,gt=0"`     // price per unit
}

// RedemptionRequest is the optional redemption block on checkout.
// PointsRequested == 0 means "redeem the maximum the policy allows".
type RedemptionRequest struct {
	PointsRequested int `json:"points_requested" validate:"min=0"`
}

// CheckoutRequest is the payload for POST /orders.
type CheckoutRequest struct {
	CustomerID     string             `json:"customer_id" validate:"required"`
	FulfilmentType string             `json:"fulfilment_type" validate:"required,oneof=DELIVERY TAKEAWAY"`
	Items          []Item             `json:"items" validate:"required,min=1,dive"` // at least one item
	TotalAmount    float64            `json:"total_amount" validate:"required,gt=0"`
	Redemption     *RedemptionRequest `json:"redemption,omitempty"`
}

// RedeemRequest is the payload for POST /redemptions (standalone redemption
// quote-and-commit, outside a checkout).
type RedeemRequest struct {
	CustomerID string  `json:"customer_id" validate:"required"`
	BillAmount float64 `json:"bill_amount" validate:"required,gt=0"`
	Points     int     `json:"points" validate:"min=0"` // 0 means maximum
	OpToken    string  `json:"op_token" validate:"required"`
}

// StatusUpdateRequest is the payload for POST /orders/:id/status.
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required"`
}
