package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/zaikakitchen/loyalty-orderflow/internal/loyalty"
	"github.com/zaikakitchen/loyalty-orderflow/internal/orders"
)

// New returns a configured validator with custom struct-level validation registered.
func New(policy loyalty.Policy) *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(checkoutStructValidation(policy), CheckoutRequest{})
	v.RegisterStructValidation(redeemStructValidation(policy), RedeemRequest{})
	v.RegisterStructValidation(statusUpdateStructValidation, StatusUpdateRequest{})

	return v
}

// checkoutStructValidation verifies the aggregated total of items equals
// TotalAmount (within cents) and that a requested redemption is a whole
// number of chunks.
func checkoutStructValidation(policy loyalty.Policy) validatorv10.StructLevelFunc {
	return func(sl validatorv10.StructLevel) {
		req := sl.Current().Interface().(CheckoutRequest)

		var sum float64
		for _, it := range req.Items {
			sum += float64(it.Quantity) * it.Price
		}

		sumCents := int(math.Round(sum * 100))
		amountCents := int(math.Round(req.TotalAmount * 100))
		if sumCents != amountCents {
			sl.ReportError(req.TotalAmount, "total_amount", "TotalAmount", "amount_match_items",
				fmt.Sprintf("items sum %.2f != total_amount %.2f", sum, req.TotalAmount))
		}

		if req.Redemption != nil && req.Redemption.PointsRequested > 0 {
			if !policy.ValidChunk(req.Redemption.PointsRequested) {
				sl.ReportError(req.Redemption.PointsRequested, "redemption.points_requested", "PointsRequested", "chunk_multiple",
					fmt.Sprintf("points must be a positive multiple of %d", policy.RedemptionChunk))
			}
		}
	}
}

func redeemStructValidation(policy loyalty.Policy) validatorv10.StructLevelFunc {
	return func(sl validatorv10.StructLevel) {
		req := sl.Current().Interface().(RedeemRequest)

		if req.Points > 0 && !policy.ValidChunk(req.Points) {
			sl.ReportError(req.Points, "points", "Points", "chunk_multiple",
				fmt.Sprintf("points must be a positive multiple of %d", policy.RedemptionChunk))
		}
	}
}

func statusUpdateStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(StatusUpdateRequest)

	if !orders.ValidStatus(req.Status) {
		sl.ReportError(req.Status, "status", "Status", "known_status", "unrecognised order status")
	}
}
