package loyalty

import (
	"github.com/shopspring/decimal"
)

// Policy holds the loyalty program constants. All rules are pure functions of
// this struct; nothing here performs I/O.
type Policy struct {
	// Every MilestoneOrders-th completed order earns a flat MilestonePoints.
	MilestoneOrders int
	MilestonePoints int

	// Points are redeemed in whole chunks only. One chunk converts to a fixed
	// currency discount.
	RedemptionChunk int
	ChunkDiscount   decimal.Decimal

	// A bill below MinBill is never eligible for redemption, and a redemption
	// never discounts more than MaxDiscountFraction of the bill.
	MinBill             decimal.Decimal
	MaxDiscountFraction decimal.Decimal
}

// DefaultPolicy returns the production rules: 100 points per 10th order,
// 1000-point chunks worth 20 currency units, minimum bill 200, cap at 50%.
func DefaultPolicy() Policy {
	return Policy{
		MilestoneOrders:     10,
		MilestonePoints:     100,
		RedemptionChunk:     1000,
		ChunkDiscount:       decimal.NewFromInt(20),
		MinBill:             decimal.NewFromInt(200),
		MaxDiscountFraction: decimal.NewFromFloat(0.5),
	}
}

// Earning is the outcome of completing one more order.
type Earning struct {
	Points            int
	NewCompletedCount int
}

// EarningFor computes the points earned by completing the next order after
// prevCompleted. Points accrue only when a milestone boundary is crossed; if
// counts were incremented without awarding in the past, every newly crossed
// boundary is paid out (catch-up).
func (p Policy) EarningFor(prevCompleted int) Earning {
	if prevCompleted < 0 {
		prevCompleted = 0
	}
	next := prevCompleted + 1
	crossed := next/p.MilestoneOrders - prevCompleted/p.MilestoneOrders
	return Earning{
		Points:            crossed * p.MilestonePoints,
		NewCompletedCount: next,
	}
}

// Offer is the maximum redemption the policy allows for a balance and bill.
// Points is always a whole multiple of RedemptionChunk.
type Offer struct {
	Eligible bool
	Points   int
	Discount decimal.Decimal
}

// MaxRedeemable computes the largest redemption for the given balance and
// bill. The discount is capped at MaxDiscountFraction of the bill (floored to
// whole currency units) and then rounded down to a whole chunk boundary; a
// partially used chunk is never charged.
func (p Policy) MaxRedeemable(balance int, bill decimal.Decimal) Offer {
	if balance < p.RedemptionChunk || bill.LessThan(p.MinBill) {
		return Offer{Discount: decimal.Zero}
	}

	chunks := balance / p.RedemptionChunk
	discount := p.ChunkDiscount.Mul(decimal.NewFromInt(int64(chunks)))

	cap := bill.Mul(p.MaxDiscountFraction).Floor()
	if discount.GreaterThan(cap) {
		chunks = int(cap.Div(p.ChunkDiscount).IntPart())
		discount = p.ChunkDiscount.Mul(decimal.NewFromInt(int64(chunks)))
	}
	if chunks == 0 {
		return Offer{Discount: decimal.Zero}
	}

	return Offer{
		Eligible: true,
		Points:   chunks * p.RedemptionChunk,
		Discount: discount,
	}
}

// ValidChunk reports whether points is a non-negative whole multiple of the
// redemption chunk.
func (p Policy) ValidChunk(points int) bool {
	return points >= 0 && points%p.RedemptionChunk == 0
}

// DiscountFor converts a chunk-aligned point amount into its currency
// discount. Callers must have checked ValidChunk first.
func (p Policy) DiscountFor(points int) decimal.Decimal {
	return p.ChunkDiscount.Mul(decimal.NewFromInt(int64(points / p.RedemptionChunk)))
}
