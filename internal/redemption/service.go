package redemption

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zaikakitchen/loyalty-orderflow/internal/aws"
	"github.com/zaikakitchen/loyalty-orderflow/internal/ledger"
	"github.com/zaikakitchen/loyalty-orderflow/internal/loyalty"
)

// Typed failures callers can surface to users.
var (
	ErrBelowMinimumBill           = errors.New("bill amount below redemption minimum")
	ErrExceedsAvailableRedemption = errors.New("requested points exceed what policy allows")
)

// Ledger is the slice of the points ledger the service needs.
type Ledger interface {
	Get(ctx context.Context, customerID string) (*ledger.Customer, error)
	Redeem(ctx context.Context, customerID string, points int, opToken string) (int, error)
	Refund(ctx context.Context, customerID string, points int, opToken string) (int, error)
}

// Service orchestrates checkout-time point redemption: policy validation,
// the guarded balance debit, and compensation when order persistence fails
// after the debit committed.
type Service struct {
	ledger  Ledger
	policy  loyalty.Policy
	logger  *zap.SugaredLogger
	metrics *aws.Metrics
}

// NewService wires a Service. metrics may be nil.
func NewService(l Ledger, policy loyalty.Policy, logger *zap.SugaredLogger, metrics *aws.Metrics) *Service {
	return &Service{ledger: l, policy: policy, logger: logger, metrics: metrics}
}

// Summary is the read model for loyalty display.
type Summary struct {
	CustomerID   string         `json:"customer_id"`
	PointBalance int            `json:"point_balance"`
	Tier         loyalty.Tier   `json:"tier"`
	Offer        *loyalty.Offer `json:"redemption_offer,omitempty"`
}

// Summary returns the customer's balance and tier, plus the maximum
// redemption offer when a bill amount is supplied.
func (s *Service) Summary(ctx context.Context, customerID string, bill *decimal.Decimal) (*Summary, error) {
	c, err := s.ledger.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		s.metrics.ConsistencyFault(ctx, "customer")
		s.logger.Errorw("customer missing on loyalty summary", "customer_id", customerID)
		return nil, ledger.ErrCustomerNotFound
	}

	sum := &Summary{
		CustomerID:   c.CustomerID,
		PointBalance: c.PointBalance,
		Tier:         loyalty.TierFor(c.CompletedOrderCount),
	}
	if bill != nil {
		offer := s.policy.MaxRedeemable(c.PointBalance, *bill)
		sum.Offer = &offer
	}
	return sum, nil
}

// Result is what the checkout attaches immutably to the new order.
type Result struct {
	PointsRedeemed   int             `json:"points_redeemed"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	RemainingBalance int             `json:"remaining_balance"`
}

// Redeem validates the requested redemption against policy and the current
// balance, then commits the debit. pointsRequested == 0 means "redeem the
// maximum the policy allows". opToken makes crash-retries of the same
// checkout apply the debit at most once.
func (s *Service) Redeem(ctx context.Context, customerID string, bill decimal.Decimal, pointsRequested int, opToken string) (*Result, error) {
	c, err := s.ledger.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		s.metrics.ConsistencyFault(ctx, "customer")
		s.logger.Errorw("customer missing on redemption", "customer_id", customerID)
		return nil, ledger.ErrCustomerNotFound
	}

	if bill.LessThan(s.policy.MinBill) {
		return nil, ErrBelowMinimumBill
	}

	offer := s.policy.MaxRedeemable(c.PointBalance, bill)
	if !offer.Eligible {
		if c.PointBalance < s.policy.RedemptionChunk {
			return nil, ledger.ErrInsufficientBalance
		}
		// balance is fine; the 50% cap leaves no whole chunk on this bill
		return nil, ErrExceedsAvailableRedemption
	}

	points := pointsRequested
	if points == 0 {
		points = offer.Points
	}
	if !s.policy.ValidChunk(points) {
		return nil, ledger.ErrInvalidChunk
	}
	if points > offer.Points {
		return nil, ErrExceedsAvailableRedemption
	}

	remaining, err := s.ledger.Redeem(ctx, customerID, points, opToken)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("points redeemed",
		"customer_id", customerID,
		"points", points,
		"remaining_balance", remaining)

	return &Result{
		PointsRedeemed:   points,
		DiscountAmount:   s.policy.DiscountFor(points),
		RemainingBalance: remaining,
	}, nil
}

// Compensate refunds a committed redemption after the follow-up order
// creation failed. Order creation is a separate bounded operation, so this is
// an explicit rollback, not a database transaction.
func (s *Service) Compensate(ctx context.Context, customerID string, points int, opToken string) error {
	_, err := s.ledger.Refund(ctx, customerID, points, opToken)
	if err != nil {
		// points are stranded until a retry succeeds; loud log, alarmable
		s.logger.Errorw("redemption compensation failed",
			"customer_id", customerID,
			"points", points,
			"error", err)
		return err
	}
	s.logger.Infow("redemption compensated", "customer_id", customerID, "points", points)
	return nil
}
