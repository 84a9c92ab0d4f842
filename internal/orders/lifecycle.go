package orders

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zaikakitchen/loyalty-orderflow/internal/aws"
	"github.com/zaikakitchen/loyalty-orderflow/internal/ledger"
	"github.com/zaikakitchen/loyalty-orderflow/internal/loyalty"
)

// Typed lifecycle failures.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// awardRetries bounds the optimistic retry loop when the customer counter
// moves between the read and the transaction.
const awardRetries = 3

// Lifecycle drives order status changes. On the transition into DELIVERED it
// awards milestone points through the ledger, exactly once per order, with
// the status write and the award committed as one unit.
type Lifecycle struct {
	orders         *Store
	ledger         *ledger.Store
	policy         loyalty.Policy
	customersTable string
	logger         *zap.SugaredLogger
	metrics        *aws.Metrics
}

// NewLifecycle wires a Lifecycle. metrics may be nil.
func NewLifecycle(ordersStore *Store, ledgerStore *ledger.Store, policy loyalty.Policy, customersTable string, logger *zap.SugaredLogger, metrics *aws.Metrics) *Lifecycle {
	return &Lifecycle{
		orders:         ordersStore,
		ledger:         ledgerStore,
		policy:         policy,
		customersTable: customersTable,
		logger:         logger,
		metrics:        metrics,
	}
}

// Advance moves an order to target. Re-delivery of an event whose target the
// order already reached is a no-op success, so at-least-once upstream
// delivery never errors or double-awards. Cancellation leaves any committed
// redemption untouched: the discount was a checkout-time commitment and
// reversing it is a refund-policy concern, not a lifecycle one.
func (l *Lifecycle) Advance(ctx context.Context, orderID, target string) (*Order, error) {
	order, err := l.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		// missing order on a fulfilment path is a data bug upstream, alarm it
		l.metrics.ConsistencyFault(ctx, "order")
		l.logger.Errorw("order missing on status advance", "order_id", orderID, "target", target)
		return nil, ErrOrderNotFound
	}

	if order.Status == target {
		return order, nil
	}
	if !CanTransition(order.FulfilmentType, order.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, order.Status, target, order.FulfilmentType)
	}

	if target == StatusDelivered {
		return l.deliver(ctx, order)
	}

	err = l.orders.UpdateStatus(ctx, orderID, order.Status, target)
	if errors.Is(err, ErrStatusMismatch) {
		// lost to a concurrent transition; re-read to decide
		refreshed, gerr := l.orders.Get(ctx, orderID)
		if gerr != nil {
			return nil, gerr
		}
		if refreshed != nil && refreshed.Status == target {
			return refreshed, nil
		}
		return nil, fmt.Errorf("%w: order %s moved concurrently", ErrInvalidTransition, orderID)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Infow("order status advanced", "order_id", orderID, "from", order.Status, "to", target)
	order.Status = target
	return order, nil
}

// deliver commits DELIVERED together with the points award. The earning is
// computed from the counter read here and the transaction is conditioned on
// that same counter, so a concurrent completion for the same customer forces
// a re-read rather than a stale milestone computation.
func (l *Lifecycle) deliver(ctx context.Context, order *Order) (*Order, error) {
	for attempt := 0; attempt < awardRetries; attempt++ {
		cust, err := l.ledger.Get(ctx, order.CustomerID)
		if err != nil {
			return nil, err
		}
		if cust == nil {
			l.metrics.ConsistencyFault(ctx, "customer")
			l.logger.Errorw("customer missing on delivery award", "order_id", order.OrderID, "customer_id", order.CustomerID)
			return nil, ledger.ErrCustomerNotFound
		}

		earning := l.policy.EarningFor(cust.CompletedOrderCount)
		err = l.orders.DeliverAndAward(ctx, l.customersTable, DeliverParams{
			OrderID:        order.OrderID,
			ExpectedStatus: order.Status,
			CustomerID:     order.CustomerID,
			PrevCompleted:  cust.CompletedOrderCount,
			NewCompleted:   earning.NewCompletedCount,
			Points:         earning.Points,
		})
		if err == nil {
			l.metrics.PointsAwarded(ctx, earning.Points)
			l.logger.Infow("order delivered",
				"order_id", order.OrderID,
				"customer_id", order.CustomerID,
				"points_awarded", earning.Points,
				"completed_orders", earning.NewCompletedCount)
			return l.orders.Get(ctx, order.OrderID)
		}
		if !errors.Is(err, ErrAwardConflict) {
			return nil, err
		}

		refreshed, gerr := l.orders.Get(ctx, order.OrderID)
		if gerr != nil {
			return nil, gerr
		}
		if refreshed == nil {
			return nil, ErrOrderNotFound
		}
		if refreshed.Status == StatusDelivered && refreshed.PointsAwarded {
			// a concurrent delivery event won; award already happened once
			return refreshed, nil
		}
		if refreshed.Status != order.Status {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, refreshed.Status, StatusDelivered)
		}
		// customer counter moved; recompute the earning and retry
		order = refreshed
	}
	return nil, fmt.Errorf("award conflict retries exhausted for order %s", order.OrderID)
}
