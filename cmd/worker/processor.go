package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/zaikakitchen/loyalty-orderflow/internal/aws"
	"github.com/zaikakitchen/loyalty-orderflow/internal/ledger"
	"github.com/zaikakitchen/loyalty-orderflow/internal/loyalty"
	"github.com/zaikakitchen/loyalty-orderflow/internal/orders"
)

// statusRank orders the forward path so the processor can tell a stale event
// (target already passed) from an early one (prerequisite not applied yet).
var statusRank = map[string]int{
	orders.StatusPending:        0,
	orders.StatusConfirmed:      1,
	orders.StatusPreparing:      2,
	orders.StatusReady:          3,
	orders.StatusOutForDelivery: 4,
	orders.StatusDelivered:      5,
}

// ProcessorConfig carries everything the worker needs from the environment.
type ProcessorConfig struct {
	OrdersTable    string
	CustomersTable string
	OpsTable       string
	TTLWindow      time.Duration
}

// Processor handles SQS status events and applies order lifecycle transitions.
type Processor struct {
	orderStore *orders.Store
	lifecycle  *orders.Lifecycle
	logger     *zap.SugaredLogger
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(dynamo aws.DynamoDBAPI, metrics *aws.Metrics, logger *zap.SugaredLogger, cfg ProcessorConfig) *Processor {
	policy := loyalty.DefaultPolicy()
	orderStore := orders.NewStore(dynamo, cfg.OrdersTable)
	ledgerStore := ledger.NewStore(dynamo, cfg.CustomersTable, cfg.OpsTable, cfg.TTLWindow, policy)
	return &Processor{
		orderStore: orderStore,
		lifecycle:  orders.NewLifecycle(orderStore, ledgerStore, policy, cfg.CustomersTable, logger, metrics),
		logger:     logger,
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.logger.Errorw("worker error", "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.StatusEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	p.logger.Infow("status event received",
		"order_id", msg.OrderID,
		"target_status", msg.TargetStatus,
		"correlation_id", msg.CorrelationID)

	if !orders.ValidStatus(msg.TargetStatus) {
		// malformed producer, retrying cannot fix it
		return fmt.Errorf("unknown target status %q for order %s", msg.TargetStatus, msg.OrderID)
	}

	// Delivery visibility: how many times the broker handed us this order.
	if err := p.orderStore.IncrementAttempts(ctx, msg.OrderID); err != nil {
		p.logger.Warnw("attempt counter update failed", "order_id", msg.OrderID, "error", err)
	}

	order, err := p.lifecycle.Advance(ctx, msg.OrderID, msg.TargetStatus)
	if err == nil {
		p.logger.Infow("order advanced", "order_id", msg.OrderID, "status", order.Status)
		return nil
	}

	if errors.Is(err, orders.ErrInvalidTransition) {
		return p.resolveInvalidTransition(ctx, msg)
	}
	// Includes ErrOrderNotFound and ledger faults: retry, then DLQ.
	return fmt.Errorf("advance order %s to %s: %w", msg.OrderID, msg.TargetStatus, err)
}

// resolveInvalidTransition decides whether a rejected transition is a stale
// duplicate (swallow) or an event that arrived ahead of its prerequisite
// (retry via error return).
func (p *Processor) resolveInvalidTransition(ctx context.Context, msg aws.StatusEvent) error {
	order, err := p.orderStore.Get(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("re-read order %s: %w", msg.OrderID, err)
	}
	if order == nil {
		return fmt.Errorf("order not found: %s", msg.OrderID)
	}

	if msg.TargetStatus == orders.StatusOutForDelivery && order.FulfilmentType == orders.FulfilmentTakeaway {
		// takeaway orders never take the courier leg; retrying cannot make
		// this event valid
		p.logger.Warnw("courier event for takeaway order, dropping",
			"order_id", msg.OrderID, "status", order.Status)
		return nil
	}

	if msg.TargetStatus == orders.StatusCancelled {
		// Advance already no-ops when the order is CANCELLED; landing here
		// means the order went terminal the other way. Too late to cancel.
		p.logger.Warnw("cancellation after terminal status, dropping",
			"order_id", msg.OrderID, "status", order.Status)
		return nil
	}

	if statusRank[msg.TargetStatus] <= statusRank[order.Status] || orders.IsTerminal(order.Status) {
		p.logger.Infow("stale status event, dropping",
			"order_id", msg.OrderID,
			"status", order.Status,
			"target_status", msg.TargetStatus)
		return nil
	}

	// Early event: the prerequisite transition has not landed yet. Let the
	// broker redeliver once it has.
	return fmt.Errorf("order %s at %s not ready for %s", msg.OrderID, order.Status, msg.TargetStatus)
}
