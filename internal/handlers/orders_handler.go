package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zaikakitchen/loyalty-orderflow/internal/aws"
	"github.com/zaikakitchen/loyalty-orderflow/internal/idempotency"
	"github.com/zaikakitchen/loyalty-orderflow/internal/ledger"
	"github.com/zaikakitchen/loyalty-orderflow/internal/loyalty"
	"github.com/zaikakitchen/loyalty-orderflow/internal/orders"
	"github.com/zaikakitchen/loyalty-orderflow/internal/redemption"
	"github.com/zaikakitchen/loyalty-orderflow/internal/validation"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	DynamoDBClient   aws.DynamoDBAPI
	SQSClient        aws.SQSAPI
	Metrics          *aws.Metrics
	Logger           *zap.SugaredLogger
	Policy           loyalty.Policy
	IdempotencyTable string
	OrdersTable      string
	CustomersTable   string
	OpsTable         string
	QueueURL         string
	TTLWindow        time.Duration
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New(cfg.Policy)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)
	ordersStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	ledgerStore := ledger.NewStore(cfg.DynamoDBClient, cfg.CustomersTable, cfg.OpsTable, cfg.TTLWindow, cfg.Policy)
	redeemSvc := redemption.NewService(ledgerStore, cfg.Policy, cfg.Logger, cfg.Metrics)
	lifecycle := orders.NewLifecycle(ordersStore, ledgerStore, cfg.Policy, cfg.CustomersTable, cfg.Logger, cfg.Metrics)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.QueueURL)

	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		// First touch of a customer opens their ledger account.
		if _, err := ledgerStore.CreateIfAbsent(ctx, req.CustomerID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "customer_provisioning_failed", "detail": err.Error()})
			return
		}

		orderID := uuid.NewString()
		now := time.Now().UTC()

		order := orders.Order{
			OrderID:        orderID,
			CustomerID:     req.CustomerID,
			Status:         orders.StatusPending,
			FulfilmentType: req.FulfilmentType,
			TotalAmount:    req.TotalAmount,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		items := make([]map[string]interface{}, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, map[string]interface{}{
				"sku":      it.SKU,
				"quantity": it.Quantity,
				"price":    it.Price,
			})
		}
		order.Items = items

		// The debit commits before the order write. The op token is derived
		// from the idempotency key so a retried checkout replays the same
		// debit instead of stacking a second one.
		var redeemed *redemption.Result
		if req.Redemption != nil {
			res, err := redeemSvc.Redeem(ctx, req.CustomerID,
				decimal.NewFromFloat(req.TotalAmount),
				req.Redemption.PointsRequested,
				"checkout-redeem-"+idempKey)
			if err != nil {
				writeRedemptionError(c, err)
				return
			}
			redeemed = res
			discount, _ := res.DiscountAmount.Float64()
			order.Redemption = &orders.Redemption{
				PointsRedeemed: res.PointsRedeemed,
				DiscountAmount: discount,
			}
		}

		idempItem := map[string]interface{}{
			"idempotency_key": idempKey,
			"status":          idempotency.StatusInProgress,
			"created_at":      now.Format(time.RFC3339),
			"updated_at":      now.Format(time.RFC3339),
			"order_id":        orderID,
		}

		err := ordersStore.CreateWithIdempotencyTransaction(ctx, cfg.IdempotencyTable, idempItem, order, cfg.TTLWindow)
		if err != nil {
			// The transaction fails either because this idempotency key was
			// already claimed (a duplicate checkout) or for operational
			// reasons. Fetch the record and decide.
			rec, getErr := idempStore.Get(ctx, idempKey)
			if getErr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": getErr.Error()})
				return
			}
			if rec == nil {
				// Genuine write failure. A committed debit would strand
				// points, so refund it before reporting the error.
				if redeemed != nil {
					_ = redeemSvc.Compensate(ctx, req.CustomerID, redeemed.PointsRedeemed, "checkout-refund-"+idempKey)
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "order_creation_failed", "detail": err.Error()})
				return
			}
			switch rec.Status {
			case idempotency.StatusDone:
				if rec.ResponseBody != "" {
					var body interface{}
					if derr := json.Unmarshal([]byte(rec.ResponseBody), &body); derr == nil {
						c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
						return
					}
					c.JSON(rec.ResponseStatus, gin.H{"response": rec.ResponseBody})
					return
				}
				c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
				return
			case idempotency.StatusInProgress:
				c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
				return
			case idempotency.StatusFailed:
				// let client retry
				c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
				return
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
				return
			}
		}

		// Order persisted. Kick the lifecycle to CONFIRMED through the same
		// event path restaurant systems use, so the worker owns every
		// transition after PENDING.
		if cfg.QueueURL != "" {
			ev := aws.StatusEvent{
				OrderID:       orderID,
				TargetStatus:  orders.StatusConfirmed,
				CorrelationID: c.GetHeader("X-Request-Id"),
			}
			if err := publisher.SendStatusEvent(ctx, ev); err != nil {
				_ = idempStore.MarkFailed(ctx, idempKey, fmt.Sprintf("sqs_send_failed: %v", err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
				return
			}
		}

		resp := gin.H{"order_id": orderID, "status": orders.StatusPending}
		if redeemed != nil {
			resp["redemption"] = redeemed
		}
		responseBody, _ := json.Marshal(resp)
		_ = idempStore.MarkDone(ctx, idempKey, string(responseBody), http.StatusCreated)

		c.Header("Location", fmt.Sprintf("/orders/%s", orderID))
		c.JSON(http.StatusCreated, resp)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		order, err := ordersStore.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_lookup_failed", "detail": err.Error()})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.POST("/orders/:id/status", func(c *gin.Context) {
		ctx := c.Request.Context()
		orderID := c.Param("id")

		var req validation.StatusUpdateRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		// With a queue configured the transition is applied asynchronously
		// by the worker; otherwise it runs inline (local mode).
		if cfg.QueueURL != "" {
			ev := aws.StatusEvent{
				OrderID:       orderID,
				TargetStatus:  req.Status,
				CorrelationID: c.GetHeader("X-Request-Id"),
			}
			if err := publisher.SendStatusEvent(ctx, ev); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "detail": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"order_id": orderID, "target_status": req.Status})
			return
		}

		order, err := lifecycle.Advance(ctx, orderID, req.Status)
		if err != nil {
			switch {
			case errors.Is(err, orders.ErrOrderNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			case errors.Is(err, orders.ErrInvalidTransition):
				c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "detail": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "transition_failed", "detail": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, order)
	})
}
