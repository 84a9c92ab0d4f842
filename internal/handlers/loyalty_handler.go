package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/zaikakitchen/loyalty-orderflow/internal/ledger"
	"github.com/zaikakitchen/loyalty-orderflow/internal/redemption"
	"github.com/zaikakitchen/loyalty-orderflow/internal/validation"
)

// RegisterLoyaltyRoutes registers the loyalty read and standalone redemption routes.
func RegisterLoyaltyRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New(cfg.Policy)
	ledgerStore := ledger.NewStore(cfg.DynamoDBClient, cfg.CustomersTable, cfg.OpsTable, cfg.TTLWindow, cfg.Policy)
	svc := redemption.NewService(ledgerStore, cfg.Policy, cfg.Logger, cfg.Metrics)

	r.GET("/customers/:id/loyalty", func(c *gin.Context) {
		ctx := c.Request.Context()

		var bill *decimal.Decimal
		if raw := c.Query("bill"); raw != "" {
			d, err := decimal.NewFromString(raw)
			if err != nil || d.IsNegative() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_bill_amount"})
				return
			}
			bill = &d
		}

		sum, err := svc.Summary(ctx, c.Param("id"), bill)
		if err != nil {
			if errors.Is(err, ledger.ErrCustomerNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "loyalty_lookup_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	r.POST("/redemptions", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.RedeemRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		res, err := svc.Redeem(ctx, req.CustomerID, decimal.NewFromFloat(req.BillAmount), req.Points, req.OpToken)
		if err != nil {
			writeRedemptionError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

// writeRedemptionError maps redemption failures onto HTTP statuses.
func writeRedemptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found"})
	case errors.Is(err, redemption.ErrBelowMinimumBill):
		c.JSON(http.StatusConflict, gin.H{"error": "bill_below_minimum"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_balance"})
	case errors.Is(err, ledger.ErrInvalidChunk):
		c.JSON(http.StatusConflict, gin.H{"error": "points_not_chunk_multiple"})
	case errors.Is(err, redemption.ErrExceedsAvailableRedemption):
		c.JSON(http.StatusConflict, gin.H{"error": "exceeds_available_redemption"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redemption_failed", "detail": err.Error()})
	}
}
