package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"panelworks/api_tokens/internal/payments"
	"panelworks/api_tokens/pkg/api/bursar"
	"panelworks/api_tokens/pkg/api/common"
	"panelworks/api_tokens/pkg/ctxkeys"
)

// CreateSubscriptionCheckout starts a plan purchase and returns the hosted
// payment page handle.
func CreateSubscriptionCheckout(c *gin.Context) {
	workspaceID := workspaceFrom(c)

	var req bursar.SubscriptionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_request",
		})
		return
	}

	customer := payments.Customer{Email: c.GetString(string(ctxkeys.KeyEmail))}
	result, err := checkout.CreateSubscriptionCheckout(c.Request.Context(), workspaceID, customer, req.PlanCode, req.Interval, req.IsRenewal)
	if err != nil {
		respondCheckoutError(c, workspaceID, err)
		return
	}

	c.JSON(http.StatusOK, bursar.CheckoutResponse{
		OK:          true,
		OrderID:     result.OrderID,
		Token:       result.Token,
		RedirectURL: result.RedirectURL,
	})
}

// CreateTopupCheckout starts a token package purchase.
func CreateTopupCheckout(c *gin.Context) {
	workspaceID := workspaceFrom(c)

	var req bursar.TopupCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: err.Error(),
			Code:  "invalid_request",
		})
		return
	}

	customer := payments.Customer{Email: c.GetString(string(ctxkeys.KeyEmail))}
	result, err := checkout.CreateTopupCheckout(c.Request.Context(), workspaceID, customer, req.PackageID)
	if err != nil {
		respondCheckoutError(c, workspaceID, err)
		return
	}

	c.JSON(http.StatusOK, bursar.CheckoutResponse{
		OK:          true,
		OrderID:     result.OrderID,
		Token:       result.Token,
		RedirectURL: result.RedirectURL,
	})
}

// GetPaymentIntents lists the workspace's payment intents, newest first.
func GetPaymentIntents(c *gin.Context) {
	workspaceID := workspaceFrom(c)

	intents, err := intentStore.ListByWorkspace(c.Request.Context(), workspaceID, 25)
	if err != nil {
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Failed to list payment intents")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{
			Error: "Failed to load payment history",
			Code:  "db_error",
		})
		return
	}

	c.JSON(http.StatusOK, bursar.IntentsResponse{Intents: intents})
}

func respondCheckoutError(c *gin.Context, workspaceID string, err error) {
	switch {
	case errors.Is(err, payments.ErrInvalidPlan):
		c.JSON(http.StatusBadRequest, bursar.CheckoutResponse{
			OK:      false,
			Code:    "invalid_plan",
			Message: "Unknown plan or billing interval",
		})
	case errors.Is(err, payments.ErrInvalidPackage):
		c.JSON(http.StatusBadRequest, bursar.CheckoutResponse{
			OK:      false,
			Code:    "invalid_package",
			Message: "Unknown token package",
		})
	case errors.Is(err, payments.ErrGateway):
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Payment gateway rejected checkout")
		c.JSON(http.StatusBadGateway, bursar.CheckoutResponse{
			OK:      false,
			Code:    "midtrans_error",
			Message: "Payment gateway is unavailable, try again shortly",
		})
	default:
		logger.WithError(err).WithField("workspace_id", workspaceID).Error("Checkout failed")
		c.JSON(http.StatusInternalServerError, bursar.CheckoutResponse{
			OK:      false,
			Code:    "db_error",
			Message: "Failed to create checkout",
		})
	}
}
