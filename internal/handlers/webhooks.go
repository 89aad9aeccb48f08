package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"panelworks/api_tokens/internal/payments"
	"panelworks/api_tokens/pkg/api/bursar"
)

// HandleMidtransWebhook processes payment notifications from Midtrans.
// Handled outcomes answer 200 so the gateway stops retrying; signature
// failures answer 401; everything else answers 5xx so the gateway retries.
func HandleMidtransWebhook(c *gin.Context) {
	var notif payments.Notification
	if err := c.ShouldBindJSON(&notif); err != nil {
		c.JSON(http.StatusBadRequest, bursar.WebhookResponse{
			Status:  "error",
			Message: "Malformed notification body",
		})
		return
	}

	result, err := notifications.Handle(c.Request.Context(), notif)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			if metrics != nil {
				metrics.WebhookSignatureFailures.WithLabelValues("midtrans").Inc()
			}
			c.JSON(http.StatusUnauthorized, bursar.WebhookResponse{
				Status:  "rejected",
				Message: "Invalid signature",
			})
			return
		}
		if errors.Is(err, payments.ErrIntentNotFound) {
			// A notification for an order we never created is not retryable.
			logger.WithField("order_id", notif.OrderID).Error("Notification for unknown order")
			c.JSON(http.StatusNotFound, bursar.WebhookResponse{
				Status:  "error",
				Message: "Unknown order",
			})
			return
		}
		logger.WithError(err).WithField("order_id", notif.OrderID).Error("Failed to process notification")
		c.JSON(http.StatusInternalServerError, bursar.WebhookResponse{
			Status:  "error",
			Message: "Processing failed",
		})
		return
	}

	if metrics != nil && (result.Action == "credited" || result.Action == "activated") {
		metrics.TopupSettlements.WithLabelValues(result.Action).Inc()
	}

	c.JSON(http.StatusOK, bursar.WebhookResponse{
		Status: result.Status,
		Action: result.Action,
	})
}
