package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"panelworks/api_tokens/internal/midtrans"
	"panelworks/api_tokens/pkg/billing"
	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

// ErrInvalidSignature is returned for notifications whose signature_key does
// not match. Nothing is settled and the caller should answer 401.
var ErrInvalidSignature = errors.New("invalid notification signature")

// Notification is the webhook body Midtrans posts. Only the signed fields
// matter; the authoritative state is re-fetched from the gateway.
type Notification struct {
	OrderID           string `json:"order_id" binding:"required"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code" binding:"required"`
	GrossAmount       string `json:"gross_amount" binding:"required"`
	SignatureKey      string `json:"signature_key" binding:"required"`
	PaymentType       string `json:"payment_type"`
}

// Result reports what a handled notification did.
type Result struct {
	Status string // mapped intent status
	Action string // credited, already_credited, activated, already_settled, recorded, ignored
}

// MapTransactionStatus folds the gateway's transaction and fraud statuses
// into an intent status. Unknown statuses stay pending so a later
// notification can still resolve them.
func MapTransactionStatus(transactionStatus, fraudStatus string) string {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" {
			return models.IntentStatusPaid
		}
		return models.IntentStatusPending
	case "settlement":
		return models.IntentStatusPaid
	case "expire":
		return models.IntentStatusExpired
	case "deny", "cancel":
		return models.IntentStatusFailed
	default:
		return models.IntentStatusPending
	}
}

// NotificationHandler verifies, audits, and settles gateway notifications.
type NotificationHandler struct {
	db         *sql.DB
	logger     logging.Logger
	gateway    Gateway
	intents    *IntentStore
	settlement *Settlement
}

// NewNotificationHandler creates a notification handler
func NewNotificationHandler(db *sql.DB, logger logging.Logger, gateway Gateway, intents *IntentStore, settlement *Settlement) *NotificationHandler {
	return &NotificationHandler{
		db:         db,
		logger:     logger,
		gateway:    gateway,
		intents:    intents,
		settlement: settlement,
	}
}

// Handle processes one notification end to end. The signature check runs
// against the posted body; everything after it trusts only the re-fetched
// gateway status.
func (h *NotificationHandler) Handle(ctx context.Context, notif Notification) (*Result, error) {
	if !h.gateway.VerifySignature(notif.OrderID, notif.StatusCode, notif.GrossAmount, notif.SignatureKey) {
		h.logger.WithFields(logging.Fields{
			"order_id":    notif.OrderID,
			"status_code": notif.StatusCode,
		}).Error("Rejected notification with invalid signature")
		return nil, ErrInvalidSignature
	}

	status, err := h.gateway.GetTransactionStatus(ctx, notif.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	h.recordGatewayEvent(ctx, status)

	mapped := MapTransactionStatus(status.TransactionStatus, status.FraudStatus)

	intent, err := h.intents.GetByProviderRef(ctx, notif.OrderID)
	if err != nil {
		return nil, err
	}

	// A verified notification whose amount disagrees with our intent points
	// at a gateway-side edit. Settlement still follows the intent amount.
	if status.GrossAmount != "" && status.GrossAmount != billing.FormatGrossAmount(intent.Amount) {
		h.logger.WithFields(logging.Fields{
			"order_id":       notif.OrderID,
			"intent_amount":  intent.Amount,
			"gateway_amount": status.GrossAmount,
		}).Warn("Gateway gross amount does not match intent")
	}

	if mapped != models.IntentStatusPaid {
		if mapped != models.IntentStatusPending {
			if err := h.intents.MarkStatus(ctx, intent.ID, mapped); err != nil {
				return nil, err
			}
		}
		h.logger.WithFields(logging.Fields{
			"order_id": notif.OrderID,
			"status":   mapped,
		}).Info("Recorded non-success notification")
		return &Result{Status: mapped, Action: "recorded"}, nil
	}

	switch intent.Kind {
	case models.IntentKindTopup:
		credited, err := h.settlement.SettleTopupPaid(ctx, intent)
		if err != nil {
			return nil, err
		}
		if !credited {
			return &Result{Status: mapped, Action: "already_credited"}, nil
		}
		return &Result{Status: mapped, Action: "credited"}, nil

	case models.IntentKindSubscription:
		settled, err := h.settlement.SettleSubscriptionPaid(ctx, intent)
		if err != nil {
			return nil, err
		}
		if !settled {
			return &Result{Status: mapped, Action: "already_settled"}, nil
		}
		return &Result{Status: mapped, Action: "activated"}, nil

	default:
		h.logger.WithFields(logging.Fields{
			"order_id": notif.OrderID,
			"kind":     intent.Kind,
		}).Warn("Ignoring paid notification for unknown intent kind")
		return &Result{Status: mapped, Action: "ignored"}, nil
	}
}

// recordGatewayEvent writes the verified status response to the audit table.
// Best-effort: duplicates and write failures are logged, never propagated.
func (h *NotificationHandler) recordGatewayEvent(ctx context.Context, status *midtrans.StatusResponse) {
	eventID := status.TransactionID
	if eventID == "" {
		eventID = status.OrderID + ":" + status.TransactionStatus
	}

	payload := models.JSONB{
		"transaction_status": status.TransactionStatus,
		"fraud_status":       status.FraudStatus,
		"status_code":        status.StatusCode,
		"gross_amount":       status.GrossAmount,
		"payment_type":       status.PaymentType,
		"transaction_time":   status.TransactionTime,
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO bursar.gateway_events (provider, event_id, order_id, payload)
		VALUES ('midtrans', $1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, eventID, status.OrderID, payload)
	if err != nil {
		h.logger.WithError(err).WithField("order_id", status.OrderID).
			Warn("Failed to record gateway event")
	}
}
