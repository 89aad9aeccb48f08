package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"panelworks/api_tokens/internal/midtrans"
	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

// ErrGateway wraps payment gateway failures so handlers can map them to one
// error code regardless of the underlying cause.
var ErrGateway = errors.New("payment gateway error")

// Gateway is the slice of the Midtrans client the payments package uses.
type Gateway interface {
	CreateSnapTransaction(ctx context.Context, params midtrans.SnapTransactionParams) (*midtrans.SnapTransaction, error)
	GetTransactionStatus(ctx context.Context, orderID string) (*midtrans.StatusResponse, error)
	VerifySignature(orderID, statusCode, grossAmount, signature string) bool
}

// Customer identifies the paying user on the hosted payment page.
type Customer struct {
	Name  string
	Email string
}

// CheckoutResult carries the gateway handle for a freshly created intent.
type CheckoutResult struct {
	IntentID    string
	OrderID     string
	Token       string
	RedirectURL string
}

// CheckoutService creates payment intents and their hosted checkout pages.
type CheckoutService struct {
	logger    logging.Logger
	intents   *IntentStore
	gateway   Gateway
	prices    *PriceTable
	finishURL string
}

// NewCheckoutService creates a checkout service. finishURL is where the
// customer lands after paying; empty disables the callback.
func NewCheckoutService(logger logging.Logger, intents *IntentStore, gateway Gateway, prices *PriceTable, finishURL string) *CheckoutService {
	return &CheckoutService{
		logger:    logger,
		intents:   intents,
		gateway:   gateway,
		prices:    prices,
		finishURL: finishURL,
	}
}

// Prices exposes the injected price table for read-only catalog views.
func (s *CheckoutService) Prices() *PriceTable {
	return s.prices
}

// CreateSubscriptionCheckout validates the plan, records a pending intent,
// and opens a Snap transaction for it.
func (s *CheckoutService) CreateSubscriptionCheckout(ctx context.Context, workspaceID string, customer Customer, planCode, interval string, isRenewal bool) (*CheckoutResult, error) {
	interval = strings.ToLower(interval)
	price, err := s.prices.PlanPrice(planCode, interval)
	if err != nil {
		return nil, err
	}

	meta := SubscriptionMeta{PlanCode: planCode, Interval: interval, IsRenewal: isRenewal}
	orderRef := NewOrderRef(models.IntentKindSubscription)
	intent, err := s.intents.Create(ctx, workspaceID, models.IntentKindSubscription, price, orderRef, meta.toJSONB())
	if err != nil {
		return nil, err
	}

	plan := s.prices.Plans[planCode]
	itemName := fmt.Sprintf("%s plan (%s)", plan.Name, interval)
	return s.openSnap(ctx, intent, customer, itemName)
}

// CreateTopupCheckout validates the package, records a pending intent with
// the token amount frozen into its meta, and opens a Snap transaction.
func (s *CheckoutService) CreateTopupCheckout(ctx context.Context, workspaceID string, customer Customer, packageID string) (*CheckoutResult, error) {
	pkg, err := s.prices.LookupPackage(packageID)
	if err != nil {
		return nil, err
	}

	meta := TopupMeta{PackageID: pkg.ID, TokenAmount: pkg.Tokens}
	orderRef := NewOrderRef(models.IntentKindTopup)
	intent, err := s.intents.Create(ctx, workspaceID, models.IntentKindTopup, pkg.Price, orderRef, meta.toJSONB())
	if err != nil {
		return nil, err
	}

	return s.openSnap(ctx, intent, customer, pkg.Name)
}

// openSnap asks the gateway for a hosted checkout page. A gateway failure
// marks the intent failed but keeps the row for audit.
func (s *CheckoutService) openSnap(ctx context.Context, intent *models.PaymentIntent, customer Customer, itemName string) (*CheckoutResult, error) {
	params := midtrans.SnapTransactionParams{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:     intent.ProviderRef,
			GrossAmount: intent.Amount,
		},
		ItemDetails: []midtrans.ItemDetail{{
			ID:       intent.Kind,
			Name:     itemName,
			Price:    intent.Amount,
			Quantity: 1,
		}},
		Expiry: &midtrans.SnapExpiry{Unit: "hour", Duration: 24},
	}
	if customer.Name != "" || customer.Email != "" {
		params.CustomerDetails = &midtrans.CustomerDetails{FirstName: customer.Name, Email: customer.Email}
	}
	if s.finishURL != "" {
		params.Callbacks = &midtrans.SnapCallbacks{Finish: s.finishURL}
	}

	snap, err := s.gateway.CreateSnapTransaction(ctx, params)
	if err != nil {
		if markErr := s.intents.MarkStatus(ctx, intent.ID, models.IntentStatusFailed); markErr != nil {
			s.logger.WithError(markErr).WithField("intent_id", intent.ID).
				Error("Failed to mark intent failed after gateway error")
		}
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if err := s.intents.SetCheckoutURL(ctx, intent.ID, snap.RedirectURL); err != nil {
		// The customer already has a payable page; losing the URL copy is
		// recoverable from the gateway dashboard.
		s.logger.WithError(err).WithField("intent_id", intent.ID).
			Warn("Failed to persist checkout URL")
	}

	s.logger.WithFields(logging.Fields{
		"workspace_id": intent.WorkspaceID,
		"kind":         intent.Kind,
		"order_id":     intent.ProviderRef,
		"amount":       intent.Amount,
	}).Info("Created checkout")

	return &CheckoutResult{
		IntentID:    intent.ID,
		OrderID:     intent.ProviderRef,
		Token:       snap.Token,
		RedirectURL: snap.RedirectURL,
	}, nil
}
