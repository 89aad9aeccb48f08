package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

// ErrIntentNotFound is returned when no intent matches a gateway order id.
var ErrIntentNotFound = errors.New("payment intent not found")

// SubscriptionMeta is the typed meta payload of a subscription intent.
type SubscriptionMeta struct {
	PlanCode  string
	Interval  string
	IsRenewal bool
}

// TopupMeta is the typed meta payload of a topup intent.
type TopupMeta struct {
	PackageID   string
	TokenAmount int64
}

func (m SubscriptionMeta) toJSONB() models.JSONB {
	return models.JSONB{
		"plan_code":  m.PlanCode,
		"interval":   m.Interval,
		"is_renewal": m.IsRenewal,
	}
}

func (m TopupMeta) toJSONB() models.JSONB {
	return models.JSONB{
		"package_id":   m.PackageID,
		"token_amount": m.TokenAmount,
	}
}

// SubscriptionMetaOf decodes the typed meta of a subscription intent.
func SubscriptionMetaOf(intent *models.PaymentIntent) (SubscriptionMeta, error) {
	meta := SubscriptionMeta{}
	planCode, ok := intent.Meta["plan_code"].(string)
	if !ok || planCode == "" {
		return meta, fmt.Errorf("intent %s missing plan_code meta", intent.ID)
	}
	meta.PlanCode = planCode
	meta.Interval, _ = intent.Meta["interval"].(string)
	if meta.Interval == "" {
		meta.Interval = IntervalMonthly
	}
	meta.IsRenewal, _ = intent.Meta["is_renewal"].(bool)
	return meta, nil
}

// TopupMetaOf decodes the typed meta of a topup intent. The token amount was
// fixed at checkout time, so later catalog changes never alter a settlement.
func TopupMetaOf(intent *models.PaymentIntent) (TopupMeta, error) {
	meta := TopupMeta{}
	meta.PackageID, _ = intent.Meta["package_id"].(string)
	// JSONB round-trips numbers as float64.
	amount, ok := intent.Meta["token_amount"].(float64)
	if !ok || amount <= 0 {
		return meta, fmt.Errorf("intent %s missing token_amount meta", intent.ID)
	}
	meta.TokenAmount = int64(amount)
	return meta, nil
}

// IntentStore persists payment intents.
type IntentStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewIntentStore creates an intent store
func NewIntentStore(db *sql.DB, logger logging.Logger) *IntentStore {
	return &IntentStore{db: db, logger: logger}
}

// NewOrderRef mints a globally unique gateway order id for an intent kind.
func NewOrderRef(kind string) string {
	prefix := "top"
	if kind == models.IntentKindSubscription {
		prefix = "sub"
	}
	return prefix + "-" + uuid.New().String()
}

// Create inserts a pending intent and returns it.
func (s *IntentStore) Create(ctx context.Context, workspaceID, kind string, amount int64, providerRef string, meta models.JSONB) (*models.PaymentIntent, error) {
	intent := &models.PaymentIntent{
		WorkspaceID: workspaceID,
		Kind:        kind,
		Amount:      amount,
		Status:      models.IntentStatusPending,
		Provider:    "midtrans",
		ProviderRef: providerRef,
		Meta:        meta,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bursar.payment_intents (workspace_id, kind, amount, status, provider, provider_ref, meta)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6)
		RETURNING id, created_at
	`, workspaceID, kind, amount, intent.Provider, providerRef, meta).Scan(&intent.ID, &intent.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return intent, nil
}

// GetByProviderRef loads an intent by its gateway order id.
func (s *IntentStore) GetByProviderRef(ctx context.Context, providerRef string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, kind, amount, status, provider, provider_ref, checkout_url, meta, created_at, updated_at, paid_at
		FROM bursar.payment_intents
		WHERE provider_ref = $1
	`, providerRef).Scan(&intent.ID, &intent.WorkspaceID, &intent.Kind, &intent.Amount, &intent.Status,
		&intent.Provider, &intent.ProviderRef, &intent.CheckoutURL, &intent.Meta,
		&intent.CreatedAt, &intent.UpdatedAt, &intent.PaidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	return &intent, nil
}

// ListByWorkspace returns a workspace's intents, newest first.
func (s *IntentStore) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]models.PaymentIntent, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, kind, amount, status, provider, provider_ref, checkout_url, meta, created_at, updated_at, paid_at
		FROM bursar.payment_intents
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	defer rows.Close()

	var intents []models.PaymentIntent
	for rows.Next() {
		var intent models.PaymentIntent
		err := rows.Scan(&intent.ID, &intent.WorkspaceID, &intent.Kind, &intent.Amount, &intent.Status,
			&intent.Provider, &intent.ProviderRef, &intent.CheckoutURL, &intent.Meta,
			&intent.CreatedAt, &intent.UpdatedAt, &intent.PaidAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment intent: %w", err)
		}
		intents = append(intents, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read payment intents: %w", err)
	}

	return intents, nil
}

// SetCheckoutURL records the hosted payment page URL after the gateway
// accepts the transaction.
func (s *IntentStore) SetCheckoutURL(ctx context.Context, intentID, url string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bursar.payment_intents SET checkout_url = $1, updated_at = NOW()
		WHERE id = $2
	`, url, intentID)
	if err != nil {
		return fmt.Errorf("failed to store checkout URL: %w", err)
	}
	return nil
}

// MarkStatus moves a pending intent to a non-paid terminal or transient
// status. Paid settlement goes through the Settlement service instead, so the
// status flip and the wallet credit share one transaction.
func (s *IntentStore) MarkStatus(ctx context.Context, intentID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bursar.payment_intents SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, status, intentID)
	if err != nil {
		return fmt.Errorf("failed to update intent status: %w", err)
	}
	return nil
}

// ExpireOlderThan sweeps pending intents created more than maxAgeHours ago to
// expired, returning how many rows moved.
func (s *IntentStore) ExpireOlderThan(ctx context.Context, maxAgeHours int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bursar.payment_intents SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND created_at < NOW() - ($1 * INTERVAL '1 hour')
	`, maxAgeHours)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale intents: %w", err)
	}
	expired, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return expired, nil
}
