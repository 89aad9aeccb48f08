package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB is a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Ledger entry types
const (
	EntryTypeGrant      = "grant"
	EntryTypeTopup      = "topup"
	EntryTypeSpend      = "spend"
	EntryTypeAdjustment = "adjustment"
)

// Ledger entry statuses
const (
	EntryStatusPending   = "pending"
	EntryStatusPosted    = "posted"
	EntryStatusCompleted = "completed"
)

// Payment intent kinds
const (
	IntentKindSubscription = "subscription"
	IntentKindTopup        = "topup"
)

// Payment intent statuses
const (
	IntentStatusPending = "pending"
	IntentStatusPaid    = "paid"
	IntentStatusFailed  = "failed"
	IntentStatusExpired = "expired"
)

// Wallet represents a workspace token wallet
type Wallet struct {
	ID          string     `json:"id" db:"id"`
	WorkspaceID string     `json:"workspace_id" db:"workspace_id"`
	Balance     int64      `json:"balance" db:"balance"`
	MonthlyCap  *int64     `json:"monthly_cap,omitempty" db:"monthly_cap"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// LedgerEntry represents an append-only token ledger row. Posted entries are
// never mutated; corrections are new adjustment entries.
type LedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	Tokens      int64     `json:"tokens" db:"tokens"` // negative = spend
	EntryType   string    `json:"entry_type" db:"entry_type"`
	Status      string    `json:"status" db:"status"`
	Reason      string    `json:"reason" db:"reason"`
	FeatureKey  *string   `json:"feature_key,omitempty" db:"feature_key"`
	RefType     *string   `json:"ref_type,omitempty" db:"ref_type"`
	RefID       *string   `json:"ref_id,omitempty" db:"ref_id"`
	Note        *string   `json:"note,omitempty" db:"note"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TokenSettings represents per-workspace spending controls
type TokenSettings struct {
	WorkspaceID    string     `json:"workspace_id" db:"workspace_id"`
	MonthlyCap     *int64     `json:"monthly_cap,omitempty" db:"monthly_cap"` // nil = unlimited
	AlertThreshold int        `json:"alert_threshold" db:"alert_threshold"`   // percent of cap
	HardCap        bool       `json:"hard_cap" db:"hard_cap"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// PaymentIntent represents one attempted purchase through the payment gateway
type PaymentIntent struct {
	ID          string     `json:"id" db:"id"`
	WorkspaceID string     `json:"workspace_id" db:"workspace_id"`
	Kind        string     `json:"kind" db:"kind"`
	Amount      int64      `json:"amount" db:"amount"` // whole IDR
	Status      string     `json:"status" db:"status"`
	Provider    string     `json:"provider" db:"provider"`
	ProviderRef string     `json:"provider_ref" db:"provider_ref"` // gateway order id
	CheckoutURL *string    `json:"checkout_url,omitempty" db:"checkout_url"`
	Meta        JSONB      `json:"meta,omitempty" db:"meta"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" db:"updated_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}

// Subscription represents a workspace plan subscription
type Subscription struct {
	ID                 string     `json:"id" db:"id"`
	WorkspaceID        string     `json:"workspace_id" db:"workspace_id"`
	PlanID             string     `json:"plan_id" db:"plan_id"`
	Status             string     `json:"status" db:"status"`
	BillingMode        string     `json:"billing_mode" db:"billing_mode"`
	SeatLimit          int        `json:"seat_limit" db:"seat_limit"` // -1 = unlimited
	CurrentPeriodStart time.Time  `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end" db:"current_period_end"`
	ProviderRef        *string    `json:"provider_ref,omitempty" db:"provider_ref"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// GatewayEvent is the audit record of a verified gateway notification
type GatewayEvent struct {
	ID        string    `json:"id" db:"id"`
	Provider  string    `json:"provider" db:"provider"`
	EventID   string    `json:"event_id" db:"event_id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	Payload   JSONB     `json:"payload,omitempty" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
