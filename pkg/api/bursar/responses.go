package bursar

import "panelworks/api_tokens/pkg/models"

// TokenOverviewResponse summarizes a workspace's balance and month-to-date spend
type TokenOverviewResponse struct {
	WorkspaceID    string   `json:"workspace_id"`
	Month          string   `json:"month"` // YYYY-MM, UTC
	Balance        int64    `json:"balance"`
	MonthlyCap     *int64   `json:"monthly_cap"` // null = unlimited
	Used           int64    `json:"used"`
	Remaining      *int64   `json:"remaining"`    // null when cap is unlimited
	PercentUsed    *float64 `json:"percent_used"` // null when cap is unlimited
	AlertThreshold int      `json:"alert_threshold"`
	HardCap        bool     `json:"hard_cap"`
	Status         string   `json:"status"` // normal, warning, critical
}

// DailyUsage is one day of spend within a month
type DailyUsage struct {
	Date   string `json:"date"` // YYYY-MM-DD, UTC
	Tokens int64  `json:"tokens"`
}

// UsageResponse reports aggregated spend for one calendar month
type UsageResponse struct {
	WorkspaceID string       `json:"workspace_id"`
	Month       string       `json:"month"`
	Used        int64        `json:"used"`
	Daily       []DailyUsage `json:"daily"`
}

// HistoryResponse is a page of ledger entries, newest first
type HistoryResponse struct {
	Entries []models.LedgerEntry `json:"entries"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// UpdateSettingsRequest patches workspace spending controls. Nil fields are
// left unchanged; a monthly cap <= 0 clears the cap (unlimited).
type UpdateSettingsRequest struct {
	MonthlyCap     *int64 `json:"monthly_cap"`
	AlertThreshold *int   `json:"alert_threshold"`
	HardCap        *bool  `json:"hard_cap"`
}

// ConsumeRequest debits tokens for a feature invocation
type ConsumeRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Cost        int64  `json:"cost" binding:"required"`
	FeatureKey  string `json:"feature_key" binding:"required"`
	RefType     string `json:"ref_type,omitempty"`
	RefID       string `json:"ref_id,omitempty"`
	Note        string `json:"note,omitempty"`
}

// ConsumeResponse reports the outcome of a consume or require call
type ConsumeResponse struct {
	OK       bool                   `json:"ok"`
	Balance  int64                  `json:"balance"`
	Code     string                 `json:"code,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SubscriptionCheckoutRequest starts a plan purchase
type SubscriptionCheckoutRequest struct {
	PlanCode  string `json:"plan_code" binding:"required"`
	Interval  string `json:"interval" binding:"required"` // monthly or yearly
	IsRenewal bool   `json:"is_renewal,omitempty"`
}

// TopupCheckoutRequest starts a token package purchase
type TopupCheckoutRequest struct {
	PackageID string `json:"package_id" binding:"required"`
}

// CheckoutResponse carries the gateway redirect for a created payment intent
type CheckoutResponse struct {
	OK          bool   `json:"ok"`
	OrderID     string `json:"order_id,omitempty"`
	Token       string `json:"token,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// IntentsResponse lists a workspace's payment intents, newest first
type IntentsResponse struct {
	Intents []models.PaymentIntent `json:"intents"`
}

// CatalogPlan is one subscription tier in the public catalog
type CatalogPlan struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	MonthlyPrice int64  `json:"monthly_price"`
	YearlyPrice  int64  `json:"yearly_price"`
	SeatLimit    int    `json:"seat_limit"` // -1 = unlimited
	WelcomeGrant int64  `json:"welcome_grant"`
}

// CatalogPackage is one token bundle in the public catalog
type CatalogPackage struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Tokens int64  `json:"tokens"`
}

// CatalogResponse lists purchasable plans and token packages
type CatalogResponse struct {
	Currency string           `json:"currency"`
	Plans    []CatalogPlan    `json:"plans"`
	Packages []CatalogPackage `json:"packages"`
}

// WebhookResponse acknowledges a gateway notification
type WebhookResponse struct {
	Status  string `json:"status"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}
