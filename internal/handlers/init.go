package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"panelworks/api_tokens/internal/ledger"
	"panelworks/api_tokens/internal/payments"
	"panelworks/api_tokens/pkg/logging"
)

var (
	logger        logging.Logger
	metrics       *BursarMetrics
	usageService  *ledger.UsageService
	settingsStore *ledger.SettingsStore
	consumer      *ledger.Consumer
	checkout      *payments.CheckoutService
	intentStore   *payments.IntentStore
	notifications *payments.NotificationHandler
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	TokenDebits              *prometheus.CounterVec
	TopupSettlements         *prometheus.CounterVec
	WebhookSignatureFailures *prometheus.CounterVec
	DBQueries                *prometheus.CounterVec
	DBDuration               *prometheus.HistogramVec
	DBConnections            *prometheus.GaugeVec
}

// RecordDebit implements ledger.DebitRecorder. Called after a debit commits,
// never on failure paths.
func (m *BursarMetrics) RecordDebit(featureKey string, tokens int64) {
	if featureKey == "" {
		featureKey = "unknown"
	}
	m.TokenDebits.WithLabelValues(featureKey).Add(float64(tokens))
}

// Services bundles the domain services the handlers dispatch to.
type Services struct {
	Usage         *ledger.UsageService
	Settings      *ledger.SettingsStore
	Consumer      *ledger.Consumer
	Checkout      *payments.CheckoutService
	Intents       *payments.IntentStore
	Notifications *payments.NotificationHandler
}

// Init initializes the handlers with logger, metrics, and services
func Init(log logging.Logger, bursarMetrics *BursarMetrics, services Services) {
	logger = log
	metrics = bursarMetrics
	usageService = services.Usage
	settingsStore = services.Settings
	consumer = services.Consumer
	checkout = services.Checkout
	intentStore = services.Intents
	notifications = services.Notifications
}
