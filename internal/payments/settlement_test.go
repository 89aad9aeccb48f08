package payments

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

func newSettlement(t *testing.T) (*Settlement, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewSettlement(mockDB, logging.NewLogger(), DefaultPriceTable()), mock, func() { mockDB.Close() }
}

func topupIntent(workspaceID string) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Kind:        models.IntentKindTopup,
		Amount:      100_000,
		Status:      models.IntentStatusPending,
		Provider:    "midtrans",
		ProviderRef: NewOrderRef(models.IntentKindTopup),
		Meta:        models.JSONB{"package_id": "pkg_100k", "token_amount": float64(105_000)},
	}
}

func subscriptionIntent(workspaceID string, renewal bool) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Kind:        models.IntentKindSubscription,
		Amount:      299_000,
		Status:      models.IntentStatusPending,
		Provider:    "midtrans",
		ProviderRef: NewOrderRef(models.IntentKindSubscription),
		Meta:        models.JSONB{"plan_code": "growth", "interval": "monthly", "is_renewal": renewal},
	}
}

func TestSettleTopupPaid_CreditsOnce(t *testing.T) {
	settlement, mock, closeDB := newSettlement(t)
	defer closeDB()

	intent := topupIntent(uuid.New().String())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar.wallets`).
		WithArgs(intent.WorkspaceID, int64(105_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar.token_ledger`).
		WithArgs(intent.WorkspaceID, int64(105_000), "Token topup (pkg_100k)", intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := settlement.SettleTopupPaid(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !credited {
		t.Fatal("expected first settlement to credit")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleTopupPaid_ReplayIsNoOp(t *testing.T) {
	settlement, mock, closeDB := newSettlement(t)
	defer closeDB()

	intent := topupIntent(uuid.New().String())

	// The conditional claim finds the intent already paid; no wallet write,
	// no ledger write.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	credited, err := settlement.SettleTopupPaid(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credited {
		t.Fatal("replayed settlement must not credit again")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleTopupPaid_RejectsMissingTokenAmount(t *testing.T) {
	settlement, _, closeDB := newSettlement(t)
	defer closeDB()

	intent := topupIntent(uuid.New().String())
	intent.Meta = models.JSONB{"package_id": "pkg_100k"}

	if _, err := settlement.SettleTopupPaid(context.Background(), intent); err == nil {
		t.Fatal("expected error for intent without token_amount meta")
	}
}

func TestSettleSubscriptionPaid_Activates(t *testing.T) {
	settlement, mock, closeDB := newSettlement(t)
	defer closeDB()

	intent := subscriptionIntent(uuid.New().String(), false)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar.subscriptions`).
		WithArgs(intent.WorkspaceID, "growth", 15, 1, intent.ProviderRef).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	settled, err := settlement.SettleSubscriptionPaid(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !settled {
		t.Fatal("expected activation to settle")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleSubscriptionPaid_RenewalExtendsExistingRow(t *testing.T) {
	settlement, mock, closeDB := newSettlement(t)
	defer closeDB()

	intent := subscriptionIntent(uuid.New().String(), true)
	intent.Meta["interval"] = "yearly"

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar.subscriptions`).
		WithArgs(12, intent.ProviderRef, intent.WorkspaceID, "growth").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	settled, err := settlement.SettleSubscriptionPaid(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !settled {
		t.Fatal("expected renewal to settle")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleSubscriptionPaid_RenewalWithoutRowActivates(t *testing.T) {
	settlement, mock, closeDB := newSettlement(t)
	defer closeDB()

	intent := subscriptionIntent(uuid.New().String(), true)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bursar.subscriptions`).
		WithArgs(1, intent.ProviderRef, intent.WorkspaceID, "growth").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO bursar.subscriptions`).
		WithArgs(intent.WorkspaceID, "growth", 15, 1, intent.ProviderRef).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	settled, err := settlement.SettleSubscriptionPaid(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !settled {
		t.Fatal("expected fallback activation to settle")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleSubscriptionPaid_ReplayIsNoOp(t *testing.T) {
	settlement, mock, closeDB := newSettlement(t)
	defer closeDB()

	intent := subscriptionIntent(uuid.New().String(), false)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	settled, err := settlement.SettleSubscriptionPaid(context.Background(), intent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settled {
		t.Fatal("replayed settlement must not touch the subscription")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
