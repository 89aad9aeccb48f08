package payments

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"panelworks/api_tokens/internal/ledger"
	"panelworks/api_tokens/pkg/logging"
)

// TestWalletBalanceConservation replays a workspace lifecycle (welcome grant,
// debit, topup, debit) against one mock connection and checks that the final
// balance equals the sum of all ledger entries, with every intermediate write
// carrying the running balance.
func TestWalletBalanceConservation(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	logger := logging.NewLogger()
	prices := DefaultPriceTable()
	wallets := ledger.NewWalletStore(mockDB, logger, prices.Grants)
	settings := ledger.NewSettingsStore(mockDB, logger)
	consumer := ledger.NewConsumer(mockDB, logger, wallets, settings, nil)
	settlement := NewSettlement(mockDB, logger, prices)

	workspaceID := uuid.New().String()
	var entries []int64
	balance := int64(0)

	walletRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "workspace_id", "balance", "monthly_cap", "created_at", "updated_at"}).
			AddRow(uuid.New().String(), workspaceID, balance, nil, time.Now(), nil)
	}
	expectNoCapSettings := func() {
		mock.ExpectQuery(`SELECT workspace_id, monthly_cap, alert_threshold, hard_cap, updated_at`).
			WithArgs(workspaceID).
			WillReturnRows(sqlmock.NewRows([]string{"workspace_id", "monthly_cap", "alert_threshold", "hard_cap", "updated_at"}).
				AddRow(workspaceID, nil, 80, false, nil))
	}

	// First access creates the wallet with the starter welcome grant.
	grant := prices.Grants["starter"]
	mock.ExpectQuery(`SELECT id, workspace_id, balance, monthly_cap, created_at, updated_at`).
		WithArgs(workspaceID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT plan_id FROM bursar.subscriptions`).
		WithArgs(workspaceID).
		WillReturnRows(sqlmock.NewRows([]string{"plan_id"}).AddRow("starter"))
	mock.ExpectBegin()
	balance += grant
	entries = append(entries, grant)
	mock.ExpectQuery(`INSERT INTO bursar.wallets`).
		WithArgs(workspaceID, grant).
		WillReturnRows(walletRow())
	mock.ExpectExec(`INSERT INTO bursar.token_ledger`).
		WithArgs(workspaceID, grant, "Welcome grant for starter plan").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := wallets.GetOrCreate(context.Background(), workspaceID); err != nil {
		t.Fatalf("wallet creation failed: %v", err)
	}

	consume := func(cost int64, feature string) {
		mock.ExpectQuery(`SELECT id, workspace_id, balance, monthly_cap, created_at, updated_at`).
			WithArgs(workspaceID).
			WillReturnRows(walletRow())
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT balance FROM bursar.wallets(.|\n)*FOR UPDATE`).
			WithArgs(workspaceID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(balance))
		expectNoCapSettings()
		balance -= cost
		entries = append(entries, -cost)
		mock.ExpectExec(`UPDATE bursar.wallets`).
			WithArgs(balance, workspaceID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO bursar.token_ledger`).
			WithArgs(workspaceID, -cost, "Feature usage", feature, nil, nil, nil, "svc").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		got, err := consumer.Consume(context.Background(), ledger.ConsumeParams{
			WorkspaceID: workspaceID,
			Cost:        cost,
			FeatureKey:  feature,
			Actor:       "svc",
		})
		if err != nil {
			t.Fatalf("consume %d failed: %v", cost, err)
		}
		if got != balance {
			t.Fatalf("expected balance %d after spend, got %d", balance, got)
		}
	}

	consume(1200, "ai_reply")

	// A paid topup credits the purchased tokens on top of what is left.
	intent := topupIntent(workspaceID)
	credit := int64(105_000)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	balance += credit
	entries = append(entries, credit)
	mock.ExpectExec(`INSERT INTO bursar.wallets`).
		WithArgs(workspaceID, credit).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar.token_ledger`).
		WithArgs(workspaceID, credit, "Token topup (pkg_100k)", intent.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := settlement.SettleTopupPaid(context.Background(), intent)
	if err != nil {
		t.Fatalf("topup settlement failed: %v", err)
	}
	if !credited {
		t.Fatal("expected topup to credit")
	}

	consume(800, "broadcast")

	var sum int64
	for _, tokens := range entries {
		sum += tokens
	}
	if sum != balance {
		t.Fatalf("ledger entries sum to %d but balance is %d", sum, balance)
	}
	if want := grant + credit - 1200 - 800; balance != want {
		t.Fatalf("expected final balance %d, got %d", want, balance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
