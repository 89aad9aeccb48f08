package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"panelworks/api_tokens/internal/midtrans"
	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

type fakeGateway struct {
	validSignature bool
	status         *midtrans.StatusResponse
	statusErr      error
	snap           *midtrans.SnapTransaction
	snapErr        error
}

func (f *fakeGateway) CreateSnapTransaction(_ context.Context, _ midtrans.SnapTransactionParams) (*midtrans.SnapTransaction, error) {
	return f.snap, f.snapErr
}

func (f *fakeGateway) GetTransactionStatus(_ context.Context, _ string) (*midtrans.StatusResponse, error) {
	return f.status, f.statusErr
}

func (f *fakeGateway) VerifySignature(_, _, _, _ string) bool {
	return f.validSignature
}

func newNotificationHandler(t *testing.T, gateway Gateway) (*NotificationHandler, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	logger := logging.NewLogger()
	intents := NewIntentStore(mockDB, logger)
	settlement := NewSettlement(mockDB, logger, DefaultPriceTable())
	return NewNotificationHandler(mockDB, logger, gateway, intents, settlement), mock, func() { mockDB.Close() }
}

func notificationFor(orderID string) Notification {
	return Notification{
		OrderID:           orderID,
		TransactionID:     uuid.New().String(),
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "100000.00",
		SignatureKey:      "deadbeef",
	}
}

func settledStatus(orderID string) *midtrans.StatusResponse {
	return &midtrans.StatusResponse{
		OrderID:           orderID,
		TransactionID:     uuid.New().String(),
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "100000.00",
		PaymentType:       "qris",
	}
}

func intentColumns() []string {
	return []string{"id", "workspace_id", "kind", "amount", "status", "provider", "provider_ref",
		"checkout_url", "meta", "created_at", "updated_at", "paid_at"}
}

func expectGatewayEventInsert(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`INSERT INTO bursar.gateway_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestHandle_InvalidSignatureSettlesNothing(t *testing.T) {
	handler, mock, closeDB := newNotificationHandler(t, &fakeGateway{validSignature: false})
	defer closeDB()

	_, err := handler.Handle(context.Background(), notificationFor("top-abc"))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// No queries at all: the gateway was never asked and nothing was written.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandle_GatewayStatusFailurePropagates(t *testing.T) {
	handler, _, closeDB := newNotificationHandler(t, &fakeGateway{
		validSignature: true,
		statusErr:      errors.New("connection refused"),
	})
	defer closeDB()

	_, err := handler.Handle(context.Background(), notificationFor("top-abc"))
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
}

func TestHandle_PaidTopupCredits(t *testing.T) {
	workspaceID := uuid.New().String()
	intentID := uuid.New().String()
	orderID := NewOrderRef(models.IntentKindTopup)

	handler, mock, closeDB := newNotificationHandler(t, &fakeGateway{
		validSignature: true,
		status:         settledStatus(orderID),
	})
	defer closeDB()

	expectGatewayEventInsert(mock)
	mock.ExpectQuery(`SELECT id, workspace_id, kind, amount, status`).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(intentColumns()).
			AddRow(intentID, workspaceID, "topup", int64(100_000), "pending", "midtrans", orderID,
				nil, []byte(`{"package_id":"pkg_100k","token_amount":105000}`), time.Now(), nil, nil))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar.wallets`).
		WithArgs(workspaceID, int64(105_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO bursar.token_ledger`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := handler.Handle(context.Background(), notificationFor(orderID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.IntentStatusPaid || result.Action != "credited" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandle_DuplicateSuccessCreditsOnce(t *testing.T) {
	workspaceID := uuid.New().String()
	intentID := uuid.New().String()
	orderID := NewOrderRef(models.IntentKindTopup)

	handler, mock, closeDB := newNotificationHandler(t, &fakeGateway{
		validSignature: true,
		status:         settledStatus(orderID),
	})
	defer closeDB()

	expectGatewayEventInsert(mock)
	mock.ExpectQuery(`SELECT id, workspace_id, kind, amount, status`).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(intentColumns()).
			AddRow(intentID, workspaceID, "topup", int64(100_000), "paid", "midtrans", orderID,
				nil, []byte(`{"package_id":"pkg_100k","token_amount":105000}`), time.Now(), nil, nil))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(intentID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := handler.Handle(context.Background(), notificationFor(orderID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != "already_credited" {
		t.Fatalf("expected already_credited, got %q", result.Action)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandle_ExpiredNotificationMarksIntent(t *testing.T) {
	workspaceID := uuid.New().String()
	intentID := uuid.New().String()
	orderID := NewOrderRef(models.IntentKindSubscription)

	status := settledStatus(orderID)
	status.TransactionStatus = "expire"

	handler, mock, closeDB := newNotificationHandler(t, &fakeGateway{
		validSignature: true,
		status:         status,
	})
	defer closeDB()

	expectGatewayEventInsert(mock)
	mock.ExpectQuery(`SELECT id, workspace_id, kind, amount, status`).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(intentColumns()).
			AddRow(intentID, workspaceID, "subscription", int64(99_000), "pending", "midtrans", orderID,
				nil, []byte(`{"plan_code":"starter","interval":"monthly","is_renewal":false}`), time.Now(), nil, nil))
	mock.ExpectExec(`UPDATE bursar.payment_intents`).
		WithArgs(models.IntentStatusExpired, intentID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := handler.Handle(context.Background(), notificationFor(orderID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.IntentStatusExpired || result.Action != "recorded" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandle_MissingIntentIsAnError(t *testing.T) {
	orderID := NewOrderRef(models.IntentKindTopup)

	handler, mock, closeDB := newNotificationHandler(t, &fakeGateway{
		validSignature: true,
		status:         settledStatus(orderID),
	})
	defer closeDB()

	expectGatewayEventInsert(mock)
	mock.ExpectQuery(`SELECT id, workspace_id, kind, amount, status`).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows(intentColumns()))

	_, err := handler.Handle(context.Background(), notificationFor(orderID))
	if !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}
}

func TestMapTransactionStatus(t *testing.T) {
	cases := []struct {
		transaction string
		fraud       string
		want        string
	}{
		{"capture", "accept", models.IntentStatusPaid},
		{"capture", "challenge", models.IntentStatusPending},
		{"settlement", "", models.IntentStatusPaid},
		{"expire", "", models.IntentStatusExpired},
		{"deny", "", models.IntentStatusFailed},
		{"cancel", "", models.IntentStatusFailed},
		{"pending", "", models.IntentStatusPending},
		{"refund", "", models.IntentStatusPending},
	}

	for _, tc := range cases {
		if got := MapTransactionStatus(tc.transaction, tc.fraud); got != tc.want {
			t.Errorf("MapTransactionStatus(%q, %q) = %q, want %q", tc.transaction, tc.fraud, got, tc.want)
		}
	}
}
