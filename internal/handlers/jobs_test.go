package handlers

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"panelworks/api_tokens/internal/payments"
	"panelworks/api_tokens/pkg/logging"
)

func TestSweepExpiredIntents(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	log := logging.NewLogger()
	jm := NewJobManager(log, payments.NewIntentStore(mockDB, log))

	mock.ExpectExec(`UPDATE bursar.payment_intents SET status = 'expired'`).
		WithArgs(intentMaxAgeHours).
		WillReturnResult(sqlmock.NewResult(0, 2))

	jm.sweepExpiredIntents(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestJobManagerStop(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	log := logging.NewLogger()
	jm := NewJobManager(log, payments.NewIntentStore(mockDB, log))

	// Stop before Start: the stop channel closes cleanly and a later
	// runIntentExpiry goroutine would exit immediately.
	jm.Stop()

	select {
	case <-jm.stopCh:
	default:
		t.Fatal("stop channel should be closed")
	}
}
