package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

// ConsumeParams describes one feature debit.
type ConsumeParams struct {
	WorkspaceID string
	Cost        int64
	FeatureKey  string
	RefType     string
	RefID       string
	Note        string
	Actor       string // created_by on the ledger entry
}

// DebitRecorder receives a post-commit notification for each successful
// debit. Implementations must be cheap; failures never affect the debit.
type DebitRecorder interface {
	RecordDebit(featureKey string, tokens int64)
}

// Consumer performs atomic token debits against workspace wallets.
type Consumer struct {
	db       *sql.DB
	logger   logging.Logger
	wallets  *WalletStore
	settings *SettingsStore
	recorder DebitRecorder
}

// NewConsumer creates a consumption service. recorder may be nil.
func NewConsumer(db *sql.DB, logger logging.Logger, wallets *WalletStore, settings *SettingsStore, recorder DebitRecorder) *Consumer {
	return &Consumer{
		db:       db,
		logger:   logger,
		wallets:  wallets,
		settings: settings,
		recorder: recorder,
	}
}

// Require is the advisory pre-flight check: it reports whether the wallet
// currently covers the cost without reserving anything. A passing Require
// does not guarantee a later Consume succeeds.
func (c *Consumer) Require(ctx context.Context, workspaceID string, cost int64, metadata map[string]interface{}) (int64, error) {
	if cost <= 0 {
		return 0, fmt.Errorf("cost must be positive, got %d", cost)
	}

	wallet, err := c.wallets.GetOrCreate(ctx, workspaceID)
	if err != nil {
		return 0, err
	}

	if wallet.Balance < cost {
		return wallet.Balance, &InsufficientTokensError{
			WorkspaceID: workspaceID,
			Balance:     wallet.Balance,
			Required:    cost,
			Metadata:    metadata,
		}
	}

	return wallet.Balance, nil
}

// Consume atomically debits the wallet and appends the posted spend entry.
// The wallet row is locked for the duration of the transaction, so two
// concurrent debits against the same workspace serialize: the balance and
// hard-cap checks always see the committed result of the earlier debit.
// Returns the new balance.
func (c *Consumer) Consume(ctx context.Context, params ConsumeParams) (int64, error) {
	if params.Cost <= 0 {
		return 0, fmt.Errorf("cost must be positive, got %d", params.Cost)
	}
	if params.Actor == "" {
		params.Actor = "system"
	}

	// Ensure the wallet (and welcome grant) exists before locking it.
	if _, err := c.wallets.GetOrCreate(ctx, params.WorkspaceID); err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM bursar.wallets
		WHERE workspace_id = $1
		FOR UPDATE
	`, params.WorkspaceID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to lock wallet: %w", err)
	}

	// Settings are read after the wallet lock so a concurrent cap change is
	// observed by the debit it races with.
	settings, err := c.settings.get(ctx, tx, params.WorkspaceID)
	if err != nil {
		return 0, err
	}

	// Hard caps block before the debit; soft caps only drive alerts.
	if settings.HardCap && settings.MonthlyCap != nil {
		used, err := c.usedThisMonth(ctx, tx, params.WorkspaceID)
		if err != nil {
			return 0, err
		}
		if used+params.Cost > *settings.MonthlyCap {
			return balance, &CapExceededError{
				WorkspaceID: params.WorkspaceID,
				Cap:         *settings.MonthlyCap,
				Used:        used,
				Required:    params.Cost,
			}
		}
	}

	if balance < params.Cost {
		return balance, &InsufficientTokensError{
			WorkspaceID: params.WorkspaceID,
			Balance:     balance,
			Required:    params.Cost,
		}
	}

	newBalance := balance - params.Cost
	_, err = tx.ExecContext(ctx, `
		UPDATE bursar.wallets
		SET balance = $1, updated_at = NOW()
		WHERE workspace_id = $2
	`, newBalance, params.WorkspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bursar.token_ledger (workspace_id, tokens, entry_type, status, reason, feature_key, ref_type, ref_id, note, created_by)
		VALUES ($1, $2, 'spend', 'posted', $3, $4, $5, $6, $7, $8)
	`, params.WorkspaceID, -params.Cost, "Feature usage", nullable(params.FeatureKey),
		nullable(params.RefType), nullable(params.RefID), nullable(params.Note), params.Actor)
	if err != nil {
		return 0, fmt.Errorf("failed to record spend entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"workspace_id": params.WorkspaceID,
		"feature_key":  params.FeatureKey,
		"cost":         params.Cost,
		"new_balance":  newBalance,
	}).Info("Debited tokens")

	if c.recorder != nil {
		c.recorder.RecordDebit(params.FeatureKey, params.Cost)
	}

	return newBalance, nil
}

// usedThisMonth sums posted spend inside the current transaction so the
// hard-cap check and the debit observe the same snapshot.
func (c *Consumer) usedThisMonth(ctx context.Context, tx *sql.Tx, workspaceID string) (int64, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var used int64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(-tokens), 0)
		FROM bursar.token_ledger
		WHERE workspace_id = $1
		  AND entry_type = 'spend'
		  AND status = 'posted'
		  AND created_at >= $2 AND created_at < $3
	`, workspaceID, start, end).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to sum month usage: %w", err)
	}
	return used, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanLedgerEntry reads one token_ledger row from a query over the full
// column list.
func scanLedgerEntry(rows *sql.Rows) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := rows.Scan(&e.ID, &e.WorkspaceID, &e.Tokens, &e.EntryType, &e.Status, &e.Reason,
		&e.FeatureKey, &e.RefType, &e.RefID, &e.Note, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	return &e, nil
}
