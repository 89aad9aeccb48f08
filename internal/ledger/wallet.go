package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

const uniqueViolation = "23505"

// WalletStore manages workspace wallets and their lazy creation.
type WalletStore struct {
	db     *sql.DB
	logger logging.Logger
	grants map[string]int64 // plan id -> welcome grant tokens
}

// NewWalletStore creates a wallet store. The grants map comes from the price
// table so grant amounts are injected, not hardcoded here.
func NewWalletStore(db *sql.DB, logger logging.Logger, grants map[string]int64) *WalletStore {
	return &WalletStore{
		db:     db,
		logger: logger,
		grants: grants,
	}
}

// Get returns the wallet for a workspace without creating one.
// Returns sql.ErrNoRows when none exists.
func (s *WalletStore) Get(ctx context.Context, workspaceID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, balance, monthly_cap, created_at, updated_at
		FROM bursar.wallets
		WHERE workspace_id = $1
	`, workspaceID).Scan(&w.ID, &w.WorkspaceID, &w.Balance, &w.MonthlyCap, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreate returns the workspace wallet, creating it with the plan-tier
// welcome grant on first access. The wallet row and its grant ledger entry
// are written in one transaction so a wallet can never exist without the
// matching grant record.
func (s *WalletStore) GetOrCreate(ctx context.Context, workspaceID string) (*models.Wallet, error) {
	wallet, err := s.Get(ctx, workspaceID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}

	plan := s.resolvePlan(ctx, workspaceID)
	grant := s.grantFor(plan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	var w models.Wallet
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bursar.wallets (workspace_id, balance)
		VALUES ($1, $2)
		RETURNING id, workspace_id, balance, monthly_cap, created_at, updated_at
	`, workspaceID, grant).Scan(&w.ID, &w.WorkspaceID, &w.Balance, &w.MonthlyCap, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		// Concurrent first access: the other caller won the insert.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return s.Get(ctx, workspaceID)
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	if grant > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bursar.token_ledger (workspace_id, tokens, entry_type, status, reason, created_by)
			VALUES ($1, $2, 'grant', 'posted', $3, 'system')
		`, workspaceID, grant, fmt.Sprintf("Welcome grant for %s plan", plan))
		if err != nil {
			return nil, fmt.Errorf("failed to record welcome grant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit wallet creation: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"plan":         plan,
		"grant":        grant,
	}).Info("Created wallet with welcome grant")

	return &w, nil
}

// resolvePlan finds the workspace's active plan; workspaces without a
// subscription row are on the free tier.
func (s *WalletStore) resolvePlan(ctx context.Context, workspaceID string) string {
	var plan string
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_id FROM bursar.subscriptions
		WHERE workspace_id = $1 AND status = 'active'
	`, workspaceID).Scan(&plan)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.WithError(err).WithField("workspace_id", workspaceID).
				Warn("Failed to resolve plan for welcome grant, assuming free")
		}
		return "free"
	}
	return plan
}

func (s *WalletStore) grantFor(plan string) int64 {
	if grant, ok := s.grants[plan]; ok {
		return grant
	}
	return s.grants["free"]
}
