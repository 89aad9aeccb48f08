package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

const defaultAlertThreshold = 80

// SettingsPatch carries the fields a settings update wants to change.
// Nil fields keep their current value.
type SettingsPatch struct {
	MonthlyCap     *int64
	AlertThreshold *int
	HardCap        *bool
}

// SettingsStore manages per-workspace spending controls.
type SettingsStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewSettingsStore creates a settings store
func NewSettingsStore(db *sql.DB, logger logging.Logger) *SettingsStore {
	return &SettingsStore{db: db, logger: logger}
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx, so settings can be read
// either standalone or inside a caller's transaction.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Get returns effective settings for a workspace. Workspaces without an
// explicit settings row fall back to the legacy cap stored on the wallet,
// with the default alert threshold and a soft cap.
func (s *SettingsStore) Get(ctx context.Context, workspaceID string) (*models.TokenSettings, error) {
	return s.get(ctx, s.db, workspaceID)
}

func (s *SettingsStore) get(ctx context.Context, q rowQuerier, workspaceID string) (*models.TokenSettings, error) {
	var settings models.TokenSettings
	err := q.QueryRowContext(ctx, `
		SELECT workspace_id, monthly_cap, alert_threshold, hard_cap, updated_at
		FROM bursar.token_settings
		WHERE workspace_id = $1
	`, workspaceID).Scan(&settings.WorkspaceID, &settings.MonthlyCap, &settings.AlertThreshold, &settings.HardCap, &settings.UpdatedAt)
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load token settings: %w", err)
	}

	// Legacy fallback: older wallets carried the cap directly.
	settings = models.TokenSettings{
		WorkspaceID:    workspaceID,
		AlertThreshold: defaultAlertThreshold,
		HardCap:        false,
	}
	var legacyCap sql.NullInt64
	err = q.QueryRowContext(ctx, `
		SELECT monthly_cap FROM bursar.wallets WHERE workspace_id = $1
	`, workspaceID).Scan(&legacyCap)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load legacy cap: %w", err)
	}
	if legacyCap.Valid && legacyCap.Int64 > 0 {
		settings.MonthlyCap = &legacyCap.Int64
	}

	return &settings, nil
}

// Upsert applies a patch on top of the effective settings and persists the
// result. Non-positive caps are normalized to NULL (unlimited). The settings
// row and the wallet's legacy monthly_cap mirror are written in one
// transaction, so readers of either location agree and the update never
// partially applies.
func (s *SettingsStore) Upsert(ctx context.Context, workspaceID string, patch SettingsPatch) (*models.TokenSettings, error) {
	current, err := s.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	if patch.MonthlyCap != nil {
		if *patch.MonthlyCap <= 0 {
			current.MonthlyCap = nil
		} else {
			capValue := *patch.MonthlyCap
			current.MonthlyCap = &capValue
		}
	}
	if patch.AlertThreshold != nil {
		current.AlertThreshold = *patch.AlertThreshold
	}
	if patch.HardCap != nil {
		current.HardCap = *patch.HardCap
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	err = tx.QueryRowContext(ctx, `
		INSERT INTO bursar.token_settings (workspace_id, monthly_cap, alert_threshold, hard_cap, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (workspace_id) DO UPDATE SET
			monthly_cap = EXCLUDED.monthly_cap,
			alert_threshold = EXCLUDED.alert_threshold,
			hard_cap = EXCLUDED.hard_cap,
			updated_at = NOW()
		RETURNING updated_at
	`, workspaceID, current.MonthlyCap, current.AlertThreshold, current.HardCap).Scan(&current.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save token settings: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bursar.wallets SET monthly_cap = $1, updated_at = NOW()
		WHERE workspace_id = $2
	`, current.MonthlyCap, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to mirror monthly cap onto wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settings update: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"workspace_id": workspaceID,
		"hard_cap":     current.HardCap,
	}).Info("Updated token settings")

	return current, nil
}
