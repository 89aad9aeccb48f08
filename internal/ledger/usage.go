package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"panelworks/api_tokens/pkg/api/bursar"
	"panelworks/api_tokens/pkg/logging"
)

// Overview statuses
const (
	StatusNormal   = "normal"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// UsageService aggregates posted spend entries into monthly usage reports.
type UsageService struct {
	db       *sql.DB
	logger   logging.Logger
	wallets  *WalletStore
	settings *SettingsStore
}

// NewUsageService creates a usage service
func NewUsageService(db *sql.DB, logger logging.Logger, wallets *WalletStore, settings *SettingsStore) *UsageService {
	return &UsageService{db: db, logger: logger, wallets: wallets, settings: settings}
}

// monthBounds returns the UTC half-open interval [start, end) for a YYYY-MM
// month string.
func monthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	start = start.UTC()
	return start, start.AddDate(0, 1, 0), nil
}

// CurrentMonth returns the current calendar month in UTC as YYYY-MM.
func CurrentMonth() string {
	return time.Now().UTC().Format("2006-01")
}

// UsageForMonth sums posted spend entries for one UTC calendar month and
// breaks them down per day. Months with no spend return zero usage and an
// empty breakdown.
func (s *UsageService) UsageForMonth(ctx context.Context, workspaceID, month string) (*bursar.UsageResponse, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, SUM(-tokens) AS spent
		FROM bursar.token_ledger
		WHERE workspace_id = $1
		  AND entry_type = 'spend'
		  AND status = 'posted'
		  AND created_at >= $2 AND created_at < $3
		GROUP BY day
		ORDER BY day
	`, workspaceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	usage := &bursar.UsageResponse{
		WorkspaceID: workspaceID,
		Month:       month,
		Daily:       []bursar.DailyUsage{},
	}
	for rows.Next() {
		var day bursar.DailyUsage
		if err := rows.Scan(&day.Date, &day.Tokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		usage.Daily = append(usage.Daily, day)
		usage.Used += day.Tokens
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage rows: %w", err)
	}

	return usage, nil
}

// Overview combines balance, settings, and month-to-date usage into the
// panel's headline numbers. A workspace without a cap always reports normal
// status with null remaining/percent fields.
func (s *UsageService) Overview(ctx context.Context, workspaceID, month string) (*bursar.TokenOverviewResponse, error) {
	wallet, err := s.wallets.GetOrCreate(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	usage, err := s.UsageForMonth(ctx, workspaceID, month)
	if err != nil {
		return nil, err
	}

	overview := &bursar.TokenOverviewResponse{
		WorkspaceID:    workspaceID,
		Month:          month,
		Balance:        wallet.Balance,
		MonthlyCap:     settings.MonthlyCap,
		Used:           usage.Used,
		AlertThreshold: settings.AlertThreshold,
		HardCap:        settings.HardCap,
		Status:         StatusNormal,
	}

	if settings.MonthlyCap == nil {
		return overview, nil
	}

	monthlyCap := *settings.MonthlyCap
	remaining := monthlyCap - usage.Used
	if remaining < 0 {
		remaining = 0
	}
	overview.Remaining = &remaining

	percent := float64(usage.Used) / float64(monthlyCap) * 100
	switch {
	case percent >= 100:
		overview.Status = StatusCritical
	case percent >= float64(settings.AlertThreshold):
		overview.Status = StatusWarning
	}
	// Display value is clamped; the status switch above sees the raw percent.
	if percent > 100 {
		percent = 100
	}
	overview.PercentUsed = &percent

	return overview, nil
}

// History returns a page of ledger entries, newest first.
func (s *UsageService) History(ctx context.Context, workspaceID string, limit, offset int) (*bursar.HistoryResponse, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, tokens, entry_type, status, reason, feature_key, ref_type, ref_id, note, created_by, created_at
		FROM bursar.token_ledger
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger history: %w", err)
	}
	defer rows.Close()

	history := &bursar.HistoryResponse{Limit: limit, Offset: offset}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		history.Entries = append(history.Entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger rows: %w", err)
	}

	return history, nil
}
