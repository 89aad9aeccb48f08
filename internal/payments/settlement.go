package payments

import (
	"context"
	"database/sql"
	"fmt"

	"panelworks/api_tokens/pkg/logging"
	"panelworks/api_tokens/pkg/models"
)

// Settlement applies verified successful payments exactly once. Every settle
// method flips the intent from pending to paid with a conditional update in
// the same transaction as its side effects, so a replayed notification finds
// zero rows and changes nothing.
type Settlement struct {
	db     *sql.DB
	logger logging.Logger
	prices *PriceTable
}

// NewSettlement creates a settlement service
func NewSettlement(db *sql.DB, logger logging.Logger, prices *PriceTable) *Settlement {
	return &Settlement{db: db, logger: logger, prices: prices}
}

// claimIntent flips the intent to paid if it is still pending. Returns false
// when another settlement already claimed it.
func (s *Settlement) claimIntent(ctx context.Context, tx *sql.Tx, intentID string) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE bursar.payment_intents
		SET status = 'paid', paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, intentID)
	if err != nil {
		return false, fmt.Errorf("failed to claim intent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SettleTopupPaid credits the purchased tokens and appends the topup ledger
// entry. Returns false without touching the wallet when the intent was
// already settled.
func (s *Settlement) SettleTopupPaid(ctx context.Context, intent *models.PaymentIntent) (bool, error) {
	meta, err := TopupMetaOf(intent)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	claimed, err := s.claimIntent(ctx, tx, intent.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bursar.wallets (workspace_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (workspace_id) DO UPDATE SET
			balance = bursar.wallets.balance + EXCLUDED.balance,
			updated_at = NOW()
	`, intent.WorkspaceID, meta.TokenAmount)
	if err != nil {
		return false, fmt.Errorf("failed to credit wallet: %w", err)
	}

	reason := fmt.Sprintf("Token topup (%s)", meta.PackageID)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bursar.token_ledger (workspace_id, tokens, entry_type, status, reason, ref_type, ref_id, created_by)
		VALUES ($1, $2, 'topup', 'posted', $3, 'payment_intent', $4, 'gateway')
	`, intent.WorkspaceID, meta.TokenAmount, reason, intent.ID)
	if err != nil {
		return false, fmt.Errorf("failed to record topup entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit topup settlement: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"workspace_id": intent.WorkspaceID,
		"order_id":     intent.ProviderRef,
		"tokens":       meta.TokenAmount,
	}).Info("Settled topup")

	return true, nil
}

// SettleSubscriptionPaid activates or renews the workspace subscription.
// Activation upserts the single subscription row per workspace; renewal
// extends the current period from whichever is later, now or the existing
// period end. Returns false when the intent was already settled.
func (s *Settlement) SettleSubscriptionPaid(ctx context.Context, intent *models.PaymentIntent) (bool, error) {
	meta, err := SubscriptionMetaOf(intent)
	if err != nil {
		return false, err
	}
	if _, ok := s.prices.Plans[meta.PlanCode]; !ok {
		return false, fmt.Errorf("%w: %s", ErrInvalidPlan, meta.PlanCode)
	}

	months := 1
	if meta.Interval == IntervalYearly {
		months = 12
	}
	seatLimit := s.prices.SeatLimit(meta.PlanCode)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	claimed, err := s.claimIntent(ctx, tx, intent.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	if meta.IsRenewal {
		result, err := tx.ExecContext(ctx, `
			UPDATE bursar.subscriptions
			SET status = 'active',
				current_period_end = GREATEST(current_period_end, NOW()) + ($1 * INTERVAL '1 month'),
				provider_ref = $2,
				updated_at = NOW()
			WHERE workspace_id = $3 AND plan_id = $4
		`, months, intent.ProviderRef, intent.WorkspaceID, meta.PlanCode)
		if err != nil {
			return false, fmt.Errorf("failed to renew subscription: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return false, err
		}
		if rows > 0 {
			if err := tx.Commit(); err != nil {
				return false, fmt.Errorf("failed to commit renewal: %w", err)
			}
			s.logger.WithFields(logging.Fields{
				"workspace_id": intent.WorkspaceID,
				"plan":         meta.PlanCode,
				"months":       months,
			}).Info("Renewed subscription")
			return true, nil
		}
		// No matching row to extend; fall through and activate instead.
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bursar.subscriptions (workspace_id, plan_id, status, billing_mode, seat_limit, current_period_start, current_period_end, provider_ref, updated_at)
		VALUES ($1, $2, 'active', 'per_seat', $3, NOW(), NOW() + ($4 * INTERVAL '1 month'), $5, NOW())
		ON CONFLICT (workspace_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = 'active',
			billing_mode = EXCLUDED.billing_mode,
			seat_limit = EXCLUDED.seat_limit,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			provider_ref = EXCLUDED.provider_ref,
			updated_at = NOW()
	`, intent.WorkspaceID, meta.PlanCode, seatLimit, months, intent.ProviderRef)
	if err != nil {
		return false, fmt.Errorf("failed to activate subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit activation: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"workspace_id": intent.WorkspaceID,
		"plan":         meta.PlanCode,
		"interval":     meta.Interval,
	}).Info("Activated subscription")

	return true, nil
}
