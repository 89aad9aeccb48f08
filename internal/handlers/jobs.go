package handlers

import (
	"context"
	"time"

	"panelworks/api_tokens/internal/payments"
	"panelworks/api_tokens/pkg/logging"
)

// Pending intents older than this are swept to expired. Matches the Snap
// transaction expiry set at checkout.
const intentMaxAgeHours = 24

// JobManager handles background billing jobs
type JobManager struct {
	logger  logging.Logger
	intents *payments.IntentStore
	stopCh  chan struct{}
}

// NewJobManager creates a new job manager
func NewJobManager(log logging.Logger, intents *payments.IntentStore) *JobManager {
	return &JobManager{
		logger:  log,
		intents: intents,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background jobs
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting billing job manager")
	go jm.runIntentExpiry(ctx)
}

// Stop stops all background jobs
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping billing job manager")
	close(jm.stopCh)
}

// runIntentExpiry periodically sweeps stale pending payment intents. Expired
// rows are kept for audit; only their status changes.
func (jm *JobManager) runIntentExpiry(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	jm.sweepExpiredIntents(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.sweepExpiredIntents(ctx)
		}
	}
}

func (jm *JobManager) sweepExpiredIntents(ctx context.Context) {
	expired, err := jm.intents.ExpireOlderThan(ctx, intentMaxAgeHours)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to sweep expired payment intents")
		return
	}
	if expired > 0 {
		jm.logger.WithField("expired", expired).Info("Swept stale payment intents")
	}
}
