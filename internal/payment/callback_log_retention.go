package payment

import (
	"context"
	"time"

	"github.com/openresident/cardservice/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultCleanupInterval = 12 * time.Hour
	defaultDeleteBatchSize = 2000
	maxDeleteBatchesPerRun = 500
)

// CallbackLogCleaner periodically deletes old payment callback log rows.
type CallbackLogCleaner struct {
	db        *gorm.DB
	interval  time.Duration
	batchSize int
}

// NewCallbackLogCleaner constructs a callback log retention cleaner.
func NewCallbackLogCleaner(db *gorm.DB) *CallbackLogCleaner {
	if db == nil {
		return nil
	}
	return &CallbackLogCleaner{
		db:        db,
		interval:  defaultCleanupInterval,
		batchSize: defaultDeleteBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *CallbackLogCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("callback log cleaner started (interval=%s)", c.interval)
}

func (c *CallbackLogCleaner) run(ctx context.Context) {
	for {
		if ctx != nil && ctx.Err() != nil {
			return
		}
		c.cleanupOnce(ctx)
		if ctx != nil && ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (c *CallbackLogCleaner) cleanupOnce(ctx context.Context) {
	if c == nil || c.db == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	retentionDays := settings.CallbackLogRetentionDays()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	deletedTotal := int64(0)
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx != nil && ctx.Err() != nil {
			return
		}
		n, err := c.deleteBatch(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("callback log cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deletedTotal += n
	}

	if deletedTotal > 0 {
		log.Infof("callback log cleaner: deleted %d rows (cutoff=%s)", deletedTotal, cutoff.Format(time.RFC3339))
	}
}

func (c *CallbackLogCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	limit := c.batchSize
	if limit <= 0 {
		limit = defaultDeleteBatchSize
	}

	// Limited subquery keeps transactions short on large tables.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM payment_callback_logs
		WHERE id IN (
			SELECT id FROM payment_callback_logs
			WHERE received_at < ?
			ORDER BY received_at ASC
			LIMIT ?
		)
	`, cutoff, limit)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
