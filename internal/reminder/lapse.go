package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatusUpdater demotes cards whose fee period lapsed. An APPROVED card whose
// due date passed becomes NEEDS_RENEWAL; a NEEDS_RENEWAL card that stays
// unrenewed past the grace window becomes SUSPENDED. Both transitions keep the
// previous cycle's PAID mark, which is what lets a renewal payment route the
// card straight back to APPROVED without an admin.
type StatusUpdater struct {
	db       *gorm.DB
	interval time.Duration

	mu sync.Mutex // serializes sweeps
}

// NewStatusUpdater constructs a card status updater.
func NewStatusUpdater(db *gorm.DB) *StatusUpdater {
	if db == nil {
		return nil
	}
	return &StatusUpdater{
		db:       db,
		interval: defaultSweepInterval,
	}
}

// Start launches the demotion loop in a background goroutine.
func (u *StatusUpdater) Start(ctx context.Context) {
	if u == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go u.run(ctx)
	log.Infof("card status updater started (interval=%s)", u.interval)
}

func (u *StatusUpdater) run(ctx context.Context) {
	for {
		if ctx != nil && ctx.Err() != nil {
			return
		}
		if _, _, err := u.RunOnce(ctx); err != nil {
			log.WithError(err).Warn("card status updater: sweep failed")
		}
		if ctx != nil && ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(u.interval)
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

// RunOnce performs one demotion sweep and returns how many cards moved to
// NEEDS_RENEWAL and to SUSPENDED. The renewal pass runs first, so a card far
// past the grace window falls through both steps in a single sweep.
func (u *StatusUpdater) RunOnce(ctx context.Context) (int, int, error) {
	if u == nil || u.db == nil {
		return 0, 0, errors.New("reminder: status updater not initialized")
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now().UTC()

	renewed, errRenew := u.demote(ctx, now, models.StatusApproved, models.StatusNeedsRenewal)
	if errRenew != nil {
		return 0, 0, errRenew
	}

	graceCutoff := now.AddDate(0, 0, -settings.ReminderGraceDays())
	suspended, errSuspend := u.demote(ctx, graceCutoff, models.StatusNeedsRenewal, models.StatusSuspended)
	if errSuspend != nil {
		return renewed, 0, errSuspend
	}

	if renewed > 0 || suspended > 0 {
		log.Infof("card status updater: %d card(s) need renewal, %d suspended", renewed, suspended)
	}
	return renewed, suspended, nil
}

// demote moves cards from one status to the next when their reminder state's
// due date is at or before the cutoff. Only cards still carrying the PAID
// mark move; a renewal payment in flight is left alone until the callback
// settles or reverts it.
func (u *StatusUpdater) demote(ctx context.Context, cutoff time.Time, from, to string) (int, error) {
	lapsed := u.db.WithContext(ctx).
		Model(&models.ReminderState{}).
		Select("card_id").
		Where("next_due_date <= ?", cutoff)

	res := u.db.WithContext(ctx).
		Model(&models.CardRegistration{}).
		Where("status = ?", from).
		Where("payment_status = ?", models.PaymentStatusPaid).
		Where("id IN (?)", lapsed).
		Update("status", to)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
