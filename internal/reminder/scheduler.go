package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/notify"
	log "github.com/sirupsen/logrus"
)

const defaultSweepInterval = 24 * time.Hour

// Scheduler runs the daily reminder sweep.
type Scheduler struct {
	service  *Service
	notifier notify.Dispatcher
	interval time.Duration

	mu sync.Mutex // serializes sweeps; the admin trigger can overlap the timer
}

// NewScheduler constructs a reminder scheduler.
func NewScheduler(service *Service, notifier notify.Dispatcher) *Scheduler {
	if service == nil {
		return nil
	}
	return &Scheduler{
		service:  service,
		notifier: notifier,
		interval: defaultSweepInterval,
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("reminder scheduler started (interval=%s)", s.interval)
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		if ctx != nil && ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx); err != nil {
			log.WithError(err).Warn("reminder scheduler: sweep failed")
		}
		if ctx != nil && ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(s.interval)
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

// RunOnce performs one full sweep: sync states, select due ones, dispatch
// one notification per resident and mark what was sent. It returns the
// number of reminder states processed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if s == nil || s.service == nil {
		return 0, fmt.Errorf("reminder: scheduler not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, errSync := s.service.SyncActiveCards(ctx); errSync != nil {
		log.WithError(errSync).Warn("reminder scheduler: sync failed")
	}

	due, errDue := s.service.FindDueStates(ctx, time.Now().UTC())
	if errDue != nil {
		return 0, errDue
	}
	if len(due) == 0 {
		return 0, nil
	}

	// One notification per resident, covering all their due cards. States
	// without a resolved recipient stay unmarked and are retried next sweep.
	byResident := make(map[string][]models.ReminderState)
	order := make([]string, 0)
	skipped := 0
	for _, state := range due {
		if state.ResidentID == nil || *state.ResidentID == "" {
			skipped++
			continue
		}
		residentID := *state.ResidentID
		if _, seen := byResident[residentID]; !seen {
			order = append(order, residentID)
		}
		byResident[residentID] = append(byResident[residentID], state)
	}
	if skipped > 0 {
		log.Warnf("reminder scheduler: %d due state(s) lack a recipient", skipped)
	}

	processed := make([]models.ReminderState, 0, len(due))
	for _, residentID := range order {
		states := byResident[residentID]
		if errSend := s.notifyResident(ctx, residentID, states); errSend != nil {
			log.WithError(errSend).Warnf("reminder scheduler: notification failed (resident=%s)", residentID)
			continue
		}
		processed = append(processed, states...)
	}

	if errMark := s.service.MarkReminderSent(ctx, processed); errMark != nil {
		return len(processed), errMark
	}
	if len(processed) > 0 {
		log.Infof("reminder scheduler: sent reminders for %d card(s) to %d resident(s)", len(processed), len(order))
	}
	return len(processed), nil
}

// notifyResident sends one private fee reminder covering every due card the
// resident holds, with per-kind counts in the data payload.
func (s *Scheduler) notifyResident(ctx context.Context, residentID string, states []models.ReminderState) error {
	if s.notifier == nil {
		return fmt.Errorf("reminder: no notifier configured")
	}

	kindCounts := make(map[string]any)
	cardIDs := make([]string, 0, len(states))
	earliest := states[0].NextDueDate
	for _, state := range states {
		kind := strings.ToLower(state.CardKind)
		if n, ok := kindCounts[kind].(int); ok {
			kindCounts[kind] = n + 1
		} else {
			kindCounts[kind] = 1
		}
		cardIDs = append(cardIDs, state.CardID)
		if state.NextDueDate.Before(earliest) {
			earliest = state.NextDueDate
		}
	}

	body := fmt.Sprintf("You have %d card(s) with fees due. Please renew to keep your cards active.", len(states))
	if len(states) == 1 {
		body = fmt.Sprintf("Your %s card fee for apartment %s is due on %s. Please renew to keep the card active.",
			strings.ToLower(states[0].CardKind), states[0].ApartmentNo, states[0].NextDueDate.Format("2006-01-02"))
	}

	return s.notifier.SendResidentNotification(ctx, notify.Message{
		ResidentID:    residentID,
		Type:          notify.TypeCardFeeReminder,
		Title:         "Card fee due",
		Body:          body,
		ReferenceType: "CARD_FEE_REMINDER",
		Data: map[string]any{
			"due_counts":   kindCounts,
			"card_ids":     cardIDs,
			"earliest_due": earliest.Format("2006-01-02"),
			"total_due":    len(states),
		},
	})
}
