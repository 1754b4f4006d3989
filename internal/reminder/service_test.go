package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/address"
	"github.com/openresident/cardservice/internal/db"
	"github.com/openresident/cardservice/internal/models"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()

	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn, NewService(conn, address.NewResolver(conn))
}

func seedPaidCard(t *testing.T, conn *gorm.DB, status string, approvedAt *time.Time) *models.CardRegistration {
	t.Helper()

	residentID := uuid.NewString()
	reg := models.CardRegistration{
		ID:              uuid.NewString(),
		CardKind:        models.CardKindResident,
		RequestType:     models.RequestTypeNewCard,
		RequesterUserID: uuid.NewString(),
		ResidentID:      &residentID,
		UnitID:          uuid.NewString(),
		FullName:        "Le Van Cuong",
		ApartmentNo:     "B-0704",
		BuildingName:    "Moonlight Residence",
		PaymentAmount:   30000,
		PaymentStatus:   models.PaymentStatusPaid,
		Status:          status,
		ApprovedAt:      approvedAt,
	}
	if errCreate := conn.Create(&reg).Error; errCreate != nil {
		t.Fatalf("seed card: %v", errCreate)
	}
	return &reg
}

func stateFor(t *testing.T, conn *gorm.DB, cardID string) *models.ReminderState {
	t.Helper()
	var state models.ReminderState
	if errFind := conn.Where("card_id = ?", cardID).First(&state).Error; errFind != nil {
		t.Fatalf("load state for %s: %v", cardID, errFind)
	}
	return &state
}

func TestResetAfterPaymentSeedsState(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()

	approvedAt := time.Now().UTC().Add(-time.Hour)
	reg := seedPaidCard(t, conn, models.StatusApproved, &approvedAt)

	if errReset := service.ResetAfterPayment(ctx, reg.CardKind, reg.ID); errReset != nil {
		t.Fatalf("reset: %v", errReset)
	}

	state := stateFor(t, conn, reg.ID)
	if !state.CycleStartDate.Equal(approvedAt) {
		t.Fatalf("cycle start = %v, want approval time %v", state.CycleStartDate, approvedAt)
	}
	wantDue := approvedAt.AddDate(0, 30, 0)
	if !state.NextDueDate.Equal(wantDue) {
		t.Fatalf("next due = %v, want %v", state.NextDueDate, wantDue)
	}
	if state.ReminderCount != 0 || state.LastRemindedAt != nil {
		t.Fatalf("counters = (%d, %v), want fresh", state.ReminderCount, state.LastRemindedAt)
	}
	if state.ApartmentNo != "B-0704" {
		t.Fatalf("apartment snapshot = %q, want B-0704", state.ApartmentNo)
	}
}

func TestResetAfterPaymentRevivesDormantState(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()

	approvedAt := time.Now().UTC().Add(-48 * time.Hour)
	reg := seedPaidCard(t, conn, models.StatusApproved, &approvedAt)
	if errReset := service.ResetAfterPayment(ctx, reg.CardKind, reg.ID); errReset != nil {
		t.Fatalf("seed: %v", errReset)
	}

	// Exhaust the reminder budget.
	remindedAt := time.Now().UTC().Add(-time.Hour)
	if errExhaust := conn.Model(&models.ReminderState{}).
		Where("card_id = ?", reg.ID).
		Updates(map[string]any{
			"reminder_count":   6,
			"last_reminded_at": remindedAt,
		}).Error; errExhaust != nil {
		t.Fatalf("exhaust: %v", errExhaust)
	}

	if errReset := service.ResetAfterPayment(ctx, reg.CardKind, reg.ID); errReset != nil {
		t.Fatalf("reset: %v", errReset)
	}
	state := stateFor(t, conn, reg.ID)
	if state.ReminderCount != 0 || state.LastRemindedAt != nil {
		t.Fatalf("counters = (%d, %v), want reset", state.ReminderCount, state.LastRemindedAt)
	}
}

func TestResetAfterPaymentUnknownCard(t *testing.T) {
	_, service := newTestService(t)
	if errReset := service.ResetAfterPayment(context.Background(), models.CardKindResident, uuid.NewString()); errReset != ErrCardNotFound {
		t.Fatalf("err = %v, want ErrCardNotFound", errReset)
	}
}

func TestFindDueStatesSelectsWithinGraceWindow(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()
	today := time.Now().UTC()

	// Due yesterday: selected.
	dueCard := seedPaidCard(t, conn, models.StatusApproved, nil)
	seedState(t, conn, dueCard, today.AddDate(0, 0, -1), 0, nil)

	// Not due yet: skipped.
	futureCard := seedPaidCard(t, conn, models.StatusApproved, nil)
	seedState(t, conn, futureCard, today.AddDate(0, 0, 10), 0, nil)

	// Past the grace window: skipped.
	staleCard := seedPaidCard(t, conn, models.StatusApproved, nil)
	seedState(t, conn, staleCard, today.AddDate(0, 0, -30), 0, nil)

	due, errDue := service.FindDueStates(ctx, today)
	if errDue != nil {
		t.Fatalf("find due: %v", errDue)
	}
	if len(due) != 1 || due[0].CardID != dueCard.ID {
		t.Fatalf("due = %d states, want exactly the overdue card", len(due))
	}
}

func TestFindDueStatesRespectsIntervalAndCap(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()
	today := time.Now().UTC()

	// Reminded minutes ago: the daily interval has not elapsed.
	recentCard := seedPaidCard(t, conn, models.StatusApproved, nil)
	recent := today.Add(-10 * time.Minute)
	seedState(t, conn, recentCard, today.AddDate(0, 0, -1), 1, &recent)

	// Reminded two days ago: eligible again.
	readyCard := seedPaidCard(t, conn, models.StatusApproved, nil)
	twoDaysAgo := today.Add(-48 * time.Hour)
	seedState(t, conn, readyCard, today.AddDate(0, 0, -1), 1, &twoDaysAgo)

	// Budget exhausted: dormant.
	cappedCard := seedPaidCard(t, conn, models.StatusApproved, nil)
	seedState(t, conn, cappedCard, today.AddDate(0, 0, -1), 6, &twoDaysAgo)

	due, errDue := service.FindDueStates(ctx, today)
	if errDue != nil {
		t.Fatalf("find due: %v", errDue)
	}
	if len(due) != 1 || due[0].CardID != readyCard.ID {
		t.Fatalf("due = %d states, want only the interval-elapsed card", len(due))
	}
}

func TestFindDueStatesFailsClosedOnDeadCards(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()
	today := time.Now().UTC()

	cancelledCard := seedPaidCard(t, conn, models.StatusCancelled, nil)
	seedState(t, conn, cancelledCard, today.AddDate(0, 0, -1), 0, nil)

	// State whose card row no longer exists.
	ghost := seedPaidCard(t, conn, models.StatusApproved, nil)
	seedState(t, conn, ghost, today.AddDate(0, 0, -1), 0, nil)
	if errDelete := conn.Where("id = ?", ghost.ID).Delete(&models.CardRegistration{}).Error; errDelete != nil {
		t.Fatalf("delete card: %v", errDelete)
	}

	due, errDue := service.FindDueStates(ctx, today)
	if errDue != nil {
		t.Fatalf("find due: %v", errDue)
	}
	if len(due) != 0 {
		t.Fatalf("due = %d states, want none for dead cards", len(due))
	}
}

func TestMarkReminderSentIncrementsCounters(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()
	today := time.Now().UTC()

	card := seedPaidCard(t, conn, models.StatusApproved, nil)
	seedState(t, conn, card, today.AddDate(0, 0, -1), 2, nil)

	state := stateFor(t, conn, card.ID)
	if errMark := service.MarkReminderSent(ctx, []models.ReminderState{*state}); errMark != nil {
		t.Fatalf("mark: %v", errMark)
	}

	updated := stateFor(t, conn, card.ID)
	if updated.ReminderCount != 3 {
		t.Fatalf("count = %d, want 3", updated.ReminderCount)
	}
	if updated.LastRemindedAt == nil {
		t.Fatal("last_reminded_at not set")
	}
}

func TestSyncActiveCardsSeedsMissingStates(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()

	approvedAt := time.Now().UTC().Add(-time.Hour)
	tracked := seedPaidCard(t, conn, models.StatusApproved, &approvedAt)
	cancelled := seedPaidCard(t, conn, models.StatusCancelled, &approvedAt)

	seeded, errSync := service.SyncActiveCards(ctx)
	if errSync != nil {
		t.Fatalf("sync: %v", errSync)
	}
	if seeded != 1 {
		t.Fatalf("seeded = %d, want 1", seeded)
	}
	stateFor(t, conn, tracked.ID)

	var cancelledStates int64
	if errCount := conn.Model(&models.ReminderState{}).
		Where("card_id = ?", cancelled.ID).
		Count(&cancelledStates).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if cancelledStates != 0 {
		t.Fatal("sync seeded a state for a cancelled card")
	}

	// Second run changes nothing.
	seeded, errSync = service.SyncActiveCards(ctx)
	if errSync != nil {
		t.Fatalf("second sync: %v", errSync)
	}
	if seeded != 0 {
		t.Fatalf("seeded = %d on second run, want 0", seeded)
	}
}

func TestSyncBackfillsAddressWithoutOverwriting(t *testing.T) {
	conn, service := newTestService(t)
	ctx := context.Background()

	card := seedPaidCard(t, conn, models.StatusApproved, nil)
	state := models.ReminderState{
		ID:             uuid.NewString(),
		CardKind:       card.CardKind,
		CardID:         card.ID,
		UnitID:         card.UnitID,
		ApartmentNo:    "",
		BuildingName:   "Keep Me Tower",
		CycleStartDate: time.Now().UTC(),
		NextDueDate:    time.Now().UTC().AddDate(0, 30, 0),
		MaxReminders:   6,
	}
	if errCreate := conn.Create(&state).Error; errCreate != nil {
		t.Fatalf("seed state: %v", errCreate)
	}

	if _, errSync := service.SyncActiveCards(ctx); errSync != nil {
		t.Fatalf("sync: %v", errSync)
	}

	updated := stateFor(t, conn, card.ID)
	if updated.ApartmentNo != "B-0704" {
		t.Fatalf("apartment = %q, want backfilled B-0704", updated.ApartmentNo)
	}
	if updated.BuildingName != "Keep Me Tower" {
		t.Fatalf("building = %q, existing value was overwritten", updated.BuildingName)
	}
}

func seedState(t *testing.T, conn *gorm.DB, reg *models.CardRegistration, nextDue time.Time, count int, lastRemindedAt *time.Time) {
	t.Helper()
	state := models.ReminderState{
		ID:             uuid.NewString(),
		CardKind:       reg.CardKind,
		CardID:         reg.ID,
		UnitID:         reg.UnitID,
		ResidentID:     reg.ResidentID,
		ApartmentNo:    reg.ApartmentNo,
		BuildingName:   reg.BuildingName,
		CycleStartDate: nextDue.AddDate(0, -30, 0),
		NextDueDate:    nextDue,
		ReminderCount:  count,
		MaxReminders:   6,
		LastRemindedAt: lastRemindedAt,
	}
	if errCreate := conn.Create(&state).Error; errCreate != nil {
		t.Fatalf("seed state: %v", errCreate)
	}
}
