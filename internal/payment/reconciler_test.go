package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/address"
	"github.com/openresident/cardservice/internal/billing"
	"github.com/openresident/cardservice/internal/db"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/notify"
	"github.com/openresident/cardservice/internal/reminder"
	"gorm.io/gorm"
)

type reconcilerFixture struct {
	conn       *gorm.DB
	gateway    *Gateway
	pending    *MemoryPendingStore
	reconciler *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	gateway := newTestGateway()
	pending := NewMemoryPendingStore()
	reconciler := NewReconciler(
		conn,
		gateway,
		pending,
		billing.NewGormRecorder(conn),
		notify.LogDispatcher{},
		reminder.NewService(conn, address.NewResolver(conn)),
	)
	return &reconcilerFixture{conn: conn, gateway: gateway, pending: pending, reconciler: reconciler}
}

// seedPendingCard inserts a registration mid-payment with the given
// transaction reference.
func (f *reconcilerFixture) seedPendingCard(t *testing.T, txnRef, status string) *models.CardRegistration {
	t.Helper()

	now := time.Now().UTC()
	residentID := uuid.NewString()
	paymentStatus := models.PaymentStatusPending
	reg := models.CardRegistration{
		ID:                 uuid.NewString(),
		CardKind:           models.CardKindResident,
		RequestType:        models.RequestTypeNewCard,
		RequesterUserID:    uuid.NewString(),
		ResidentID:         &residentID,
		UnitID:             uuid.NewString(),
		FullName:           "Pham Minh Chau",
		PaymentAmount:      30000,
		PaymentStatus:      paymentStatus,
		PaymentGateway:     "VNPAY",
		TransactionRef:     txnRef,
		PaymentInitiatedAt: &now,
		Status:             status,
	}
	if errCreate := f.conn.Create(&reg).Error; errCreate != nil {
		t.Fatalf("seed registration: %v", errCreate)
	}
	return &reg
}

// signedCallback builds a gateway callback with a valid signature.
func (f *reconcilerFixture) signedCallback(txnRef, responseCode, txnStatus string) map[string]string {
	params := map[string]string{
		paramTmnCode:   "TEST01",
		paramAmount:    "3000000",
		paramTxnRef:    txnRef,
		paramRespCode:  responseCode,
		paramTxnStatus: txnStatus,
	}
	hashData, _ := encodeParams(params)
	params[paramSecureHash] = f.gateway.sign(hashData)
	return params
}

func TestHandleCallbackSettlesPayment(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	reg := f.seedPendingCard(t, txnRef, models.StatusPaymentPending)
	if errPut := f.pending.Put(ctx, orderID, reg.ID); errPut != nil {
		t.Fatalf("seed pending: %v", errPut)
	}

	outcome, errHandle := f.reconciler.HandleCallback(ctx, f.signedCallback(txnRef, "00", "00"))
	if errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}
	if !outcome.Success || outcome.RegistrationID != reg.ID {
		t.Fatalf("outcome = %+v, want success for %s", outcome, reg.ID)
	}

	var saved models.CardRegistration
	if errFind := f.conn.Where("id = ?", reg.ID).First(&saved).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if saved.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want PAID", saved.PaymentStatus)
	}
	if saved.Status != models.StatusPending {
		t.Fatalf("status = %s, want PENDING awaiting approval", saved.Status)
	}
	if saved.PaymentDate == nil {
		t.Fatal("payment date not set")
	}

	// The side effects: ledger row and a seeded reminder state.
	var ledger int64
	if errCount := f.conn.Model(&models.BillingEntry{}).
		Where("card_id = ? AND transaction_ref = ?", reg.ID, txnRef).
		Count(&ledger).Error; errCount != nil {
		t.Fatalf("count ledger: %v", errCount)
	}
	if ledger != 1 {
		t.Fatalf("ledger rows = %d, want 1", ledger)
	}
	var states int64
	if errCount := f.conn.Model(&models.ReminderState{}).
		Where("card_id = ?", reg.ID).
		Count(&states).Error; errCount != nil {
		t.Fatalf("count reminder states: %v", errCount)
	}
	if states != 1 {
		t.Fatalf("reminder states = %d, want 1", states)
	}

	// Pending mapping removed after processing.
	if _, found, _ := f.pending.Get(ctx, orderID); found {
		t.Fatal("pending mapping not removed")
	}
}

func TestHandleCallbackSettlesBatchAtomically(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	first := f.seedPendingCard(t, txnRef, models.StatusPaymentPending)
	second := f.seedPendingCard(t, txnRef, models.StatusPaymentPending)
	if errPut := f.pending.Put(ctx, orderID, first.ID); errPut != nil {
		t.Fatalf("seed pending: %v", errPut)
	}

	if _, errHandle := f.reconciler.HandleCallback(ctx, f.signedCallback(txnRef, "00", "00")); errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}

	var regs []models.CardRegistration
	if errFind := f.conn.Where("id IN ?", []string{first.ID, second.ID}).Find(&regs).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if len(regs) != 2 {
		t.Fatalf("reloaded %d cards, want 2", len(regs))
	}
	var sharedDate *time.Time
	for _, reg := range regs {
		if reg.PaymentStatus != models.PaymentStatusPaid {
			t.Fatalf("card %s payment status = %s, want PAID", reg.ID, reg.PaymentStatus)
		}
		if reg.PaymentDate == nil {
			t.Fatalf("card %s payment date not set", reg.ID)
		}
		if sharedDate == nil {
			sharedDate = reg.PaymentDate
		} else if !reg.PaymentDate.Equal(*sharedDate) {
			t.Fatalf("payment dates differ across the batch: %v vs %v", reg.PaymentDate, sharedDate)
		}
	}
}

func TestHandleCallbackRevertsDeclinedPayment(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	reg := f.seedPendingCard(t, txnRef, models.StatusPaymentPending)
	if errPut := f.pending.Put(ctx, orderID, reg.ID); errPut != nil {
		t.Fatalf("seed pending: %v", errPut)
	}

	outcome, errHandle := f.reconciler.HandleCallback(ctx, f.signedCallback(txnRef, "24", "02"))
	if errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}
	if outcome.Success {
		t.Fatal("declined payment reported success")
	}

	var saved models.CardRegistration
	if errFind := f.conn.Where("id = ?", reg.ID).First(&saved).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if saved.Status != models.StatusReadyForPayment {
		t.Fatalf("status = %s, want READY_FOR_PAYMENT", saved.Status)
	}
	if saved.PaymentStatus != models.PaymentStatusUnpaid {
		t.Fatalf("payment status = %s, want UNPAID", saved.PaymentStatus)
	}
	if saved.PaymentInitiatedAt != nil {
		t.Fatal("payment_initiated_at not cleared")
	}
	if _, found, _ := f.pending.Get(ctx, orderID); found {
		t.Fatal("pending mapping not removed on failure")
	}
}

func TestHandleCallbackRevertsTamperedSignature(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	reg := f.seedPendingCard(t, txnRef, models.StatusPaymentPending)
	if errPut := f.pending.Put(ctx, orderID, reg.ID); errPut != nil {
		t.Fatalf("seed pending: %v", errPut)
	}

	params := f.signedCallback(txnRef, "00", "00")
	params[paramAmount] = "1"

	outcome, errHandle := f.reconciler.HandleCallback(ctx, params)
	if errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}
	if outcome.Success {
		t.Fatal("tampered callback reported success")
	}

	var saved models.CardRegistration
	if errFind := f.conn.Where("id = ?", reg.ID).First(&saved).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if saved.PaymentStatus == models.PaymentStatusPaid {
		t.Fatal("tampered callback settled the payment")
	}
}

func TestHandleCallbackRenewalGoesStraightToApproved(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	reg := f.seedPendingCard(t, txnRef, models.StatusNeedsRenewal)
	if errPut := f.pending.Put(ctx, orderID, reg.ID); errPut != nil {
		t.Fatalf("seed pending: %v", errPut)
	}

	if _, errHandle := f.reconciler.HandleCallback(ctx, f.signedCallback(txnRef, "00", "00")); errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}

	var saved models.CardRegistration
	if errFind := f.conn.Where("id = ?", reg.ID).First(&saved).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if saved.Status != models.StatusApproved {
		t.Fatalf("status = %s, want APPROVED without admin decision", saved.Status)
	}
	if saved.ApprovedAt == nil {
		t.Fatal("approved_at not set on renewal settlement")
	}
}

func TestHandleCallbackRenewalReplayKeepsApproval(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	reg := f.seedPendingCard(t, txnRef, models.StatusNeedsRenewal)
	if errPut := f.pending.Put(ctx, orderID, reg.ID); errPut != nil {
		t.Fatalf("seed pending: %v", errPut)
	}

	params := f.signedCallback(txnRef, "00", "00")
	if _, errHandle := f.reconciler.HandleCallback(ctx, params); errHandle != nil {
		t.Fatalf("first callback: %v", errHandle)
	}
	if _, errHandle := f.reconciler.HandleCallback(ctx, params); errHandle != nil {
		t.Fatalf("replayed callback: %v", errHandle)
	}

	var saved models.CardRegistration
	if errFind := f.conn.Where("id = ?", reg.ID).First(&saved).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if saved.Status != models.StatusApproved {
		t.Fatalf("status = %s after replay, want APPROVED", saved.Status)
	}
	if saved.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("payment status = %s after replay, want PAID", saved.PaymentStatus)
	}

	var ledger int64
	if errCount := f.conn.Model(&models.BillingEntry{}).
		Where("card_id = ?", reg.ID).
		Count(&ledger).Error; errCount != nil {
		t.Fatalf("count ledger: %v", errCount)
	}
	if ledger != 1 {
		t.Fatalf("ledger rows = %d, want 1 after replay", ledger)
	}
}

func TestHandleCallbackFallsBackToTransactionRef(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// No pending mapping, as after a process restart.
	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	reg := f.seedPendingCard(t, txnRef, models.StatusPaymentPending)

	outcome, errHandle := f.reconciler.HandleCallback(ctx, f.signedCallback(txnRef, "00", "00"))
	if errHandle != nil {
		t.Fatalf("handle callback: %v", errHandle)
	}
	if outcome.RegistrationID != reg.ID {
		t.Fatalf("registration = %s, want %s", outcome.RegistrationID, reg.ID)
	}
}

func TestHandleCallbackReplayIsIdempotentInLedger(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	orderID := uuid.NewString()
	txnRef := orderID + "_1700000000000"
	reg := f.seedPendingCard(t, txnRef, models.StatusPaymentPending)

	params := f.signedCallback(txnRef, "00", "00")
	if _, errHandle := f.reconciler.HandleCallback(ctx, params); errHandle != nil {
		t.Fatalf("first callback: %v", errHandle)
	}
	if _, errHandle := f.reconciler.HandleCallback(ctx, params); errHandle != nil {
		t.Fatalf("replayed callback: %v", errHandle)
	}

	var ledger int64
	if errCount := f.conn.Model(&models.BillingEntry{}).
		Where("card_id = ?", reg.ID).
		Count(&ledger).Error; errCount != nil {
		t.Fatalf("count ledger: %v", errCount)
	}
	if ledger != 1 {
		t.Fatalf("ledger rows = %d, want 1 after replay", ledger)
	}
}

func TestHandleCallbackRejectsMalformedReference(t *testing.T) {
	f := newReconcilerFixture(t)

	_, errHandle := f.reconciler.HandleCallback(context.Background(), f.signedCallback("noseparator", "00", "00"))
	if !errors.Is(errHandle, ErrMalformedReference) {
		t.Fatalf("err = %v, want ErrMalformedReference", errHandle)
	}
}

func TestHandleCallbackUnknownRegistration(t *testing.T) {
	f := newReconcilerFixture(t)

	txnRef := uuid.NewString() + "_1700000000000"
	_, errHandle := f.reconciler.HandleCallback(context.Background(), f.signedCallback(txnRef, "00", "00"))
	if !errors.Is(errHandle, ErrRegistrationNotFound) {
		t.Fatalf("err = %v, want ErrRegistrationNotFound", errHandle)
	}
}

func TestMemoryPendingStoreRoundTrip(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()

	if errPut := store.Put(ctx, "order-1", "reg-1"); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	value, found, errGet := store.Get(ctx, "order-1")
	if errGet != nil || !found || value != "reg-1" {
		t.Fatalf("get = (%q, %v, %v), want (reg-1, true, nil)", value, found, errGet)
	}
	if errRemove := store.Remove(ctx, "order-1"); errRemove != nil {
		t.Fatalf("remove: %v", errRemove)
	}
	if _, found, _ := store.Get(ctx, "order-1"); found {
		t.Fatal("entry survived removal")
	}
}
