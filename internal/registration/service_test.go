package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/address"
	"github.com/openresident/cardservice/internal/config"
	"github.com/openresident/cardservice/internal/db"
	"github.com/openresident/cardservice/internal/eligibility"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/notify"
	"github.com/openresident/cardservice/internal/payment"
	"github.com/openresident/cardservice/internal/pricing"
	"gorm.io/gorm"
)

type fixture struct {
	conn     *gorm.DB
	service  *Service
	notifier *captureDispatcher

	unitID          string
	buildingID      string
	ownerUserID     string
	ownerResidentID string
	memberUserID    string
	memberResident  string
}

// captureDispatcher records dispatched notifications for assertions.
type captureDispatcher struct {
	messages []notify.Message
}

func (d *captureDispatcher) SendResidentNotification(_ context.Context, msg notify.Message) error {
	d.messages = append(d.messages, msg)
	return nil
}

func testGateway() *payment.Gateway {
	return payment.NewGateway(config.GatewayConfig{
		Name:       "VNPAY",
		TmnCode:    "TEST01",
		HashSecret: "test-secret",
		PayURL:     "https://pay.example.com/vpcpay.html",
		ReturnURL:  "https://app.example.com/payments/return",
		Version:    "2.1.0",
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	f := &fixture{
		conn:            conn,
		notifier:        &captureDispatcher{},
		unitID:          uuid.NewString(),
		buildingID:      uuid.NewString(),
		ownerUserID:     uuid.NewString(),
		ownerResidentID: uuid.NewString(),
		memberUserID:    uuid.NewString(),
		memberResident:  uuid.NewString(),
	}

	bedrooms := 2
	if errSeed := conn.Create(&models.Unit{
		ID:           f.unitID,
		BuildingID:   f.buildingID,
		ApartmentNo:  "A-1203",
		BuildingName: "Sunrise Tower",
		Bedrooms:     &bedrooms,
	}).Error; errSeed != nil {
		t.Fatalf("seed unit: %v", errSeed)
	}

	householdID := uuid.NewString()
	if errSeed := conn.Create(&models.Household{ID: householdID, UnitID: f.unitID}).Error; errSeed != nil {
		t.Fatalf("seed household: %v", errSeed)
	}

	ownerUser := f.ownerUserID
	memberUser := f.memberUserID
	residents := []models.Resident{
		{ID: f.ownerResidentID, UserID: &ownerUser, FullName: "Nguyen Van An", CitizenID: "079201001234"},
		{ID: f.memberResident, UserID: &memberUser, FullName: "Tran Thi Binh", CitizenID: "079201005678"},
	}
	if errSeed := conn.Create(&residents).Error; errSeed != nil {
		t.Fatalf("seed residents: %v", errSeed)
	}

	members := []models.HouseholdMember{
		{ID: uuid.NewString(), HouseholdID: householdID, ResidentID: f.ownerResidentID, IsPrimary: true, JoinedAt: time.Now().UTC()},
		{ID: uuid.NewString(), HouseholdID: householdID, ResidentID: f.memberResident, JoinedAt: time.Now().UTC()},
	}
	if errSeed := conn.Create(&members).Error; errSeed != nil {
		t.Fatalf("seed members: %v", errSeed)
	}

	if errSeed := conn.Create(&models.MembershipRequest{
		ID:         uuid.NewString(),
		ResidentID: f.memberResident,
		UnitID:     f.unitID,
		Status:     models.MembershipRequestApproved,
	}).Error; errSeed != nil {
		t.Fatalf("seed membership request: %v", errSeed)
	}

	f.service = NewService(
		conn,
		eligibility.NewValidator(conn),
		address.NewResolver(conn),
		pricing.NewService(conn),
		testGateway(),
		payment.NewMemoryPendingStore(),
		f.notifier,
		nil,
	)
	return f
}

func (f *fixture) residentInput() CreateInput {
	return CreateInput{
		CardKind:        models.CardKindResident,
		RequesterUserID: f.ownerUserID,
		ResidentID:      f.ownerResidentID,
		UnitID:          f.unitID,
		FullName:        "Nguyen Van An",
		CitizenID:       "079201001234",
		PhoneNumber:     "0903123456",
	}
}

func (f *fixture) vehicleInput() CreateInput {
	return CreateInput{
		CardKind:        models.CardKindVehicle,
		RequesterUserID: f.ownerUserID,
		UnitID:          f.unitID,
		FullName:        "Nguyen Van An",
		VehicleType:     "MOTORBIKE",
		LicensePlate:    "59X1-123.45",
	}
}

func TestCreateResidentCard(t *testing.T) {
	f := newFixture(t)

	reg, errCreate := f.service.Create(context.Background(), f.residentInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if reg.Status != models.StatusReadyForPayment {
		t.Fatalf("status = %s, want READY_FOR_PAYMENT", reg.Status)
	}
	if reg.PaymentStatus != models.PaymentStatusUnpaid {
		t.Fatalf("payment status = %s, want UNPAID", reg.PaymentStatus)
	}
	if reg.PaymentAmount != pricing.DefaultPrice {
		t.Fatalf("amount = %v, want default price", reg.PaymentAmount)
	}
	if reg.ApartmentNo != "A-1203" {
		t.Fatalf("apartment = %q, want resolved A-1203", reg.ApartmentNo)
	}
}

func TestCreateResidentCardRejectsShortCitizenID(t *testing.T) {
	f := newFixture(t)

	in := f.residentInput()
	in.CitizenID = "12345"
	if _, errCreate := f.service.Create(context.Background(), in); !IsValidation(errCreate) {
		t.Fatalf("err = %v, want validation error", errCreate)
	}
}

func TestCreateVehicleCardRequiresPlate(t *testing.T) {
	f := newFixture(t)

	in := f.vehicleInput()
	in.LicensePlate = ""
	if _, errCreate := f.service.Create(context.Background(), in); !IsValidation(errCreate) {
		t.Fatalf("err = %v, want validation error", errCreate)
	}
}

func TestCreateRejectsNonMember(t *testing.T) {
	f := newFixture(t)

	in := f.vehicleInput()
	in.RequesterUserID = uuid.NewString()
	_, errCreate := f.service.Create(context.Background(), in)
	if !errors.Is(errCreate, eligibility.ErrNotHouseholdMember) {
		t.Fatalf("err = %v, want ErrNotHouseholdMember", errCreate)
	}
}

func TestCreateEnforcesUnitCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two bedrooms at the default multiplier allow four resident cards.
	holders := []string{f.ownerResidentID, f.memberResident}
	for i := 0; i < 4; i++ {
		in := f.residentInput()
		in.ResidentID = holders[i%2]
		in.CitizenID = "0792010012" + string(rune('0'+i)) + "9"
		if _, errCreate := f.service.Create(ctx, in); errCreate != nil {
			t.Fatalf("create %d: %v", i, errCreate)
		}
	}

	in := f.residentInput()
	in.CitizenID = "079201009999"
	if _, errCreate := f.service.Create(ctx, in); !errors.Is(errCreate, ErrOverCapacity) {
		t.Fatalf("err = %v, want ErrOverCapacity", errCreate)
	}
}

func TestCapacityIgnoresCancelledCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, errCreate := f.service.Create(ctx, f.residentInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if _, errCancel := f.service.Cancel(ctx, reg.ID, f.ownerUserID); errCancel != nil {
		t.Fatalf("cancel: %v", errCancel)
	}

	remaining, errRemaining := f.service.RemainingCapacity(ctx, f.unitID, models.CardKindResident)
	if errRemaining != nil {
		t.Fatalf("remaining capacity: %v", errRemaining)
	}
	if remaining != 4 {
		t.Fatalf("remaining = %d, want 4 after cancellation", remaining)
	}
}

func TestVehicleCardsAreUncapped(t *testing.T) {
	f := newFixture(t)

	remaining, errRemaining := f.service.RemainingCapacity(context.Background(), f.unitID, models.CardKindVehicle)
	if errRemaining != nil {
		t.Fatalf("remaining capacity: %v", errRemaining)
	}
	if remaining != -1 {
		t.Fatalf("remaining = %d, want -1 for uncapped kind", remaining)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, errCreate := f.service.Create(ctx, f.vehicleInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	if _, errCancel := f.service.Cancel(ctx, reg.ID, f.ownerUserID); errCancel != nil {
		t.Fatalf("first cancel: %v", errCancel)
	}
	again, errCancel := f.service.Cancel(ctx, reg.ID, f.ownerUserID)
	if errCancel != nil {
		t.Fatalf("second cancel: %v", errCancel)
	}
	if again.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", again.Status)
	}
}

func TestCancelRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, errCreate := f.service.Create(ctx, f.vehicleInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if _, errCancel := f.service.Cancel(ctx, reg.ID, uuid.NewString()); !errors.Is(errCancel, ErrNotCardOwner) {
		t.Fatalf("err = %v, want ErrNotCardOwner", errCancel)
	}
}

func TestReissueRequiresCancelledPaidOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, errCreate := f.service.Create(ctx, f.vehicleInput())
	if errCreate != nil {
		t.Fatalf("create original: %v", errCreate)
	}

	reissue := f.vehicleInput()
	reissue.RequestType = models.RequestTypeReplaceCard
	reissue.ReissuedFromCardID = original.ID

	// Not cancelled yet.
	if _, errReissue := f.service.Create(ctx, reissue); !errors.Is(errReissue, ErrOriginalNotCancelled) {
		t.Fatalf("err = %v, want ErrOriginalNotCancelled", errReissue)
	}

	if errPaid := f.conn.Model(&models.CardRegistration{}).
		Where("id = ?", original.ID).
		Updates(map[string]any{
			"status":         models.StatusCancelled,
			"payment_status": models.PaymentStatusPaid,
		}).Error; errPaid != nil {
		t.Fatalf("mark original cancelled: %v", errPaid)
	}

	replacement, errReissue := f.service.Create(ctx, reissue)
	if errReissue != nil {
		t.Fatalf("reissue: %v", errReissue)
	}
	if replacement.ReissuedFromCardID == nil || *replacement.ReissuedFromCardID != original.ID {
		t.Fatalf("reissued_from = %v, want %s", replacement.ReissuedFromCardID, original.ID)
	}

	// One reissue per card.
	if _, errAgain := f.service.Create(ctx, reissue); !errors.Is(errAgain, ErrAlreadyReissued) {
		t.Fatalf("err = %v, want ErrAlreadyReissued", errAgain)
	}
}

func TestGetReportsReissueEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, errCreate := f.service.Create(ctx, f.vehicleInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	detail, errGet := f.service.Get(ctx, reg.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if detail.CanReissue {
		t.Fatal("can_reissue = true for an active unpaid card")
	}

	if errMark := f.conn.Model(&models.CardRegistration{}).
		Where("id = ?", reg.ID).
		Updates(map[string]any{
			"status":         models.StatusCancelled,
			"payment_status": models.PaymentStatusPaid,
		}).Error; errMark != nil {
		t.Fatalf("mark cancelled paid: %v", errMark)
	}

	detail, errGet = f.service.Get(ctx, reg.ID)
	if errGet != nil {
		t.Fatalf("get after cancel: %v", errGet)
	}
	if !detail.CanReissue {
		t.Fatal("can_reissue = false for a cancelled paid card")
	}
}

func TestDecideApproveRequiresPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, errCreate := f.service.Create(ctx, f.residentInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	_, _, errDecide := f.service.Decide(ctx, DecideInput{
		RegistrationID: reg.ID,
		Decision:       DecisionApprove,
		AdminID:        "1",
	})
	if !errors.Is(errDecide, ErrApproveUnpaid) {
		t.Fatalf("err = %v, want ErrApproveUnpaid", errDecide)
	}

	if errPaid := f.conn.Model(&models.CardRegistration{}).
		Where("id = ?", reg.ID).
		Updates(map[string]any{
			"status":         models.StatusPending,
			"payment_status": models.PaymentStatusPaid,
		}).Error; errPaid != nil {
		t.Fatalf("mark paid: %v", errPaid)
	}

	approved, changed, errDecide := f.service.Decide(ctx, DecideInput{
		RegistrationID: reg.ID,
		Decision:       DecisionApprove,
		AdminID:        "1",
	})
	if errDecide != nil {
		t.Fatalf("approve: %v", errDecide)
	}
	if !changed {
		t.Fatal("changed = false on first approval")
	}
	if approved.Status != models.StatusApproved || approved.ApprovedAt == nil {
		t.Fatalf("status = %s approvedAt = %v, want APPROVED with timestamp", approved.Status, approved.ApprovedAt)
	}

	// Repeating the decision is a no-op.
	_, changed, errDecide = f.service.Decide(ctx, DecideInput{
		RegistrationID: reg.ID,
		Decision:       DecisionApprove,
		AdminID:        "1",
	})
	if errDecide != nil {
		t.Fatalf("repeat approve: %v", errDecide)
	}
	if changed {
		t.Fatal("changed = true on repeated approval")
	}
}

func TestDecideApproveNotifiesWithBuildingRouting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, errCreate := f.service.Create(ctx, f.residentInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if errPaid := f.conn.Model(&models.CardRegistration{}).
		Where("id = ?", reg.ID).
		Updates(map[string]any{
			"status":         models.StatusPending,
			"payment_status": models.PaymentStatusPaid,
		}).Error; errPaid != nil {
		t.Fatalf("mark paid: %v", errPaid)
	}

	if _, _, errDecide := f.service.Decide(ctx, DecideInput{
		RegistrationID: reg.ID,
		Decision:       DecisionApprove,
		AdminID:        "1",
	}); errDecide != nil {
		t.Fatalf("approve: %v", errDecide)
	}

	if len(f.notifier.messages) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(f.notifier.messages))
	}
	msg := f.notifier.messages[0]
	if msg.Type != notify.TypeCardApproved {
		t.Fatalf("type = %s, want CARD_APPROVED", msg.Type)
	}
	if msg.ResidentID != f.ownerResidentID {
		t.Fatalf("resident = %s, want %s", msg.ResidentID, f.ownerResidentID)
	}
	if msg.BuildingID != f.buildingID {
		t.Fatalf("building = %q, want %q", msg.BuildingID, f.buildingID)
	}
	if msg.ReferenceID != reg.ID {
		t.Fatalf("reference = %s, want %s", msg.ReferenceID, reg.ID)
	}
}

func TestDecideReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, errCreate := f.service.Create(ctx, f.residentInput())
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	rejected, changed, errDecide := f.service.Decide(ctx, DecideInput{
		RegistrationID:  reg.ID,
		Decision:        DecisionReject,
		AdminID:         "1",
		RejectionReason: "duplicate request",
	})
	if errDecide != nil {
		t.Fatalf("reject: %v", errDecide)
	}
	if !changed || rejected.Status != models.StatusRejected {
		t.Fatalf("status = %s changed = %v, want REJECTED and changed", rejected.Status, changed)
	}

	_, _, errAgain := f.service.Decide(ctx, DecideInput{
		RegistrationID: reg.ID,
		Decision:       DecisionReject,
		AdminID:        "1",
	})
	if !errors.Is(errAgain, ErrAlreadyRejected) {
		t.Fatalf("err = %v, want ErrAlreadyRejected", errAgain)
	}

	// Rejected cards cannot be cancelled afterwards.
	if _, errCancel := f.service.Cancel(ctx, reg.ID, f.ownerUserID); !errors.Is(errCancel, ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", errCancel)
	}
}
