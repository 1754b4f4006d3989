package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/openresident/cardservice/internal/billing"
	"github.com/openresident/cardservice/internal/models"
	"github.com/openresident/cardservice/internal/notify"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciliation errors. These abort the callback entirely; nothing is
// credited and nothing is reverted.
var (
	// ErrMalformedReference indicates the transaction reference did not parse.
	ErrMalformedReference = errors.New("payment: malformed transaction reference")
	// ErrRegistrationNotFound indicates no registration matched the callback.
	ErrRegistrationNotFound = errors.New("payment: registration not found for callback")
)

// Callback log outcomes.
const (
	outcomeSuccess  = "SUCCESS"
	outcomeFailed   = "FAILED"
	outcomeRejected = "REJECTED"
)

// CycleResetter resets a card's fee reminder cycle after payment.
type CycleResetter interface {
	ResetAfterPayment(ctx context.Context, cardKind, cardID string) error
}

// Outcome is the structured result of one callback reconciliation.
type Outcome struct {
	RegistrationID string `json:"registration_id"`
	RequestType    string `json:"request_type"`
	Success        bool   `json:"success"`
	Message        string `json:"message"`
}

// Reconciler settles gateway callbacks against card registrations.
type Reconciler struct {
	db       *gorm.DB
	gateway  *Gateway
	pending  PendingStore
	recorder billing.Recorder
	notifier notify.Dispatcher
	resetter CycleResetter
}

// NewReconciler constructs a payment reconciler.
func NewReconciler(
	db *gorm.DB,
	gateway *Gateway,
	pending PendingStore,
	recorder billing.Recorder,
	notifier notify.Dispatcher,
	resetter CycleResetter,
) *Reconciler {
	if db == nil || gateway == nil {
		return nil
	}
	return &Reconciler{
		db:       db,
		gateway:  gateway,
		pending:  pending,
		recorder: recorder,
		notifier: notifier,
		resetter: resetter,
	}
}

// HandleCallback reconciles one gateway callback. A confirmed payment
// settles every registration sharing the transaction reference as one
// atomic batch; a declined or tampered callback reverts the whole batch so
// the user can retry. The pending order mapping is removed either way.
func (r *Reconciler) HandleCallback(ctx context.Context, params map[string]string) (*Outcome, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment: reconciler not initialized")
	}

	txnRef := TransactionRef(params)
	orderID, okRef := ParseOrderID(txnRef)
	if !okRef {
		r.logCallback(ctx, txnRef, params, outcomeRejected, "malformed transaction reference")
		return nil, ErrMalformedReference
	}
	defer r.removePending(ctx, orderID)

	primary, errResolve := r.resolveRegistration(ctx, orderID, txnRef)
	if errResolve != nil {
		r.logCallback(ctx, txnRef, params, outcomeRejected, "registration not found")
		return nil, errResolve
	}

	signatureOK, responseCode := r.gateway.ValidateReturn(params)
	success := signatureOK &&
		responseCode == ResponseCodeSuccess &&
		TransactionStatus(params) == ResponseCodeSuccess

	batch, errBatch := r.loadBatch(ctx, txnRef, primary)
	if errBatch != nil {
		return nil, errBatch
	}

	if success {
		if errSettle := r.settleBatch(ctx, batch, params); errSettle != nil {
			return nil, errSettle
		}
		r.logCallback(ctx, txnRef, params, outcomeSuccess, "payment confirmed")
		log.Infof("payment reconciler: settled %d card(s) (txn=%s)", len(batch), txnRef)
		return &Outcome{
			RegistrationID: primary.ID,
			RequestType:    primary.RequestType,
			Success:        true,
			Message:        "payment confirmed",
		}, nil
	}

	if errRevert := r.revertBatch(ctx, batch); errRevert != nil {
		return nil, errRevert
	}
	reason := "payment declined by gateway"
	if !signatureOK {
		reason = "invalid callback signature"
	}
	r.logCallback(ctx, txnRef, params, outcomeFailed, reason)
	log.Warnf("payment reconciler: reverted %d card(s) (txn=%s reason=%s)", len(batch), txnRef, reason)
	return &Outcome{
		RegistrationID: primary.ID,
		RequestType:    primary.RequestType,
		Success:        false,
		Message:        "payment failed, please retry",
	}, nil
}

// resolveRegistration finds the primary registration: the pending order
// mapping first, then the stored transaction reference for callbacks that
// arrive after a restart lost the mapping.
func (r *Reconciler) resolveRegistration(ctx context.Context, orderID, txnRef string) (*models.CardRegistration, error) {
	var registrationID string
	if r.pending != nil {
		id, found, errGet := r.pending.Get(ctx, orderID)
		if errGet != nil {
			log.WithError(errGet).Warnf("payment reconciler: pending store lookup failed (order=%s)", orderID)
		} else if found {
			registrationID = id
		}
	}

	var reg models.CardRegistration
	if registrationID != "" {
		errFind := r.db.WithContext(ctx).Where("id = ?", registrationID).First(&reg).Error
		if errFind == nil {
			return &reg, nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, errFind
		}
	}

	errFallback := r.db.WithContext(ctx).
		Where("transaction_ref = ?", txnRef).
		Order("created_at ASC").
		First(&reg).Error
	if errors.Is(errFallback, gorm.ErrRecordNotFound) {
		return nil, ErrRegistrationNotFound
	}
	if errFallback != nil {
		return nil, errFallback
	}
	return &reg, nil
}

// loadBatch returns every registration sharing the transaction reference.
// A lone primary is treated as a batch of one.
func (r *Reconciler) loadBatch(ctx context.Context, txnRef string, primary *models.CardRegistration) ([]models.CardRegistration, error) {
	var batch []models.CardRegistration
	if errFind := r.db.WithContext(ctx).
		Where("transaction_ref = ?", txnRef).
		Order("created_at ASC").
		Find(&batch).Error; errFind != nil {
		return nil, errFind
	}
	if len(batch) == 0 {
		batch = []models.CardRegistration{*primary}
	}
	return batch, nil
}

// settleBatch marks every card paid in one transaction. The reconciliation
// instant is used as the payment date for the whole batch; the gateway's
// reported time is ignored to avoid clock skew.
func (r *Reconciler) settleBatch(ctx context.Context, batch []models.CardRegistration, params map[string]string) error {
	now := time.Now().UTC()
	settled := make([]bool, len(batch))

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			reg := &batch[i]
			var locked models.CardRegistration
			if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", reg.ID).
				First(&locked).Error; errFind != nil {
				return errFind
			}

			// A replayed callback must not disturb a card that already
			// settled, in particular an APPROVED renewal.
			if locked.PaymentStatus == models.PaymentStatusPaid {
				reg.Status = locked.Status
				reg.PaymentStatus = locked.PaymentStatus
				reg.PaymentDate = locked.PaymentDate
				continue
			}

			updates := map[string]any{
				"payment_status": models.PaymentStatusPaid,
				"payment_date":   now,
			}
			if locked.Status == models.StatusNeedsRenewal || locked.Status == models.StatusSuspended {
				// Renewal skips the admin step: the card was approved before.
				updates["status"] = models.StatusApproved
				updates["approved_at"] = now
				reg.Status = models.StatusApproved
				reg.ApprovedAt = &now
			} else {
				updates["status"] = models.StatusPending
				reg.Status = models.StatusPending
			}
			if errUpdate := tx.Model(&models.CardRegistration{}).
				Where("id = ?", reg.ID).
				Updates(updates).Error; errUpdate != nil {
				return errUpdate
			}
			reg.PaymentStatus = models.PaymentStatusPaid
			reg.PaymentDate = &now
			settled[i] = true
		}
		return nil
	})
	if errTx != nil {
		return errTx
	}

	metadata, _ := json.Marshal(params)
	for i := range batch {
		if settled[i] {
			r.afterSettle(ctx, &batch[i], metadata)
		}
	}
	return nil
}

// afterSettle runs the best-effort side effects of one settled card. A
// billing or reminder failure is logged and swallowed; the payment is
// already confirmed by the gateway and must not be lost.
func (r *Reconciler) afterSettle(ctx context.Context, reg *models.CardRegistration, metadata []byte) {
	if r.recorder != nil {
		errRecord := r.recorder.RecordPayment(ctx, billing.Payment{
			CardKind:        reg.CardKind,
			CardID:          reg.ID,
			PayerUserID:     reg.RequesterUserID,
			UnitID:          reg.UnitID,
			Amount:          reg.PaymentAmount,
			TransactionRef:  reg.TransactionRef,
			GatewayMetadata: metadata,
		})
		if errRecord != nil {
			log.WithError(errRecord).Warnf("payment reconciler: billing record failed (card=%s)", reg.ID)
		}
	}

	if r.resetter != nil {
		if errReset := r.resetter.ResetAfterPayment(ctx, reg.CardKind, reg.ID); errReset != nil {
			log.WithError(errReset).Warnf("payment reconciler: reminder reset failed (card=%s)", reg.ID)
		}
	}

	if r.notifier != nil && reg.ResidentID != nil {
		errSend := r.notifier.SendResidentNotification(ctx, notify.Message{
			ResidentID:    *reg.ResidentID,
			Type:          notify.TypeCardPaid,
			Title:         "Card payment confirmed",
			Body:          "Your card fee payment has been received.",
			ReferenceID:   reg.ID,
			ReferenceType: "CARD_REGISTRATION",
		})
		if errSend != nil {
			log.WithError(errSend).Warnf("payment reconciler: payment notification failed (card=%s)", reg.ID)
		}
	}
}

// revertBatch returns every card in the batch to a retryable state. First
// payments go back to READY_FOR_PAYMENT and UNPAID; renewal cards keep
// their status and regain the PAID mark of the previous cycle.
func (r *Reconciler) revertBatch(ctx context.Context, batch []models.CardRegistration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			reg := &batch[i]
			updates := map[string]any{
				"status":               models.StatusReadyForPayment,
				"payment_status":       models.PaymentStatusUnpaid,
				"payment_initiated_at": nil,
			}
			if reg.Status == models.StatusNeedsRenewal || reg.Status == models.StatusSuspended {
				updates = map[string]any{
					"payment_status":       models.PaymentStatusPaid,
					"payment_initiated_at": nil,
				}
			}
			if errUpdate := tx.Model(&models.CardRegistration{}).
				Where("id = ?", reg.ID).
				Updates(updates).Error; errUpdate != nil {
				return errUpdate
			}
		}
		return nil
	})
}

func (r *Reconciler) removePending(ctx context.Context, orderID string) {
	if r.pending == nil {
		return
	}
	if errRemove := r.pending.Remove(ctx, orderID); errRemove != nil {
		log.WithError(errRemove).Warnf("payment reconciler: pending store remove failed (order=%s)", orderID)
	}
}

func (r *Reconciler) logCallback(ctx context.Context, txnRef string, params map[string]string, outcome, message string) {
	payload, errMarshal := json.Marshal(params)
	if errMarshal != nil {
		return
	}
	row := models.PaymentCallbackLog{
		ID:             uuid.NewString(),
		TransactionRef: txnRef,
		Params:         datatypes.JSON(payload),
		Outcome:        outcome,
		Message:        message,
		ReceivedAt:     time.Now().UTC(),
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("payment reconciler: callback log write failed")
	}
}
