package registration

import "errors"

// Lifecycle errors. Handlers map these onto HTTP statuses.
var (
	// ErrNotFound indicates the registration does not exist.
	ErrNotFound = errors.New("registration: not found")
	// ErrOverCapacity indicates the unit already holds its maximum cards.
	ErrOverCapacity = errors.New("registration: unit card capacity reached")
	// ErrOriginalCardNotFound indicates the reissue source does not exist.
	ErrOriginalCardNotFound = errors.New("registration: original card not found")
	// ErrOriginalNotCancelled indicates the reissue source was not cancelled.
	ErrOriginalNotCancelled = errors.New("registration: only cancelled cards can be reissued")
	// ErrAlreadyReissued indicates the original card was already reissued once.
	ErrAlreadyReissued = errors.New("registration: card already reissued")
	// ErrNotPayable indicates payment cannot be initiated in the current state.
	ErrNotPayable = errors.New("registration: not payable in current state")
	// ErrPaymentInProgress indicates a recent payment attempt is still pending.
	ErrPaymentInProgress = errors.New("registration: payment already in progress")
	// ErrRenewalUnpaid indicates a renewal was attempted on a never-paid card.
	ErrRenewalUnpaid = errors.New("registration: renewal requires a previously paid card")
	// ErrApproveUnpaid indicates approval was attempted before payment settled.
	ErrApproveUnpaid = errors.New("registration: approval requires settled payment")
	// ErrNotApprovable indicates the card is not awaiting an approval decision.
	ErrNotApprovable = errors.New("registration: not approvable in current state")
	// ErrAlreadyRejected indicates a decision on an already-rejected card.
	ErrAlreadyRejected = errors.New("registration: already rejected")
	// ErrNotCancellable indicates the card is in a terminal non-cancellable state.
	ErrNotCancellable = errors.New("registration: cannot cancel in current state")
	// ErrNotCardOwner indicates the requester may not act on this card.
	ErrNotCardOwner = errors.New("registration: requester does not own this card")
)

// ValidationError reports a client-correctable payload problem.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return "registration: " + e.Reason
}

func newValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a payload validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
