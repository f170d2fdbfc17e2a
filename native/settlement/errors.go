package settlement

import "errors"

var (
	ErrInvalidRecipient         = errors.New("settlement: invalid recipient")
	ErrInvalidAmount            = errors.New("settlement: invalid amount")
	ErrAlreadyExpired           = errors.New("settlement: authorization already expired")
	ErrInvalidSignature         = errors.New("settlement: invalid signature")
	ErrInvalidNonce             = errors.New("settlement: invalid nonce")
	ErrUnauthorized             = errors.New("settlement: unauthorized")
	ErrDuplicateTransaction     = errors.New("settlement: duplicate transaction")
	ErrDuplicateDedupToken      = errors.New("settlement: dedup token already used")
	ErrAlreadyApproved          = errors.New("settlement: approver already recorded")
	ErrNotFound                 = errors.New("settlement: transaction not found")
	ErrInvalidState             = errors.New("settlement: transaction not pending")
	ErrExpired                  = errors.New("settlement: transaction expired")
	ErrDisputeWindowActive      = errors.New("settlement: dispute window still open")
	ErrDisputeWindowClosed      = errors.New("settlement: dispute window closed")
	ErrEscalationNotYetEligible = errors.New("settlement: escalation not yet eligible")
	ErrInsufficientFunds        = errors.New("settlement: insufficient funds")
	ErrBalanceOverflow          = errors.New("settlement: balance overflow")
	ErrReentrantCall            = errors.New("settlement: reentrant call rejected")
	ErrPayoutUnavailable        = errors.New("settlement: payout channel not configured")
	errNilState                 = errors.New("settlement: state not configured")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidRecipient, "InvalidRecipient"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrAlreadyExpired, "AlreadyExpired"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrInvalidNonce, "InvalidNonce"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrDuplicateTransaction, "DuplicateTransaction"},
	{ErrDuplicateDedupToken, "DuplicateDedupToken"},
	{ErrAlreadyApproved, "AlreadyApproved"},
	{ErrNotFound, "NotFound"},
	{ErrInvalidState, "InvalidState"},
	{ErrExpired, "Expired"},
	{ErrDisputeWindowActive, "DisputeWindowActive"},
	{ErrDisputeWindowClosed, "DisputeWindowClosed"},
	{ErrEscalationNotYetEligible, "EscalationNotYetEligible"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrBalanceOverflow, "BalanceOverflow"},
	{ErrReentrantCall, "ReentrantCall"},
	{ErrPayoutUnavailable, "PayoutUnavailable"},
}

// Kind returns the stable rejection code for err, "" for nil and "Internal"
// for errors that are not settlement rejections.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
