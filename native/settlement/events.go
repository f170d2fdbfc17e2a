package settlement

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"offlinesettle/core/types"
)

const (
	EventTypeRegistered         = "settlement.registered"
	EventTypeFinalized          = "settlement.finalized"
	EventTypeDisputed           = "settlement.disputed"
	EventTypeEscalationApproved = "settlement.escalation_approved"
	EventTypeAutoFinalized      = "settlement.auto_finalized"
	EventTypeDeposited          = "settlement.deposited"
	EventTypeWithdrawn          = "settlement.withdrawn"
)

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

func identityHex(id [20]byte) string { return common.Address(id).Hex() }

func newRecordEvent(eventType string, rec *Record) *types.Event {
	attrs := map[string]string{
		"id":           hexutil.Encode(rec.ID[:]),
		"sender":       identityHex(rec.Sender),
		"recipient":    identityHex(rec.Recipient),
		"amount":       cloneAmount(rec.Amount).Dec(),
		"nonce":        strconv.FormatUint(rec.Nonce, 10),
		"status":       rec.Status.String(),
		"registeredAt": strconv.FormatUint(rec.RegisteredAt, 10),
	}
	if rec.ResolvedAt != 0 {
		attrs["resolvedAt"] = strconv.FormatUint(rec.ResolvedAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewRegisteredEvent carries the fields external observers index a new
// registration by.
func NewRegisteredEvent(rec *Record) *types.Event {
	evt := newRecordEvent(EventTypeRegistered, rec)
	evt.Attributes["dedupToken"] = hexutil.Encode(rec.DedupToken[:])
	evt.Attributes["relayer"] = identityHex(rec.Relayer)
	evt.Attributes["timestamp"] = strconv.FormatUint(rec.RegisteredAt, 10)
	evt.Attributes["expiry"] = strconv.FormatUint(rec.Expiry, 10)
	return evt
}

func NewFinalizedEvent(rec *Record) *types.Event {
	return newRecordEvent(EventTypeFinalized, rec)
}

func NewDisputedEvent(rec *Record, disputedBy [20]byte, evidenceLen int) *types.Event {
	evt := newRecordEvent(EventTypeDisputed, rec)
	evt.Attributes["disputedBy"] = identityHex(disputedBy)
	evt.Attributes["evidenceHash"] = hexutil.Encode(rec.EvidenceHash[:])
	evt.Attributes["evidenceBytes"] = strconv.Itoa(evidenceLen)
	return evt
}

func NewEscalationApprovedEvent(rec *Record, approver [20]byte, approvals int) *types.Event {
	evt := newRecordEvent(EventTypeEscalationApproved, rec)
	evt.Attributes["approver"] = identityHex(approver)
	evt.Attributes["approvals"] = strconv.Itoa(approvals)
	evt.Attributes["quorum"] = strconv.Itoa(EscalationQuorum)
	return evt
}

func NewAutoFinalizedEvent(rec *Record) *types.Event {
	evt := newRecordEvent(EventTypeAutoFinalized, rec)
	approvers := make([]string, len(rec.Approvers))
	for i, a := range rec.Approvers {
		approvers[i] = identityHex(a)
	}
	evt.Attributes["approvers"] = strings.Join(approvers, ",")
	return evt
}

func newLedgerEvent(eventType string, owner [20]byte, amount, balance *uint256.Int) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"owner":   identityHex(owner),
		"amount":  cloneAmount(amount).Dec(),
		"balance": cloneAmount(balance).Dec(),
	}}
}

func NewDepositedEvent(owner [20]byte, amount, balance *uint256.Int) *types.Event {
	return newLedgerEvent(EventTypeDeposited, owner, amount, balance)
}

func NewWithdrawnEvent(owner, destination [20]byte, amount, balance *uint256.Int) *types.Event {
	evt := newLedgerEvent(EventTypeWithdrawn, owner, amount, balance)
	evt.Attributes["destination"] = identityHex(destination)
	return evt
}
