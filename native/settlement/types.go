package settlement

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

const (
	// DisputeWindow is the interval after registration during which the sender
	// or recipient may reject a transfer and before which it cannot finalize.
	DisputeWindow = 7 * 24 * time.Hour
	// ForceFinalizeDelay gates the escalation path for abandoned transfers.
	ForceFinalizeDelay = 14 * 24 * time.Hour
	// EscalationQuorum is the number of distinct escalation approvals that
	// force a pending transfer to settle.
	EscalationQuorum = 3
)

var (
	disputeWindowSeconds      = uint64(DisputeWindow / time.Second)
	forceFinalizeDelaySeconds = uint64(ForceFinalizeDelay / time.Second)
)

// Status enumerates the lifecycle states of a registered transfer.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusFinalized
	StatusRejected
	StatusAutoFinalized
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusFinalized:
		return "FINALIZED"
	case StatusRejected:
		return "REJECTED"
	case StatusAutoFinalized:
		return "AUTO_FINALIZED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusAutoFinalized
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusRejected || s == StatusAutoFinalized
}

// Authorization is the payload a sender signs offline.
type Authorization struct {
	Sender     [20]byte
	Recipient  [20]byte
	Amount     *uint256.Int
	Nonce      uint64
	Expiry     uint64
	DedupToken [32]byte
}

// Record is the registry entry for a single relayed transfer. Records are
// never deleted; only the resolution fields change after registration.
type Record struct {
	ID           [32]byte
	Sender       [20]byte
	Recipient    [20]byte
	Amount       *uint256.Int
	Nonce        uint64
	Expiry       uint64
	DedupToken   [32]byte
	RegisteredAt uint64
	ResolvedAt   uint64
	Status       Status
	Relayer      [20]byte
	EvidenceHash [32]byte
	Approvers    [][20]byte
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Amount = cloneAmount(r.Amount)
	if r.Approvers != nil {
		clone.Approvers = append([][20]byte(nil), r.Approvers...)
	}
	return &clone
}

// Authorization reconstructs the signed payload of the record.
func (r *Record) Authorization() Authorization {
	return Authorization{
		Sender:     r.Sender,
		Recipient:  r.Recipient,
		Amount:     cloneAmount(r.Amount),
		Nonce:      r.Nonce,
		Expiry:     r.Expiry,
		DedupToken: r.DedupToken,
	}
}

func (r *Record) disputeDeadline() uint64 {
	return r.RegisteredAt + disputeWindowSeconds
}

func (r *Record) escalationOpensAt() uint64 {
	return r.RegisteredAt + forceFinalizeDelaySeconds
}

// EscalationResult reports the outcome of a single force-finalize approval.
type EscalationResult struct {
	Record    *Record
	Approvals [][20]byte
	Finalized bool
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
