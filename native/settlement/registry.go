package settlement

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Register records an offline-signed transfer as PENDING on behalf of a
// relayer and returns its identifier. Balance sufficiency is deliberately not
// checked here; it is evaluated when the transfer settles.
func (e *Engine) Register(relayer [20]byte, auth Authorization, sig []byte, now uint64) ([32]byte, error) {
	release, err := e.guard.enter()
	if err != nil {
		return [32]byte{}, err
	}
	defer release()
	if err := e.require(relayer, RoleRelayer); err != nil {
		return [32]byte{}, err
	}
	return e.register(relayer, auth, sig, now)
}

func (e *Engine) register(relayer [20]byte, auth Authorization, sig []byte, now uint64) ([32]byte, error) {
	if auth.Recipient == ([20]byte{}) {
		return [32]byte{}, ErrInvalidRecipient
	}
	if auth.Amount == nil || auth.Amount.IsZero() {
		return [32]byte{}, ErrInvalidAmount
	}
	if auth.Expiry <= now {
		return [32]byte{}, fmt.Errorf("%w: expiry %d not after %d", ErrAlreadyExpired, auth.Expiry, now)
	}
	v := e.begin()
	id := TransactionID(auth)
	exists, err := v.hasRecord(id)
	if err != nil {
		return [32]byte{}, err
	}
	if exists {
		return [32]byte{}, ErrDuplicateTransaction
	}
	used, err := v.dedupUsed(auth.DedupToken)
	if err != nil {
		return [32]byte{}, err
	}
	if used {
		return [32]byte{}, ErrDuplicateDedupToken
	}
	stored, err := v.nonce(auth.Sender)
	if err != nil {
		return [32]byte{}, err
	}
	if stored != auth.Nonce {
		return [32]byte{}, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, stored, auth.Nonce)
	}
	signer, err := e.verifier.Recover(auth, sig)
	if err != nil {
		return [32]byte{}, err
	}
	if signer != auth.Sender {
		return [32]byte{}, ErrInvalidSignature
	}
	rec := &Record{
		ID:           id,
		Sender:       auth.Sender,
		Recipient:    auth.Recipient,
		Amount:       cloneAmount(auth.Amount),
		Nonce:        auth.Nonce,
		Expiry:       auth.Expiry,
		DedupToken:   auth.DedupToken,
		RegisteredAt: now,
		Status:       StatusPending,
		Relayer:      relayer,
	}
	v.putRecord(rec)
	v.consumeDedup(auth.DedupToken)
	if err := e.commit(v); err != nil {
		return [32]byte{}, err
	}
	e.emit(NewRegisteredEvent(rec))
	return id, nil
}

// Finalize settles a PENDING transfer once its dispute window has lapsed.
// InsufficientFunds leaves the record PENDING so it can be retried before
// expiry.
func (e *Engine) Finalize(relayer [20]byte, id [32]byte, now uint64) (*Record, error) {
	release, err := e.guard.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.require(relayer, RoleRelayer); err != nil {
		return nil, err
	}
	return e.finalize(id, now)
}

func (e *Engine) finalize(id [32]byte, now uint64) (*Record, error) {
	v := e.begin()
	rec, err := v.record(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidState, rec.Status)
	}
	if now > rec.Expiry {
		return nil, ErrExpired
	}
	if now < rec.disputeDeadline() {
		return nil, fmt.Errorf("%w: opens for finalization at %d", ErrDisputeWindowActive, rec.disputeDeadline())
	}
	if err := settle(v, rec, now, StatusFinalized); err != nil {
		return nil, err
	}
	if err := e.commit(v); err != nil {
		return nil, err
	}
	e.emit(NewFinalizedEvent(rec))
	return rec.Clone(), nil
}

// Dispute rejects a PENDING transfer inside its dispute window. Only the
// sender or recipient may dispute; the evidence is opaque and only its hash
// is kept.
func (e *Engine) Dispute(caller [20]byte, id [32]byte, evidence []byte, now uint64) (*Record, error) {
	release, err := e.guard.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.dispute(caller, id, evidence, now)
}

func (e *Engine) dispute(caller [20]byte, id [32]byte, evidence []byte, now uint64) (*Record, error) {
	v := e.begin()
	rec, err := v.record(id)
	if err != nil {
		return nil, err
	}
	if caller != rec.Sender && caller != rec.Recipient {
		return nil, fmt.Errorf("%w: only the sender or recipient may dispute", ErrUnauthorized)
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidState, rec.Status)
	}
	if now >= rec.disputeDeadline() {
		return nil, ErrDisputeWindowClosed
	}
	rec.Status = StatusRejected
	rec.ResolvedAt = now
	rec.EvidenceHash = ethcrypto.Keccak256Hash(evidence)
	v.putRecord(rec)
	if err := e.commit(v); err != nil {
		return nil, err
	}
	e.emit(NewDisputedEvent(rec, caller, len(evidence)))
	return rec.Clone(), nil
}

// settle moves the funds of rec, advances the sender nonce and marks the
// record resolved. Nothing is written to the store until the caller commits.
func settle(v *view, rec *Record, now uint64, status Status) error {
	if err := v.transfer(rec.Sender, rec.Recipient, rec.Amount); err != nil {
		return err
	}
	nonce, err := v.nonce(rec.Sender)
	if err != nil {
		return err
	}
	v.setNonce(rec.Sender, nonce+1)
	rec.Status = status
	rec.ResolvedAt = now
	v.putRecord(rec)
	return nil
}
