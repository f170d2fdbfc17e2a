package settlement

import "fmt"

// ApproveForceFinalize records an escalation approval for a stalled PENDING
// transfer. The approval that reaches EscalationQuorum settles the transfer
// as AUTO_FINALIZED in the same operation; if that settlement fails the
// approval is not recorded either.
func (e *Engine) ApproveForceFinalize(approver [20]byte, id [32]byte, now uint64) (*EscalationResult, error) {
	release, err := e.guard.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := e.require(approver, RoleEscalationSigner); err != nil {
		return nil, err
	}
	return e.approveForceFinalize(approver, id, now)
}

func (e *Engine) approveForceFinalize(approver [20]byte, id [32]byte, now uint64) (*EscalationResult, error) {
	v := e.begin()
	rec, err := v.record(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidState, rec.Status)
	}
	if now < rec.escalationOpensAt() {
		return nil, fmt.Errorf("%w: opens at %d", ErrEscalationNotYetEligible, rec.escalationOpensAt())
	}
	ballot, err := v.ballot(id)
	if err != nil {
		return nil, err
	}
	for _, existing := range ballot {
		if existing == approver {
			return nil, ErrAlreadyApproved
		}
	}
	ballot = append(ballot, approver)
	v.setBallot(id, ballot)

	result := &EscalationResult{Approvals: ballot}
	if len(ballot) >= EscalationQuorum {
		rec.Approvers = append([][20]byte(nil), ballot...)
		if err := settle(v, rec, now, StatusAutoFinalized); err != nil {
			return nil, err
		}
		result.Finalized = true
	}
	if err := e.commit(v); err != nil {
		return nil, err
	}
	result.Record = rec.Clone()
	e.emit(NewEscalationApprovedEvent(rec, approver, len(ballot)))
	if result.Finalized {
		e.emit(NewAutoFinalizedEvent(rec))
	}
	return result, nil
}
