package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScenarioEscalationReachesQuorum(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 500)
	id := f.register(f.authorization(200, 0, 1), t0)
	now := t0 + 14*day

	res, err := f.engine.ApproveForceFinalize(f.signers[0], id, now)
	require.NoError(t, err)
	require.False(t, res.Finalized)
	require.Len(t, res.Approvals, 1)
	require.Equal(t, StatusPending, res.Record.Status)

	res, err = f.engine.ApproveForceFinalize(f.signers[1], id, now+1)
	require.NoError(t, err)
	require.False(t, res.Finalized)
	require.Len(t, res.Approvals, 2)
	require.Equal(t, uint64(500), f.balance(f.sender))

	res, err = f.engine.ApproveForceFinalize(f.signers[2], id, now+2)
	require.NoError(t, err)
	require.True(t, res.Finalized)
	require.Len(t, res.Approvals, EscalationQuorum)
	require.Equal(t, StatusAutoFinalized, res.Record.Status)
	require.Equal(t, now+2, res.Record.ResolvedAt)
	require.Equal(t, f.signers[:3], res.Record.Approvers)

	require.Equal(t, uint64(300), f.balance(f.sender))
	require.Equal(t, uint64(200), f.balance(f.recipient))
	require.Equal(t, uint64(1), f.nonce(f.sender))
	require.Len(t, f.recorder.OfType(EventTypeEscalationApproved), 3)
	auto := f.recorder.OfType(EventTypeAutoFinalized)
	require.Len(t, auto, 1)
	require.Equal(t, "200", auto[0].Attr("amount"))

	_, err = f.engine.ApproveForceFinalize(f.signers[3], id, now+3)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestScenarioDuplicateApproverRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 500)
	id := f.register(f.authorization(200, 0, 1), t0)

	_, err := f.engine.ApproveForceFinalize(f.signers[0], id, t0+14*day)
	require.NoError(t, err)
	_, err = f.engine.ApproveForceFinalize(f.signers[0], id, t0+15*day)
	require.ErrorIs(t, err, ErrAlreadyApproved)

	ballot, err := f.engine.Ballot(id)
	require.NoError(t, err)
	require.Equal(t, [][20]byte{f.signers[0]}, ballot)
	require.Equal(t, StatusPending, f.status(id))
}

func TestEscalationNotYetEligible(t *testing.T) {
	f := newFixture(t)
	id := f.register(f.authorization(10, 0, 1), t0)

	_, err := f.engine.ApproveForceFinalize(f.signers[0], id, t0+14*day-1)
	require.ErrorIs(t, err, ErrEscalationNotYetEligible)
	ballot, err := f.engine.Ballot(id)
	require.NoError(t, err)
	require.Empty(t, ballot)

	_, err = f.engine.ApproveForceFinalize(f.signers[0], [32]byte{0x01}, t0+14*day)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEscalationAfterDisputeIsInvalidState(t *testing.T) {
	f := newFixture(t)
	id := f.register(f.authorization(10, 0, 1), t0)
	_, err := f.engine.Dispute(f.sender, id, nil, t0+day)
	require.NoError(t, err)

	_, err = f.engine.ApproveForceFinalize(f.signers[0], id, t0+14*day)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestQuorumApprovalWithInsufficientFundsIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 50)
	id := f.register(f.authorization(200, 0, 1), t0)
	now := t0 + 20*day

	for _, signer := range f.signers[:2] {
		_, err := f.engine.ApproveForceFinalize(signer, id, now)
		require.NoError(t, err)
	}
	_, err := f.engine.ApproveForceFinalize(f.signers[2], id, now)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	ballot, err := f.engine.Ballot(id)
	require.NoError(t, err)
	require.Len(t, ballot, 2)
	require.Equal(t, StatusPending, f.status(id))
	require.Equal(t, uint64(0), f.nonce(f.sender))
	require.Empty(t, f.recorder.OfType(EventTypeAutoFinalized))

	// Topping up lets the same signer complete the quorum.
	f.fund(f.sender, 150)
	res, err := f.engine.ApproveForceFinalize(f.signers[2], id, now+1)
	require.NoError(t, err)
	require.True(t, res.Finalized)
	require.Equal(t, uint64(0), f.balance(f.sender))
}

func TestEscalationIgnoresExpiry(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 10)
	auth := f.authorization(10, 0, 1)
	auth.Expiry = t0 + 8*day
	id := f.register(auth, t0)

	now := t0 + 14*day
	_, err := f.engine.Finalize(f.relayer, id, now)
	require.ErrorIs(t, err, ErrExpired)

	var res *EscalationResult
	for _, signer := range f.signers[:EscalationQuorum] {
		res, err = f.engine.ApproveForceFinalize(signer, id, now)
		require.NoError(t, err)
	}
	require.True(t, res.Finalized)
	require.Equal(t, uint64(10), f.balance(f.recipient))
}
