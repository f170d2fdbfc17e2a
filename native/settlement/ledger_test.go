package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestDepositCreditsBalance(t *testing.T) {
	f := newFixture(t)
	bal, err := f.engine.Deposit(f.sender, uint256.NewInt(40))
	require.NoError(t, err)
	require.Equal(t, uint64(40), bal.Uint64())
	bal, err = f.engine.Deposit(f.sender, uint256.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, uint64(42), bal.Uint64())

	deposited := f.recorder.OfType(EventTypeDeposited)
	require.Len(t, deposited, 2)
	require.Equal(t, "42", deposited[1].Attr("balance"))

	_, err = f.engine.Deposit(f.sender, new(uint256.Int))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.engine.Deposit(f.sender, nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDepositOverflowRejected(t *testing.T) {
	f := newFixture(t)
	ceiling := new(uint256.Int).SetAllOne()
	_, err := f.engine.Deposit(f.sender, ceiling)
	require.NoError(t, err)
	_, err = f.engine.Deposit(f.sender, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrBalanceOverflow)
	require.True(t, ceiling.Eq(mustBalance(t, f, f.sender)))
}

func mustBalance(t *testing.T, f *fixture, owner [20]byte) *uint256.Int {
	t.Helper()
	bal, err := f.engine.Balance(owner)
	require.NoError(t, err)
	return bal
}

func TestWithdrawPaysOut(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 100)
	dest := newTestAddress(0x66)

	var paid *uint256.Int
	f.engine.SetPayout(PayoutFunc(func(_ context.Context, owner, destination [20]byte, amount *uint256.Int) error {
		require.Equal(t, f.sender, owner)
		require.Equal(t, dest, destination)
		paid = amount
		return nil
	}))

	bal, err := f.engine.Withdraw(context.Background(), f.sender, dest, uint256.NewInt(30))
	require.NoError(t, err)
	require.Equal(t, uint64(70), bal.Uint64())
	require.Equal(t, uint64(30), paid.Uint64())
	require.Equal(t, uint64(70), f.balance(f.sender))

	withdrawn := f.recorder.OfType(EventTypeWithdrawn)
	require.Len(t, withdrawn, 1)
	require.Equal(t, identityHex(dest), withdrawn[0].Attr("destination"))
}

func TestWithdrawValidation(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 10)
	dest := newTestAddress(0x66)
	ctx := context.Background()

	_, err := f.engine.Withdraw(ctx, f.sender, dest, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrPayoutUnavailable)

	f.engine.SetPayout(PayoutFunc(func(context.Context, [20]byte, [20]byte, *uint256.Int) error { return nil }))
	_, err = f.engine.Withdraw(ctx, f.sender, [20]byte{}, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidRecipient)
	_, err = f.engine.Withdraw(ctx, f.sender, dest, new(uint256.Int))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.engine.Withdraw(ctx, f.sender, dest, uint256.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, uint64(10), f.balance(f.sender))
	require.False(t, f.engine.guard.held())
}

func TestWithdrawRejectsReentrantPayout(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 100)
	dest := newTestAddress(0x66)

	var (
		reentryErr  error
		seenBalance uint64
	)
	f.engine.SetPayout(PayoutFunc(func(context.Context, [20]byte, [20]byte, *uint256.Int) error {
		seenBalance = f.balance(f.sender)
		_, reentryErr = f.engine.Deposit(f.sender, uint256.NewInt(1))
		if _, err := f.engine.Withdraw(context.Background(), f.sender, dest, uint256.NewInt(1)); !errors.Is(err, ErrReentrantCall) {
			return err
		}
		auth := f.authorization(1, 0, 3)
		if _, err := f.engine.Register(f.relayer, auth, f.sign(auth), t0); !errors.Is(err, ErrReentrantCall) {
			return err
		}
		return nil
	}))

	bal, err := f.engine.Withdraw(context.Background(), f.sender, dest, uint256.NewInt(60))
	require.NoError(t, err)
	require.ErrorIs(t, reentryErr, ErrReentrantCall)
	require.Equal(t, uint64(40), seenBalance)
	require.Equal(t, uint64(40), bal.Uint64())
	require.Equal(t, uint64(40), f.balance(f.sender))
	require.False(t, f.engine.guard.held())
	require.Empty(t, f.recorder.OfType(EventTypeRegistered))
}

func TestWithdrawRestoresBalanceWhenPayoutFails(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 100)
	boom := errors.New("bank offline")
	f.engine.SetPayout(PayoutFunc(func(context.Context, [20]byte, [20]byte, *uint256.Int) error {
		return boom
	}))

	_, err := f.engine.Withdraw(context.Background(), f.sender, newTestAddress(0x66), uint256.NewInt(60))
	require.ErrorIs(t, err, boom)
	require.Equal(t, "Internal", Kind(err))
	require.Equal(t, uint64(100), f.balance(f.sender))
	require.Empty(t, f.recorder.OfType(EventTypeWithdrawn))
	require.False(t, f.engine.guard.held())

	// The engine stays usable afterwards.
	f.fund(f.sender, 1)
	require.Equal(t, uint64(101), f.balance(f.sender))
}

func failingPayout(context.Context, [20]byte, [20]byte, *uint256.Int) error {
	return errors.New("payout rejected")
}
