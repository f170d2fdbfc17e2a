package settlement

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
)

// Deposit credits amount to owner's spendable balance.
func (e *Engine) Deposit(owner [20]byte, amount *uint256.Int) (*uint256.Int, error) {
	release, err := e.guard.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	v := e.begin()
	if err := v.credit(owner, amount); err != nil {
		return nil, err
	}
	balance, err := v.balance(owner)
	if err != nil {
		return nil, err
	}
	if err := e.commit(v); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(owner, amount, balance))
	return balance, nil
}

// Withdraw debits owner and releases amount to destination through the payout
// channel. The debit is committed before the channel runs so a reentrant call
// observes the reduced balance; the guard rejects such calls outright. When
// the payout fails the debit is restored and the payout error returned.
func (e *Engine) Withdraw(ctx context.Context, owner, destination [20]byte, amount *uint256.Int) (*uint256.Int, error) {
	release, err := e.guard.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if e.payout == nil {
		return nil, ErrPayoutUnavailable
	}
	if destination == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	v := e.begin()
	if err := v.debit(owner, amount); err != nil {
		return nil, err
	}
	balance, err := v.balance(owner)
	if err != nil {
		return nil, err
	}
	if err := e.commit(v); err != nil {
		return nil, err
	}

	endPayout := e.guard.payout()
	payErr := e.payout.Pay(ctx, owner, destination, new(uint256.Int).Set(amount))
	endPayout()
	if payErr != nil {
		restore := e.begin()
		if err := restore.credit(owner, amount); err != nil {
			return nil, fmt.Errorf("settlement: restore after payout failure: %w", err)
		}
		if err := e.commit(restore); err != nil {
			return nil, fmt.Errorf("settlement: restore after payout failure: %w", err)
		}
		return nil, fmt.Errorf("settlement: payout: %w", payErr)
	}
	e.emit(NewWithdrawnEvent(owner, destination, amount, balance))
	return balance, nil
}
