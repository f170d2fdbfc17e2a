package settlement

import (
	"context"

	"github.com/holiman/uint256"
)

// PayoutChannel releases withdrawn funds outside the engine. Implementations
// may call back into the engine; such calls are rejected while the withdrawal
// is in progress.
type PayoutChannel interface {
	Pay(ctx context.Context, owner, destination [20]byte, amount *uint256.Int) error
}

// PayoutFunc adapts a function to the PayoutChannel interface.
type PayoutFunc func(ctx context.Context, owner, destination [20]byte, amount *uint256.Int) error

func (f PayoutFunc) Pay(ctx context.Context, owner, destination [20]byte, amount *uint256.Int) error {
	return f(ctx, owner, destination, amount)
}
