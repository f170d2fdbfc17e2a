package settlement

import (
	"fmt"

	"github.com/holiman/uint256"

	"offlinesettle/core/events"
	"offlinesettle/core/types"
)

// Engine owns the settlement state machine, its ledger and escalation
// ballots. Each public method is one indivisible operation: writes are staged
// in a change set and applied to the store only when the operation succeeds.
// The engine is not safe for concurrent use; wrap it in an Executor.
type Engine struct {
	state    Store
	verifier *Verifier
	auth     Authorizer
	emitter  events.Emitter
	payout   PayoutChannel
	guard    guard
}

// NewEngine creates an engine bound to state and verifier. Until an
// authorizer is configured every capability check fails.
func NewEngine(state Store, verifier *Verifier) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if verifier == nil {
		return nil, fmt.Errorf("settlement: verifier required")
	}
	return &Engine{
		state:    state,
		verifier: verifier,
		auth:     denyAll{},
		emitter:  events.NoopEmitter{},
	}, nil
}

type denyAll struct{}

func (denyAll) HasRole([20]byte, Role) bool { return false }

// SetAuthorizer configures the capability check. Passing nil denies every
// gated call.
func (e *Engine) SetAuthorizer(auth Authorizer) {
	if auth == nil {
		e.auth = denyAll{}
		return
	}
	e.auth = auth
}

// SetEmitter configures the event sink. Passing nil discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPayout configures the external channel used by Withdraw.
func (e *Engine) SetPayout(payout PayoutChannel) { e.payout = payout }

// Verifier exposes the authorization verifier bound to the engine.
func (e *Engine) Verifier() *Verifier { return e.verifier }

func (e *Engine) emit(event *types.Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: event})
}

func (e *Engine) require(caller [20]byte, role Role) error {
	if !e.auth.HasRole(caller, role) {
		return fmt.Errorf("%w: %s capability required", ErrUnauthorized, role)
	}
	return nil
}

func (e *Engine) begin() *view { return newView(e.state) }

func (e *Engine) commit(v *view) error {
	if err := e.state.Apply(v.cs); err != nil {
		return fmt.Errorf("settlement: commit: %w", err)
	}
	return nil
}

// Record returns the stored transfer record for id.
func (e *Engine) Record(id [32]byte) (*Record, error) {
	rec, ok, err := e.state.Record(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Balance returns the spendable balance of id.
func (e *Engine) Balance(id [20]byte) (*uint256.Int, error) {
	return e.state.Balance(id)
}

// Nonce returns the replay counter of id.
func (e *Engine) Nonce(id [20]byte) (uint64, error) {
	return e.state.Nonce(id)
}

// Ballot returns the escalation approvals recorded for id.
func (e *Engine) Ballot(id [32]byte) ([][20]byte, error) {
	if _, err := e.Record(id); err != nil {
		return nil, err
	}
	return e.state.Ballot(id)
}
