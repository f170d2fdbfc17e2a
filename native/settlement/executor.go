package settlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// OperationObserver receives the outcome of every executed operation.
type OperationObserver interface {
	ObserveOperation(operation, outcome string, duration time.Duration)
}

// Executor is the execution environment for an Engine: it runs one operation
// at a time, stamps each with a non-decreasing wall-clock time and reports the
// outcome. While a payout channel runs, mutating calls are refused with
// ErrReentrantCall instead of waiting for the lock that the withdrawal still
// holds, and reads are served directly from the committed state.
type Executor struct {
	mu       sync.Mutex
	engine   *Engine
	clock    func() time.Time
	last     uint64
	logger   *slog.Logger
	observer OperationObserver
}

func NewExecutor(engine *Engine, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine: engine,
		clock:  time.Now,
		logger: logger.With("component", "settlement"),
	}
}

// SetClock overrides the time source. Primarily intended for tests.
func (x *Executor) SetClock(clock func() time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	x.clock = clock
}

func (x *Executor) SetObserver(observer OperationObserver) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.observer = observer
}

// Engine returns the wrapped engine.
func (x *Executor) Engine() *Engine { return x.engine }

// now never moves backwards even if the wall clock does.
func (x *Executor) now() uint64 {
	unix := x.clock().Unix()
	if unix > 0 && uint64(unix) > x.last {
		x.last = uint64(unix)
	}
	return x.last
}

func (x *Executor) run(operation string, fn func(now uint64) error, attrs ...any) error {
	start := time.Now()
	var err error
	if x.engine.guard.inPayout() {
		err = ErrReentrantCall
	} else {
		err = x.locked(fn)
	}
	x.report(operation, err, time.Since(start), attrs)
	return err
}

func (x *Executor) locked(fn func(now uint64) error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return fn(x.now())
}

func (x *Executor) report(operation string, err error, elapsed time.Duration, attrs []any) {
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	if x.observer != nil {
		x.observer.ObserveOperation(operation, outcome, elapsed)
	}
	attrs = append(attrs, "operation", operation, "outcome", outcome)
	switch {
	case err == nil:
		x.logger.Info("settlement operation applied", attrs...)
	case outcome == "Internal":
		x.logger.Error("settlement operation failed", append(attrs, "error", err)...)
	default:
		x.logger.Warn("settlement operation rejected", append(attrs, "reason", err.Error())...)
	}
}

// read serialises fn with operations, except during a payout when the lock is
// held by the withdrawal that invoked it.
func (x *Executor) read(fn func()) {
	if x.engine.guard.inPayout() {
		fn()
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	fn()
}

func (x *Executor) Register(relayer [20]byte, auth Authorization, sig []byte) ([32]byte, error) {
	var id [32]byte
	err := x.run("register", func(now uint64) error {
		var err error
		id, err = x.engine.Register(relayer, auth, sig, now)
		return err
	}, "relayer", identityHex(relayer), "sender", identityHex(auth.Sender), "dedupToken", hexutil.Encode(auth.DedupToken[:]))
	return id, err
}

func (x *Executor) Finalize(relayer [20]byte, id [32]byte) (*Record, error) {
	var rec *Record
	err := x.run("finalize", func(now uint64) error {
		var err error
		rec, err = x.engine.Finalize(relayer, id, now)
		return err
	}, "relayer", identityHex(relayer), "id", hexutil.Encode(id[:]))
	return rec, err
}

func (x *Executor) Dispute(caller [20]byte, id [32]byte, evidence []byte) (*Record, error) {
	var rec *Record
	err := x.run("dispute", func(now uint64) error {
		var err error
		rec, err = x.engine.Dispute(caller, id, evidence, now)
		return err
	}, "caller", identityHex(caller), "id", hexutil.Encode(id[:]))
	return rec, err
}

func (x *Executor) ApproveForceFinalize(approver [20]byte, id [32]byte) (*EscalationResult, error) {
	var result *EscalationResult
	err := x.run("approve_force_finalize", func(now uint64) error {
		var err error
		result, err = x.engine.ApproveForceFinalize(approver, id, now)
		return err
	}, "approver", identityHex(approver), "id", hexutil.Encode(id[:]))
	return result, err
}

func (x *Executor) Deposit(owner [20]byte, amount *uint256.Int) (*uint256.Int, error) {
	var balance *uint256.Int
	err := x.run("deposit", func(uint64) error {
		var err error
		balance, err = x.engine.Deposit(owner, amount)
		return err
	}, "owner", identityHex(owner))
	return balance, err
}

func (x *Executor) Withdraw(ctx context.Context, owner, destination [20]byte, amount *uint256.Int) (*uint256.Int, error) {
	var balance *uint256.Int
	err := x.run("withdraw", func(uint64) error {
		var err error
		balance, err = x.engine.Withdraw(ctx, owner, destination, amount)
		return err
	}, "owner", identityHex(owner), "destination", identityHex(destination))
	return balance, err
}

// Grant assigns role to id on behalf of admin.
func (x *Executor) Grant(admin [20]byte, role Role, id [20]byte) error {
	return x.run("grant_role", func(uint64) error {
		return x.engine.Grant(admin, role, id)
	}, "admin", identityHex(admin), "role", string(role), "member", identityHex(id))
}

// Revoke removes role from id on behalf of admin.
func (x *Executor) Revoke(admin [20]byte, role Role, id [20]byte) error {
	return x.run("revoke_role", func(uint64) error {
		return x.engine.Revoke(admin, role, id)
	}, "admin", identityHex(admin), "role", string(role), "member", identityHex(id))
}

func (x *Executor) Record(id [32]byte) (rec *Record, err error) {
	x.read(func() { rec, err = x.engine.Record(id) })
	return rec, err
}

func (x *Executor) Balance(owner [20]byte) (balance *uint256.Int, err error) {
	x.read(func() { balance, err = x.engine.Balance(owner) })
	return balance, err
}

func (x *Executor) Nonce(owner [20]byte) (nonce uint64, err error) {
	x.read(func() { nonce, err = x.engine.Nonce(owner) })
	return nonce, err
}

func (x *Executor) Ballot(id [32]byte) (ballot [][20]byte, err error) {
	x.read(func() { ballot, err = x.engine.Ballot(id) })
	return ballot, err
}
