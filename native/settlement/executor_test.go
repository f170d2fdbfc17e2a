package settlement

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type outcomeRecorder struct {
	seen []string
}

func (o *outcomeRecorder) ObserveOperation(operation, outcome string, _ time.Duration) {
	o.seen = append(o.seen, operation+":"+outcome)
}

func newTestExecutor(f *fixture, clock *uint64) (*Executor, *bytes.Buffer, *outcomeRecorder) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	exec := NewExecutor(f.engine, logger)
	exec.SetClock(func() time.Time { return time.Unix(int64(*clock), 0) })
	observer := &outcomeRecorder{}
	exec.SetObserver(observer)
	return exec, &buf, observer
}

func TestExecutorRunsOperationsWithWallClock(t *testing.T) {
	f := newFixture(t)
	clock := t0
	exec, logs, observer := newTestExecutor(f, &clock)

	_, err := exec.Deposit(f.sender, uint256.NewInt(100))
	require.NoError(t, err)
	auth := f.authorization(60, 0, 1)
	id, err := exec.Register(f.relayer, auth, f.sign(auth))
	require.NoError(t, err)

	_, err = exec.Finalize(f.relayer, id)
	require.ErrorIs(t, err, ErrDisputeWindowActive)

	clock = t0 + 7*day
	rec, err := exec.Finalize(f.relayer, id)
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, rec.Status)
	require.Equal(t, t0+7*day, rec.ResolvedAt)

	got, err := exec.Record(id)
	require.NoError(t, err)
	require.Equal(t, t0, got.RegisteredAt)
	bal, err := exec.Balance(f.recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(60), bal.Uint64())
	nonce, err := exec.Nonce(f.sender)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	require.Equal(t, []string{
		"deposit:ok",
		"register:ok",
		"finalize:DisputeWindowActive",
		"finalize:ok",
	}, observer.seen)
	out := logs.String()
	require.Contains(t, out, `"msg":"settlement operation rejected"`)
	require.Contains(t, out, `"outcome":"DisputeWindowActive"`)
	require.Contains(t, out, `"component":"settlement"`)
}

func TestExecutorClockNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	clock := t0
	exec, _, _ := newTestExecutor(f, &clock)

	auth := f.authorization(10, 0, 1)
	id, err := exec.Register(f.relayer, auth, f.sign(auth))
	require.NoError(t, err)

	clock = t0 + 3*day
	_, err = exec.ApproveForceFinalize(f.signers[0], id)
	require.ErrorIs(t, err, ErrEscalationNotYetEligible)

	// A wall clock stepping back is ignored.
	clock = t0 + day
	rec, err := exec.Dispute(f.sender, id, []byte("lost"))
	require.NoError(t, err)
	require.Equal(t, t0+3*day, rec.ResolvedAt)

	ballot, err := exec.Ballot(id)
	require.NoError(t, err)
	require.Empty(t, ballot)
}

func TestExecutorLogsInternalFailures(t *testing.T) {
	f := newFixture(t)
	clock := t0
	exec, logs, observer := newTestExecutor(f, &clock)
	f.fund(f.sender, 5)
	f.engine.SetPayout(PayoutFunc(failingPayout))

	_, err := exec.Withdraw(context.Background(), f.sender, newTestAddress(0x66), uint256.NewInt(5))
	require.Error(t, err)
	require.Equal(t, []string{"withdraw:Internal"}, observer.seen)
	require.True(t, strings.Contains(logs.String(), `"level":"ERROR"`))
	require.Equal(t, uint64(5), f.balance(f.sender))
}

func TestExecutorRejectsCallsFromPayout(t *testing.T) {
	f := newFixture(t)
	clock := t0
	exec, _, observer := newTestExecutor(f, &clock)
	f.fund(f.sender, 100)
	dest := newTestAddress(0x66)

	var (
		depositErr, withdrawErr, grantErr error
		seenBalance                       *uint256.Int
		readErr                           error
	)
	f.engine.SetPayout(PayoutFunc(func(context.Context, [20]byte, [20]byte, *uint256.Int) error {
		_, depositErr = exec.Deposit(f.sender, uint256.NewInt(1))
		_, withdrawErr = exec.Withdraw(context.Background(), f.sender, dest, uint256.NewInt(1))
		grantErr = exec.Grant(f.admin, RoleRelayer, dest)
		seenBalance, readErr = exec.Balance(f.sender)
		return nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := exec.Withdraw(context.Background(), f.sender, dest, uint256.NewInt(60))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("withdraw did not return: nested executor call blocked")
	}

	require.ErrorIs(t, depositErr, ErrReentrantCall)
	require.ErrorIs(t, withdrawErr, ErrReentrantCall)
	require.ErrorIs(t, grantErr, ErrReentrantCall)
	require.NoError(t, readErr)
	require.Equal(t, uint64(40), seenBalance.Uint64())
	require.False(t, f.roles.HasRole(dest, RoleRelayer))
	require.Equal(t, uint64(40), f.balance(f.sender))
	require.Equal(t, []string{
		"deposit:ReentrantCall",
		"withdraw:ReentrantCall",
		"grant_role:ReentrantCall",
		"withdraw:ok",
	}, observer.seen)

	// The executor accepts work again once the payout has returned.
	_, err := exec.Deposit(f.sender, uint256.NewInt(1))
	require.NoError(t, err)
	require.False(t, f.engine.guard.held())
	require.False(t, f.engine.guard.inPayout())
}

func TestExecutorSerialisesConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	clock := t0
	exec := NewExecutor(f.engine, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	exec.SetClock(func() time.Time { return time.Unix(int64(clock), 0) })

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := exec.Deposit(f.sender, uint256.NewInt(1)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	bal, err := exec.Balance(f.sender)
	require.NoError(t, err)
	require.Equal(t, uint64(32), bal.Uint64())
}
