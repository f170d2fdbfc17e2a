package settlement

import (
	"bytes"
	"crypto/ecdsa"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"offlinesettle/core/events"
	"offlinesettle/storage"
)

const (
	t0  uint64 = 1_700_000_000
	day uint64 = 24 * 60 * 60
)

type fixture struct {
	t         *testing.T
	engine    *Engine
	state     *KVState
	db        *storage.MemDB
	roles     *Roles
	recorder  *events.Recorder
	domain    Domain
	senderKey *ecdsa.PrivateKey
	sender    [20]byte
	recipient [20]byte
	relayer   [20]byte
	admin     [20]byte
	signers   [][20]byte
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func testDomain() Domain {
	return Domain{
		Name:              "OfflineSettlement",
		Version:           "1",
		ChainID:           31337,
		VerifyingContract: newTestAddress(0xEE),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	db := storage.NewMemDB()
	state, err := NewKVState(db)
	require.NoError(t, err)
	verifier, err := NewVerifier(testDomain())
	require.NoError(t, err)
	engine, err := NewEngine(state, verifier)
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		engine:    engine,
		state:     state,
		db:        db,
		recorder:  &events.Recorder{},
		domain:    testDomain(),
		senderKey: key,
		sender:    ethcrypto.PubkeyToAddress(key.PublicKey),
		recipient: newTestAddress(0x22),
		relayer:   newTestAddress(0x33),
		admin:     newTestAddress(0x44),
		signers:   [][20]byte{newTestAddress(0x51), newTestAddress(0x52), newTestAddress(0x53), newTestAddress(0x54)},
	}
	roles, err := NewRoles(db)
	require.NoError(t, err)
	require.NoError(t, roles.Bootstrap(RoleAdmin, f.admin))
	require.NoError(t, roles.Bootstrap(RoleRelayer, f.relayer))
	require.NoError(t, roles.Bootstrap(RoleEscalationSigner, f.signers...))
	f.roles = roles
	engine.SetAuthorizer(roles)
	engine.SetEmitter(f.recorder)
	return f
}

func (f *fixture) authorization(amount, nonce uint64, token byte) Authorization {
	var dedup [32]byte
	dedup[0] = token
	dedup[31] = 0x99
	return Authorization{
		Sender:     f.sender,
		Recipient:  f.recipient,
		Amount:     uint256.NewInt(amount),
		Nonce:      nonce,
		Expiry:     t0 + 30*day,
		DedupToken: dedup,
	}
}

func (f *fixture) sign(auth Authorization) []byte {
	f.t.Helper()
	sig, err := SignAuthorization(f.senderKey, f.domain, auth)
	require.NoError(f.t, err)
	return sig
}

func (f *fixture) register(auth Authorization, now uint64) [32]byte {
	f.t.Helper()
	id, err := f.engine.Register(f.relayer, auth, f.sign(auth), now)
	require.NoError(f.t, err)
	return id
}

func (f *fixture) fund(owner [20]byte, amount uint64) {
	f.t.Helper()
	_, err := f.engine.Deposit(owner, uint256.NewInt(amount))
	require.NoError(f.t, err)
}

func (f *fixture) balance(owner [20]byte) uint64 {
	f.t.Helper()
	bal, err := f.engine.Balance(owner)
	require.NoError(f.t, err)
	return bal.Uint64()
}

func (f *fixture) nonce(owner [20]byte) uint64 {
	f.t.Helper()
	n, err := f.engine.Nonce(owner)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) status(id [32]byte) Status {
	f.t.Helper()
	rec, err := f.engine.Record(id)
	require.NoError(f.t, err)
	return rec.Status
}

// held reports whether an engine operation is in progress.
func (g *guard) held() bool { return g.busy.Load() }
