package settlement

import (
	"github.com/holiman/uint256"
)

// Store is the persistence boundary of the engine. Reads must be side-effect
// free; Apply must commit the whole change set or nothing.
type Store interface {
	Balance(id [20]byte) (*uint256.Int, error)
	Nonce(id [20]byte) (uint64, error)
	Record(id [32]byte) (*Record, bool, error)
	DedupUsed(token [32]byte) (bool, error)
	Ballot(id [32]byte) ([][20]byte, error)
	Apply(cs *ChangeSet) error
}

// ChangeSet holds the writes of one engine operation until commit.
type ChangeSet struct {
	Balances map[[20]byte]*uint256.Int
	Nonces   map[[20]byte]uint64
	Records  map[[32]byte]*Record
	Dedup    map[[32]byte]struct{}
	Ballots  map[[32]byte][][20]byte
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		Balances: make(map[[20]byte]*uint256.Int),
		Nonces:   make(map[[20]byte]uint64),
		Records:  make(map[[32]byte]*Record),
		Dedup:    make(map[[32]byte]struct{}),
		Ballots:  make(map[[32]byte][][20]byte),
	}
}

// Empty reports whether the change set carries no writes.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || len(cs.Balances)+len(cs.Nonces)+len(cs.Records)+len(cs.Dedup)+len(cs.Ballots) == 0
}

// view layers a ChangeSet over the store so an operation reads its own writes
// and leaves the store untouched until commit.
type view struct {
	base Store
	cs   *ChangeSet
}

func newView(base Store) *view {
	return &view{base: base, cs: newChangeSet()}
}

func (v *view) balance(id [20]byte) (*uint256.Int, error) {
	if bal, ok := v.cs.Balances[id]; ok {
		return new(uint256.Int).Set(bal), nil
	}
	bal, err := v.base.Balance(id)
	if err != nil {
		return nil, err
	}
	return cloneAmount(bal), nil
}

func (v *view) setBalance(id [20]byte, amount *uint256.Int) {
	v.cs.Balances[id] = new(uint256.Int).Set(amount)
}

func (v *view) nonce(id [20]byte) (uint64, error) {
	if n, ok := v.cs.Nonces[id]; ok {
		return n, nil
	}
	return v.base.Nonce(id)
}

func (v *view) setNonce(id [20]byte, n uint64) {
	v.cs.Nonces[id] = n
}

func (v *view) record(id [32]byte) (*Record, error) {
	if rec, ok := v.cs.Records[id]; ok {
		return rec.Clone(), nil
	}
	rec, ok, err := v.base.Record(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (v *view) hasRecord(id [32]byte) (bool, error) {
	if _, ok := v.cs.Records[id]; ok {
		return true, nil
	}
	_, ok, err := v.base.Record(id)
	return ok, err
}

func (v *view) putRecord(rec *Record) {
	v.cs.Records[rec.ID] = rec.Clone()
}

func (v *view) dedupUsed(token [32]byte) (bool, error) {
	if _, ok := v.cs.Dedup[token]; ok {
		return true, nil
	}
	return v.base.DedupUsed(token)
}

func (v *view) consumeDedup(token [32]byte) {
	v.cs.Dedup[token] = struct{}{}
}

func (v *view) ballot(id [32]byte) ([][20]byte, error) {
	if b, ok := v.cs.Ballots[id]; ok {
		return append([][20]byte(nil), b...), nil
	}
	return v.base.Ballot(id)
}

func (v *view) setBallot(id [32]byte, approvers [][20]byte) {
	v.cs.Ballots[id] = append([][20]byte(nil), approvers...)
}

func (v *view) credit(id [20]byte, amount *uint256.Int) error {
	bal, err := v.balance(id)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	v.setBalance(id, next)
	return nil
}

func (v *view) debit(id [20]byte, amount *uint256.Int) error {
	bal, err := v.balance(id)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return ErrInsufficientFunds
	}
	v.setBalance(id, new(uint256.Int).Sub(bal, amount))
	return nil
}

// transfer moves amount between two identities; both legs land in the same
// change set so they commit together or not at all.
func (v *view) transfer(from, to [20]byte, amount *uint256.Int) error {
	if err := v.debit(from, amount); err != nil {
		return err
	}
	return v.credit(to, amount)
}
