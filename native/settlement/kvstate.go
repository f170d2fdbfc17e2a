package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"offlinesettle/storage"
)

var (
	balancePrefix = []byte("settle/balance/")
	noncePrefix   = []byte("settle/nonce/")
	recordPrefix  = []byte("settle/tx/")
	dedupPrefix   = []byte("settle/dedup/")
	ballotPrefix  = []byte("settle/ballot/")
)

type storedRecord struct {
	Sender       [20]byte
	Recipient    [20]byte
	Amount       *big.Int
	Nonce        uint64
	Expiry       uint64
	DedupToken   [32]byte
	RegisteredAt uint64
	ResolvedAt   uint64
	Status       uint8
	Relayer      [20]byte
	EvidenceHash [32]byte
	Approvers    [][20]byte
}

// KVState persists engine state in a storage.Database. Values are RLP encoded
// and every ChangeSet is written as a single batch.
type KVState struct {
	db storage.Database
}

func NewKVState(db storage.Database) (*KVState, error) {
	if db == nil {
		return nil, errNilState
	}
	return &KVState{db: db}, nil
}

func prefixed(prefix []byte, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

func (s *KVState) get(key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *KVState) Balance(id [20]byte) (*uint256.Int, error) {
	raw, ok, err := s.get(prefixed(balancePrefix, id[:]))
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	if len(raw) > 32 {
		return nil, fmt.Errorf("settlement: corrupt balance for %x", id)
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func (s *KVState) Nonce(id [20]byte) (uint64, error) {
	raw, ok, err := s.get(prefixed(noncePrefix, id[:]))
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("settlement: corrupt nonce for %x", id)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *KVState) Record(id [32]byte) (*Record, bool, error) {
	raw, ok, err := s.get(prefixed(recordPrefix, id[:]))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedRecord
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("settlement: decode record %x: %w", id, err)
	}
	amount, overflow := uint256.FromBig(stored.Amount)
	if overflow {
		return nil, false, fmt.Errorf("settlement: record %x amount overflows", id)
	}
	rec := &Record{
		ID:           id,
		Sender:       stored.Sender,
		Recipient:    stored.Recipient,
		Amount:       amount,
		Nonce:        stored.Nonce,
		Expiry:       stored.Expiry,
		DedupToken:   stored.DedupToken,
		RegisteredAt: stored.RegisteredAt,
		ResolvedAt:   stored.ResolvedAt,
		Status:       Status(stored.Status),
		Relayer:      stored.Relayer,
		EvidenceHash: stored.EvidenceHash,
		Approvers:    stored.Approvers,
	}
	if !rec.Status.Valid() {
		return nil, false, fmt.Errorf("settlement: record %x has invalid status %d", id, stored.Status)
	}
	return rec, true, nil
}

func (s *KVState) DedupUsed(token [32]byte) (bool, error) {
	return s.db.Has(prefixed(dedupPrefix, token[:]))
}

func (s *KVState) Ballot(id [32]byte) ([][20]byte, error) {
	raw, ok, err := s.get(prefixed(ballotPrefix, id[:]))
	if err != nil || !ok {
		return nil, err
	}
	var approvers [][20]byte
	if err := rlp.DecodeBytes(raw, &approvers); err != nil {
		return nil, fmt.Errorf("settlement: decode ballot %x: %w", id, err)
	}
	return approvers, nil
}

// Apply encodes the change set and writes it in one batch.
func (s *KVState) Apply(cs *ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	batch := storage.NewBatch()
	for id, bal := range cs.Balances {
		b := bal.Bytes()
		batch.Put(prefixed(balancePrefix, id[:]), b)
	}
	for id, n := range cs.Nonces {
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], n)
		batch.Put(prefixed(noncePrefix, id[:]), raw[:])
	}
	for id, rec := range cs.Records {
		encoded, err := rlp.EncodeToBytes(&storedRecord{
			Sender:       rec.Sender,
			Recipient:    rec.Recipient,
			Amount:       cloneAmount(rec.Amount).ToBig(),
			Nonce:        rec.Nonce,
			Expiry:       rec.Expiry,
			DedupToken:   rec.DedupToken,
			RegisteredAt: rec.RegisteredAt,
			ResolvedAt:   rec.ResolvedAt,
			Status:       uint8(rec.Status),
			Relayer:      rec.Relayer,
			EvidenceHash: rec.EvidenceHash,
			Approvers:    rec.Approvers,
		})
		if err != nil {
			return fmt.Errorf("settlement: encode record %x: %w", id, err)
		}
		batch.Put(prefixed(recordPrefix, id[:]), encoded)
	}
	for token := range cs.Dedup {
		batch.Put(prefixed(dedupPrefix, token[:]), []byte{1})
	}
	for id, approvers := range cs.Ballots {
		encoded, err := rlp.EncodeToBytes(approvers)
		if err != nil {
			return fmt.Errorf("settlement: encode ballot %x: %w", id, err)
		}
		batch.Put(prefixed(ballotPrefix, id[:]), encoded)
	}
	return s.db.Write(batch)
}

// Records iterates every stored record in key order.
func (s *KVState) Records(fn func(*Record) bool) error {
	var decodeErr error
	err := s.db.Iterate(recordPrefix, func(key, _ []byte) bool {
		var id [32]byte
		copy(id[:], key[len(recordPrefix):])
		rec, ok, err := s.Record(id)
		if err != nil {
			decodeErr = err
			return false
		}
		if !ok {
			return true
		}
		return fn(rec)
	})
	if err != nil {
		return err
	}
	return decodeErr
}
