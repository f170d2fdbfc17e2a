package settlement

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TransactionID derives the registry key for auth. Every field is packed at a
// fixed width so distinct payloads never share an encoding.
func TransactionID(auth Authorization) [32]byte {
	amount := cloneAmount(auth.Amount).Bytes32()
	return ethcrypto.Keccak256Hash(
		auth.Sender[:],
		auth.Recipient[:],
		amount[:],
		uint64Word(auth.Nonce),
		uint64Word(auth.Expiry),
		auth.DedupToken[:],
	)
}

func uint64Word(v uint64) []byte {
	word := make([]byte, 32)
	binary.BigEndian.PutUint64(word[24:], v)
	return word
}
