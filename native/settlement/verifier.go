package settlement

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	domainTypeName = "EIP712Domain"
	primaryType    = "OfflineTransfer"
	signatureLen   = 65
)

var typedDataTypes = apitypes.Types{
	domainTypeName: {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "sender", Type: "address"},
		{Name: "recipient", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
		{Name: "dedupToken", Type: "bytes32"},
	},
}

// Domain binds signatures to one protocol instance. Changing any field
// invalidates every signature produced under the previous domain.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract [20]byte
}

// Validate checks that the domain can be hashed.
func (d Domain) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("settlement domain: name required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return fmt.Errorf("settlement domain: version required")
	}
	if d.ChainID == 0 || d.ChainID > math.MaxInt64 {
		return fmt.Errorf("settlement domain: chain id %d out of range", d.ChainID)
	}
	if d.VerifyingContract == ([20]byte{}) {
		return fmt.Errorf("settlement domain: engine identity required")
	}
	return nil
}

func (d Domain) typedData(auth Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       typedDataTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           gethmath.NewHexOrDecimal256(int64(d.ChainID)),
			VerifyingContract: common.Address(d.VerifyingContract).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sender":     common.Address(auth.Sender).Hex(),
			"recipient":  common.Address(auth.Recipient).Hex(),
			"amount":     cloneAmount(auth.Amount).ToBig(),
			"nonce":      new(big.Int).SetUint64(auth.Nonce),
			"expiry":     new(big.Int).SetUint64(auth.Expiry),
			"dedupToken": hexutil.Encode(auth.DedupToken[:]),
		},
	}
}

// Digest returns the typed-data hash a sender signs for auth.
func (d Domain) Digest(auth Authorization) ([32]byte, error) {
	if err := d.Validate(); err != nil {
		return [32]byte{}, err
	}
	hash, _, err := apitypes.TypedDataAndHash(d.typedData(auth))
	if err != nil {
		return [32]byte{}, fmt.Errorf("settlement: hash authorization: %w", err)
	}
	var out [32]byte
	copy(out[:], hash)
	return out, nil
}

// Verifier recovers the identity behind an offline authorization.
type Verifier struct {
	domain Domain
}

func NewVerifier(domain Domain) (*Verifier, error) {
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{domain: domain}, nil
}

// Domain returns the domain the verifier is bound to.
func (v *Verifier) Domain() Domain { return v.domain }

// Recover returns the identity that produced sig over auth. Signatures are
// 65 bytes R||S||V with V in {0,1,27,28}; high-S values are rejected.
func (v *Verifier) Recover(auth Authorization, sig []byte) ([20]byte, error) {
	if len(sig) != signatureLen {
		return [20]byte{}, ErrInvalidSignature
	}
	normalized := make([]byte, signatureLen)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !ethcrypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return [20]byte{}, ErrInvalidSignature
	}
	digest, err := v.domain.Digest(auth)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	pub, err := ethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return [20]byte{}, ErrInvalidSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SignAuthorization produces the 65-byte signature the verifier accepts. V is
// emitted in the 27/28 form wallets use.
func SignAuthorization(key *ecdsa.PrivateKey, domain Domain, auth Authorization) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("settlement: nil signing key")
	}
	digest, err := domain.Digest(auth)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("settlement: sign authorization: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
