package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"offlinesettle/cmd/internal/passphrase"
	"offlinesettle/config"
	"offlinesettle/crypto"
	"offlinesettle/gateway/middleware"
	"offlinesettle/native/settlement"
)

const (
	keygenCommand  = "keygen"
	addressCommand = "address"
	signCommand    = "sign"
	tokenCommand   = "token"

	defaultPassEnv   = "SETTLE_KEYSTORE_PASS"
	defaultSecretEnv = "SETTLE_GATEWAY_SECRET"
	defaultConfig    = "./settle.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	case addressCommand:
		err = runAddress(os.Args[2:], os.Stdout)
	case signCommand:
		err = runSign(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  settlectl %s --out <keystore> [--pass-env VAR] [--force]\n", keygenCommand)
	fmt.Fprintf(os.Stderr, "  settlectl %s --keystore <keystore> [--pass-env VAR]\n", addressCommand)
	fmt.Fprintf(os.Stderr, "  settlectl %s --keystore <keystore> --recipient <addr> --amount <n> --nonce <n> [--ttl 72h] [--config %s]\n", signCommand, defaultConfig)
	fmt.Fprintf(os.Stderr, "  settlectl %s --subject <addr> [--secret-env VAR] [--ttl 1h] [--issuer iss] [--audience aud] [--scope s]\n", tokenCommand)
}

type identityJSON struct {
	Hex    string `json:"hex"`
	Bech32 string `json:"bech32"`
}

func writeJSON(out io.Writer, payload any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func describe(key *crypto.PrivateKey) identityJSON {
	addr := key.PubKey().Address()
	return identityJSON{Hex: addr.Hex(), Bech32: addr.String()}
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("out", "", "Output path for the generated keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*keystorePath) == "" {
		return errors.New("--out is required")
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	return writeJSON(out, describe(key))
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := passphrase.NewSource(passEnv, "keystore").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore: %w", err)
	}
	return key, nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	return writeJSON(out, describe(key))
}

// signedTransfer is the body accepted by POST /v1/transfers.
type signedTransfer struct {
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	Nonce      uint64 `json:"nonce"`
	Expiry     uint64 `json:"expiry"`
	DedupToken string `json:"dedupToken"`
	Signature  string `json:"signature"`
}

// newDedupToken derives a fresh 32-byte token from a random UUID.
func newDedupToken() [32]byte {
	id := uuid.New()
	return ethcrypto.Keccak256Hash(id[:])
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(signCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Node configuration supplying the signing domain")
	keystorePath := fs.String("keystore", "", "Sender keystore")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	recipient := fs.String("recipient", "", "Recipient address (hex or bech32)")
	amount := fs.String("amount", "", "Amount in base units")
	nonce := fs.Uint64("nonce", 0, "Sender nonce the transfer consumes")
	ttl := fs.Duration("ttl", 72*time.Hour, "Validity window measured from now")
	dedup := fs.String("dedup", "", "Explicit 32-byte dedup token (hex); random when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*configPath); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	return signTransfer(cfg, key, signParams{
		recipient: *recipient,
		amount:    *amount,
		nonce:     *nonce,
		expiry:    uint64(time.Now().Add(*ttl).Unix()),
		dedup:     *dedup,
	}, out)
}

type signParams struct {
	recipient string
	amount    string
	nonce     uint64
	expiry    uint64
	dedup     string
}

func signTransfer(cfg *config.Config, key *crypto.PrivateKey, params signParams, out io.Writer) error {
	engineID, err := cfg.EngineIdentity()
	if err != nil {
		return err
	}
	domain := settlement.Domain{
		Name:              cfg.ProtocolName,
		Version:           cfg.ProtocolVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: engineID,
	}
	recipient, err := crypto.ParseIdentity(params.recipient)
	if err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	value, err := uint256.FromDecimal(strings.TrimSpace(params.amount))
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	token := newDedupToken()
	if strings.TrimSpace(params.dedup) != "" {
		raw, err := hexutil.Decode(strings.TrimSpace(params.dedup))
		if err != nil || len(raw) != len(token) {
			return fmt.Errorf("dedup: expected 32 hex bytes")
		}
		copy(token[:], raw)
	}
	auth := settlement.Authorization{
		Sender:     key.PubKey().Address().Raw(),
		Recipient:  recipient,
		Amount:     value,
		Nonce:      params.nonce,
		Expiry:     params.expiry,
		DedupToken: token,
	}
	sig, err := settlement.SignAuthorization(key.PrivateKey, domain, auth)
	if err != nil {
		return err
	}
	return writeJSON(out, signedTransfer{
		Sender:     common.Address(auth.Sender).Hex(),
		Recipient:  common.Address(auth.Recipient).Hex(),
		Amount:     value.Dec(),
		Nonce:      auth.Nonce,
		Expiry:     auth.Expiry,
		DedupToken: hexutil.Encode(token[:]),
		Signature:  hexutil.Encode(sig),
	})
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("subject", "", "Caller identity carried in the sub claim")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the gateway HMAC secret")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	issuer := fs.String("issuer", "", "Issuer claim")
	audience := fs.String("audience", "", "Audience claim")
	scope := fs.String("scope", "", "Space separated scopes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := crypto.ParseIdentity(*subject)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	secret := os.Getenv(*secretEnv)
	token, err := middleware.IssueToken(secret, middleware.TokenClaims{
		Subject:  common.Address(id).Hex(),
		Issuer:   *issuer,
		Audience: *audience,
		Scopes:   strings.Fields(*scope),
		TTL:      *ttl,
	}, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
