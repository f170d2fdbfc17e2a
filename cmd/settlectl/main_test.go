package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"offlinesettle/config"
	"offlinesettle/crypto"
	"offlinesettle/gateway/middleware"
	"offlinesettle/native/settlement"
)

func TestKeygenAndAddressRoundTrip(t *testing.T) {
	t.Setenv(defaultPassEnv, "hunter2hunter2")
	path := filepath.Join(t.TempDir(), "sender.keystore")

	var generated bytes.Buffer
	require.NoError(t, runKeygen([]string{"--out", path}, &generated))
	var created identityJSON
	require.NoError(t, json.Unmarshal(generated.Bytes(), &created))
	require.True(t, strings.HasPrefix(created.Bech32, string(crypto.SettlePrefix)+"1"))

	var shown bytes.Buffer
	require.NoError(t, runAddress([]string{"--keystore", path}, &shown))
	var loaded identityJSON
	require.NoError(t, json.Unmarshal(shown.Bytes(), &loaded))
	require.Equal(t, created, loaded)

	err := runKeygen([]string{"--out", path}, &bytes.Buffer{})
	require.ErrorContains(t, err, "already exists")
}

func TestSignTransferVerifiesAgainstDomain(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	cfg := &config.Config{
		ProtocolName:    "OfflineSettlement",
		ProtocolVersion: "1",
		ChainID:         31337,
		EngineAddress:   common.Address{0xEE}.Hex(),
	}
	recipient := common.Address{0x22}

	var out bytes.Buffer
	require.NoError(t, signTransfer(cfg, key, signParams{
		recipient: recipient.Hex(),
		amount:    "1500",
		nonce:     4,
		expiry:    1_800_000_000,
	}, &out))

	var body signedTransfer
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	require.Equal(t, "1500", body.Amount)

	token, err := hexutil.Decode(body.DedupToken)
	require.NoError(t, err)
	require.Len(t, token, 32)
	sig, err := hexutil.Decode(body.Signature)
	require.NoError(t, err)

	auth := settlement.Authorization{
		Sender:    key.PubKey().Address().Raw(),
		Recipient: recipient,
		Amount:    uint256.NewInt(1500),
		Nonce:     4,
		Expiry:    1_800_000_000,
	}
	copy(auth.DedupToken[:], token)
	verifier, err := settlement.NewVerifier(settlement.Domain{
		Name:              "OfflineSettlement",
		Version:           "1",
		ChainID:           31337,
		VerifyingContract: common.Address{0xEE},
	})
	require.NoError(t, err)
	signer, err := verifier.Recover(auth, sig)
	require.NoError(t, err)
	require.Equal(t, auth.Sender, signer)
}

func TestSignTransferUsesFreshDedupTokens(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	cfg := &config.Config{ProtocolName: "OfflineSettlement", ProtocolVersion: "1", ChainID: 1, EngineAddress: common.Address{0xEE}.Hex()}
	params := signParams{recipient: common.Address{0x22}.Hex(), amount: "1", expiry: 1_800_000_000}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		var out bytes.Buffer
		require.NoError(t, signTransfer(cfg, key, params, &out))
		var body signedTransfer
		require.NoError(t, json.Unmarshal(out.Bytes(), &body))
		require.False(t, seen[body.DedupToken])
		seen[body.DedupToken] = true
	}

	params.dedup = "0x1234"
	require.Error(t, signTransfer(cfg, key, params, &bytes.Buffer{}))
}

func TestTokenIsAcceptedByAuthenticator(t *testing.T) {
	t.Setenv(defaultSecretEnv, "gateway-secret")
	subject := common.Address{0x33}

	var out bytes.Buffer
	require.NoError(t, runToken([]string{"--subject", subject.Hex()}, &out))

	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "gateway-secret"}, nil)
	var got [20]byte
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = middleware.IdentityFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, [20]byte(subject), got)
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv(defaultSecretEnv, "")
	err := runToken([]string{"--subject", common.Address{0x33}.Hex()}, &bytes.Buffer{})
	require.Error(t, err)
}
