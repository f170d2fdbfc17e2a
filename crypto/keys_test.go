package crypto

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTripBech32(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	require.Equal(t, SettlePrefix, addr.Prefix())

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), decoded.Raw())
}

func TestParseIdentityAcceptsHexAndBech32(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5a}, AddressLength)
	addr := MustNewAddress(SettlePrefix, raw)

	fromHex, err := ParseIdentity(addr.Hex())
	require.NoError(t, err)
	fromBech, err := ParseIdentity(addr.String())
	require.NoError(t, err)
	require.Equal(t, fromHex, fromBech)

	_, err = ParseIdentity("0x1234")
	require.Error(t, err)
	_, err = ParseIdentity("   ")
	require.Error(t, err)
}

func TestNewAddressRejectsWrongWidth(t *testing.T) {
	_, err := NewAddress(SettlePrefix, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "relayer.keystore")
	require.NoError(t, SaveToKeystore(path, key, "hunter2"))

	loaded, err := LoadFromKeystore(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
