package envelope

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	payload := []byte(`{"op":"instance.create"}`)
	sig, err := Sign(key, payload)
	require.NoError(t, err)

	addr, err := Recover(payload, sig)
	require.NoError(t, err)
	require.Equal(t, AddressFromPublicKey(&key.PublicKey), addr)
}

func TestHeaderEncodeParseRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := []byte("hello world")
	sig, err := Sign(key, payload)
	require.NoError(t, err)

	value := Encode(sig, payload)
	addr, msg, err := Verify(value)
	require.NoError(t, err)
	require.Equal(t, payload, msg)
	require.Equal(t, AddressFromPublicKey(&key.PublicKey), addr)
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	_, err := ParseHeader("Basic deadbeef")
	require.Error(t, err)

	_, err = ParseHeader("Signature not-hex.0.aa")
	require.Error(t, err)

	_, err = ParseHeader("Signature " + "aa" + ".9.aa")
	require.Error(t, err)
}

func TestIsLoopback(t *testing.T) {
	require.True(t, IsLoopback("127.0.0.1:8080"))
	require.True(t, IsLoopback("[::1]:8080"))
	require.True(t, IsLoopback("localhost"))
	require.False(t, IsLoopback("10.0.0.5:8080"))
}
