package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)
	require.Equal(t, KeyAlgoED25519, signer.PublicKey().Type())

	data := []byte("authenticate me")
	sig, err := signer.Sign(rand.Reader, data)
	require.NoError(t, err)

	pubKey, err := ParsePublicKey(signer.PublicKey().Marshal())
	require.NoError(t, err)
	require.NoError(t, pubKey.Verify(data, sig))
	require.Equal(t, ed25519PublicKey(pub).Marshal(), pubKey.Marshal())

	// A tampered payload must fail verification.
	require.Error(t, pubKey.Verify([]byte("forged"), sig))
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKey([]byte{0, 1, 2, 3})
	require.Error(t, err)
}

func TestNewSignerFromKeyRejectsUnsupportedType(t *testing.T) {
	_, err := NewSignerFromKey("not a key")
	require.Error(t, err)
}
