package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustPublicKeyBlob(t *testing.T) []byte {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return ed25519PublicKey(pub).Marshal()
}

func TestParseHostKeysMsg(t *testing.T) {
	blobA := mustPublicKeyBlob(t)
	blobB := mustPublicKeyBlob(t)

	var payload []byte
	payload = appendString(payload, string(blobA))
	payload = appendString(payload, string(blobB))

	keys, err := parseHostKeysMsg(payload)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, blobA, keys[0].Marshal())
	require.Equal(t, blobB, keys[1].Marshal())
}

func TestParseHostKeysMsgEmpty(t *testing.T) {
	keys, err := parseHostKeysMsg(nil)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestParseHostKeysMsgInvalid(t *testing.T) {
	_, err := parseHostKeysMsg([]byte{0, 0, 0, 99})
	require.Error(t, err)
}

func TestHostKeyUpdateTrackerDeduplicates(t *testing.T) {
	tracker := newHostKeyUpdateTracker()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ParsePublicKey(ed25519PublicKey(pub).Marshal())
	require.NoError(t, err)

	first := tracker.filterNew([]PublicKey{key})
	require.Len(t, first, 1)

	second := tracker.filterNew([]PublicKey{key})
	require.Empty(t, second)
}
