package ssh

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseUint32(t *testing.T) {
	cases := []struct {
		in   []byte
		want uint32
		ok   bool
	}{
		{[]byte{0, 0, 0, 0}, 0, true},
		{[]byte{0, 0, 1, 0}, 256, true},
		{[]byte{0xff, 0xff, 0xff, 0xff}, 0xffffffff, true},
		{[]byte{0, 0, 1}, 0, false},
	}
	for _, c := range cases {
		got, _, ok := parseUint32(c.in)
		require.Equal(t, c.ok, ok, "input %v", c.in)
		if ok {
			require.Equal(t, c.want, got)
		}
	}
}

func TestParseString(t *testing.T) {
	in := []byte{0, 0, 0, 3, 'f', 'o', 'o', 'x', 'y'}
	out, rest, ok := parseString(in)
	require.True(t, ok)
	require.Equal(t, "foo", string(out))
	require.Equal(t, []byte("xy"), rest)
}

func TestParseNameList(t *testing.T) {
	in := append([]byte{0, 0, 0, 8}, "a,bb,ccc"...)
	names, _, ok := parseNameList(in)
	require.True(t, ok)
	want := []string{"a", "bb", "ccc"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("parseNameList mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIntRoundTrip(t *testing.T) {
	want := big.NewInt(12345678901234)
	length := intLength(want)
	buf := marshalIntBody(make([]byte, 0, 4+length), want, length)

	// Re-parse the serialized mpint, prefixed by its own length.
	lengthPrefixed := writeInt(nil, want)
	got, rest, ok := parseInt(lengthPrefixed)
	require.True(t, ok)
	require.Empty(t, rest)
	require.Equal(t, 0, want.Cmp(got))
	require.Equal(t, len(buf), length)
}

func TestMarshalUnmarshalKexInit(t *testing.T) {
	msg := &KexInitMsg{
		KexAlgos:                []string{"curve25519-sha256"},
		ServerHostKeyAlgos:      []string{"ssh-ed25519"},
		CiphersClientServer:     []string{"aes128-gcm@openssh.com"},
		CiphersServerClient:     []string{"aes128-gcm@openssh.com"},
		MACsClientServer:        []string{"hmac-sha2-256"},
		MACsServerClient:        []string{"hmac-sha2-256"},
		CompressionClientServer: []string{"none"},
		CompressionServerClient: []string{"none"},
	}
	packet := Marshal(msg)

	var got KexInitMsg
	require.NoError(t, Unmarshal(packet, &got))
	require.Equal(t, msg.KexAlgos, got.KexAlgos)
	require.Equal(t, msg.ServerHostKeyAlgos, got.ServerHostKeyAlgos)
}
