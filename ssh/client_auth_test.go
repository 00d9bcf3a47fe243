package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingPacketConn captures every packet written to it and replays
// a fixed queue of packets on readPacket, for auth methods that only
// need to drive one request/reply round trip.
type recordingPacketConn struct {
	written [][]byte
	replies [][]byte
}

func (c *recordingPacketConn) writePacket(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	c.written = append(c.written, cp)
	return nil
}

func (c *recordingPacketConn) readPacket() ([]byte, error) {
	if len(c.replies) == 0 {
		return nil, errShortPacket
	}
	p := c.replies[0]
	c.replies = c.replies[1:]
	return p, nil
}

func (c *recordingPacketConn) Close() error { return nil }

func TestAlgorithmsForKeyFormat(t *testing.T) {
	require.Equal(t, []string{KeyAlgoRSASHA256, KeyAlgoRSA}, algorithmsForKeyFormat(KeyAlgoRSA))
	require.Equal(t, []string{KeyAlgoED25519}, algorithmsForKeyFormat(KeyAlgoED25519))
}

func TestParsePrompts(t *testing.T) {
	var data []byte
	data = appendString(data, "Password:")
	data = appendBool(data, false)
	data = appendString(data, "Confirm:")
	data = appendBool(data, true)

	questions, echos, err := parsePrompts(2, data)
	require.NoError(t, err)
	require.Equal(t, []string{"Password:", "Confirm:"}, questions)
	require.Equal(t, []bool{false, true}, echos)
}

func TestParsePromptsTruncated(t *testing.T) {
	_, _, err := parsePrompts(1, nil)
	require.Error(t, err)
}

func TestPasswordAuthMethodName(t *testing.T) {
	m := Password("hunter2")
	require.Equal(t, "password", m.method())
}

func TestPublicKeysAuthMethodName(t *testing.T) {
	m := PublicKeys()
	require.Equal(t, "publickey", m.method())
}

func TestHostbasedAuthMethodName(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)

	m := Hostbased(signer, "client.example.org", "alice")
	require.Equal(t, "hostbased", m.method())
}

func TestHostbasedAuthSendsSignedRequestAndReportsSuccess(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)

	c := &recordingPacketConn{
		replies: [][]byte{Marshal(&userAuthSuccessMsg{})},
	}

	m := Hostbased(signer, "client.example.org", "alice")
	result, methods, err := m.auth([]byte("session-id"), "bob", c, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, authSuccess, result)
	require.Nil(t, methods)
	require.Len(t, c.written, 1)

	var req userAuthRequestMsg
	require.NoError(t, Unmarshal(c.written[0], &req))
	require.Equal(t, "bob", req.User)
	require.Equal(t, serviceSSH, req.Service)
	require.Equal(t, "hostbased", req.Method)

	algo, rest, ok := parseString(req.Payload)
	require.True(t, ok)
	require.Equal(t, signer.PublicKey().Type(), string(algo))

	hostKey, rest, ok := parseString(rest)
	require.True(t, ok)
	require.Equal(t, signer.PublicKey().Marshal(), hostKey)

	clientHostname, rest, ok := parseString(rest)
	require.True(t, ok)
	require.Equal(t, "client.example.org", string(clientHostname))

	localUsername, rest, ok := parseString(rest)
	require.True(t, ok)
	require.Equal(t, "alice", string(localUsername))

	sigBytes, _, ok := parseString(rest)
	require.True(t, ok)

	sig, _, ok := parseSignatureBody(sigBytes)
	require.True(t, ok)

	toSign := buildDataSignedForHostbased([]byte("session-id"), req, algo, signer.PublicKey().Marshal(), "client.example.org", "alice")
	require.NoError(t, signer.PublicKey().Verify(toSign, sig))
}

func TestHostbasedAuthReportsFailureMethods(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := NewSignerFromKey(priv)
	require.NoError(t, err)

	c := &recordingPacketConn{
		replies: [][]byte{Marshal(&userAuthFailureMsg{Methods: []string{"publickey"}})},
	}

	m := Hostbased(signer, "client.example.org", "alice")
	result, methods, err := m.auth([]byte("session-id"), "bob", c, rand.Reader)
	require.NoError(t, err)
	require.Equal(t, authFailure, result)
	require.Equal(t, []string{"publickey"}, methods)
}

func TestSanitizeBannerPassesPrintableAndWhitespace(t *testing.T) {
	in := "Welcome to example.org\tpolicy applies\r\nSecond line éè"
	require.Equal(t, in, sanitizeBanner(in))
}

func TestSanitizeBannerEscapesControlBytes(t *testing.T) {
	in := "bell\x07here\x1bmore\x00end"
	got := sanitizeBanner(in)
	require.Equal(t, `bell\x07here\x1Bmore\x00end`, got)
}

func TestSanitizeBannerIsIdempotent(t *testing.T) {
	in := "one\x07two\nthree\x00\r\nfour"
	once := sanitizeBanner(in)
	twice := sanitizeBanner(once)
	require.Equal(t, once, twice)
}

func TestSanitizeBannerCapsLineLength(t *testing.T) {
	in := strings.Repeat("a", bannerMaxLineLen+500)
	got := sanitizeBanner(in)
	require.Len(t, got, bannerMaxLineLen)
}

func TestSanitizeBannerCapsTotalLength(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString(strings.Repeat("a", 1000))
		b.WriteByte('\n')
	}
	got := sanitizeBanner(b.String())
	require.LessOrEqual(t, len(got), bannerMaxTotalLen)
}
