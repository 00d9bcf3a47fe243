package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildOpenSSHEd25519Key assembles a minimal unencrypted openssh-key-v1
// container around the given key pair, following the layout documented
// in parseOpenSSHPrivateKey.
func buildOpenSSHEd25519Key(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey) []byte {
	t.Helper()

	var priBlob []byte
	priBlob = appendU32(priBlob, 0x01020304)
	priBlob = appendU32(priBlob, 0x01020304)
	priBlob = appendString(priBlob, KeyAlgoED25519)
	priBlob = appendString(priBlob, string(pub))
	priBlob = appendString(priBlob, string(priv))
	priBlob = appendString(priBlob, "") // comment

	var out []byte
	out = append(out, []byte(opensshMagic)...)
	out = appendString(out, "none")       // ciphername
	out = appendString(out, "none")       // kdfname
	out = appendString(out, "")           // kdfoptions
	out = appendU32(out, 1)               // number of keys
	out = appendString(out, string(ed25519PublicKey(pub).Marshal()))
	out = appendString(out, string(priBlob))
	return out
}

func TestParsePrivateKeyOpenSSHEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	raw := buildOpenSSHEd25519Key(t, pub, priv)
	block := &pem.Block{Type: "OPENSSH PRIVATE KEY", Bytes: raw}
	pemBytes := pem.EncodeToMemory(block)

	signer, err := ParsePrivateKey(pemBytes)
	require.NoError(t, err)
	require.Equal(t, KeyAlgoED25519, signer.PublicKey().Type())

	data := []byte("sign me")
	sig, err := signer.Sign(rand.Reader, data)
	require.NoError(t, err)
	require.NoError(t, signer.PublicKey().Verify(data, sig))
}

func TestParsePrivateKeyRejectsEncrypted(t *testing.T) {
	raw := []byte(opensshMagic)
	raw = appendString(raw, "aes256-ctr")
	raw = appendString(raw, "bcrypt")
	raw = appendString(raw, "somesalt")
	raw = appendU32(raw, 1)
	raw = appendString(raw, "dummy")
	raw = appendString(raw, "dummy")

	block := &pem.Block{Type: "OPENSSH PRIVATE KEY", Bytes: raw}
	_, err := ParsePrivateKey(pem.EncodeToMemory(block))
	require.Error(t, err)
}

func TestParsePrivateKeyRejectsUnknownPEMType(t *testing.T) {
	block := &pem.Block{Type: "MYSTERY KEY", Bytes: []byte("junk")}
	_, err := ParsePrivateKey(pem.EncodeToMemory(block))
	require.Error(t, err)
}
