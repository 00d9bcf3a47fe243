package ssh

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// ParsePrivateKey parses a PEM-encoded private key, returning a Signer
// that can produce detached signatures for authentication. It
// understands the three formats ssh-keygen can produce: legacy
// PKCS#1/SEC1 PEM, PKCS#8 PEM, and the modern "OPENSSH PRIVATE KEY"
// container. Encrypted keys are rejected; decrypt the PEM file first.
func ParsePrivateKey(pemBytes []byte) (Signer, error) {
	key, err := ParseRawPrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	return NewSignerFromKey(key)
}

// ParseRawPrivateKey returns the crypto.Signer-compatible key
// (*rsa.PrivateKey, *ecdsa.PrivateKey, or ed25519.PrivateKey) decoded
// from a PEM block, without wrapping it as an ssh.Signer.
func ParseRawPrivateKey(pemBytes []byte) (interface{}, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("ssh: no key found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	case "OPENSSH PRIVATE KEY":
		return parseOpenSSHPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("ssh: unsupported key type %q", block.Type)
	}
}

// openssh-key-v1 is the binary container ssh-keygen has written by
// default since OpenSSH 6.5. Layout, from the PROTOCOL.key spec:
//
//	"openssh-key-v1\x00"
//	string  ciphername
//	string  kdfname
//	string  kdfoptions
//	uint32  number of keys
//	string  publickey1
//	string  encrypted, padded list of private keys
var opensshMagic = "openssh-key-v1\x00"

func parseOpenSSHPrivateKey(data []byte) (interface{}, error) {
	if len(data) < len(opensshMagic) || string(data[:len(opensshMagic)]) != opensshMagic {
		return nil, errors.New("ssh: invalid openssh private key format")
	}
	rest := data[len(opensshMagic):]

	cipherName, rest, ok := parseString(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}
	_, rest, ok = parseString(rest) // kdfname
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}
	_, rest, ok = parseString(rest) // kdfoptions
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}
	numKeys, rest, ok := parseUint32(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}
	if numKeys != 1 {
		return nil, fmt.Errorf("ssh: unsupported number of keys in openssh key file: %d", numKeys)
	}
	if string(cipherName) != "none" {
		return nil, errors.New("ssh: cannot decode encrypted private keys")
	}

	// The public key copy.
	_, rest, ok = parseString(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}

	privBlob, _, ok := parseString(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}

	check1, privBlob, ok := parseUint32(privBlob)
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}
	check2, privBlob, ok := parseUint32(privBlob)
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}
	if check1 != check2 {
		return nil, errors.New("ssh: openssh key integrity check failed (incorrect passphrase?)")
	}

	keyType, privBlob, ok := parseString(privBlob)
	if !ok {
		return nil, errors.New("ssh: invalid openssh private key format")
	}

	switch string(keyType) {
	case KeyAlgoED25519:
		return parseOpenSSHEd25519(privBlob)
	case KeyAlgoRSA:
		return parseOpenSSHRSA(privBlob)
	default:
		return nil, fmt.Errorf("ssh: unsupported openssh key type %q", keyType)
	}
}

func parseOpenSSHEd25519(rest []byte) (interface{}, error) {
	pub, rest, ok := parseString(rest)
	if !ok || len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("ssh: invalid openssh ed25519 key")
	}
	priv, rest, ok := parseString(rest)
	if !ok || len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("ssh: invalid openssh ed25519 key")
	}
	_, _, ok = parseString(rest) // comment
	if !ok {
		return nil, errors.New("ssh: invalid openssh ed25519 key")
	}
	return ed25519.PrivateKey(priv), nil
}

func parseOpenSSHRSA(rest []byte) (interface{}, error) {
	n, rest, ok := parseMPInt(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh rsa key")
	}
	e, rest, ok := parseMPInt(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh rsa key")
	}
	d, rest, ok := parseMPInt(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh rsa key")
	}
	_, rest, ok = parseMPInt(rest) // iqmp, recomputed below
	if !ok {
		return nil, errors.New("ssh: invalid openssh rsa key")
	}
	p, rest, ok := parseMPInt(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh rsa key")
	}
	q, _, ok := parseMPInt(rest)
	if !ok {
		return nil, errors.New("ssh: invalid openssh rsa key")
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{
			N: n,
			E: int(e.Int64()),
		},
		D:      d,
		Primes: []*big.Int{p, q},
	}
	key.Precompute() // recomputes the CRT coefficient; iqmp from the file is redundant
	return key, nil
}

// parseMPInt parses an RFC 4251 section 5 mpint embedded as an SSH
// string field, as used by the openssh-key-v1 private key blob.
func parseMPInt(in []byte) (*big.Int, []byte, bool) {
	raw, rest, ok := parseString(in)
	if !ok {
		return nil, nil, false
	}
	return new(big.Int).SetBytes(raw), rest, true
}
