// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Key type identifiers, RFC 4253 section 6.6 and RFC 8332.
const (
	KeyAlgoRSA       = "ssh-rsa"
	KeyAlgoRSASHA256 = "rsa-sha2-256"
	KeyAlgoRSASHA512 = "rsa-sha2-512"
	KeyAlgoDSA       = "ssh-dss"
	KeyAlgoECDSA256  = "ecdsa-sha2-nistp256"
	KeyAlgoECDSA384  = "ecdsa-sha2-nistp384"
	KeyAlgoECDSA521  = "ecdsa-sha2-nistp521"
	KeyAlgoED25519   = "ssh-ed25519"
)

// PublicKey represents a parsed host or identity public key.
type PublicKey interface {
	// Type returns the key format name, e.g. "ssh-rsa".
	Type() string
	// Marshal returns the wire-format public key blob, as found in
	// e.g. the HostKey field of kexECDHReplyMsg.
	Marshal() []byte
	// Verify verifies a detached signature produced by the matching
	// private key over the given data.
	Verify(data []byte, sig *Signature) error
}

// Signature is a parsed ssh-format signature blob.
type Signature struct {
	Format string
	Blob   []byte
}

// Signer is an interface a private key (or identity) implements to
// produce signatures over authentication payloads.
type Signer interface {
	PublicKey() PublicKey
	Sign(rand io.Reader, data []byte) (*Signature, error)
}

// parseSignatureBody parses the ssh wire encoding of a signature: a
// string algorithm name followed by a string signature blob.
func parseSignatureBody(in []byte) (out *Signature, rest []byte, ok bool) {
	format, in, ok := parseString(in)
	if !ok {
		return
	}
	out = &Signature{Format: string(format)}
	out.Blob, rest, ok = parseString(in)
	return
}

func marshalSignature(sig *Signature) []byte {
	buf := appendString(nil, sig.Format)
	buf = appendString(buf, string(sig.Blob))
	return buf
}

// ParsePublicKey parses a wire-format public key blob as produced by
// PublicKey.Marshal, or sent as the HostKey field of a KEX reply.
func ParsePublicKey(in []byte) (PublicKey, error) {
	algo, rest, ok := parseString(in)
	if !ok {
		return nil, errors.New("ssh: short read parsing public key")
	}
	switch string(algo) {
	case KeyAlgoRSA:
		return parseRSA(rest)
	case KeyAlgoED25519:
		return parseED25519(rest)
	case KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521:
		return parseECDSA(rest)
	case CertAlgoRSAv01, CertAlgoRSASHA256v01, CertAlgoED25519v01,
		CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01:
		return parseCert(in, string(algo))
	}
	return nil, fmt.Errorf("ssh: unknown key algorithm: %v", string(algo))
}

// --- RSA --------------------------------------------------------------

type rsaPublicKey rsa.PublicKey

func (r *rsaPublicKey) Type() string { return KeyAlgoRSA }

func parseRSA(in []byte) (PublicKey, error) {
	var e, n *big.Int
	var ok bool
	e, in, ok = parseInt(in)
	if !ok {
		return nil, errors.New("ssh: invalid rsa public key")
	}
	n, _, ok = parseInt(in)
	if !ok {
		return nil, errors.New("ssh: invalid rsa public key")
	}
	if e.BitLen() > 24 {
		return nil, errors.New("ssh: rsa public key exponent too large")
	}
	key := &rsa.PublicKey{E: int(e.Int64()), N: n}
	return (*rsaPublicKey)(key), nil
}

func (r *rsaPublicKey) Marshal() []byte {
	e := new(big.Int).SetInt64(int64(r.E))
	buf := appendString(nil, KeyAlgoRSA)
	buf = writeInt(buf, e)
	buf = writeInt(buf, r.N)
	return buf
}

func (r *rsaPublicKey) Verify(data []byte, sig *Signature) error {
	var hash crypto.Hash
	switch sig.Format {
	case KeyAlgoRSA:
		hash = crypto.SHA1
	case KeyAlgoRSASHA256:
		hash = crypto.SHA256
	case KeyAlgoRSASHA512:
		hash = crypto.SHA512
	default:
		return fmt.Errorf("ssh: unsupported rsa signature format %q", sig.Format)
	}
	h := hash.New()
	h.Write(data)
	digest := h.Sum(nil)
	return rsa.VerifyPKCS1v15((*rsa.PublicKey)(r), hash, digest, sig.Blob)
}

// --- Ed25519 ------------------------------------------------------------

type ed25519PublicKey ed25519.PublicKey

func (k ed25519PublicKey) Type() string { return KeyAlgoED25519 }

func parseED25519(in []byte) (PublicKey, error) {
	var keyBytes []byte
	var ok bool
	keyBytes, _, ok = parseString(in)
	if !ok || len(keyBytes) != ed25519.PublicKeySize {
		return nil, errors.New("ssh: invalid ed25519 public key")
	}
	return ed25519PublicKey(append([]byte(nil), keyBytes...)), nil
}

func (k ed25519PublicKey) Marshal() []byte {
	buf := appendString(nil, KeyAlgoED25519)
	buf = appendString(buf, string(k))
	return buf
}

func (k ed25519PublicKey) Verify(data []byte, sig *Signature) error {
	if sig.Format != KeyAlgoED25519 {
		return fmt.Errorf("ssh: unsupported ed25519 signature format %q", sig.Format)
	}
	if !ed25519.Verify(ed25519.PublicKey(k), data, sig.Blob) {
		return errors.New("ssh: ed25519 signature verification failed")
	}
	return nil
}

// --- ECDSA ---------------------------------------------------------------

type ecdsaPublicKey ecdsa.PublicKey

func (k *ecdsaPublicKey) Type() string {
	switch k.Curve.Params().BitSize {
	case 256:
		return KeyAlgoECDSA256
	case 384:
		return KeyAlgoECDSA384
	case 521:
		return KeyAlgoECDSA521
	}
	return "ecdsa-sha2-unknown"
}

func curveForIdent(ident string) elliptic.Curve {
	switch ident {
	case "nistp256":
		return elliptic.P256()
	case "nistp384":
		return elliptic.P384()
	case "nistp521":
		return elliptic.P521()
	}
	return nil
}

func identForCurve(c elliptic.Curve) string {
	switch c.Params().BitSize {
	case 256:
		return "nistp256"
	case 384:
		return "nistp384"
	case 521:
		return "nistp521"
	}
	return ""
}

func parseECDSA(in []byte) (PublicKey, error) {
	ident, in, ok := parseString(in)
	if !ok {
		return nil, errors.New("ssh: invalid ecdsa public key")
	}
	curve := curveForIdent(string(ident))
	if curve == nil {
		return nil, fmt.Errorf("ssh: unsupported ecdsa curve %q", ident)
	}
	pointBytes, _, ok := parseString(in)
	if !ok {
		return nil, errors.New("ssh: invalid ecdsa public key")
	}
	x, y := elliptic.Unmarshal(curve, pointBytes)
	if x == nil {
		return nil, errors.New("ssh: invalid ecdsa point")
	}
	return (*ecdsaPublicKey)(&ecdsa.PublicKey{Curve: curve, X: x, Y: y}), nil
}

func (k *ecdsaPublicKey) Marshal() []byte {
	ident := identForCurve(k.Curve)
	pointBytes := elliptic.Marshal(k.Curve, k.X, k.Y)
	buf := appendString(nil, k.Type())
	buf = appendString(buf, ident)
	buf = appendString(buf, string(pointBytes))
	return buf
}

func (k *ecdsaPublicKey) Verify(data []byte, sig *Signature) error {
	h := hashFuncs[k.Type()].New()
	h.Write(data)
	digest := h.Sum(nil)

	// ECDSA signatures for SSH are encoded as two mpints, r and s,
	// wrapped once more in an ssh string (RFC 5656 section 3.1.2).
	r, rest, ok := parseInt(sig.Blob)
	if !ok {
		return errors.New("ssh: invalid ecdsa signature")
	}
	s, _, ok := parseInt(rest)
	if !ok {
		return errors.New("ssh: invalid ecdsa signature")
	}
	if !ecdsa.Verify((*ecdsa.PublicKey)(k), digest, r, s) {
		return errors.New("ssh: ecdsa signature verification failed")
	}
	return nil
}

// NewSignerFromKey wraps a stdlib private key (ed25519.PrivateKey,
// *ecdsa.PrivateKey, or *rsa.PrivateKey) as a Signer.
func NewSignerFromKey(key interface{}) (Signer, error) {
	switch k := key.(type) {
	case ed25519.PrivateKey:
		return &ed25519Signer{priv: k}, nil
	case *ecdsa.PrivateKey:
		return &ecdsaSigner{priv: k}, nil
	case *rsa.PrivateKey:
		return &rsaSigner{priv: k}, nil
	default:
		return nil, fmt.Errorf("ssh: unsupported key type %T", key)
	}
}

type ed25519Signer struct{ priv ed25519.PrivateKey }

func (s *ed25519Signer) PublicKey() PublicKey {
	return ed25519PublicKey(s.priv.Public().(ed25519.PublicKey))
}

func (s *ed25519Signer) Sign(rand io.Reader, data []byte) (*Signature, error) {
	sig := ed25519.Sign(s.priv, data)
	return &Signature{Format: KeyAlgoED25519, Blob: sig}, nil
}

type ecdsaSigner struct{ priv *ecdsa.PrivateKey }

func (s *ecdsaSigner) PublicKey() PublicKey {
	return (*ecdsaPublicKey)(&s.priv.PublicKey)
}

func (s *ecdsaSigner) Sign(rnd io.Reader, data []byte) (*Signature, error) {
	pub := (*ecdsaPublicKey)(&s.priv.PublicKey)
	h := hashFuncs[pub.Type()].New()
	h.Write(data)
	digest := h.Sum(nil)
	r, s2, err := ecdsa.Sign(rnd, s.priv, digest)
	if err != nil {
		return nil, err
	}
	blob := writeInt(nil, r)
	blob = writeInt(blob, s2)
	return &Signature{Format: pub.Type(), Blob: blob}, nil
}

type rsaSigner struct{ priv *rsa.PrivateKey }

func (s *rsaSigner) PublicKey() PublicKey {
	return (*rsaPublicKey)(&s.priv.PublicKey)
}

// Sign produces an rsa-sha2-256 signature (RFC 8332), the modern default;
// callers that must interoperate with legacy ssh-rsa-only servers should
// construct their own Signer variant.
func (s *rsaSigner) Sign(rnd io.Reader, data []byte) (*Signature, error) {
	h := sha256.Sum256(data)
	blob, err := rsa.SignPKCS1v15(rnd, s.priv, crypto.SHA256, h[:])
	if err != nil {
		return nil, err
	}
	return &Signature{Format: KeyAlgoRSASHA256, Blob: blob}, nil
}
