// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"
)

// OpenSSH certificate algorithm identifiers, RFC/draft
// draft-miller-ssh-cert-01 and the later v01 suffix OpenSSH settled on.
const (
	CertAlgoRSAv01       = "ssh-rsa-cert-v01@openssh.com"
	CertAlgoRSASHA256v01 = "rsa-sha2-256-cert-v01@openssh.com"
	CertAlgoDSAv01       = "ssh-dss-cert-v01@openssh.com"
	CertAlgoECDSA256v01  = "ecdsa-sha2-nistp256-cert-v01@openssh.com"
	CertAlgoECDSA384v01  = "ecdsa-sha2-nistp384-cert-v01@openssh.com"
	CertAlgoECDSA521v01  = "ecdsa-sha2-nistp521-cert-v01@openssh.com"
	CertAlgoED25519v01   = "ssh-ed25519-cert-v01@openssh.com"
)

// Certificate types, RFC draft-miller-ssh-cert-01 section 2.1.3.
const (
	UserCert = 1
	HostCert = 2
)

// Certificate is a parsed OpenSSH certificate. Chain-of-trust validation
// against a CA root is explicitly out of scope (spec.md §1 Non-goals:
// "certificate PKI validation beyond parsing"); parseCert confirms
// only that the embedded signature was produced by SignatureKey, leaving
// the decision of whether to trust that CA to the embedder's
// verify_host_key callback.
type Certificate struct {
	Nonce           []byte
	Key             PublicKey
	Serial          uint64
	CertType        uint32
	KeyId           string
	ValidPrincipals []string
	ValidAfter      uint64
	ValidBefore     uint64
	CriticalOptions map[string]string
	Extensions      map[string]string
	Reserved        []byte
	SignatureKey    PublicKey
	Signature       *Signature

	raw []byte // the certificate body that Signature was computed over
}

func (c *Certificate) Type() string { return c.Key.Type() + "-cert-v01@openssh.com" }

func (c *Certificate) Marshal() []byte {
	return append([]byte(nil), c.raw...)
}

// Verify checks data against sig using the certificate's embedded key,
// exactly like any other PublicKey — the certificate is just a carrier
// for that key plus metadata.
func (c *Certificate) Verify(data []byte, sig *Signature) error {
	return c.Key.Verify(data, sig)
}

// ValidAt reports whether now falls within [ValidAfter,
// ValidBefore), treating 0 as "unbounded" per the OpenSSH convention.
func (c *Certificate) ValidAt(now time.Time) bool {
	t := uint64(now.Unix())
	if c.ValidAfter != 0 && t < c.ValidAfter {
		return false
	}
	if c.ValidBefore != 0 && c.ValidBefore != 1<<64-1 && t >= c.ValidBefore {
		return false
	}
	return true
}

func parseCert(in []byte, algo string) (*Certificate, error) {
	raw := in
	// Skip the leading algorithm-name string; it was already consumed by
	// ParsePublicKey, but the certificate's own signed body includes it,
	// so raw here is the full blob including that string.
	_, body, ok := parseString(in)
	if !ok {
		return nil, errors.New("ssh: invalid certificate")
	}

	cert := &Certificate{CriticalOptions: map[string]string{}, Extensions: map[string]string{}}

	var err error
	cert.Nonce, body, ok = parseString(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: nonce")
	}

	body, err = parseCertKeyFields(algo, body, cert)
	if err != nil {
		return nil, err
	}

	var serial uint64
	serial, body, ok = parseUint64(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: serial")
	}
	cert.Serial = serial

	var certType uint32
	certType, body, ok = parseUint32(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: type")
	}
	cert.CertType = certType

	var keyId []byte
	keyId, body, ok = parseString(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: key id")
	}
	cert.KeyId = string(keyId)

	cert.ValidPrincipals, body, ok = parseNameList(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: principals")
	}

	cert.ValidAfter, body, ok = parseUint64(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: valid-after")
	}
	cert.ValidBefore, body, ok = parseUint64(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: valid-before")
	}

	var criticalOptions, extensions []byte
	criticalOptions, body, ok = parseString(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: critical options")
	}
	cert.CriticalOptions = parseOptions(criticalOptions)

	extensions, body, ok = parseString(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: extensions")
	}
	cert.Extensions = parseOptions(extensions)

	_, body, ok = parseString(body) // reserved
	if !ok {
		return nil, errors.New("ssh: invalid certificate: reserved")
	}

	var sigKeyBlob []byte
	sigKeyBlob, body, ok = parseString(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: signature key")
	}
	cert.SignatureKey, err = ParsePublicKey(sigKeyBlob)
	if err != nil {
		return nil, err
	}

	signedLen := len(raw) - len(body)

	var sigBlob []byte
	sigBlob, _, ok = parseString(body)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: signature")
	}
	cert.Signature, _, ok = parseSignatureBody(sigBlob)
	if !ok {
		return nil, errors.New("ssh: invalid certificate: malformed signature")
	}

	cert.raw = append([]byte(nil), raw[:signedLen]...)

	if err := cert.SignatureKey.Verify(cert.raw, cert.Signature); err != nil {
		return nil, err
	}

	return cert, nil
}

// parseCertKeyFields parses the key-type-specific public key fields
// embedded in a certificate (distinct from the plain key encoding: certs
// interleave the key material with certificate metadata rather than
// nesting a full key blob) and sets cert.Key.
func parseCertKeyFields(algo string, in []byte, cert *Certificate) (rest []byte, err error) {
	switch algo {
	case CertAlgoRSAv01, CertAlgoRSASHA256v01:
		e, body, ok := parseInt(in)
		if !ok {
			return nil, errors.New("ssh: invalid rsa certificate key")
		}
		n, body2, ok := parseInt(body)
		if !ok {
			return nil, errors.New("ssh: invalid rsa certificate key")
		}
		if e.BitLen() > 24 {
			return nil, errors.New("ssh: rsa public key exponent too large")
		}
		cert.Key = (*rsaPublicKey)(&rsa.PublicKey{E: int(e.Int64()), N: n})
		return body2, nil

	case CertAlgoED25519v01:
		keyBytes, body, ok := parseString(in)
		if !ok || len(keyBytes) != ed25519.PublicKeySize {
			return nil, errors.New("ssh: invalid ed25519 certificate key")
		}
		cert.Key = ed25519PublicKey(append([]byte(nil), keyBytes...))
		return body, nil

	case CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01:
		ident, body, ok := parseString(in)
		if !ok {
			return nil, errors.New("ssh: invalid ecdsa certificate key")
		}
		curve := curveForIdent(string(ident))
		if curve == nil {
			return nil, fmt.Errorf("ssh: unsupported ecdsa curve %q", ident)
		}
		point, body2, ok := parseString(body)
		if !ok {
			return nil, errors.New("ssh: invalid ecdsa certificate key")
		}
		x, y := elliptic.Unmarshal(curve, point)
		if x == nil {
			return nil, errors.New("ssh: invalid ecdsa point")
		}
		cert.Key = (*ecdsaPublicKey)(&ecdsa.PublicKey{Curve: curve, X: x, Y: y})
		return body2, nil
	}
	return nil, errors.New("ssh: unsupported certificate algorithm " + algo)
}

func parseOptions(in []byte) map[string]string {
	out := map[string]string{}
	for len(in) > 0 {
		name, rest, ok := parseString(in)
		if !ok {
			break
		}
		dataBlob, rest2, ok := parseString(rest)
		if !ok {
			break
		}
		value, _, ok := parseString(dataBlob)
		if ok {
			out[string(name)] = string(value)
		} else {
			out[string(name)] = ""
		}
		in = rest2
	}
	return out
}
