// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// C3: MAC algorithm objects, RFC 4253 section 6.4. macMode separates
// "etm" (encrypt-then-mac: MAC covers ciphertext and the cleartext
// length field) from the classic "encrypt-and-mac" ordering, since the
// two require different framing in cipher.go.

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"hash"
)

type macMode struct {
	length int
	etm    bool
	key    []byte
	new    func(key []byte) hash.Hash
}

// macModes maps a MAC algorithm name to its construction parameters.
// hmac-md5 is present so a caller can configure it explicitly, but it
// is left out of the default list (supportedMACs) as obsolete.
var macModes = map[string]*macMode{
	"hmac-sha2-512": {64, false, nil, func(key []byte) hash.Hash {
		return hmac.New(sha512.New, key)
	}},
	"hmac-sha2-256": {32, false, nil, func(key []byte) hash.Hash {
		return hmac.New(sha256.New, key)
	}},
	"hmac-sha1": {20, false, nil, func(key []byte) hash.Hash {
		return hmac.New(sha1.New, key)
	}},
	"hmac-sha1-96": {12, false, nil, func(key []byte) hash.Hash {
		return hmac.New(sha1.New, key)
	}},
	"hmac-md5": {16, false, nil, func(key []byte) hash.Hash {
		return hmac.New(md5.New, key)
	}},
}

func macKeySize(name string) int {
	switch name {
	case "hmac-sha2-512":
		return 64
	case "hmac-sha2-256":
		return 32
	case "hmac-sha1", "hmac-sha1-96":
		return 20
	case "hmac-md5":
		return 16
	}
	return 0
}

// computeMACMtE computes the classic "encrypt-and-mac" MAC: over the
// sequence number and the cleartext packet (length field included).
func computeMACMtE(m hash.Hash, seqNum uint32, lengthBytes, packet []byte) []byte {
	m.Reset()
	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], seqNum)
	m.Write(seq[:])
	m.Write(lengthBytes)
	m.Write(packet)
	return m.Sum(nil)
}

func checkMACMtE(m hash.Hash, seqNum uint32, lengthBytes, packet, theirMac []byte) error {
	ours := computeMACMtE(m, seqNum, lengthBytes, packet)
	if subtle.ConstantTimeCompare(ours, theirMac) != 1 {
		return errMACMismatch
	}
	return nil
}

// computeMACEtM computes the encrypt-then-mac variant: over the sequence
// number, the (still cleartext) length field, and the ciphertext body —
// never the plaintext payload.
func computeMACEtM(m hash.Hash, seqNum uint32, lengthBytes, ciphertext []byte) []byte {
	m.Reset()
	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], seqNum)
	m.Write(seq[:])
	m.Write(lengthBytes)
	m.Write(ciphertext)
	return m.Sum(nil)
}

func checkMACEtM(m hash.Hash, seqNum uint32, lengthBytes, ciphertext, theirMac []byte) error {
	ours := computeMACEtM(m, seqNum, lengthBytes, ciphertext)
	if subtle.ConstantTimeCompare(ours, theirMac) != 1 {
		return errMACMismatch
	}
	return nil
}
