// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// C3: cipher algorithm objects. Every cipherMode knows how to build a
// packetCipher given the direction-appropriate key/iv material computed
// by the key-derivation expansion in transport.go.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	aes128cbcID        = "aes128-cbc"
	tripledescbcID     = "3des-cbc"
	gcmCipherID        = "aes128-gcm@openssh.com"
	gcm256CipherID     = "aes256-gcm@openssh.com"
	chacha20Poly1305ID = "chacha20-poly1305@openssh.com"
)

// packetCipher represents a combination of SSH encryption/MAC that can
// encrypt one direction's packets, and can verify and decrypt packets
// flowing the other direction.
type packetCipher interface {
	// writeCipherPacket frames payload, encrypts it, and writes it to w,
	// including MAC/tag and sequence-number handling.
	writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error

	// readCipherPacket reads and decrypts one packet, returning its
	// plaintext payload (padding stripped).
	readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error)
}

// cipherMode describes the construction parameters for one named
// cipher: key size, iv size, and a constructor for the packetCipher.
type cipherMode struct {
	keySize int
	ivSize  int
	create  func(key, iv []byte, macMode *macMode, algs DirectionAlgorithms) (packetCipher, error)
}

var cipherModes = map[string]*cipherMode{
	"aes128-ctr": {16, aes.BlockSize, newAESCTRCipher},
	"aes192-ctr": {24, aes.BlockSize, newAESCTRCipher},
	"aes256-ctr": {32, aes.BlockSize, newAESCTRCipher},

	aes128cbcID:    {16, aes.BlockSize, newCBCCipher},
	tripledescbcID: {24, des.BlockSize, newTripleDESCBCCipher},

	gcmCipherID:    {16, 12, newGCMCipher},
	gcm256CipherID: {32, 12, newGCMCipher},

	chacha20Poly1305ID: {64, 0, newChaCha20Cipher},
}

// --- streamPacketCipher: the shared framing logic for non-AEAD ciphers ---

type streamPacketCipher struct {
	mac    macMode
	macKey []byte
	cipher cipher.Stream

	// etm is true when mac.etm is set: the MAC covers the ciphertext
	// (encrypt-then-mac) rather than the plaintext.
	etm bool

	oddLengthPadding bool
}

const (
	packetSizeMultiple = 16 // encryption/padding block size
	minPacketLength    = 5
	maxPacketLength    = 35000
)

func newAESCTRCipher(key, iv []byte, macMode *macMode, algs DirectionAlgorithms) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, iv)
	return newStreamCipher(stream, macMode, algs), nil
}

func newCBCCipher(key, iv []byte, macMode *macMode, algs DirectionAlgorithms) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return newCBCPacketCipher(block, iv, macMode), nil
}

func newTripleDESCBCCipher(key, iv []byte, macMode *macMode, algs DirectionAlgorithms) (packetCipher, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}
	return newCBCPacketCipher(block, iv, macMode), nil
}

func newStreamCipher(stream cipher.Stream, macMode *macMode, algs DirectionAlgorithms) packetCipher {
	var macKey []byte
	etm := false
	if macMode != nil {
		macKey = macMode.key
		etm = macMode.etm
	}
	return &streamPacketCipher{mac: derefMac(macMode), macKey: macKey, cipher: stream, etm: etm}
}

func derefMac(m *macMode) macMode {
	if m == nil {
		return macMode{}
	}
	return *m
}

func (s *streamPacketCipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	var prefix [5]byte
	var macSize int
	if s.mac.length > 0 && !s.etm {
		macSize = s.mac.length
	}
	if s.etm {
		// read raw length, verify MAC over ciphertext, then decrypt
		if _, err := io.ReadFull(r, prefix[:4]); err != nil {
			return nil, err
		}
		length := binary.BigEndian.Uint32(prefix[:4])
		if length > maxPacketLength {
			return nil, errors.New("ssh: packet too large")
		}
		packet := make([]byte, length)
		if _, err := io.ReadFull(r, packet); err != nil {
			return nil, err
		}
		macSize = s.mac.length
		theirMac := make([]byte, macSize)
		if _, err := io.ReadFull(r, theirMac); err != nil {
			return nil, err
		}
		mac := s.mac.new(s.macKey)
		if err := checkMACEtM(mac, seqNum, prefix[:4], packet, theirMac); err != nil {
			return nil, err
		}
		plain := make([]byte, len(packet))
		s.cipher.XORKeyStream(plain, packet)
		return unpad(plain)
	}

	if _, err := io.ReadFull(r, prefix[:4]); err != nil {
		return nil, err
	}
	s.cipher.XORKeyStream(prefix[:4], prefix[:4])
	length := binary.BigEndian.Uint32(prefix[:4])
	if length > maxPacketLength {
		return nil, errors.New("ssh: packet too large")
	}
	packet := make([]byte, length)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, err
	}
	s.cipher.XORKeyStream(packet, packet)

	if macSize > 0 {
		theirMac := make([]byte, macSize)
		if _, err := io.ReadFull(r, theirMac); err != nil {
			return nil, err
		}
		mac := s.mac.new(s.macKey)
		if err := checkMACMtE(mac, seqNum, prefix[:4], packet, theirMac); err != nil {
			return nil, err
		}
	}
	return unpad(packet)
}

func (s *streamPacketCipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	packet, err := pad(payload, rand, packetSizeMultiple)
	if err != nil {
		return err
	}
	length := len(packet)
	lengthBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBytes, uint32(length))

	if s.etm {
		ciphertext := make([]byte, length)
		s.cipher.XORKeyStream(ciphertext, packet)
		mac := s.mac.new(s.macKey)
		tag := computeMACEtM(mac, seqNum, lengthBytes, ciphertext)
		if _, err := w.Write(lengthBytes); err != nil {
			return err
		}
		if _, err := w.Write(ciphertext); err != nil {
			return err
		}
		_, err = w.Write(tag)
		return err
	}

	var mac []byte
	if s.mac.length > 0 {
		m := s.mac.new(s.macKey)
		mac = computeMACMtE(m, seqNum, lengthBytes, packet)
	}
	s.cipher.XORKeyStream(lengthBytes, lengthBytes)
	s.cipher.XORKeyStream(packet, packet)
	if _, err := w.Write(lengthBytes); err != nil {
		return err
	}
	if _, err := w.Write(packet); err != nil {
		return err
	}
	_, err = w.Write(mac)
	return err
}

// pad appends the padding-length byte and random padding so the frame's
// total length is a multiple of blockSize (min 4 pad bytes), RFC 4253
// section 6.
func pad(payload []byte, rand io.Reader, blockSize int) ([]byte, error) {
	padding := blockSize - (5+len(payload))%blockSize
	if padding < 4 {
		padding += blockSize
	}
	if blockSize < 8 {
		for (5+len(payload)+padding)%8 != 0 {
			padding += blockSize
		}
	}
	packet := make([]byte, 1+len(payload)+padding)
	packet[0] = byte(padding)
	copy(packet[1:], payload)
	if _, err := io.ReadFull(rand, packet[1+len(payload):]); err != nil {
		return nil, err
	}
	return packet, nil
}

func unpad(packet []byte) ([]byte, error) {
	if len(packet) < 1 {
		return nil, errors.New("ssh: invalid packet length")
	}
	padLen := int(packet[0])
	if padLen < 4 || padLen >= len(packet) {
		return nil, errors.New("ssh: invalid padding length")
	}
	return packet[1 : len(packet)-padLen], nil
}

// --- CBC -------------------------------------------------------------

type cbcPacketCipher struct {
	mac    macMode
	macKey []byte
	block  cipher.Block
	iv     []byte
}

func newCBCPacketCipher(block cipher.Block, iv []byte, macMode *macMode) packetCipher {
	var macKey []byte
	if macMode != nil {
		macKey = macMode.key
	}
	return &cbcPacketCipher{mac: derefMac(macMode), macKey: macKey, block: block, iv: append([]byte(nil), iv...)}
}

func (c *cbcPacketCipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	bs := c.block.BlockSize()
	first := make([]byte, bs)
	if _, err := io.ReadFull(r, first); err != nil {
		return nil, err
	}
	mode := cipher.NewCBCDecrypter(c.block, c.iv)
	plainFirst := make([]byte, bs)
	mode.CryptBlocks(plainFirst, first)
	length := binary.BigEndian.Uint32(plainFirst[:4])
	if length > maxPacketLength {
		return nil, errors.New("ssh: packet too large")
	}
	rest := make([]byte, int(length)+4-bs)
	if len(rest) > 0 {
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, err
		}
	}
	plainRest := make([]byte, len(rest))
	if len(rest) > 0 {
		mode.CryptBlocks(plainRest, rest)
	}
	if len(rest) >= bs {
		c.iv = append([]byte(nil), rest[len(rest)-bs:]...)
	} else {
		c.iv = append([]byte(nil), first...)
	}
	plain := append(plainFirst, plainRest...)

	if c.mac.length > 0 {
		theirMac := make([]byte, c.mac.length)
		if _, err := io.ReadFull(r, theirMac); err != nil {
			return nil, err
		}
		mac := c.mac.new(c.macKey)
		lenBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBytes, length)
		if err := checkMACMtE(mac, seqNum, lenBytes, plain[4:], theirMac); err != nil {
			return nil, err
		}
	}
	return unpad(plain[4:])
}

func (c *cbcPacketCipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	bs := c.block.BlockSize()
	packet, err := pad(payload, rand, bs)
	if err != nil {
		return err
	}
	lengthBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBytes, uint32(len(packet)))
	full := append(lengthBytes, packet...)

	var mac []byte
	if c.mac.length > 0 {
		m := c.mac.new(c.macKey)
		mac = computeMACMtE(m, seqNum, lengthBytes, packet)
	}

	mode := cipher.NewCBCEncrypter(c.block, c.iv)
	ciphertext := make([]byte, len(full))
	mode.CryptBlocks(ciphertext, full)
	c.iv = append([]byte(nil), ciphertext[len(ciphertext)-bs:]...)

	if _, err := w.Write(ciphertext); err != nil {
		return err
	}
	_, err = w.Write(mac)
	return err
}

// --- AES-GCM -----------------------------------------------------------

type gcmCipher struct {
	aead cipher.AEAD
	iv   []byte
}

func newGCMCipher(key, iv []byte, macMode *macMode, algs DirectionAlgorithms) (packetCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &gcmCipher{aead: aead, iv: append([]byte(nil), iv...)}, nil
}

func (c *gcmCipher) incIV() {
	for i := len(c.iv) - 1; i >= 4; i-- { // last 8 bytes are the invocation counter
		c.iv[i]++
		if c.iv[i] != 0 {
			break
		}
	}
}

func (c *gcmCipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	// AEAD framing: pad to a multiple of the block size (16), no MAC.
	packet, err := pad(payload, rand, 16)
	if err != nil {
		return err
	}
	lengthBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBytes, uint32(len(packet)))

	ciphertext := c.aead.Seal(nil, c.iv, packet, lengthBytes)
	c.incIV()

	if _, err := w.Write(lengthBytes); err != nil {
		return err
	}
	_, err = w.Write(ciphertext)
	return err
}

func (c *gcmCipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	var lengthBytes [4]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBytes[:])
	if length > maxPacketLength {
		return nil, errors.New("ssh: packet too large")
	}
	ciphertext := make([]byte, int(length)+c.aead.Overhead())
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, err
	}
	plain, err := c.aead.Open(nil, c.iv, ciphertext, lengthBytes[:])
	c.incIV()
	if err != nil {
		return nil, fmt.Errorf("ssh: message authentication failed: %w", err)
	}
	return unpad(plain)
}

// --- chacha20-poly1305@openssh.com --------------------------------------
//
// Per spec.md §9's open question: the standard derives a SEPARATE key for
// encrypting the 4-byte length field, not just the first 32 bytes for
// everything as an abbreviated implementation might. The 64-byte key
// material is split into K_2 (bytes 0:32, payload cipher) and K_1 (bytes
// 32:64, length cipher), matching the published OpenSSH construction: the
// length field is masked with a raw chacha20 keystream (no AEAD tag of
// its own), while the payload is sealed with poly1305-chacha20 keyed
// with the per-packet subkey chacha20 derives at block counter zero.
type chacha20Cipher struct {
	lengthKey  [32]byte
	payloadKey [32]byte
}

func newChaCha20Cipher(key, iv []byte, macMode *macMode, algs DirectionAlgorithms) (packetCipher, error) {
	if len(key) != 64 {
		return nil, errors.New("ssh: chacha20-poly1305 requires a 64-byte key")
	}
	c := &chacha20Cipher{}
	copy(c.payloadKey[:], key[:32])
	copy(c.lengthKey[:], key[32:64])
	return c, nil
}

func (c *chacha20Cipher) nonce(seqNum uint32) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint32(n[8:], seqNum)
	return n
}

func (c *chacha20Cipher) maskLength(seqNum uint32, length []byte) ([]byte, error) {
	nonce := c.nonce(seqNum)
	s, err := chacha20.NewUnauthenticatedCipher(c.lengthKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(length))
	s.XORKeyStream(out, length)
	return out, nil
}

func (c *chacha20Cipher) writeCipherPacket(seqNum uint32, w io.Writer, rand io.Reader, payload []byte) error {
	packet, err := pad(payload, rand, 8)
	if err != nil {
		return err
	}
	lengthBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBytes, uint32(len(packet)))

	encLength, err := c.maskLength(seqNum, lengthBytes)
	if err != nil {
		return err
	}

	payloadAEAD, err := chacha20poly1305.New(c.payloadKey[:])
	if err != nil {
		return err
	}
	nonce := c.nonce(seqNum)
	sealed := payloadAEAD.Seal(nil, nonce[:], packet, nil)

	if _, err := w.Write(encLength); err != nil {
		return err
	}
	_, err = w.Write(sealed)
	return err
}

func (c *chacha20Cipher) readCipherPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	var encLength [4]byte
	if _, err := io.ReadFull(r, encLength[:]); err != nil {
		return nil, err
	}
	lengthBytes, err := c.maskLength(seqNum, encLength[:])
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBytes)
	if length > maxPacketLength {
		return nil, errors.New("ssh: packet too large")
	}

	payloadAEAD, err := chacha20poly1305.New(c.payloadKey[:])
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, int(length)+payloadAEAD.Overhead())
	if _, err := io.ReadFull(r, sealed); err != nil {
		return nil, err
	}
	nonce := c.nonce(seqNum)
	plain, err := payloadAEAD.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("ssh: message authentication failed: %w", err)
	}
	return unpad(plain)
}
