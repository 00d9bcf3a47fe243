// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// C4: the packet transport. transport frames payloads through the
// negotiated packetCipher, tracks per-direction sequence numbers (RFC
// 4253 section 6.4 folds these into the MAC), and exposes the
// packetConn/keyingTransport seam that handshakeTransport drives.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
)

const packageVersion = "SSH-2.0-corvidssh_1.0"

// packetConn represents a connection that exchanges raw SSH packets.
type packetConn interface {
	// readPacket reads the decrypted payload of the next packet, with
	// the trailing padding removed and the leading message byte
	// retained as packet[0].
	readPacket() ([]byte, error)

	// writePacket encrypts and sends a packet. The caller retains
	// ownership of p (it is not modified).
	writePacket(p []byte) error

	// Close closes the underlying network connection.
	Close() error
}

// transport implements packetConn and keyingTransport directly over a
// net.Conn, using a negotiable packetCipher for each direction.
type transport struct {
	reader transportReader
	writer transportWriter

	conn   net.Conn
	isClient bool
	rand   io.Reader
}

type transportReader struct {
	io.Reader
	seqNum uint32
	cipher packetCipher
}

type transportWriter struct {
	io.Writer
	seqNum uint32
	cipher packetCipher
}

func newTransport(conn net.Conn, rand io.Reader, isClient bool) *transport {
	return &transport{
		conn:     conn,
		isClient: isClient,
		rand:     rand,
		reader: transportReader{
			Reader: bufio.NewReader(conn),
			cipher: &streamPacketCipher{cipher: noopStream{}},
		},
		writer: transportWriter{
			Writer: conn,
			cipher: &streamPacketCipher{cipher: noopStream{}},
		},
	}
}

// noopStream is the identity stream cipher used before the first KEX
// completes, when packets travel in the clear (RFC 4253 section 6 still
// applies framing/padding even though there is no encryption yet).
type noopStream struct{}

func (noopStream) XORKeyStream(dst, src []byte) {
	if len(dst) == 0 {
		return
	}
	if &dst[0] != &src[0] {
		copy(dst, src)
	}
}

func (t *transport) readPacket() ([]byte, error) {
	for {
		p, err := t.reader.cipher.readCipherPacket(t.reader.seqNum, t.reader.Reader)
		t.reader.seqNum++
		if err != nil {
			return nil, err
		}
		if len(p) == 0 {
			return nil, fmt.Errorf("ssh: zero length packet")
		}
		if p[0] != msgIgnore && p[0] != msgDebug {
			return p, nil
		}
	}
}

func (t *transport) writePacket(packet []byte) error {
	err := t.writer.cipher.writeCipherPacket(t.writer.seqNum, t.writer.Writer, t.rand, packet)
	t.writer.seqNum++
	return err
}

func (t *transport) Close() error {
	return t.conn.Close()
}

// prepareKeyChange installs the packetCipher pair derived from a
// completed key exchange. Per RFC 4253 section 7.3 these take effect
// only once SSH_MSG_NEWKEYS is sent/received in each direction, which
// handshakeTransport enforces by calling this just before exchanging
// NEWKEYS.
func (t *transport) prepareKeyChange(algs *Algorithms, kex *kexResult) error {
	clientKeys, serverKeys := generateKeys(kex, algs)

	if t.isClient {
		if err := t.writer.setupKeys(clientKeys, algs.W); err != nil {
			return err
		}
		if err := t.reader.setupKeys(serverKeys, algs.R); err != nil {
			return err
		}
	} else {
		if err := t.writer.setupKeys(serverKeys, algs.W); err != nil {
			return err
		}
		if err := t.reader.setupKeys(clientKeys, algs.R); err != nil {
			return err
		}
	}
	return nil
}

// directionKeys holds the IV/key/MAC-key triple derived for one
// direction of traffic (RFC 4253 section 7.2, letters A-F).
type directionKeys struct {
	iv     []byte
	key    []byte
	macKey []byte
}

// generateKeys derives the six key-derivation outputs and groups them
// into the client-write and server-write key sets.
func generateKeys(kex *kexResult, algs *Algorithms) (clientKeys, serverKeys *directionKeys) {
	h := kex.Hash
	ivCS := expandKey(h, kex, 'A', cipherIVSize(algs.W.Cipher))
	ivSC := expandKey(h, kex, 'B', cipherIVSize(algs.R.Cipher))
	keyCS := expandKey(h, kex, 'C', cipherKeySize(algs.W.Cipher))
	keySC := expandKey(h, kex, 'D', cipherKeySize(algs.R.Cipher))
	macCS := expandKey(h, kex, 'E', macKeySize(algs.W.MAC))
	macSC := expandKey(h, kex, 'F', macKeySize(algs.R.MAC))

	return &directionKeys{iv: ivCS, key: keyCS, macKey: macCS},
		&directionKeys{iv: ivSC, key: keySC, macKey: macSC}
}

func cipherIVSize(name string) int {
	if m, ok := cipherModes[name]; ok {
		return m.ivSize
	}
	return 0
}

func cipherKeySize(name string) int {
	if m, ok := cipherModes[name]; ok {
		return m.keySize
	}
	return 0
}

// expandKey implements the RFC 4253 section 7.2 key-derivation
// function: HASH(K || H || X || session_id), extended by repeated
// HASH(K || H || K1 || K2 || ...) when more bytes are required.
func expandKey(hashFunc crypto_Hash, kex *kexResult, letter byte, size int) []byte {
	if size == 0 {
		return nil
	}
	// kex.K holds the mpint body without its length; K is hashed as a
	// full mpint.
	k := appendString(nil, string(kex.K))
	h := hashFunc()
	h.Write(k)
	h.Write(kex.H)
	h.Write([]byte{letter})
	h.Write(kex.SessionID)
	out := h.Sum(nil)

	for len(out) < size {
		h.Reset()
		h.Write(k)
		h.Write(kex.H)
		h.Write(out)
		out = append(out, h.Sum(nil)...)
	}
	return out[:size]
}

func (r *transportReader) setupKeys(d *directionKeys, algs DirectionAlgorithms) error {
	mode, ok := cipherModes[algs.Cipher]
	if !ok {
		return fmt.Errorf("ssh: unsupported cipher %q", algs.Cipher)
	}
	var mm *macMode
	if m, ok := macModes[algs.MAC]; ok {
		cp := *m
		cp.key = d.macKey
		mm = &cp
	}
	c, err := mode.create(d.key, d.iv, mm, algs)
	if err != nil {
		return err
	}
	r.cipher = c
	r.seqNum = 0
	return nil
}

func (w *transportWriter) setupKeys(d *directionKeys, algs DirectionAlgorithms) error {
	mode, ok := cipherModes[algs.Cipher]
	if !ok {
		return fmt.Errorf("ssh: unsupported cipher %q", algs.Cipher)
	}
	var mm *macMode
	if m, ok := macModes[algs.MAC]; ok {
		cp := *m
		cp.key = d.macKey
		mm = &cp
	}
	c, err := mode.create(d.key, d.iv, mm, algs)
	if err != nil {
		return err
	}
	w.cipher = c
	w.seqNum = 0
	return nil
}

// exchangeVersions performs the RFC 4253 section 4.2 version exchange:
// send our identification string, then read and validate the peer's.
func exchangeVersions(rw io.ReadWriter, versionLine []byte) (their []byte, err error) {
	if _, err = rw.Write(append(versionLine, '\r', '\n')); err != nil {
		return
	}

	their, err = readVersion(rw)
	return
}

// maxVersionStringBytes bounds how much we'll scan for a valid
// identification line before giving up, guarding against a peer that
// never sends a CRLF-terminated greeting.
const maxVersionStringBytes = 64 * 1024

func readVersion(r io.Reader) ([]byte, error) {
	var ident []byte
	buf := bufio.NewReader(r)

	for len(ident) < maxVersionStringBytes {
		line, err := buf.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(line, []byte("SSH-")) {
			ident = bytes.TrimRight(line, "\r\n")
			return ident, nil
		}
		// RFC 4253 section 4.2 permits arbitrary lines preceding the
		// identification string; discard and keep scanning.
	}
	return nil, fmt.Errorf("ssh: did not receive identification string")
}
