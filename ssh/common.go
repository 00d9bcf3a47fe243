// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/sirupsen/logrus"
)

// These are string constants in the SSH protocol.
const (
	compressionNone = "none"
	serviceUserAuth = "ssh-userauth"
	serviceSSH      = "ssh-connection"
)

// defaultCiphers specifies the default ciphers in preference order: CTR
// modes first, then the AEAD ciphers. The CBC modes are not offered by
// default; they appear only in allSupportedCiphers. This matches the
// "modern-first" ordering called for by spec.md §9 over the two
// divergent orderings found upstream.
var defaultCiphers = []string{
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	"aes128-gcm@openssh.com", "aes256-gcm@openssh.com",
	chacha20Poly1305ID,
}

// allSupportedCiphers specifies all ciphers which are supported, including
// ones not offered by default because they are weaker.
var allSupportedCiphers = []string{
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	"aes128-gcm@openssh.com", "aes256-gcm@openssh.com",
	chacha20Poly1305ID,
	aes128cbcID, tripledescbcID,
}

// defaultKexAlgos specifies the default key-exchange algorithms in
// preference order, per spec.md §9's canonical ordering.
var defaultKexAlgos = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoECDH521, kexAlgoECDH384, kexAlgoECDH256,
	kexAlgoDH16SHA512, kexAlgoDH14SHA256, kexAlgoDH14SHA1, kexAlgoDH1SHA1,
}

// allSupportedKexAlgos specifies all key-exchange algorithms supported,
// including group-exchange which is not offered by default.
var allSupportedKexAlgos = []string{
	kexAlgoCurve25519SHA256,
	kexAlgoECDH521, kexAlgoECDH384, kexAlgoECDH256,
	kexAlgoDH16SHA512, kexAlgoDH14SHA256, kexAlgoDH14SHA1, kexAlgoDH1SHA1,
	kexAlgoDHGEXSHA256, kexAlgoDHGEXSHA1,
}

// supportedHostKeyAlgos specifies the supported host-key algorithms (i.e.
// methods of authenticating servers) in preference order.
var supportedHostKeyAlgos = []string{
	CertAlgoED25519v01,
	CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01,
	CertAlgoRSASHA256v01, CertAlgoRSAv01,

	KeyAlgoED25519,
	KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521,
	KeyAlgoRSASHA256, KeyAlgoRSA,
}

// supportedMACs specifies a default set of MAC algorithms in preference
// order. hmac-md5 variants are omitted as end-of-life (RFC 4253 §6.4 is
// the base list; spec.md §4.3 adds the sha2 family).
var supportedMACs = []string{
	"hmac-sha2-512", "hmac-sha2-256", "hmac-sha1", "hmac-sha1-96",
}

var supportedCompressions = []string{compressionNone}

// hashFuncs maps host key / certificate algorithms to the hash used for
// their signatures.
var hashFuncs = map[string]crypto.Hash{
	KeyAlgoRSA:           crypto.SHA1,
	KeyAlgoRSASHA256:     crypto.SHA256,
	KeyAlgoECDSA256:      crypto.SHA256,
	KeyAlgoECDSA384:      crypto.SHA384,
	KeyAlgoECDSA521:      crypto.SHA512,
	CertAlgoRSAv01:       crypto.SHA1,
	CertAlgoRSASHA256v01: crypto.SHA256,
	CertAlgoECDSA256v01:  crypto.SHA256,
	CertAlgoECDSA384v01:  crypto.SHA384,
	CertAlgoECDSA521v01:  crypto.SHA512,
}

// unexpectedMessageError results when the SSH message that we received
// didn't match what we wanted.
func unexpectedMessageError(expected, got uint8) error {
	return fmt.Errorf("ssh: unexpected message type %d (expected %d)", got, expected)
}

// parseError results from a malformed SSH message.
func parseError(tag uint8) error {
	return fmt.Errorf("ssh: parse error in message type %d", tag)
}

func findCommon(what string, client []string, server []string) (common string, err error) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("ssh: no common algorithm for %s; client offered: %v, server offered: %v", what, client, server)
}

// DirectionAlgorithms records the cipher/MAC/compression negotiated for
// one direction of traffic.
type DirectionAlgorithms struct {
	Cipher      string
	MAC         string
	Compression string
}

// Algorithms records every algorithm negotiated for a connection. It is
// immutable once a KEX round completes and is logged (§ ambient logging)
// at Debug level on every (re)negotiation.
type Algorithms struct {
	Kex     string
	HostKey string
	W       DirectionAlgorithms // client (write) to server
	R       DirectionAlgorithms // server to client (read)
}

func (alg *Algorithms) logFields() logrus.Fields {
	return logrus.Fields{
		"kex":            alg.Kex,
		"host_key":       alg.HostKey,
		"cipher_cs":      alg.W.Cipher,
		"cipher_sc":      alg.R.Cipher,
		"mac_cs":         alg.W.MAC,
		"mac_sc":         alg.R.MAC,
		"compression_cs": alg.W.Compression,
		"compression_sc": alg.R.Compression,
	}
}

func findAgreedAlgorithms(clientKexInit, serverKexInit *KexInitMsg) (algs *Algorithms, err error) {
	result := &Algorithms{}

	result.Kex, err = findCommon("key exchange", clientKexInit.KexAlgos, serverKexInit.KexAlgos)
	if err != nil {
		return
	}

	result.HostKey, err = findCommon("host key", clientKexInit.ServerHostKeyAlgos, serverKexInit.ServerHostKeyAlgos)
	if err != nil {
		return
	}

	result.W.Cipher, err = findCommon("client to server cipher", clientKexInit.CiphersClientServer, serverKexInit.CiphersClientServer)
	if err != nil {
		return
	}

	result.R.Cipher, err = findCommon("server to client cipher", clientKexInit.CiphersServerClient, serverKexInit.CiphersServerClient)
	if err != nil {
		return
	}

	result.W.MAC, err = findCommon("client to server MAC", clientKexInit.MACsClientServer, serverKexInit.MACsClientServer)
	if err != nil {
		return
	}

	result.R.MAC, err = findCommon("server to client MAC", clientKexInit.MACsServerClient, serverKexInit.MACsServerClient)
	if err != nil {
		return
	}

	result.W.Compression, err = findCommon("client to server compression", clientKexInit.CompressionClientServer, serverKexInit.CompressionClientServer)
	if err != nil {
		return
	}

	result.R.Compression, err = findCommon("server to client compression", clientKexInit.CompressionServerClient, serverKexInit.CompressionServerClient)
	if err != nil {
		return
	}

	return result, nil
}

// minRekeyThreshold is the smallest RekeyThreshold we will honor; below
// this no progress could be made before forcing a rekey.
const minRekeyThreshold uint64 = 256

// Config contains configuration shared by the transport and connection
// layers.
type Config struct {
	// Rand provides the source of entropy for cryptographic primitives.
	// If nil, crypto/rand.Reader is used.
	Rand io.Reader

	// RekeyThreshold is the maximum number of bytes sent or received
	// after which a new key is negotiated. Must be at least 256. If
	// unspecified, 1 GiB is used (RFC 4253 section 9).
	RekeyThreshold uint64

	// KeyExchanges lists the allowed key exchange algorithms in
	// preference order. If unspecified a sensible default is used.
	KeyExchanges []string

	// Ciphers lists the allowed cipher algorithms. If unspecified a
	// sensible default is used.
	Ciphers []string

	// MACs lists the allowed MAC algorithms. If unspecified a sensible
	// default is used.
	MACs []string

	// Logger receives structured diagnostic events for this connection.
	// If nil, logrus.StandardLogger() is used.
	Logger logrus.FieldLogger

	// KeepaliveInterval is the interval between keepalive@openssh.com
	// global requests sent while the connection is otherwise idle. Zero
	// disables keepalives.
	KeepaliveInterval time.Duration

	// KeepaliveMaxMissed is the number of consecutive unanswered
	// keepalive requests tolerated before the connection is closed. If
	// zero and KeepaliveInterval is set, a default of 3 is used.
	KeepaliveMaxMissed int
}

// SetDefaults sets sensible values for unset fields in config. This is
// exported for testing: Configs passed to SSH functions are copied and
// have default values set automatically.
func (c *Config) SetDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Ciphers == nil {
		c.Ciphers = defaultCiphers
	}
	var ciphers []string
	for _, c := range c.Ciphers {
		if cipherModes[c] != nil {
			// reject the cipher if we have no cipherModes definition
			ciphers = append(ciphers, c)
		}
	}
	c.Ciphers = ciphers

	if c.KeyExchanges == nil {
		c.KeyExchanges = defaultKexAlgos
	}

	if c.MACs == nil {
		c.MACs = supportedMACs
	}

	if c.RekeyThreshold == 0 {
		// RFC 4253, section 9 suggests rekeying after 1G.
		c.RekeyThreshold = 1 << 30
	}
	if c.RekeyThreshold < minRekeyThreshold {
		c.RekeyThreshold = minRekeyThreshold
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.KeepaliveInterval > 0 && c.KeepaliveMaxMissed == 0 {
		c.KeepaliveMaxMissed = 3
	}
}

// buildDataSignedForAuth returns the data that is signed in order to
// prove possession of a private key. See RFC 4252, section 7.
func buildDataSignedForAuth(sessionId []byte, req userAuthRequestMsg, algo, pubKey []byte) []byte {
	data := struct {
		Session []byte
		Type    byte
		User    string
		Service string
		Method  string
		Sign    bool
		Algo    []byte
		PubKey  []byte
	}{
		sessionId,
		msgUserAuthRequest,
		req.User,
		req.Service,
		req.Method,
		true,
		algo,
		pubKey,
	}
	return Marshal(data)
}

// buildDataSignedForHostbased returns the data signed by the client
// host's private key to prove it for the "hostbased" method. See RFC
// 4252, section 9.
func buildDataSignedForHostbased(sessionId []byte, req userAuthRequestMsg, algo, hostKey []byte, clientHostname, localUsername string) []byte {
	data := struct {
		Session        []byte
		Type           byte
		User           string
		Service        string
		Method         string
		Algo           []byte
		HostKey        []byte
		ClientHostname string
		LocalUsername  string
	}{
		sessionId,
		msgUserAuthRequest,
		req.User,
		req.Service,
		req.Method,
		algo,
		hostKey,
		clientHostname,
		localUsername,
	}
	return Marshal(data)
}

func appendU16(buf []byte, n uint16) []byte {
	return append(buf, byte(n>>8), byte(n))
}

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendU64(buf []byte, n uint64) []byte {
	return append(buf,
		byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
		byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendInt(buf []byte, n int) []byte {
	return appendU32(buf, uint32(n))
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	buf = append(buf, s...)
	return buf
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// newCond is a helper to hide the fact that there is no usable zero
// value for sync.Cond.
func newCond() *sync.Cond { return sync.NewCond(new(sync.Mutex)) }

// window represents the buffer available to a writer wishing to write
// to a channel. Reservation/add are separate from the adaptive sizing
// decisions in flowcontrol.go: window is the credit ledger, flowcontrol
// decides how much credit to hand out and when.
type window struct {
	*sync.Cond
	win          uint32 // RFC 4254 5.2 says the window size can grow to 2^32-1
	writeWaiters int
	closed       bool
}

// add adds win to the amount of window available for consumers.
func (w *window) add(win uint32) bool {
	// a zero sized window adjust is a noop.
	if win == 0 {
		return true
	}
	w.L.Lock()
	if w.win+win < win {
		w.L.Unlock()
		return false
	}
	w.win += win
	// It is unusual that multiple goroutines would be attempting to
	// reserve window space, but not guaranteed. Use broadcast to notify
	// all waiters that additional window is available.
	w.Broadcast()
	w.L.Unlock()
	return true
}

// close sets the window to closed, so all reservations fail immediately.
func (w *window) close() {
	w.L.Lock()
	w.closed = true
	w.Broadcast()
	w.L.Unlock()
}

// blocked reports whether a call to reserve would have to wait for
// the peer to grant more window right now.
func (w *window) blocked() bool {
	w.L.Lock()
	defer w.L.Unlock()
	return w.win == 0 && !w.closed
}

// reserve reserves win from the available window capacity. If no
// capacity remains, reserve will block. reserve may return less than
// requested.
func (w *window) reserve(win uint32) (uint32, error) {
	var err error
	w.L.Lock()
	w.writeWaiters++
	w.Broadcast()
	for w.win == 0 && !w.closed {
		w.Wait()
	}
	w.writeWaiters--
	if w.win < win {
		win = w.win
	}
	w.win -= win
	if w.closed {
		err = io.EOF
	}
	w.L.Unlock()
	return win, err
}

// waitWriterBlocked waits until some goroutine is blocked for further
// writes. It is used in tests only.
func (w *window) waitWriterBlocked() {
	w.Cond.L.Lock()
	for w.writeWaiters == 0 {
		w.Cond.Wait()
	}
	w.Cond.L.Unlock()
}
