// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// clientAuthenticate authenticates with the remote server, trying each
// configured AuthMethod in turn until one succeeds, the server's
// "none" probe comes back already authenticated (RFC 4252 section 5.2),
// or every method is exhausted (RFC 4252 section 5.1). It enforces two
// independent bounds from spec.md §4.6: a cap on the number of methods
// attempted and a wall-clock deadline for the whole phase; exceeding
// either aborts with a distinguished *AuthAbortError, which the caller
// treats as fatal and closes the transport for.
func (c *connection) clientAuthenticate(config *ClientConfig) error {
	maxAttempts := config.AuthMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = authDefaultMaxAttempts
	}
	authTimeout := config.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = authDefaultTimeout
	}
	if err := c.sshConn.conn.SetDeadline(time.Now().Add(authTimeout)); err == nil {
		defer c.sshConn.conn.SetDeadline(time.Time{})
	}

	if err := c.transport.writePacket(Marshal(&serviceRequestMsg{Service: serviceUserAuth})); err != nil {
		return err
	}
	packet, err := c.transport.readPacket()
	if err != nil {
		return err
	}
	var serviceAccept serviceAcceptMsg
	if err := Unmarshal(packet, &serviceAccept); err != nil {
		return err
	}

	// The "none" method is probed first. It tells us which
	// methods the server supports and, occasionally, completes
	// authentication outright.
	sessionID := c.transport.getSessionID()
	var lastMethods []string
	var authErrs []error

	auths := []AuthMethod{new(noneAuth)}
	auths = append(auths, config.Auth...)

	for attempt, method := range auths {
		if attempt >= maxAttempts {
			return &AuthAbortError{Reason: fmt.Sprintf("exceeded %d attempt(s)", maxAttempts)}
		}
		ok, methods, err := method.auth(sessionID, config.User, c.transport, config.Rand)
		if err != nil {
			if isTimeoutError(err) {
				return &AuthAbortError{Reason: "timeout"}
			}
			authErrs = append(authErrs, err)
		}
		if ok == authSuccess {
			return nil
		}
		lastMethods = methods
	}

	return &AuthError{Methods: lastMethods, Errors: authErrs}
}

// isTimeoutError reports whether err originates from the deadline set
// at the top of clientAuthenticate expiring mid-read/write.
func isTimeoutError(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// authResult describes the outcome of one authentication attempt.
type authResult int

const (
	authFailure authResult = iota
	authPartialSuccess
	authSuccess
)

// AuthMethod represents an instance of an RFC 4252 authentication
// method.
type AuthMethod interface {
	// auth attempts to authenticate the user over the given transport,
	// returning the result, the list of methods the server still
	// accepts, and an error for unrecoverable (i.e. non-protocol)
	// failures.
	auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error)

	// method returns the RFC 4252 method name, used for AuthError
	// bookkeeping.
	method() string
}

// bannerConn is implemented by handshakeTransport so auth methods can
// surface userauth banners through the configured BannerCallback
// without needing the full *connection in scope.
type bannerConn interface {
	banner(message string) error
}

func deliverBanner(c packetConn, packet []byte) error {
	if bc, ok := c.(bannerConn); ok {
		var msg userAuthBannerMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		return bc.banner(msg.Message)
	}
	return nil
}

// bannerMaxLineLen and bannerMaxTotalLen bound how much of a hostile
// or malfunctioning server's userauth banner reaches the embedder.
// The banner is never used to steer authentication logic; these
// limits only protect the display path.
const (
	bannerMaxLineLen  = 1024
	bannerMaxTotalLen = 8192
)

// sanitizeBanner renders an untrusted RFC 4252 section 5.4 banner safe
// to display. Tab, CR and LF pass through unchanged, as does printable
// ASCII and valid multi-byte UTF-8; any other C0 control byte or
// invalid byte is escaped as \xHH. The result is capped per line and
// in total. Because escaped output consists entirely of characters
// sanitizeBanner already lets through, sanitizeBanner(sanitizeBanner(x))
// == sanitizeBanner(x).
func sanitizeBanner(s string) string {
	lines := strings.Split(s, "\n")
	var out strings.Builder
	total := 0
	for i, line := range lines {
		if total >= bannerMaxTotalLen {
			break
		}
		runes := []rune(sanitizeBannerLine(line))
		if len(runes) > bannerMaxLineLen {
			runes = runes[:bannerMaxLineLen]
		}
		if total+len(runes) > bannerMaxTotalLen {
			runes = runes[:bannerMaxTotalLen-total]
		}
		out.WriteString(string(runes))
		total += len(runes)
		if i != len(lines)-1 {
			if total >= bannerMaxTotalLen {
				break
			}
			out.WriteByte('\n')
			total++
		}
	}
	return out.String()
}

// sanitizeBannerLine escapes the control and invalid bytes of a single
// line (no embedded '\n'; the caller splits on that).
func sanitizeBannerLine(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size <= 1:
			fmt.Fprintf(&b, "\\x%02X", s[i])
			if size == 0 {
				size = 1
			}
		case r == '\t' || r == '\r':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\x%02X", s[i])
		default:
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func readAuthReply(c packetConn) (authResult, []string, *userAuthFailureMsg, error) {
	for {
		packet, err := c.readPacket()
		if err != nil {
			return authFailure, nil, nil, err
		}
		switch packet[0] {
		case msgUserAuthBanner:
			if err := deliverBanner(c, packet); err != nil {
				return authFailure, nil, nil, err
			}
			continue
		case msgUserAuthFailure:
			var msg userAuthFailureMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return authFailure, nil, nil, err
			}
			if msg.PartialSuccess {
				return authPartialSuccess, msg.Methods, &msg, nil
			}
			return authFailure, msg.Methods, &msg, nil
		case msgUserAuthSuccess:
			return authSuccess, nil, nil, nil
		default:
			return authFailure, nil, nil, unexpectedMessageError(msgUserAuthSuccess, packet[0])
		}
	}
}

// noneAuth probes the server with the "none" method, per RFC 4252
// section 5.2, to discover the set of methods it will accept.
type noneAuth struct{}

func (noneAuth) auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error) {
	if err := c.writePacket(Marshal(&userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "none",
	})); err != nil {
		return authFailure, nil, err
	}

	result, methods, _, err := readAuthReply(c)
	return result, methods, err
}

func (noneAuth) method() string { return "none" }

// Password returns an AuthMethod using the given password.
func Password(secret string) AuthMethod {
	return passwordCallback(func() (string, error) { return secret, nil })
}

// PasswordCallback returns an AuthMethod that invokes fn to obtain a
// password for each attempt, e.g. to prompt interactively.
func PasswordCallback(fn func() (secret string, err error)) AuthMethod {
	return passwordCallback(fn)
}

type passwordCallback func() (string, error)

func (cb passwordCallback) auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error) {
	pw, err := cb()
	if err != nil {
		return authFailure, nil, err
	}

	payload := appendBool(nil, false)
	payload = appendString(payload, pw)

	if err := c.writePacket(Marshal(&userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "password",
		Payload: payload,
	})); err != nil {
		return authFailure, nil, err
	}

	result, methods, _, err := readAuthReply(c)
	return result, methods, err
}

func (passwordCallback) method() string { return "password" }

// PublicKeys returns an AuthMethod that uses the given signers,
// attempting each in the order supplied, per RFC 4252 section 7.
func PublicKeys(signers ...Signer) AuthMethod {
	return publicKeyCallback(func() ([]Signer, error) { return signers, nil })
}

// PublicKeysCallback returns an AuthMethod that obtains a set of
// signers via fn, queried once at the start of the method's attempt.
// This allows deferring access to private key material (e.g. a live
// ssh-agent) until authentication is actually underway.
func PublicKeysCallback(fn func() ([]Signer, error)) AuthMethod {
	return publicKeyCallback(fn)
}

type publicKeyCallback func() ([]Signer, error)

func (cb publicKeyCallback) method() string { return "publickey" }

func (cb publicKeyCallback) auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error) {
	signers, err := cb()
	if err != nil {
		return authFailure, nil, err
	}

	var methods []string
	for _, signer := range signers {
		pub := signer.PublicKey()
		as := algorithmsForKeyFormat(pub.Type())

		for _, algo := range as {
			ok, err := validateKey(pub, algo, user, c)
			if err != nil {
				return authFailure, nil, err
			}
			if !ok {
				continue
			}

			pubKeyMsg := &userAuthRequestMsg{
				User:    user,
				Service: serviceSSH,
				Method:  "publickey",
			}
			signed, err := signer.Sign(rand, buildDataSignedForAuth(session, *pubKeyMsg, []byte(algo), pub.Marshal()))
			if err != nil {
				return authFailure, nil, err
			}

			payload := appendBool(nil, true)
			payload = appendString(payload, algo)
			payload = appendString(payload, string(pub.Marshal()))
			payload = appendString(payload, string(marshalSignature(signed)))
			pubKeyMsg.Payload = payload

			if err := c.writePacket(Marshal(pubKeyMsg)); err != nil {
				return authFailure, nil, err
			}

			var result authResult
			var failMsg *userAuthFailureMsg
			result, methods, failMsg, err = readAuthReply(c)
			if err != nil {
				return authFailure, nil, err
			}
			_ = failMsg
			if result != authFailure {
				return result, methods, nil
			}
		}
	}
	return authFailure, methods, nil
}

// validateKey sends a "publickey" query (the non-signing probe of RFC
// 4252 section 7) to check the server will accept this key/algorithm
// combination before paying for a signature.
func validateKey(key PublicKey, algo, user string, c packetConn) (bool, error) {
	pubKeyMsg := &userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "publickey",
	}
	payload := appendBool(nil, false)
	payload = appendString(payload, algo)
	payload = appendString(payload, string(key.Marshal()))
	pubKeyMsg.Payload = payload

	if err := c.writePacket(Marshal(pubKeyMsg)); err != nil {
		return false, err
	}

	return confirmKeyAck(key, algo, c)
}

func confirmKeyAck(key PublicKey, algo string, c packetConn) (bool, error) {
	for {
		packet, err := c.readPacket()
		if err != nil {
			return false, err
		}
		switch packet[0] {
		case msgUserAuthBanner:
			if err := deliverBanner(c, packet); err != nil {
				return false, err
			}
			continue
		case msgUserAuthPubKeyOk:
			var msg userAuthPubKeyOkMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return false, err
			}
			if msg.Algo != algo || string(msg.PubKey) != string(key.Marshal()) {
				return false, nil
			}
			return true, nil
		case msgUserAuthFailure:
			return false, nil
		default:
			return false, unexpectedMessageError(msgUserAuthPubKeyOk, packet[0])
		}
	}
}

// algorithmsForKeyFormat returns, in preference order, the signature
// algorithm names a key of the given format may use for the
// "publickey" method. RSA keys may use the rsa-sha2 algorithms (RFC
// 8332) in addition to their native format name.
func algorithmsForKeyFormat(keyFormat string) []string {
	switch keyFormat {
	case KeyAlgoRSA:
		return []string{KeyAlgoRSASHA256, KeyAlgoRSA}
	default:
		return []string{keyFormat}
	}
}

// Hostbased returns an AuthMethod implementing the RFC 4252 section 9
// "hostbased" method: the client authenticates as the given user by
// proving possession of its host's private key, identifying the
// client host by clientHostname (its FQDN) and the user that signed
// in on that host by localUsername.
func Hostbased(signer Signer, clientHostname, localUsername string) AuthMethod {
	return &hostbasedAuth{signer: signer, clientHostname: clientHostname, localUsername: localUsername}
}

type hostbasedAuth struct {
	signer         Signer
	clientHostname string
	localUsername  string
}

func (*hostbasedAuth) method() string { return "hostbased" }

func (h *hostbasedAuth) auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error) {
	pub := h.signer.PublicKey()
	algo := pub.Type()

	reqMsg := &userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "hostbased",
	}
	toSign := buildDataSignedForHostbased(session, *reqMsg, []byte(algo), pub.Marshal(), h.clientHostname, h.localUsername)
	signed, err := h.signer.Sign(rand, toSign)
	if err != nil {
		return authFailure, nil, err
	}

	payload := appendString(nil, algo)
	payload = appendString(payload, string(pub.Marshal()))
	payload = appendString(payload, h.clientHostname)
	payload = appendString(payload, h.localUsername)
	payload = appendString(payload, string(marshalSignature(signed)))
	reqMsg.Payload = payload

	if err := c.writePacket(Marshal(reqMsg)); err != nil {
		return authFailure, nil, err
	}

	result, methods, _, err := readAuthReply(c)
	return result, methods, err
}

// KeyboardInteractiveChallenge should print questions, optionally
// disabling echoing (e.g. for passwords), and return all the answers.
// Challenge may be called multiple times in a single session.
type KeyboardInteractiveChallenge func(name, instruction string, questions []string, echos []bool) (answers []string, err error)

// KeyboardInteractive returns an AuthMethod implementing the RFC 4256
// "keyboard-interactive" method.
func KeyboardInteractive(challenge KeyboardInteractiveChallenge) AuthMethod {
	return keyboardInteractiveAuth(challenge)
}

type keyboardInteractiveAuth func(name, instruction string, questions []string, echos []bool) ([]string, error)

func (keyboardInteractiveAuth) method() string { return "keyboard-interactive" }

func (cb keyboardInteractiveAuth) auth(session []byte, user string, c packetConn, rand io.Reader) (authResult, []string, error) {
	if err := c.writePacket(Marshal(&userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "keyboard-interactive",
		Payload: Marshal(&userAuthKeyboardInteractiveMsg{}),
	})); err != nil {
		return authFailure, nil, err
	}

	for {
		packet, err := c.readPacket()
		if err != nil {
			return authFailure, nil, err
		}

		switch packet[0] {
		case msgUserAuthBanner:
			if err := deliverBanner(c, packet); err != nil {
				return authFailure, nil, err
			}
			continue
		case msgUserAuthInfoRequest:
			var msg userAuthInfoRequestMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return authFailure, nil, err
			}

			questions, echos, err := parsePrompts(msg.NumPrompts, msg.Prompts)
			if err != nil {
				return authFailure, nil, err
			}

			answers, err := cb(msg.Name, msg.Instruction, questions, echos)
			if err != nil {
				return authFailure, nil, err
			}
			if len(answers) != len(questions) {
				return authFailure, nil, errors.New("ssh: keyboard-interactive challenge answered with wrong number of answers")
			}

			respPayload := appendU32(nil, uint32(len(answers)))
			for _, a := range answers {
				respPayload = appendString(respPayload, a)
			}
			if err := c.writePacket(append([]byte{msgUserAuthInfoResponse}, respPayload...)); err != nil {
				return authFailure, nil, err
			}
		case msgUserAuthFailure:
			var msg userAuthFailureMsg
			if err := Unmarshal(packet, &msg); err != nil {
				return authFailure, nil, err
			}
			if msg.PartialSuccess {
				return authPartialSuccess, msg.Methods, nil
			}
			return authFailure, msg.Methods, nil
		case msgUserAuthSuccess:
			return authSuccess, nil, nil
		default:
			return authFailure, nil, unexpectedMessageError(msgUserAuthInfoRequest, packet[0])
		}
	}
}

func parsePrompts(n uint32, data []byte) (questions []string, echos []bool, err error) {
	for i := uint32(0); i < n; i++ {
		var q []byte
		var ok bool
		q, data, ok = parseString(data)
		if !ok {
			return nil, nil, fmt.Errorf("ssh: parse error in keyboard-interactive prompt %d", i)
		}
		questions = append(questions, string(q))

		var echo bool
		echo, data, ok = parseBool(data)
		if !ok {
			return nil, nil, fmt.Errorf("ssh: parse error in keyboard-interactive echo flag %d", i)
		}
		echos = append(echos, echo)
	}
	return questions, echos, nil
}
