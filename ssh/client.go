// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/sirupsen/logrus"
)

// Client implements the C10 client façade: a traditional SSH client
// that supports shells, subprocesses, port forwarding and tunneled
// dialing, on top of the multiplexed Conn produced by the handshake.
type Client struct {
	Conn

	forwards        forwardList
	mu              sync.Mutex
	channelHandlers map[string]chan NewChannel

	hostKeysCallback HostKeysCallback
	hostKeyTracker   *hostKeyUpdateTracker

	group taskgroup.Group
}

// ClientOption configures optional Client behavior at construction
// time, applied by NewClient before any servicing goroutines start.
type ClientOption func(*Client)

// WithHostKeysCallback arranges for cb to be invoked with any new host
// keys the server announces via hostkeys-00@openssh.com, deduplicated
// by fingerprint across the lifetime of the connection.
func WithHostKeysCallback(cb HostKeysCallback) ClientOption {
	return func(c *Client) { c.hostKeysCallback = cb }
}

// HandleChannelOpen returns a channel on which NewChannel requests for
// the given type are sent. If the type is already handled, nil is
// returned. The channel is closed when the connection is closed.
func (c *Client) HandleChannelOpen(channelType string) <-chan NewChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channelHandlers == nil {
		ch := make(chan NewChannel)
		close(ch)
		return ch
	}

	ch := c.channelHandlers[channelType]
	if ch != nil {
		return nil
	}

	ch = make(chan NewChannel, 16)
	c.channelHandlers[channelType] = ch
	return ch
}

// NewClient creates a Client on top of the given connection. The
// goroutines servicing global requests, incoming channel opens, and
// forwarded connections run in a taskgroup.Group; Close does not wait
// for them.
func NewClient(c Conn, chans <-chan NewChannel, reqs <-chan *Request, opts ...ClientOption) *Client {
	conn := &Client{
		Conn:            c,
		channelHandlers: make(map[string]chan NewChannel, 1),
	}
	for _, opt := range opts {
		opt(conn)
	}

	forwardedTCP := conn.HandleChannelOpen("forwarded-tcpip")

	conn.group.Go(func() error { conn.handleGlobalRequests(reqs); return nil })
	conn.group.Go(func() error { conn.handleChannelOpens(chans); return nil })
	conn.group.Go(func() error {
		conn.Wait()
		conn.forwards.closeAll()
		return nil
	})
	conn.group.Go(func() error {
		conn.forwards.handleChannels(forwardedTCP)
		return nil
	})
	return conn
}

// NewClientConn establishes an authenticated SSH connection using c as
// the underlying transport. The Request and NewChannel channels must
// be serviced or the connection will hang.
func NewClientConn(c net.Conn, addr string, config *ClientConfig) (Conn, <-chan NewChannel, <-chan *Request, error) {
	fullConf := *config
	fullConf.SetDefaults()
	if fullConf.HostKeyCallback == nil {
		c.Close()
		return nil, nil, nil, errors.New("ssh: must specify HostKeyCallback")
	}
	conn := &connection{
		sshConn: sshConn{conn: c},
	}

	if err := conn.clientHandshake(addr, &fullConf); err != nil {
		c.Close()
		return nil, nil, nil, fmt.Errorf("ssh: handshake failed: %w", err)
	}
	conn.mux = newMux(conn.transport)
	conn.mux.flowConn = c
	return conn, conn.mux.incomingChannels, conn.mux.incomingRequests, nil
}

// clientHandshake performs the client side of the connection setup: TCP
// is already established, so this runs version exchange, KEXINIT/KEX,
// and authentication (RFC 4253 section 7, RFC 4252).
func (c *connection) clientHandshake(dialAddress string, config *ClientConfig) error {
	c.connID = newCorrelationID()
	c.user = config.User
	if config.ClientVersion != "" {
		c.clientVersion = []byte(config.ClientVersion)
	} else {
		c.clientVersion = []byte(packageVersion)
	}
	var err error
	c.serverVersion, err = exchangeVersions(c.sshConn.conn, c.clientVersion)
	if err != nil {
		return err
	}

	connLogger(&config.Config, c.connID, c.sshConn.RemoteAddr().String()).WithFields(logrus.Fields{
		"client_version": string(c.clientVersion),
		"server_version": string(c.serverVersion),
	}).Debug("ssh: version exchange complete")

	c.transport = newClientTransport(
		newTransport(c.sshConn.conn, config.Rand, true /* is client */),
		c.clientVersion, c.serverVersion, config, dialAddress, c.sshConn.RemoteAddr())

	if err := c.transport.requestInitialKeyChange(); err != nil {
		return err
	}

	// The session ID is now established.
	c.sessionID = c.transport.getSessionID()

	return c.clientAuthenticate(config)
}

// verifyHostKeySignature verifies the host key obtained during key
// exchange against the signature the server produced over the
// exchange hash H.
func verifyHostKeySignature(hostKey PublicKey, result *kexResult) error {
	sig, rest, ok := parseSignatureBody(result.Signature)
	if len(rest) > 0 || !ok {
		return errors.New("ssh: signature parse error")
	}

	return hostKey.Verify(result.H, sig)
}

// InsecureIgnoreHostKey returns a HostKeyCallback that accepts any
// host key. It should not be used except for testing against a known
// trusted network, since it removes any protection against
// man-in-the-middle attacks.
func InsecureIgnoreHostKey() func(hostname string, remote net.Addr, key PublicKey) error {
	return func(hostname string, remote net.Addr, key PublicKey) error {
		return nil
	}
}

// FixedHostKey returns a HostKeyCallback that accepts only a specific
// public key, comparing by marshaled wire form.
func FixedHostKey(key PublicKey) func(hostname string, remote net.Addr, key PublicKey) error {
	want := key.Marshal()
	return func(hostname string, remote net.Addr, got PublicKey) error {
		if got.Type() != key.Type() {
			return fmt.Errorf("ssh: host key type mismatch: got %q, want %q", got.Type(), key.Type())
		}
		gotBytes := got.Marshal()
		if len(gotBytes) != len(want) {
			return errors.New("ssh: host key mismatch")
		}
		for i := range want {
			if gotBytes[i] != want[i] {
				return errors.New("ssh: host key mismatch")
			}
		}
		return nil
	}
}

// NewSession opens a new Session for this client. (A session is a
// remote execution of a program.)
func (c *Client) NewSession() (*Session, error) {
	ch, in, err := c.OpenChannel("session", nil)
	if err != nil {
		return nil, err
	}
	return newSession(ch, in)
}

func (c *Client) handleGlobalRequests(incoming <-chan *Request) {
	for r := range incoming {
		switch r.Type {
		case "hostkeys-00@openssh.com":
			c.mu.Lock()
			cb := c.hostKeysCallback
			c.mu.Unlock()
			if err := c.handleHostKeysUpdate(cb, r.Payload); err != nil {
				logrus.StandardLogger().WithError(err).Warn("ssh: invalid hostkeys-00@openssh.com request")
			}
			if r.WantReply {
				r.Reply(true, nil)
			}
		default:
			// This handles keepalive messages, matching OpenSSH's
			// behaviour of replying false to unrecognised global requests.
			if r.WantReply {
				r.Reply(false, nil)
			}
		}
	}
}

// handleChannelOpens dispatches inbound channel-open messages to a
// registered handler, or rejects them with UnknownChannelType.
func (c *Client) handleChannelOpens(in <-chan NewChannel) {
	for ch := range in {
		c.mu.Lock()
		handler := c.channelHandlers[ch.ChannelType()]
		c.mu.Unlock()

		if handler != nil {
			handler <- ch
		} else {
			ch.Reject(UnknownChannelType, fmt.Sprintf("unknown channel type: %v", ch.ChannelType()))
		}
	}

	c.mu.Lock()
	for _, ch := range c.channelHandlers {
		close(ch)
	}
	c.channelHandlers = nil
	c.mu.Unlock()
}

// Dial starts a client connection to the given SSH server. It is a
// convenience function that connects to the given network address,
// performs the handshake, and wraps the result in a Client. For access
// to incoming channels and requests, use net.Dial with NewClientConn
// instead.
func Dial(network, addr string, config *ClientConfig) (*Client, error) {
	conn, err := net.DialTimeout(network, addr, config.Timeout)
	if err != nil {
		return nil, err
	}

	if config.Timeout != 0 {
		conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := NewClientConn(conn, addr, config)
	if err != nil {
		return nil, err
	}
	client := NewClient(c, chans, reqs,
		WithHostKeysCallback(config.HostKeysCallback),
		WithKeepalive(config.KeepaliveInterval, config.KeepaliveMaxMissed))
	if config.Timeout != 0 {
		conn.SetDeadline(time.Time{})
	}
	return client, nil
}

// BannerCallback is the function type used to handle the banner sent
// by the server during authentication. A BannerCallback receives the
// message sent by the remote server.
type BannerCallback func(message string) error

// BannerDisplayStderr returns a BannerCallback that writes the banner
// text to os.Stderr, for callers that just want OpenSSH-like behavior
// with minimal setup.
func BannerDisplayStderr() BannerCallback {
	return func(message string) error {
		_, err := fmt.Fprint(os.Stderr, message)
		return err
	}
}

// A ClientConfig structure is used to configure a Client. It must not
// be modified after having been passed to an SSH function.
type ClientConfig struct {
	// Config contains configuration shared between the transport and
	// connection layers.
	Config

	// User contains the username to authenticate as.
	User string

	// Auth contains the authentication methods to try, in order, after
	// the "none" probe. Every entry is tried, including repeats of the
	// same RFC 4252 method name.
	Auth []AuthMethod

	// HostKeyCallback validates the server's host key during the
	// handshake. A nil HostKeyCallback is rejected by NewClientConn;
	// skipping verification takes an explicit opt-in via
	// InsecureIgnoreHostKey, matching the ambient "no silent insecurity"
	// posture.
	HostKeyCallback func(hostname string, remote net.Addr, key PublicKey) error

	// BannerCallback is called when the server sends a banner message
	// during authentication.
	BannerCallback BannerCallback

	// HostKeysCallback, if set, is invoked with any new host keys the
	// server announces post-authentication via the
	// hostkeys-00@openssh.com extension.
	HostKeysCallback HostKeysCallback

	// ClientVersion contains the version identification string used
	// for the connection. If empty, a reasonable default is used.
	ClientVersion string

	// HostKeyAlgorithms lists the key types the client accepts from
	// the server as host key, in order of preference. If empty, a
	// reasonable default is used.
	HostKeyAlgorithms []string

	// Timeout is the maximum amount of time for the TCP connection to
	// establish and the key exchange to complete; the authentication
	// phase is bounded by AuthTimeout instead. Zero means no timeout.
	Timeout time.Duration

	// AuthMaxAttempts bounds the number of authentication methods (the
	// "none" probe plus each entry in Auth) the client will try before
	// giving up. If zero, a default of 20 is used.
	AuthMaxAttempts int

	// AuthTimeout bounds the wall-clock time the authentication phase
	// is allowed to take, independent of Timeout, which also covers
	// dialing and key exchange. If zero, a default of 10 minutes is
	// used. Not enforced when the underlying connection doesn't
	// support SetDeadline.
	AuthTimeout time.Duration
}

// authDefaultMaxAttempts and authDefaultTimeout are applied when
// ClientConfig leaves AuthMaxAttempts/AuthTimeout at their zero value.
const (
	authDefaultMaxAttempts = 20
	authDefaultTimeout     = 10 * time.Minute
)
