// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import "net"

// Conn represents an authenticated connection to a remote server
// operating over the SSH connection protocol (RFC 4254).
type Conn interface {
	// User returns the user ID for the connection.
	User() string

	// SessionID returns the session hash, also known as the exchange
	// hash, computed during the key exchange.
	SessionID() []byte

	// ClientVersion returns the client's version string as sent over
	// the wire.
	ClientVersion() []byte

	// ServerVersion returns the server's version string as sent over
	// the wire.
	ServerVersion() []byte

	// RemoteAddr returns the remote address for this connection.
	RemoteAddr() net.Addr

	// LocalAddr returns the local address for this connection.
	LocalAddr() net.Addr

	// SendRequest sends a global request and returns the reply. If
	// wantReply is true, it waits for a reply and returns the result of
	// the request, with the given payload.
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)

	// OpenChannel tries to open a channel. If the request is rejected, it
	// returns *ChannelOpenError.
	OpenChannel(name string, data []byte) (Channel, <-chan *Request, error)

	// Close closes the underlying network connection.
	Close() error

	// Wait blocks until the connection has shut down, and returns the
	// error causing the shutdown.
	Wait() error
}

// sshConn wraps a net.Conn and the identification strings exchanged
// over it; it is embedded by connection to implement the net-facing
// subset of Conn.
type sshConn struct {
	conn net.Conn

	user          string
	sessionID     []byte
	clientVersion []byte
	serverVersion []byte

	// connID correlates log lines and metric samples for this
	// connection; it has no protocol meaning.
	connID string
}

func (c *sshConn) User() string          { return c.user }
func (c *sshConn) RemoteAddr() net.Addr  { return c.conn.RemoteAddr() }
func (c *sshConn) LocalAddr() net.Addr   { return c.conn.LocalAddr() }
func (c *sshConn) Close() error          { return c.conn.Close() }
func (c *sshConn) SessionID() []byte     { return c.sessionID }
func (c *sshConn) ClientVersion() []byte { return c.clientVersion }
func (c *sshConn) ServerVersion() []byte { return c.serverVersion }

// connection is the client-side implementation of Conn: it ties
// together the keying transport, the connection-layer mux, and the
// identification details negotiated during the handshake.
type connection struct {
	sshConn

	transport *handshakeTransport
	mux       *mux
}

func (c *connection) Close() error {
	return c.sshConn.conn.Close()
}

func (c *connection) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	return c.mux.sendGlobalRequest(globalRequestMsg{
		Type:      name,
		WantReply: wantReply,
		Data:      payload,
	})
}

func (c *connection) OpenChannel(name string, data []byte) (Channel, <-chan *Request, error) {
	ch, err := c.mux.openChannel(name, data)
	if err != nil {
		return nil, nil, err
	}
	return ch, ch.requests, nil
}

func (c *connection) Wait() error {
	return c.mux.Wait()
}
