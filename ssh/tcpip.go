// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// errNoDeadline is returned by chanConn's deadline setters: the
// underlying Channel has no notion of read/write deadlines.
var errNoDeadline = errors.New("ssh: channel connections do not support deadlines")

// Listen requests the remote peer open a listening socket on addr.
// Incoming connections will be available by calling Accept on the
// returned net.Listener.
func (c *Client) Listen(n, addr string) (net.Listener, error) {
	laddr, err := net.ResolveTCPAddr(n, addr)
	if err != nil {
		return nil, err
	}
	return c.ListenTCP(laddr)
}

// ListenTCP requests the remote peer open a listening socket on laddr.
// Incoming connections will be available by calling Accept on the
// returned net.Listener.
func (c *Client) ListenTCP(laddr *net.TCPAddr) (net.Listener, error) {
	if laddr.Port == 0 && runtimeHostIsWindows {
		return c.autoPortListenWorkaround(laddr)
	}

	m := channelForwardMsg{
		laddr.IP.String(),
		uint32(laddr.Port),
	}
	ok, resp, err := c.SendRequest("tcpip-forward", true, Marshal(&m))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("ssh: tcpip-forward request denied by peer")
	}

	if laddr.Port == 0 {
		var p struct{ Port uint32 }
		if err := Unmarshal(resp, &p); err != nil {
			return nil, err
		}
		laddr.Port = int(p.Port)
	}

	ch := c.forwards.add(laddr)
	return ch, nil
}

// runtimeHostIsWindows is never true in this client.
// autoPortListenWorkaround holds no port-allocation workaround; it
// only returns an error.
var runtimeHostIsWindows = false

func (c *Client) autoPortListenWorkaround(laddr *net.TCPAddr) (net.Listener, error) {
	return nil, errors.New("ssh: automatic port allocation workaround not enabled")
}

// forward holds a single forwarded TCP listener, serviced by
// forwardList.handleChannels dispatching forwarded-tcpip channel opens
// that match its laddr.
type forward struct {
	newCh   chan NewChannel
	laddr   *net.TCPAddr
}

// forwardList stores a mapping between remote forward requests and the
// forward structs.
type forwardList struct {
	sync.Mutex
	entries []*forward
}

// add registers a forward for addr and returns its listener.
func (l *forwardList) add(addr *net.TCPAddr) *tcpListener {
	l.Lock()
	defer l.Unlock()
	f := &forward{newCh: make(chan NewChannel, 1), laddr: addr}
	l.entries = append(l.entries, f)
	return &tcpListener{laddr: addr, in: f.newCh}
}

// remove removes the forward entry, and the channel feeding it.
func (l *forwardList) remove(addr *net.TCPAddr) {
	l.Lock()
	defer l.Unlock()
	for i, f := range l.entries {
		if addr.IP.Equal(f.laddr.IP) && addr.Port == f.laddr.Port {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			close(f.newCh)
			return
		}
	}
}

// closeAll closes and clears all forwards, called once the underlying
// connection shuts down so blocked Accept calls return an error instead
// of hanging forever.
func (l *forwardList) closeAll() {
	l.Lock()
	defer l.Unlock()
	for _, f := range l.entries {
		close(f.newCh)
	}
	l.entries = nil
}

// handleChannels matches each forwarded-tcpip channel open to the
// forward whose laddr matches the advertised listen address, and
// forwards it to that forward's NewChannel queue.
func (l *forwardList) handleChannels(in <-chan NewChannel) {
	for ch := range in {
		var payload forwardedTCPPayload
		if err := Unmarshal(ch.ExtraData(), &payload); err != nil {
			ch.Reject(ConnectionFailed, "could not parse forwarded-tcpip payload: "+err.Error())
			continue
		}

		l.Lock()
		var f *forward
		for _, candidate := range l.entries {
			if payload.Port == uint32(candidate.laddr.Port) &&
				(candidate.laddr.IP.IsUnspecified() || candidate.laddr.IP.String() == payload.Addr) {
				f = candidate
				break
			}
		}
		l.Unlock()

		if f == nil {
			ch.Reject(Prohibited, "port forwarding is disabled")
			continue
		}

		select {
		case f.newCh <- ch:
		default:
			ch.Reject(ResourceShortage, "listener backlog full")
		}
	}
}

// tcpListener implements net.Listener over channels the peer opens
// back to us after a successful tcpip-forward request.
type tcpListener struct {
	laddr *net.TCPAddr
	in    <-chan NewChannel
}

// Accept waits for and returns the next connection to the listener.
func (l *tcpListener) Accept() (net.Conn, error) {
	ch, ok := <-l.in
	if !ok {
		return nil, io.EOF
	}
	c, incoming, err := ch.Accept()
	if err != nil {
		return nil, err
	}
	go DiscardRequests(incoming)

	var payload forwardedTCPPayload
	if err := Unmarshal(ch.ExtraData(), &payload); err != nil {
		c.Close()
		return nil, fmt.Errorf("ssh: could not parse forwarded-tcpip payload: %w", err)
	}

	return &chanConn{
		Channel: c,
		laddr:   l.laddr,
		raddr: &net.TCPAddr{
			IP:   net.ParseIP(payload.OriginAddr),
			Port: int(payload.OriginPort),
		},
	}, nil
}

// Close returns nil. It sends no cancel-tcpip-forward request and
// leaves the forward registered.
func (l *tcpListener) Close() error {
	return nil
}

// Addr returns the listener's network address.
func (l *tcpListener) Addr() net.Addr {
	return l.laddr
}

// DiscardRequests consumes and rejects all out-of-band requests while
// leaving the underlying data stream alone. It's intended for use with
// channel types where the recipient is not interested in replying to
// out-of-band requests.
func DiscardRequests(in <-chan *Request) {
	for req := range in {
		if req.WantReply {
			req.Reply(false, nil)
		}
	}
}

// chanConn fulfills the net.Conn interface by embedding the Channel,
// whose Read/Write methods it uses directly.
type chanConn struct {
	Channel
	laddr, raddr net.Addr
}

func (t *chanConn) LocalAddr() net.Addr            { return t.laddr }
func (t *chanConn) RemoteAddr() net.Addr           { return t.raddr }
func (t *chanConn) SetDeadline(d time.Time) error      { return errNoDeadline }
func (t *chanConn) SetReadDeadline(d time.Time) error  { return errNoDeadline }
func (t *chanConn) SetWriteDeadline(d time.Time) error { return errNoDeadline }

// DialContext opens a forwarded connection on the server, identifying
// this connection to the server as originating from the unspecified
// address with port 0, and returns
// it as a net.Conn. This implements the SSH direct-tcpip channel type,
// RFC 4254 section 7.1.
func (c *Client) DialContext(ctx context.Context, n, addr string) (net.Conn, error) {
	host, portString, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := parsePort(portString)
	if err != nil {
		return nil, err
	}
	return c.dial(ctx, host, port)
}

// Dial initiates a connection to the addr from the remote host. addr
// is resolved using the remote server.
func (c *Client) Dial(n, addr string) (net.Conn, error) {
	return c.DialContext(context.Background(), n, addr)
}

func (c *Client) dial(ctx context.Context, remoteHost string, remotePort int) (net.Conn, error) {
	var zeroAddr net.TCPAddr
	var zeroSourceAddr string
	if zeroAddr.IP.To4() != nil {
		zeroSourceAddr = "0.0.0.0:0"
	} else {
		zeroSourceAddr = "[::]:0"
	}
	sourceHost, sourcePortStr, err := net.SplitHostPort(zeroSourceAddr)
	if err != nil {
		return nil, err
	}
	sourcePort, err := parsePort(sourcePortStr)
	if err != nil {
		return nil, err
	}

	ch, in, err := c.OpenChannel("direct-tcpip", Marshal(&directTCPIPData{
		HostToConnect: remoteHost,
		PortToConnect: uint32(remotePort),
		OriginAddr:    sourceHost,
		OriginPort:    uint32(sourcePort),
	}))
	if err != nil {
		return nil, err
	}
	go DiscardRequests(in)
	return &chanConn{
		Channel: ch,
		laddr:   &net.TCPAddr{IP: net.IPv4zero, Port: 0},
		raddr:   &net.TCPAddr{IP: net.ParseIP(remoteHost), Port: remotePort},
	}, nil
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	if err != nil {
		return 0, fmt.Errorf("ssh: invalid port %q: %w", s, err)
	}
	return port, nil
}
