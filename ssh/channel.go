// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// channelMaxPacket contains the maximum data payload accepted by this
// library's incoming channels. Some SSH servers reject packets larger
// than this, so this is a conservative default that matches OpenSSH.
const channelMaxPacket = 1 << 15

// channelWindowSize is the initial window advertised for new channels.
const channelWindowSize = 64 * channelMaxPacket

// NewChannel represents an incoming request to a channel. It must
// either be accepted for use by calling Accept, or rejected by calling
// Reject.
type NewChannel interface {
	// Accept accepts the channel creation request. It returns the
	// Channel and a Go channel on which all incoming, out-of-band
	// requests will be sent.
	Accept() (Channel, <-chan *Request, error)

	// Reject rejects the channel creation request. After calling this,
	// no other methods on the Channel may be called.
	Reject(reason RejectionReason, message string) error

	// ChannelType returns the type of the channel, as supplied by the
	// peer.
	ChannelType() string

	// ExtraData returns the arbitrary payload for this channel, as
	// supplied by the peer.
	ExtraData() []byte
}

// Channel is an SSH channel, multiplexed over an SSH connection. For
// details, see RFC 4254, section 5.
type Channel interface {
	// Read reads up to len(data) bytes from the channel.
	Read(data []byte) (int, error)

	// Write writes len(data) bytes to the channel.
	Write(data []byte) (int, error)

	// Close signals end of channel use. No data may be sent after this
	// call.
	Close() error

	// CloseWrite signals the end of sending in-band data. Requests may
	// still be sent, and the other side may still send data.
	CloseWrite() error

	// SendRequest sends a channel request.
	SendRequest(name string, wantReply bool, payload []byte) (bool, error)

	// Stderr returns an io.ReadWriter that writes to this channel with
	// the extended data type set to stderr.
	Stderr() io.ReadWriter
}

// Request is a request sent outside of the normal stream of data.
// Requests can either be specific to an SSH channel, or they can be
// global.
type Request struct {
	Type      string
	WantReply bool
	Payload   []byte

	ch  *channel
	mux *mux
}

// Reply sends a response to a request. It must be called for all
// requests where WantReply is true and is a no-op otherwise.
func (r *Request) Reply(ok bool, payload []byte) error {
	if !r.WantReply {
		return nil
	}

	if r.ch == nil {
		return r.mux.ackRequest(ok, payload)
	}

	return r.ch.ackRequest(ok)
}

type channelDirection uint8

const (
	channelInbound channelDirection = iota
	channelOutbound
)

// channel is an implementation of the Channel interface that works
// with the mux class.
type channel struct {
	// R/O after creation
	chanType          string
	extraData         []byte
	localId, remoteId uint32

	// maxIncomingPayload and maxRemotePayload are the maximum packet
	// sizes we accept and the server accepts, respectively.
	maxIncomingPayload uint32
	maxRemotePayload   uint32

	mux *mux

	// decided is set to true if an accept or reject message has been
	// sent (for outbound channels) or received (for inbound channels).
	decided bool

	// direction contains either channelOutbound, for channels created
	// locally, or channelInbound, for channels created by the peer.
	direction channelDirection

	// msg carries open confirm/failure and our own request replies; it
	// is never used to deliver requests the peer sends us.
	msg chan interface{}

	// requests delivers channelRequestMsg from the peer, wrapped as
	// *Request. Accept() exposes the receive side to the caller.
	requests chan *Request

	// Since requests have no ID, there can be only one request outstanding
	// at a time.
	sentRequestMu sync.Mutex

	data     *buffer // used for standard channel data
	extended *buffer // used for the extended channel data

	// writeMu protects writes to the channel. It is necessary because
	// channel requests can be sent concurrently with channel data.
	writeMu sync.Mutex

	myWindow   uint32
	myConsumed uint32 // bytes consumed but not yet announced via windowAdjustMsg
	remoteWin  window
	sentEOF    bool
	sentClose  bool

	// flow adapts how many bytes this channel grants back to the peer
	// with each windowAdjustMsg; see flowcontrol.go.
	flow *flowController
}

func (m *mux) newChannel(chanType string, direction channelDirection, extraData []byte) *channel {
	ch := &channel{
		remoteWin: window{Cond: newCond()},
		myWindow:  channelWindowSize,
		direction: direction,
		chanType:  chanType,
		extraData: extraData,
		msg:       make(chan interface{}, 16),
		requests:  make(chan *Request, 16),
		data:      newBuffer(),
		extended:  newBuffer(),
		mux:       m,
		flow:      newFlowController(m.flowConn, channelWindowSize),
	}
	ch.localId = m.chanList.add(ch)
	channelsOpenedTotal.WithLabelValues(chanType, direction.String()).Inc()
	return ch
}

var errUndecided = errors.New("ssh: channel undecided")
var errDecidedAlready = errors.New("ssh: channel already decided")

func (ch *channel) Accept() (Channel, <-chan *Request, error) {
	if ch.decided {
		return nil, nil, errDecidedAlready
	}
	ch.maxIncomingPayload = channelMaxPacket
	confirm := channelOpenConfirmMsg{
		PeersID:       ch.remoteId,
		MyID:          ch.localId,
		MyWindow:      ch.myWindow,
		MaxPacketSize: ch.maxIncomingPayload,
	}
	ch.decided = true
	if err := ch.mux.sendMessage(confirm); err != nil {
		return nil, nil, err
	}

	return ch, ch.requests, nil
}

func (ch *channel) Reject(reason RejectionReason, message string) error {
	if ch.decided {
		return errDecidedAlready
	}
	reject := channelOpenFailureMsg{
		PeersID: ch.remoteId,
		Reason:  reason,
		Message: message,
	}
	ch.decided = true
	return ch.mux.sendMessage(reject)
}

func (ch *channel) ChannelType() string {
	return ch.chanType
}

func (ch *channel) ExtraData() []byte {
	return ch.extraData
}

func (c *channel) handlePacket(packet []byte) error {
	switch packet[0] {
	case msgChannelData, msgChannelExtendedData:
		return c.handleData(packet)
	case msgChannelClose:
		c.mux.chanList.remove(c.localId)
		c.close()
		return nil
	case msgChannelEOF:
		c.data.eof()
		return nil
	}

	decoded, err := decode(packet)
	if err != nil {
		return err
	}

	switch msg := decoded.(type) {
	case *channelOpenFailureMsg:
		c.msg <- msg
	case *channelOpenConfirmMsg:
		if msg.MaxPacketSize < minPacketLength || msg.MaxPacketSize > 1<<31 {
			return fmt.Errorf("ssh: invalid max packet size %d from peer", msg.MaxPacketSize)
		}
		c.remoteId = msg.MyID
		c.maxRemotePayload = msg.MaxPacketSize
		c.remoteWin.add(msg.MyWindow)
		c.msg <- msg
	case *windowAdjustMsg:
		if !c.remoteWin.add(msg.AdditionalBytes) {
			return fmt.Errorf("ssh: invalid window update for %d bytes", msg.AdditionalBytes)
		}
	case *channelRequestMsg:
		c.requests <- &Request{
			Type:      msg.Request,
			WantReply: msg.WantReply,
			Payload:   msg.RequestSpecificData,
			ch:        c,
		}
	case *channelRequestSuccessMsg, *channelRequestFailureMsg:
		c.msg <- msg
	default:
		return fmt.Errorf("ssh: unknown channel message type %T", msg)
	}

	return nil
}

func (c *channel) handleData(packet []byte) error {
	if packet[0] == msgChannelExtendedData {
		var msg channelExtendedDataMsg
		if err := Unmarshal(packet, &msg); err != nil {
			return err
		}
		if uint32(len(msg.Rest)) > msg.Length {
			return errors.New("ssh: length mismatch")
		}
		if msg.DataType != extendedDataStderr {
			return nil
		}
		c.extended.write(msg.Rest)
		return nil
	}

	var msg channelDataMsg
	if err := Unmarshal(packet, &msg); err != nil {
		return err
	}
	if uint32(len(msg.Rest)) > msg.Length {
		return errors.New("ssh: length mismatch")
	}
	c.data.write(msg.Rest)
	return nil
}

func (c *channel) ackRequest(ok bool) error {
	if !c.decided {
		return errUndecided
	}

	var msg interface{}
	if !ok {
		msg = channelRequestFailureMsg{PeersID: c.remoteId}
	} else {
		msg = channelRequestSuccessMsg{PeersID: c.remoteId}
	}
	return c.mux.sendMessage(msg)
}

func (c *channel) SendRequest(name string, wantReply bool, payload []byte) (bool, error) {
	if !c.decided {
		return false, errUndecided
	}

	c.sentRequestMu.Lock()
	defer c.sentRequestMu.Unlock()

	if !wantReply {
		req := channelRequestMsg{
			PeersID:             c.remoteId,
			Request:             name,
			WantReply:           wantReply,
			RequestSpecificData: payload,
		}
		return false, c.mux.sendMessage(req)
	}

	req := channelRequestMsg{
		PeersID:             c.remoteId,
		Request:             name,
		WantReply:           wantReply,
		RequestSpecificData: payload,
	}

	if err := c.mux.sendMessage(req); err != nil {
		return false, err
	}

	m, ok := <-c.msg
	if !ok {
		return false, io.EOF
	}
	switch m.(type) {
	case *channelRequestFailureMsg:
		return false, nil
	case *channelRequestSuccessMsg:
		return true, nil
	}
	return false, fmt.Errorf("ssh: unexpected response to channel request: %#v", m)
}

// ackRequest on mux sends the reply for a Request with ch == nil, i.e. a
// global request received from the peer. Request.Reply calls it, for
// example when Client.handleGlobalRequests answers a global request.
func (m *mux) ackRequest(ok bool, payload []byte) error {
	if ok {
		return m.sendMessage(globalRequestSuccessMsg{Data: payload})
	}
	return m.sendMessage(globalRequestFailureMsg{Data: payload})
}

func (c *channel) Read(data []byte) (int, error) {
	n, err := c.data.Read(data)
	if err == io.EOF {
		return n, err
	}
	c.adjustWindow(uint32(n))
	return n, err
}

// adjustWindow accounts for n newly-consumed bytes with the channel's
// adaptive flowController and, once it decides the peer's remaining
// credit has run low enough, announces a windowAdjustMsg sized by the
// controller's current slow-start/congestion-avoidance target.
func (c *channel) adjustWindow(n uint32) {
	if n == 0 {
		return
	}
	c.myWindow += n
	c.myConsumed += n
	c.flow.onData(n)

	if !c.flow.needsAdjustment() {
		return
	}

	grant := c.flow.adjustment(c.myConsumed)
	adj := windowAdjustMsg{
		PeersID:         c.remoteId,
		AdditionalBytes: grant,
	}
	if err := c.mux.sendMessage(adj); err != nil {
		log.Printf("ssh: window adjust send failed: %v", err)
		return
	}
	c.myConsumed = 0
}

func (c *channel) WriteExtended(data []byte, extendedCode uint32) (n int, err error) {
	if c.sentEOF {
		return 0, io.EOF
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for len(data) > 0 {
		if c.remoteWin.blocked() {
			congestionEventsTotal.WithLabelValues(c.chanType).Inc()
		}
		space, err := c.remoteWin.reserve(uint32(len(data)))
		if err != nil {
			return n, err
		}
		channelWindowBytes.WithLabelValues(c.chanType, c.direction.String()).Set(float64(space))
		if space > c.maxRemotePayload {
			space = c.maxRemotePayload
		}
		todo := data[:space]

		var msg interface{}
		if extendedCode > 0 {
			msg = channelExtendedDataMsg{
				PeersID:  c.remoteId,
				DataType: extendedCode,
				Length:   uint32(len(todo)),
				Rest:     todo,
			}
		} else {
			msg = channelDataMsg{
				PeersID: c.remoteId,
				Length:  uint32(len(todo)),
				Rest:    todo,
			}
		}

		if err := c.mux.sendMessage(msg); err != nil {
			return n, err
		}
		n += len(todo)
		data = data[len(todo):]
	}
	return n, nil
}

func (c *channel) Write(data []byte) (int, error) {
	return c.WriteExtended(data, 0)
}

func (c *channel) CloseWrite() error {
	c.sentEOF = true
	return c.mux.sendMessage(channelEOFMsg{
		PeersID: c.remoteId,
	})
}

func (c *channel) Close() error {
	if c.sentClose {
		return io.EOF
	}
	c.sentClose = true
	return c.mux.sendMessage(channelCloseMsg{
		PeersID: c.remoteId,
	})
}

// close closes the local state of this channel. It is called once
// either CLOSE has been received or the underlying mux is torn down.
func (c *channel) close() {
	c.data.eof()
	c.extended.eof()
	c.remoteWin.close()
	c.mux.chanList.remove(c.localId)
	close(c.msg)
	close(c.requests)
}

type extChannel struct {
	code uint32
	ch   *channel
}

func (e *extChannel) Write(data []byte) (n int, err error) {
	return e.ch.WriteExtended(data, e.code)
}

func (e *extChannel) Read(data []byte) (n int, err error) {
	return e.ch.extended.Read(data)
}

func (c *channel) Stderr() io.ReadWriter {
	return &extChannel{extendedDataStderr, c}
}
