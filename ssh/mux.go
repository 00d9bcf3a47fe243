// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
)

// mux represents the state for the SSH connection protocol, which
// multiplexes many channels onto a single packet transport (RFC 4254).
type mux struct {
	conn     packetConn
	chanList chanList

	incomingChannels chan NewChannel

	globalSentMu     sync.Mutex
	globalResponses  chan interface{}
	incomingRequests chan *Request

	// flowConn is the underlying network connection, handed to each
	// channel's flowController so it can corroborate its RTT estimate
	// with kernel TCP_INFO when available. May be nil (e.g. in tests
	// driven over an in-memory pipe), in which case flow controllers
	// estimate purely from consume/adjust timing.
	flowConn net.Conn

	errCond *sync.Cond
	err     error
}

// chanList is a thread-safe channel list, indexed by local id.
type chanList struct {
	sync.Mutex
	chans []*channel
}

// add adds a channel, returning the assigned channel id.
func (c *chanList) add(ch *channel) uint32 {
	c.Lock()
	defer c.Unlock()
	for i := range c.chans {
		if c.chans[i] == nil {
			c.chans[i] = ch
			return uint32(i)
		}
	}
	c.chans = append(c.chans, ch)
	return uint32(len(c.chans) - 1)
}

// getChan returns the channel for the given ID.
func (c *chanList) getChan(id uint32) *channel {
	c.Lock()
	defer c.Unlock()
	if id >= uint32(len(c.chans)) {
		return nil
	}
	return c.chans[id]
}

func (c *chanList) remove(id uint32) {
	c.Lock()
	if id < uint32(len(c.chans)) {
		c.chans[id] = nil
	}
	c.Unlock()
}

// dropAll forgets all channels it knows, returning them in a slice.
func (c *chanList) dropAll() []*channel {
	c.Lock()
	defer c.Unlock()
	var r []*channel
	for _, ch := range c.chans {
		if ch == nil {
			continue
		}
		r = append(r, ch)
	}
	c.chans = nil
	return r
}

func newMux(p packetConn) *mux {
	m := &mux{
		conn:             p,
		incomingChannels: make(chan NewChannel, chanSize),
		globalResponses:  make(chan interface{}, 1),
		incomingRequests: make(chan *Request, chanSize),
	}
	m.errCond = newCond()
	go m.loop()
	return m
}

func (m *mux) Wait() error {
	m.errCond.L.Lock()
	defer m.errCond.L.Unlock()
	for m.err == nil {
		m.errCond.Wait()
	}
	return m.err
}

// chanSize sets the buffer size of global request and new channel
// channels. It is a var so it can be tuned in tests.
var chanSize = 16

// loop runs the connection machine. It will process packets until an
// error is encountered, at which point it closes the connection and
// returns. The error is available via Wait().
func (m *mux) loop() {
	var err error
	for err == nil {
		err = m.onePacket()
	}

	for _, ch := range m.chanList.dropAll() {
		ch.close()
	}
	close(m.incomingChannels)
	close(m.incomingRequests)

	m.conn.Close()

	m.errCond.L.Lock()
	m.err = err
	m.errCond.Broadcast()
	m.errCond.L.Unlock()
}

// onePacket reads and processes one packet.
func (m *mux) onePacket() error {
	packet, err := m.conn.readPacket()
	if err != nil {
		return err
	}

	if packet[0] == msgChannelOpen {
		return m.handleChannelOpen(packet)
	}
	if packet[0] == msgGlobalRequest || packet[0] == msgRequestSuccess || packet[0] == msgRequestFailure {
		return m.handleGlobalPacket(packet)
	}

	// assume a channel packet.
	id, rest, ok := parseUint32(packet[1:])
	if !ok {
		return parseError(packet[0])
	}
	ch := m.chanList.getChan(id)
	if ch == nil {
		return fmt.Errorf("ssh: invalid channel %d", id)
	}

	return ch.handlePacket(append([]byte{packet[0]}, rest...))
}

func (m *mux) handleGlobalPacket(packet []byte) error {
	msg, err := decode(packet)
	if err != nil {
		return err
	}

	switch msg := msg.(type) {
	case *globalRequestMsg:
		m.incomingRequests <- &Request{
			Type:      msg.Type,
			WantReply: msg.WantReply,
			Payload:   msg.Data,
			mux:       m,
		}
	case *globalRequestSuccessMsg:
		m.globalResponses <- msg
	case *globalRequestFailureMsg:
		m.globalResponses <- msg
	default:
		panic(fmt.Sprintf("not a global message %#v", msg))
	}

	return nil
}

// handleChannelOpen schedules a channel to be Accept()ed.
func (m *mux) handleChannelOpen(packet []byte) error {
	var msg channelOpenMsg
	if err := Unmarshal(packet, &msg); err != nil {
		return err
	}

	if msg.MaxPacketSize < minPacketLength || msg.MaxPacketSize > 1<<31 {
		failMsg := channelOpenFailureMsg{
			PeersID: msg.PeersID,
			Reason:  ConnectionFailed,
			Message: "invalid max packet size",
		}
		return m.sendMessage(failMsg)
	}

	c := m.newChannel(msg.ChanType, channelInbound, msg.TypeSpecificData)
	c.remoteId = msg.PeersID
	c.maxRemotePayload = msg.MaxPacketSize
	c.remoteWin.add(msg.PeersWindow)
	select {
	case m.incomingChannels <- c:
	default:
		failMsg := channelOpenFailureMsg{
			PeersID: msg.PeersID,
			Reason:  ResourceShortage,
			Message: "channel backlog exhausted",
		}
		m.chanList.remove(c.localId)
		return m.sendMessage(failMsg)
	}
	return nil
}

func (m *mux) getChannel(id uint32) *channel {
	return m.chanList.getChan(id)
}

func (m *mux) sendMessage(msg interface{}) error {
	p := Marshal(msg)
	return m.conn.writePacket(p)
}

func (m *mux) sendGlobalRequest(req globalRequestMsg) (bool, []byte, error) {
	m.globalSentMu.Lock()
	defer m.globalSentMu.Unlock()

	if err := m.sendMessage(req); err != nil {
		return false, nil, err
	}

	if !req.WantReply {
		return false, nil, nil
	}

	msg, ok := <-m.globalResponses
	if !ok {
		return false, nil, io.ErrClosedPipe
	}
	switch msg := msg.(type) {
	case *globalRequestFailureMsg:
		return false, msg.Data, nil
	case *globalRequestSuccessMsg:
		return true, msg.Data, nil
	}
	return false, nil, fmt.Errorf("ssh: unexpected response to request: %#v", msg)
}

// openChannel opens a new channel of the given type, sending the
// ChannelOpen message and waiting for the peer's response.
func (m *mux) openChannel(chanType string, extra []byte) (*channel, error) {
	ch := m.newChannel(chanType, channelOutbound, extra)

	ch.maxIncomingPayload = channelMaxPacket

	open := channelOpenMsg{
		ChanType:         chanType,
		PeersWindow:      ch.myWindow,
		MaxPacketSize:    ch.maxIncomingPayload,
		TypeSpecificData: extra,
		PeersID:          ch.localId,
	}
	if err := m.sendMessage(open); err != nil {
		return nil, err
	}

	switch msg := (<-ch.msg).(type) {
	case *channelOpenConfirmMsg:
		ch.decided = true
		return ch, nil
	case *channelOpenFailureMsg:
		m.chanList.remove(ch.localId)
		return nil, &ChannelOpenError{msg.Reason, msg.Message}
	default:
		m.chanList.remove(ch.localId)
		return nil, fmt.Errorf("ssh: unexpected packet in response to channel open: %T", msg)
	}
}

func (m *mux) Close() error {
	return m.conn.Close()
}

// warn logs an unexpected but non-fatal protocol event.
func (m *mux) warn(format string, args ...interface{}) {
	log.Printf("ssh: "+format, args...)
}
