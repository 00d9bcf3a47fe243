// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"fmt"
	"math/big"
)

// Message numbers, see RFC 4250, section 4.1.2.
const (
	msgIgnore       = 2
	msgUnimplemented = 3
	msgDebug        = 4
	msgServiceRequest = 5
	msgServiceAccept  = 6

	msgKexInit = 20
	msgNewKeys = 21

	// Key exchange message numbers
	msgKexDHInit  = 30
	msgKexDHReply = 31

	msgKexECDHInit  = 30
	msgKexECDHReply = 31

	msgKexDHGexGroup   = 31
	msgKexDHGexInit    = 32
	msgKexDHGexReply   = 33
	msgKexDHGexRequest = 34

	msgUserAuthRequest  = 50
	msgUserAuthFailure  = 51
	msgUserAuthSuccess  = 52
	msgUserAuthBanner   = 53

	// Message numbers 60-79 are used for specific user authentication
	// methods and key exchange; the concrete meaning is determined by
	// context (current auth method, or key exchange in progress).
	msgUserAuthPubKeyOk       = 60
	msgUserAuthInfoRequest    = 60
	msgUserAuthInfoResponse   = 61
	msgUserAuthGSSAPIResponse = 60
	msgUserAuthGSSAPIToken    = 61
	msgUserAuthGSSAPIMIC      = 66
	msgUserAuthGSSAPIErrCode  = 64
	msgUserAuthGSSAPIError    = 65

	msgGlobalRequest  = 80
	msgRequestSuccess = 81
	msgRequestFailure = 82

	msgChannelOpen             = 90
	msgChannelOpenConfirm      = 91
	msgChannelOpenFailure      = 92
	msgChannelWindowAdjust     = 93
	msgChannelData             = 94
	msgChannelExtendedData     = 95
	msgChannelEOF              = 96
	msgChannelClose            = 97
	msgChannelRequest          = 98
	msgChannelSuccess          = 99
	msgChannelFailure          = 100

	msgDisconnect = 1
)

// Disconnect reason codes, RFC 4253 section 11.1.
const (
	disconnectHostNotAllowedToConnect = 1
	disconnectProtocolError           = 2
	disconnectKeyExchangeFailed       = 3
	disconnectReserved                = 4
	disconnectMACError                = 5
	disconnectCompressionError        = 6
	disconnectServiceNotAvailable     = 7
	disconnectProtocolVersionNotSupported = 8
	disconnectHostKeyNotVerifiable    = 9
	disconnectConnectionLost          = 10
	disconnectByApplication           = 11
	disconnectTooManyConnections      = 12
	disconnectAuthCancelledByUser     = 13
	disconnectNoMoreAuthMethodsAvailable = 14
	disconnectIllegalUserName         = 15
)

// channelExtendedDataTypeCode RFC 4254, section 5.2.
const extendedDataStderr = 1

// disconnectMsg is the message that each side sends when closing a
// connection.
//
// See RFC 4253, section 11.1.
type disconnectMsg struct {
	Reason   uint32 `sshtype:"1"`
	Message  string
	Language string
}

// ignoreMsg is sent to inject random packets so that the original
// packet sizes cannot be guessed from the encrypted traffic.
//
// See RFC 4253, section 11.2.
type ignoreMsg struct {
	Data string `sshtype:"2"`
}

// debugMsg is sent for debugging diagnostics. Implementations MAY
// display this message to the client user.
//
// See RFC 4253, section 11.3.
type debugMsg struct {
	AlwaysDisplay bool `sshtype:"4"`
	Message       string
	Language      string
}

// serviceRequestMsg is used to request a service, such as
// "ssh-userauth" or "ssh-connection".
//
// See RFC 4253, section 10.
type serviceRequestMsg struct {
	Service string `sshtype:"5"`
}

// serviceAcceptMsg is a service acceptance response.
type serviceAcceptMsg struct {
	Service string `sshtype:"6"`
}

// componentsOfVersionLine splits a version line into proto and software
// components. e.g. "SSH-2.0-OpenSSH_8.0" -> "2.0", "OpenSSH_8.0".
func componentsOfVersionLine(line []byte) (proto string, software string) {
	s := string(line)
	if len(s) < 4 || s[:4] != "SSH-" {
		return "", s
	}
	rest := s[4:]
	idx := -1
	for i, c := range rest {
		if c == '-' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return rest, ""
	}
	return rest[:idx], rest[idx+1:]
}

// KexInitMsg is the message sent by each side to initiate key
// exchange, RFC 4253, section 7.1.
type KexInitMsg struct {
	Cookie                  [16]byte `sshtype:"20"`
	KexAlgos                []string
	ServerHostKeyAlgos      []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
	LanguagesClientServer   []string
	LanguagesServerClient   []string
	FirstKexFollows         bool
	Reserved                uint32
}

// newKeysMsg is sent once a party is ready to switch to new keys.
//
// See RFC 4253, section 7.3.
type newKeysMsg struct {
	True bool `sshtype:"21"`
}

// kexDHInitMsg is the Diffie-Hellman / ECDH / Curve25519 client message.
type kexDHInitMsg struct {
	X *big.Int `sshtype:"30"`
}

// kexDHReplyMsg is the Diffie-Hellman / ECDH / Curve25519 server reply.
type kexDHReplyMsg struct {
	HostKey   []byte `sshtype:"31"`
	Y         *big.Int
	Signature []byte
}

// kexECDHInitMsg carries the client's ephemeral public key for
// ECDH/curve25519 key exchange.
type kexECDHInitMsg struct {
	ClientPubKey []byte `sshtype:"30"`
}

// kexECDHReplyMsg is the reply to a kexECDHInitMsg.
type kexECDHReplyMsg struct {
	HostKey         []byte `sshtype:"31"`
	EphemeralPubKey []byte
	Signature       []byte
}

// kexDHGexRequestMsg advertises acceptable modulus sizes for
// diffie-hellman-group-exchange, RFC 4419, section 3.
type kexDHGexRequestMsg struct {
	MinBits      uint32 `sshtype:"34"`
	PreferedBits uint32
	MaxBits      uint32
}

// kexDHGexGroupMsg carries the server-chosen group.
type kexDHGexGroupMsg struct {
	P *big.Int `sshtype:"31"`
	G *big.Int
}

// kexDHGexInitMsg is the client's ephemeral public value for group-exchange.
type kexDHGexInitMsg struct {
	X *big.Int `sshtype:"32"`
}

// kexDHGexReplyMsg is the server's reply for group-exchange.
type kexDHGexReplyMsg struct {
	HostKey   []byte `sshtype:"33"`
	Y         *big.Int
	Signature []byte
}

// userAuthRequestMsg, RFC 4252, section 5.
type userAuthRequestMsg struct {
	User    string `sshtype:"50"`
	Service string
	Method  string
	Payload []byte `ssh:"rest"`
}

// userAuthFailureMsg, RFC 4252, section 5.1.
type userAuthFailureMsg struct {
	Methods        []string `sshtype:"51"`
	PartialSuccess bool
}

// userAuthSuccessMsg, RFC 4252, section 5.1.
type userAuthSuccessMsg struct{}

// userAuthBannerMsg, RFC 4252, section 5.4.
type userAuthBannerMsg struct {
	Message string `sshtype:"53"`
	// unused, but required to allow outer code to unmarshal the packet.
	Language string
}

// userAuthPubKeyOkMsg is sent in response to the two-step publickey
// auth method, RFC 4252, section 7.
type userAuthPubKeyOkMsg struct {
	Algo   string `sshtype:"60"`
	PubKey []byte
}

// userAuthPasswdReqMsg is used for the "password" auth method's
// publickey-like changereq flow, RFC 4252, section 8.
type userAuthPasswdReqMsg struct {
	Prompt string `sshtype:"60"`
}

// userAuthPasswdChangeReqMsg requests a new password, RFC 4252 section 8.
type userAuthPasswdChangeReqMsg struct {
	Prompt string `sshtype:"60"`
	Lang   string
}

// userAuthKeyboardInteractiveMsg, RFC 4256, section 3.1.
type userAuthKeyboardInteractiveMsg struct {
	Lang        string `sshtype:"50"`
	SubMethods  string
}

// userAuthInfoRequestMsg, RFC 4256, section 3.2.
type userAuthInfoRequestMsg struct {
	Name            string `sshtype:"60"`
	Instruction     string
	Lang            string
	NumPrompts      uint32
	Prompts         []byte `ssh:"rest"`
}

// userAuthInfoResponseMsg, RFC 4256, section 3.4.
type userAuthInfoResponseMsg struct {
	NumResponses uint32 `sshtype:"61"`
	Responses    []byte `ssh:"rest"`
}

// channelOpenMsg is the generic channel open message, RFC 4254, section 5.1.
type channelOpenMsg struct {
	ChanType         string `sshtype:"90"`
	PeersID          uint32
	PeersWindow      uint32
	MaxPacketSize    uint32
	TypeSpecificData []byte `ssh:"rest"`
}

// channelOpenConfirmMsg, RFC 4254, section 5.1.
type channelOpenConfirmMsg struct {
	PeersID       uint32 `sshtype:"91"`
	MyID          uint32
	MyWindow      uint32
	MaxPacketSize uint32
	TypeSpecificData []byte `ssh:"rest"`
}

// channelOpenFailureMsg, RFC 4254, section 5.1.
type channelOpenFailureMsg struct {
	PeersID  uint32 `sshtype:"92"`
	Reason   RejectionReason
	Message  string
	Language string
}

// channelWindowAdjustMsg, RFC 4254, section 5.2.
type windowAdjustMsg struct {
	PeersID         uint32 `sshtype:"93"`
	AdditionalBytes uint32
}

// channelDataMsg, RFC 4254, section 5.2.
type channelDataMsg struct {
	PeersID uint32 `sshtype:"94"`
	Length  uint32
	Rest    []byte `ssh:"rest"`
}

// channelExtendedDataMsg, RFC 4254, section 5.2.
type channelExtendedDataMsg struct {
	PeersID  uint32 `sshtype:"95"`
	DataType uint32
	Length   uint32
	Rest     []byte `ssh:"rest"`
}

// channelEOFMsg, RFC 4254, section 5.3.
type channelEOFMsg struct {
	PeersID uint32 `sshtype:"96"`
}

// channelCloseMsg, RFC 4254, section 5.3.
type channelCloseMsg struct {
	PeersID uint32 `sshtype:"97"`
}

// channelRequestMsg, RFC 4254, section 5.4.
type channelRequestMsg struct {
	PeersID             uint32 `sshtype:"98"`
	Request             string
	WantReply           bool
	RequestSpecificData []byte `ssh:"rest"`
}

// channelRequestSuccessMsg, RFC 4254, section 5.4.
type channelRequestSuccessMsg struct {
	PeersID uint32 `sshtype:"99"`
}

// channelRequestFailureMsg, RFC 4254, section 5.4.
type channelRequestFailureMsg struct {
	PeersID uint32 `sshtype:"100"`
}

// globalRequestMsg, RFC 4254, section 4.
type globalRequestMsg struct {
	Type      string `sshtype:"80"`
	WantReply bool
	Data      []byte `ssh:"rest"`
}

// globalRequestSuccessMsg, RFC 4254, section 4.
type globalRequestSuccessMsg struct {
	Data []byte `sshtype:"81" ssh:"rest"`
}

// globalRequestFailureMsg, RFC 4254, section 4.
type globalRequestFailureMsg struct {
	Data []byte `sshtype:"82" ssh:"rest"`
}

// channelForwardMsg is the request-specific data for tcpip-forward.
type channelForwardMsg struct {
	addr  string
	rport uint32
}

// forwardedTCPPayload is the type-specific data of an inbound
// forwarded-tcpip channel open, RFC 4254 section 7.2.
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// directTCPIPData is the type-specific data of an outbound
// direct-tcpip channel open, RFC 4254 section 7.1.
type directTCPIPData struct {
	HostToConnect  string
	PortToConnect  uint32
	OriginAddr     string
	OriginPort     uint32
}

// ptyRequestMsg, RFC 4254, section 6.2.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

// ptyWindowChangeMsg, RFC 4254, section 6.7.
type ptyWindowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

// signalMsg, RFC 4254, section 6.9.
type signalMsg struct {
	Signal string
}

// exitStatusMsg, RFC 4254, section 6.10.
type exitStatusMsg struct {
	Status uint32
}

// exitSignalMsg, RFC 4254, section 6.10.
type exitSignalMsg struct {
	Signal     string
	CoreDumped bool
	Message    string
	Lang       string
}

// RejectionReason is an enumeration used when rejecting channel creation
// requests. See RFC 4254, section 5.1.
type RejectionReason uint32

const (
	Prohibited RejectionReason = iota + 1
	ConnectionFailed
	UnknownChannelType
	ResourceShortage
)

func (r RejectionReason) String() string {
	switch r {
	case Prohibited:
		return "administratively prohibited"
	case ConnectionFailed:
		return "connect failed"
	case UnknownChannelType:
		return "unknown channel type"
	case ResourceShortage:
		return "resource shortage"
	}
	return fmt.Sprintf("unknown reason %d", int(r))
}

// decode turns a byte slice into a concrete message, dispatching on
// the first byte. Method-specific ids such as 60 are not decoded here;
// client_auth.go unmarshals those itself.
func decode(packet []byte) (interface{}, error) {
	var msg interface{}
	switch packet[0] {
	case msgDisconnect:
		msg = new(disconnectMsg)
	case msgIgnore:
		msg = new(ignoreMsg)
	case msgUnimplemented:
		msg = new(unimplementedMsg)
	case msgDebug:
		msg = new(debugMsg)
	case msgServiceRequest:
		msg = new(serviceRequestMsg)
	case msgServiceAccept:
		msg = new(serviceAcceptMsg)
	case msgKexInit:
		msg = new(KexInitMsg)
	case msgNewKeys:
		msg = new(newKeysMsg)
	case msgKexDHInit:
		msg = new(kexDHInitMsg)
	case msgUserAuthRequest:
		msg = new(userAuthRequestMsg)
	case msgUserAuthFailure:
		msg = new(userAuthFailureMsg)
	case msgUserAuthSuccess:
		msg = new(userAuthSuccessMsg)
	case msgUserAuthBanner:
		msg = new(userAuthBannerMsg)
	case msgGlobalRequest:
		msg = new(globalRequestMsg)
	case msgRequestSuccess:
		msg = new(globalRequestSuccessMsg)
	case msgRequestFailure:
		msg = new(globalRequestFailureMsg)
	case msgChannelOpen:
		msg = new(channelOpenMsg)
	case msgChannelOpenConfirm:
		msg = new(channelOpenConfirmMsg)
	case msgChannelOpenFailure:
		msg = new(channelOpenFailureMsg)
	case msgChannelWindowAdjust:
		msg = new(windowAdjustMsg)
	case msgChannelData:
		msg = new(channelDataMsg)
	case msgChannelExtendedData:
		msg = new(channelExtendedDataMsg)
	case msgChannelEOF:
		msg = new(channelEOFMsg)
	case msgChannelClose:
		msg = new(channelCloseMsg)
	case msgChannelRequest:
		msg = new(channelRequestMsg)
	case msgChannelSuccess:
		msg = new(channelRequestSuccessMsg)
	case msgChannelFailure:
		msg = new(channelRequestFailureMsg)
	default:
		return nil, unexpectedMessageError(0, packet[0])
	}
	if err := Unmarshal(packet, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// unimplementedMsg, RFC 4253, section 11.4.
type unimplementedMsg struct {
	SeqNum uint32 `sshtype:"3"`
}

var bigOne = big.NewInt(1)
