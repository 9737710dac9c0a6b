package p2p

import (
	"encoding/binary"
	"fmt"
)

// ProtocolHeader is the fixed-length ASCII version tag that opens every
// application frame, ahead of the 2-byte message-type code (spec.md §6).
const ProtocolHeader = "SLN1"

const (
	protocolHeaderLength = len(ProtocolHeader)
	messageTypeLength    = 2

	// MaxFrameSize is the protocol-wide cap on a single length-prefixed
	// frame (spec.md §4.2): a declared length above this is a protocol
	// violation, discarded without ever being allocated.
	MaxFrameSize = 256 << 20
)

// MessageType is one of the closed set of 2-character protocol message
// type codes (spec.md §6).
type MessageType string

const (
	MsgPing               MessageType = "PN"
	MsgPong               MessageType = "PO"
	MsgFindNode           MessageType = "FN"
	MsgFindNodeResponse   MessageType = "FR"
	MsgGetPeers           MessageType = "GP"
	MsgPeerList           MessageType = "PL"
	MsgJoinNetwork        MessageType = "JN"
	MsgLeaveNetwork       MessageType = "LN"
	MsgHandshake          MessageType = "HS"
	MsgBanNode            MessageType = "BN"
	MsgUnbanNode          MessageType = "UN"
	MsgDirectMessage      MessageType = "DM"
	MsgBroadcastedMessage MessageType = "BM"
	MsgRetransmit         MessageType = "RT"
)

// knownMessageTypes is the closed set; anything else is an unknown packet
// (spec.md §4.3 "unknown" category), never a protocol error by itself.
var knownMessageTypes = map[MessageType]bool{
	MsgPing: true, MsgPong: true, MsgFindNode: true, MsgFindNodeResponse: true,
	MsgGetPeers: true, MsgPeerList: true, MsgJoinNetwork: true, MsgLeaveNetwork: true,
	MsgHandshake: true, MsgBanNode: true, MsgUnbanNode: true,
	MsgDirectMessage: true, MsgBroadcastedMessage: true, MsgRetransmit: true,
}

// IsKnown reports whether t is one of the closed set of protocol message
// types.
func (t MessageType) IsKnown() bool { return knownMessageTypes[t] }

// EncodeEnvelope builds one complete application packet: the protocol
// header, the message type code and the payload. The result still needs
// the u32 length prefix (Frame) before it goes on the wire.
func EncodeEnvelope(t MessageType, payload []byte) []byte {
	out := make([]byte, 0, protocolHeaderLength+messageTypeLength+len(payload))
	out = append(out, ProtocolHeader...)
	out = append(out, t...)
	out = append(out, payload...)
	return out
}

// DecodeEnvelope splits a complete packet (as delivered by the Framer)
// back into its message type and payload.
func DecodeEnvelope(pkt []byte) (MessageType, []byte, error) {
	if len(pkt) < protocolHeaderLength+messageTypeLength {
		return "", nil, &ProtocolError{Reason: "frame shorter than envelope header"}
	}
	if string(pkt[:protocolHeaderLength]) != ProtocolHeader {
		return "", nil, &ProtocolError{Reason: fmt.Sprintf("unexpected protocol header %q", pkt[:protocolHeaderLength])}
	}
	t := MessageType(pkt[protocolHeaderLength : protocolHeaderLength+messageTypeLength])
	payload := pkt[protocolHeaderLength+messageTypeLength:]
	return t, payload, nil
}

// Frame prepends the u32 big-endian length prefix spec.md §6 puts around
// every application packet.
func Frame(pkt []byte) []byte {
	out := make([]byte, 4+len(pkt))
	binary.BigEndian.PutUint32(out, uint32(len(pkt)))
	copy(out[4:], pkt)
	return out
}

// consensus sub-type tags, carried as the first two bytes of a
// DirectMessage/BroadcastedMessage payload (spec.md §4.7).
type ConsensusTag uint16

const (
	TagConsensusBlock                     ConsensusTag = 0
	TagConsensusTransaction               ConsensusTag = 1
	TagConsensusFinalization              ConsensusTag = 2
	TagConsensusFinalizationRecord        ConsensusTag = 3
	TagCatchupRequestBlockByHash          ConsensusTag = 4
	TagCatchupRequestFinRecByHash         ConsensusTag = 5
	TagCatchupRequestFinRecByIndex        ConsensusTag = 6
	TagCatchupRequestFinalizationByPoint  ConsensusTag = 7
)

// EncodeConsensusTag prepends a 2-byte consensus sub-type tag to body.
func EncodeConsensusTag(tag ConsensusTag, body []byte) []byte {
	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(tag))
	copy(out[2:], body)
	return out
}

// DecodeConsensusTag splits a DirectMessage/BroadcastedMessage payload
// into its consensus sub-type tag and body.
func DecodeConsensusTag(payload []byte) (ConsensusTag, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, &ProtocolError{Reason: "consensus payload shorter than tag"}
	}
	return ConsensusTag(binary.BigEndian.Uint16(payload)), payload[2:], nil
}
