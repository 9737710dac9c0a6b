package p2p

import (
	"bytes"

	"github.com/shardline-network/node/codec"
)

// HandshakePayload is the typed body of a Handshake message (spec.md §4.2):
// the sender's own node ID, role and joined-network set, plus a reserved
// trailer for forward extension that today is always empty.
type HandshakePayload struct {
	ID       NodeID
	Type     PeerType
	Networks []NetworkID
	Trailer  []byte
}

// maxHandshakeNetworks bounds the declared network count so a malicious
// peer can't force a large allocation before the length is validated.
const maxHandshakeNetworks = 1 << 12

// EncodeHandshake serializes h using the same big-endian, length-prefixed
// conventions as the block/transaction wire codec (codec package), rather
// than inventing a second scheme for this one message type.
func EncodeHandshake(h HandshakePayload) []byte {
	var buf bytes.Buffer
	codec.WriteU64(&buf, uint64(h.ID))
	codec.WriteU8(&buf, uint8(h.Type))
	codec.WriteU16(&buf, uint16(len(h.Networks)))
	for _, n := range h.Networks {
		codec.WriteU16(&buf, uint16(n))
	}
	codec.WriteU16(&buf, uint16(len(h.Trailer)))
	buf.Write(h.Trailer)
	return buf.Bytes()
}

// DecodeHandshake parses a HandshakePayload, rejecting truncated input and
// an implausibly large declared network count before ever allocating for
// it.
func DecodeHandshake(data []byte) (HandshakePayload, error) {
	var h HandshakePayload
	r := bytes.NewReader(data)

	id, err := codec.ReadU64(r, "handshake id")
	if err != nil {
		return h, &ProtocolError{Reason: err.Error()}
	}
	h.ID = NodeID(id)

	typ, err := codec.ReadU8(r, "handshake peer type")
	if err != nil {
		return h, &ProtocolError{Reason: err.Error()}
	}
	h.Type = PeerType(typ)

	count, err := codec.ReadU16(r, "handshake network count")
	if err != nil {
		return h, &ProtocolError{Reason: err.Error()}
	}
	if int(count) > maxHandshakeNetworks {
		return h, &ProtocolError{Reason: "handshake declares too many networks"}
	}
	h.Networks = make([]NetworkID, count)
	for i := range h.Networks {
		n, err := codec.ReadU16(r, "handshake network id")
		if err != nil {
			return h, &ProtocolError{Reason: err.Error()}
		}
		h.Networks[i] = NetworkID(n)
	}

	trailerLen, err := codec.ReadU16(r, "handshake trailer length")
	if err != nil {
		return h, &ProtocolError{Reason: err.Error()}
	}
	trailer, err := codec.ReadFixed(r, int(trailerLen), "handshake trailer")
	if err != nil {
		return h, &ProtocolError{Reason: err.Error()}
	}
	h.Trailer = trailer
	return h, nil
}
