package consensus

import (
	"encoding/binary"

	"github.com/shardline-network/node/log"
	"github.com/shardline-network/node/p2p"
)

// Sender is the subset of *p2p.Node the bridge needs: addressing a
// specific peer and broadcasting to a network. Declared as an interface
// so the bridge can be tested against a fake rather than a live Node.
type Sender interface {
	SendMessage(id p2p.NodeID, t p2p.MessageType, payload []byte) error
	Broadcast(network p2p.NetworkID, payload []byte)
}

// Bridge is the C7 component: it installs itself onto a node's full
// handler table to demultiplex inbound consensus traffic. The outbound
// draining goroutines of spec.md §4.7 are run by Outbound (outbound.go).
type Bridge struct {
	engine  Engine
	sender  Sender
	network p2p.NetworkID
	log     log.Logger
}

// NewBridge wires engine to sender over network. Install must still be
// called to attach the inbound handlers to a node's handler table.
func NewBridge(engine Engine, sender Sender, network p2p.NetworkID) *Bridge {
	return &Bridge{engine: engine, sender: sender, network: network, log: log.New("component", "consensus-bridge")}
}

// Install registers the bridge's packet handlers on table — called once,
// before the node starts listening, with the node's full post-handshake
// table (spec.md §4.7's inbound routing lives in the Packet/Direct and
// Packet/Broadcasted chains).
func (b *Bridge) Install(table *p2p.HandlerTable) {
	table.OnPacket(p2p.PacketDirect, func(peer *p2p.Peer, payload []byte) error {
		return b.handleInbound(peer, payload)
	})
	table.OnPacket(p2p.PacketBroadcasted, func(peer *p2p.Peer, payload []byte) error {
		return b.handleInbound(peer, payload)
	})
}

// handleInbound demultiplexes one DirectMessage/BroadcastedMessage
// payload by its 2-byte consensus tag (spec.md §4.7's table). An unknown
// tag is logged and dropped, never closing the connection.
func (b *Bridge) handleInbound(peer *p2p.Peer, payload []byte) error {
	tag, body, err := p2p.DecodeConsensusTag(payload)
	if err != nil {
		return err
	}

	var peerID p2p.NodeID
	if peer != nil {
		peerID = peer.ID
	}

	switch tag {
	case p2p.TagConsensusBlock:
		return b.engine.ReceiveBlock(peerID, body)

	case p2p.TagConsensusTransaction:
		return b.engine.ReceiveTransaction(body)

	case p2p.TagConsensusFinalization:
		return b.engine.ReceiveFinalization(peerID, body)

	case p2p.TagConsensusFinalizationRecord:
		return b.engine.ReceiveFinalizationRecord(peerID, body)

	case p2p.TagCatchupRequestBlockByHash:
		if block, ok := b.engine.BlockByHash(body); ok {
			return b.sendTagged(peerID, p2p.TagConsensusBlock, block)
		}
		return nil

	case p2p.TagCatchupRequestFinRecByHash:
		if rec, ok := b.engine.FinalizationRecordByHash(body); ok {
			return b.sendTagged(peerID, p2p.TagConsensusFinalizationRecord, rec)
		}
		return nil

	case p2p.TagCatchupRequestFinRecByIndex:
		if len(body) < 8 {
			return &p2p.ProtocolError{Reason: "catch-up-by-index payload truncated"}
		}
		index := binary.BigEndian.Uint64(body)
		if rec, ok := b.engine.FinalizationRecordByIndex(index); ok {
			return b.sendTagged(peerID, p2p.TagConsensusFinalizationRecord, rec)
		}
		return nil

	case p2p.TagCatchupRequestFinalizationByPoint:
		for _, msg := range b.engine.FinalizationMessagesSince(body) {
			if err := b.sendTagged(peerID, p2p.TagConsensusFinalization, msg); err != nil {
				return err
			}
		}
		return nil

	default:
		b.log.Debug("unknown consensus tag, dropping", "tag", tag, "peer", peerID)
		return nil
	}
}

func (b *Bridge) sendTagged(peer p2p.NodeID, tag p2p.ConsensusTag, body []byte) error {
	return b.sender.SendMessage(peer, p2p.MsgDirectMessage, p2p.EncodeConsensusTag(tag, body))
}

// OnHandshakeComplete drives the C8 catch-up protocol: on a Handshake
// response completion (i.e. we were the initiator) it asks the engine for
// its finalization point and sends a point-to-point catch-up request to
// the newly-established peer (spec.md §4.8).
func (b *Bridge) OnHandshakeComplete(peer p2p.Peer, initiator bool) error {
	if !initiator {
		return nil
	}
	point := b.engine.FinalizationPoint()
	return b.sendTagged(peer.ID, p2p.TagCatchupRequestFinalizationByPoint, point)
}
