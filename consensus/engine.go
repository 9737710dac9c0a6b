// Package consensus bridges the p2p transport layer to a block/finality
// engine: it demultiplexes inbound DirectMessage/BroadcastedMessage
// payloads by consensus sub-type tag, and drains the engine's four
// outbound receive-queues back onto the network.
package consensus

import "github.com/shardline-network/node/p2p"

// Engine is the narrow capability surface the bridge needs from whatever
// block/finalization implementation sits behind it. It deliberately
// mirrors only the inbound entry points and outbound queues spec.md §4.7
// names — it is not a general consensus.Engine interface like the
// teacher's PoA/PoS engines (consensus/istanbul), since this layer never
// participates in block production itself, only message routing.
type Engine interface {
	ReceiveBlock(peer p2p.NodeID, block []byte) error
	ReceiveTransaction(tx []byte) error
	ReceiveFinalization(peer p2p.NodeID, msg []byte) error
	ReceiveFinalizationRecord(peer p2p.NodeID, rec []byte) error

	// Lookups backing the four CATCHUP_REQUEST_* tags (spec.md §4.7);
	// a false second result (or an empty slice from
	// FinalizationMessagesSince) means "missing item, reply with nothing."
	BlockByHash(hash []byte) ([]byte, bool)
	FinalizationRecordByHash(hash []byte) ([]byte, bool)
	FinalizationRecordByIndex(index uint64) ([]byte, bool)
	FinalizationMessagesSince(point []byte) [][]byte

	// FinalizationPoint is consulted once per newly-established peer to
	// drive the catch-up protocol of spec.md §4.8.
	FinalizationPoint() []byte

	// Outbound returns the four receive-queues a dedicated worker drains
	// (spec.md §4.7's "Outbound" paragraph): blocks, finalization
	// messages, finalization records, and point-to-point catch-up
	// requests, in that order.
	Outbound() (blocks <-chan []byte, finMsgs <-chan []byte, finRecords <-chan []byte, catchup <-chan CatchupRequest)
}

// CatchupRequest is one item off the point-to-point catch-up outbound
// queue: unlike the other three queues it is addressed to a specific
// peer rather than broadcast (spec.md §4.7).
type CatchupRequest struct {
	Peer    p2p.NodeID
	Tag     p2p.ConsensusTag
	Payload []byte
}
