package consensus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardline-network/node/p2p"
)

type fakeEngine struct {
	mu              sync.Mutex
	blocks          []string
	txs             []string
	finalizations   []string
	finRecords      []string
	blockIndex      map[string][]byte
	finRecordIndex  map[string][]byte
	finRecordByIdx  map[uint64][]byte
	point           []byte
	finMessagesSince [][]byte
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		blockIndex:     make(map[string][]byte),
		finRecordIndex: make(map[string][]byte),
		finRecordByIdx: make(map[uint64][]byte),
	}
}

func (e *fakeEngine) ReceiveBlock(peer p2p.NodeID, block []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blocks = append(e.blocks, string(block))
	return nil
}
func (e *fakeEngine) ReceiveTransaction(tx []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txs = append(e.txs, string(tx))
	return nil
}
func (e *fakeEngine) ReceiveFinalization(peer p2p.NodeID, msg []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalizations = append(e.finalizations, string(msg))
	return nil
}
func (e *fakeEngine) ReceiveFinalizationRecord(peer p2p.NodeID, rec []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finRecords = append(e.finRecords, string(rec))
	return nil
}
func (e *fakeEngine) BlockByHash(hash []byte) ([]byte, bool) {
	b, ok := e.blockIndex[string(hash)]
	return b, ok
}
func (e *fakeEngine) FinalizationRecordByHash(hash []byte) ([]byte, bool) {
	r, ok := e.finRecordIndex[string(hash)]
	return r, ok
}
func (e *fakeEngine) FinalizationRecordByIndex(index uint64) ([]byte, bool) {
	r, ok := e.finRecordByIdx[index]
	return r, ok
}
func (e *fakeEngine) FinalizationMessagesSince(point []byte) [][]byte { return e.finMessagesSince }
func (e *fakeEngine) FinalizationPoint() []byte                      { return e.point }
func (e *fakeEngine) Outbound() (<-chan []byte, <-chan []byte, <-chan []byte, <-chan CatchupRequest) {
	return nil, nil, nil, nil
}

type fakeSender struct {
	mu        sync.Mutex
	sentDirect []sentMsg
	broadcasts [][]byte
}

type sentMsg struct {
	peer    p2p.NodeID
	msgType p2p.MessageType
	payload []byte
}

func (s *fakeSender) SendMessage(id p2p.NodeID, t p2p.MessageType, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentDirect = append(s.sentDirect, sentMsg{id, t, payload})
	return nil
}
func (s *fakeSender) Broadcast(network p2p.NetworkID, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, payload)
}

func TestBridgeRoutesBlockTag(t *testing.T) {
	engine := newFakeEngine()
	sender := &fakeSender{}
	b := NewBridge(engine, sender, p2p.NetworkID(1))

	payload := p2p.EncodeConsensusTag(p2p.TagConsensusBlock, []byte("a-serialized-block"))
	require.NoError(t, b.handleInbound(&p2p.Peer{ID: 7}, payload))
	assert.Equal(t, []string{"a-serialized-block"}, engine.blocks)
}

func TestBridgeCatchupByHashRepliesWhenFound(t *testing.T) {
	engine := newFakeEngine()
	engine.blockIndex["h1"] = []byte("the-block")
	sender := &fakeSender{}
	b := NewBridge(engine, sender, p2p.NetworkID(1))

	payload := p2p.EncodeConsensusTag(p2p.TagCatchupRequestBlockByHash, []byte("h1"))
	require.NoError(t, b.handleInbound(&p2p.Peer{ID: 9}, payload))

	require.Len(t, sender.sentDirect, 1)
	assert.Equal(t, p2p.NodeID(9), sender.sentDirect[0].peer)
	tag, body, err := p2p.DecodeConsensusTag(sender.sentDirect[0].payload)
	require.NoError(t, err)
	assert.Equal(t, p2p.TagConsensusBlock, tag)
	assert.Equal(t, "the-block", string(body))
}

func TestBridgeCatchupByHashSilentWhenMissing(t *testing.T) {
	engine := newFakeEngine()
	sender := &fakeSender{}
	b := NewBridge(engine, sender, p2p.NetworkID(1))

	payload := p2p.EncodeConsensusTag(p2p.TagCatchupRequestBlockByHash, []byte("missing"))
	require.NoError(t, b.handleInbound(&p2p.Peer{ID: 9}, payload))
	assert.Empty(t, sender.sentDirect)
}

func TestBridgeUnknownTagIsDroppedNotFatal(t *testing.T) {
	engine := newFakeEngine()
	sender := &fakeSender{}
	b := NewBridge(engine, sender, p2p.NetworkID(1))

	payload := p2p.EncodeConsensusTag(p2p.ConsensusTag(999), []byte("whatever"))
	require.NoError(t, b.handleInbound(&p2p.Peer{ID: 1}, payload))
}

// TestE4CatchupByPoint exercises testable scenario E4: on handshake
// completion A pulls a finalization point from consensus and sends it
// tagged CATCHUP_REQUEST_FINALIZATION_BY_POINT to the just-handshaken
// peer; here verified from B's perspective, which forwards the point to
// its own consensus and replies with each returned FinalizationMessage.
func TestE4CatchupByPoint(t *testing.T) {
	engineA := newFakeEngine()
	engineA.point = []byte{0x00, 0x01, 0x02}
	senderA := &fakeSender{}
	bridgeA := NewBridge(engineA, senderA, p2p.NetworkID(1))

	require.NoError(t, bridgeA.OnHandshakeComplete(p2p.Peer{ID: 2}, true))
	require.Len(t, senderA.sentDirect, 1)
	tag, body, err := p2p.DecodeConsensusTag(senderA.sentDirect[0].payload)
	require.NoError(t, err)
	assert.Equal(t, p2p.TagCatchupRequestFinalizationByPoint, tag)
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, body)

	engineB := newFakeEngine()
	engineB.finMessagesSince = [][]byte{[]byte("fin-1"), []byte("fin-2")}
	senderB := &fakeSender{}
	bridgeB := NewBridge(engineB, senderB, p2p.NetworkID(1))

	require.NoError(t, bridgeB.handleInbound(&p2p.Peer{ID: 1}, senderA.sentDirect[0].payload))
	require.Len(t, senderB.sentDirect, 2)
	for i, want := range []string{"fin-1", "fin-2"} {
		tag, body, err := p2p.DecodeConsensusTag(senderB.sentDirect[i].payload)
		require.NoError(t, err)
		assert.Equal(t, p2p.TagConsensusFinalization, tag)
		assert.Equal(t, want, string(body))
	}
}

// OnHandshakeComplete sends nothing when called for the acceptor side.
func TestOnHandshakeCompleteNoopForAcceptor(t *testing.T) {
	engine := newFakeEngine()
	sender := &fakeSender{}
	b := NewBridge(engine, sender, p2p.NetworkID(1))

	require.NoError(t, b.OnHandshakeComplete(p2p.Peer{ID: 5}, false))
	assert.Empty(t, sender.sentDirect)
}
