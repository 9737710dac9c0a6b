package p2p

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, addr string, peerType PeerType) (*Node, NodeID) {
	t.Helper()
	cert, id, err := GenerateIdentity()
	require.NoError(t, err)

	cfg := DefaultConfig
	cfg.ListenAddr = addr
	cfg.InboundPerSecond = 1000
	cfg.InboundBurst = 1000

	n, err := NewNode(cfg, cert, Peer{ID: id, Addr: addr, Type: peerType}, NewMemoryBanStore())
	require.NoError(t, err)
	require.NoError(t, n.Listen())
	t.Cleanup(func() { n.Close() })
	return n, id
}

// TestE3BootstrapperRefusesDataTraffic exercises testable scenario E3: a
// node connects to a Bootstrapper and sends a DirectMessage; the
// Bootstrapper must close the connection and its invalid-packet counter
// must increment.
func TestE3BootstrapperRefusesDataTraffic(t *testing.T) {
	bootstrapper, bootID := newTestNode(t, "127.0.0.1:0", PeerTypeBootstrapper)
	_ = bootID
	addr := bootstrapper.listener.Addr().String()

	client, _ := newTestNode(t, "127.0.0.1:0", PeerTypeNode)
	require.NoError(t, client.Connect(addr))

	waitForCond(t, func() bool { return bootstrapper.registry.Len() > 0 })

	bootstrapper.mu.RLock()
	var peerID NodeID
	for id := range bootstrapper.connections {
		peerID = id
	}
	bootstrapper.mu.RUnlock()
	require.NotZero(t, peerID)

	require.NoError(t, client.SendMessage(bootstrapper.self.ID, MsgDirectMessage, []byte("hello")))

	waitForCond(t, func() bool {
		return bootstrapper.metrics.Snapshot().InvalidPacketsReceived > 0
	})
	assert.EqualValues(t, 1, bootstrapper.metrics.Snapshot().InvalidPacketsReceived)
}

// TestE5BanPropagation exercises testable scenario E5: banning a peer
// closes any live connection to it and persists the ban so Unban is
// needed to reverse it. TrustBans is off in this test, so forwarding of
// BanNode to other peers is not exercised here.
func TestE5BanPropagation(t *testing.T) {
	a, _ := newTestNode(t, "127.0.0.1:0", PeerTypeNode)
	b, bID := newTestNode(t, "127.0.0.1:0", PeerTypeNode)

	require.NoError(t, a.Connect(b.listener.Addr().String()))
	waitForCond(t, func() bool { return a.registry.Len() > 0 })

	require.NoError(t, a.Ban(bID))
	assert.True(t, a.registry.IsBanned(bID))

	waitForCond(t, func() bool {
		a.mu.RLock()
		defer a.mu.RUnlock()
		_, stillThere := a.connections[bID]
		return !stillThere
	})

	ids, err := a.bans.Load()
	require.NoError(t, err)
	assert.Contains(t, ids, bID)

	require.NoError(t, a.Unban(bID))
	assert.False(t, a.registry.IsBanned(bID))
}

// TestBannedPeerCannotReestablishConnection covers spec.md §4.5: the ban
// set is consulted on accept, so a banned peer that dials back in and
// completes a handshake must still be refused admission to the live
// connection set.
func TestBannedPeerCannotReestablishConnection(t *testing.T) {
	a, _ := newTestNode(t, "127.0.0.1:0", PeerTypeNode)
	b, bID := newTestNode(t, "127.0.0.1:0", PeerTypeNode)

	require.NoError(t, a.Connect(b.listener.Addr().String()))
	waitForCond(t, func() bool { return a.registry.Len() > 0 })

	require.NoError(t, a.Ban(bID))
	waitForCond(t, func() bool {
		a.mu.RLock()
		defer a.mu.RUnlock()
		_, stillThere := a.connections[bID]
		return !stillThere
	})

	require.NoError(t, b.Connect(a.listener.Addr().String()))

	time.Sleep(50 * time.Millisecond)
	a.mu.RLock()
	_, readmitted := a.connections[bID]
	a.mu.RUnlock()
	assert.False(t, readmitted, "a banned peer must not be re-admitted after reconnecting")
}

// TestConnectRefusesBannedAddress covers the outgoing-connect half of
// spec.md §4.5: once a peer's last-known address has been banned, a
// fresh Connect to that same address is refused before any dial happens.
func TestConnectRefusesBannedAddress(t *testing.T) {
	a, _ := newTestNode(t, "127.0.0.1:0", PeerTypeNode)
	b, bID := newTestNode(t, "127.0.0.1:0", PeerTypeNode)

	addr := b.listener.Addr().String()
	require.NoError(t, a.Connect(addr))
	waitForCond(t, func() bool { return a.registry.Len() > 0 })

	require.NoError(t, a.Ban(bID))
	assert.True(t, a.registry.IsBannedAddr(addr))

	err := a.Connect(addr)
	require.Error(t, err, "dialing a banned address must be refused")
}

func waitForCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestConnectSuppressesDuplicateConcurrentDials(t *testing.T) {
	b, _ := newTestNode(t, "127.0.0.1:0", PeerTypeNode)
	a, _ := newTestNode(t, "127.0.0.1:0", PeerTypeNode)

	addr := b.listener.Addr().String()
	require.NoError(t, a.Connect(addr))

	err := a.Connect(addr)
	require.Error(t, err, "a second immediate dial to the same address must be suppressed")
}

func TestEncodeDecodeNodeIDRoundTrip(t *testing.T) {
	for _, id := range []NodeID{0, 1, 0xdeadbeef, NodeID(^uint64(0))} {
		got := decodeNodeID(encodeNodeID(id))
		assert.Equal(t, id, got, fmt.Sprintf("round-trip for %d", id))
	}
}
