package codec

import (
	"testing"

	"github.com/shardline-network/node/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRegularBlock() *Block {
	reg := &RegularData{
		Pointer:       common.BytesToHash([]byte("pointer")),
		BakerID:       99,
		LastFinalized: common.BytesToHash([]byte("last-finalized")),
		Transactions:  []*Transaction{sampleTransfer(1), sampleTransfer(2)},
		Signature:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	for i := range reg.Proof {
		reg.Proof[i] = byte(i)
	}
	for i := range reg.Nonce {
		reg.Nonce[i] = byte(255 - i)
	}
	return &Block{Slot: 5, Data: reg}
}

func TestBlockRoundTrip(t *testing.T) {
	b := sampleRegularBlock()
	wire := b.Bytes()

	got, err := DeserializeBlock(wire)
	require.NoError(t, err)
	assert.Equal(t, wire, got.Bytes())
	assert.False(t, got.IsGenesis())

	reg := got.Data.(*RegularData)
	orig := b.Data.(*RegularData)
	assert.Equal(t, orig.Pointer, reg.Pointer)
	assert.Equal(t, orig.BakerID, reg.BakerID)
	assert.Equal(t, orig.Proof, reg.Proof)
	assert.Equal(t, orig.Nonce, reg.Nonce)
	assert.Equal(t, orig.LastFinalized, reg.LastFinalized)
	assert.Len(t, reg.Transactions, 2)
	assert.Equal(t, orig.Signature, reg.Signature)
}

func TestGenesisBlockRoundTrip(t *testing.T) {
	b := &Block{Slot: 0, Data: &GenesisData{Opaque: []byte("opaque-genesis-body")}}
	wire := b.Bytes()

	got, err := DeserializeBlock(wire)
	require.NoError(t, err)
	assert.True(t, got.IsGenesis())
	assert.Equal(t, []byte("opaque-genesis-body"), got.Data.(*GenesisData).Opaque)
}

func TestBlockHashMatchesIndependentRecomputation(t *testing.T) {
	b := sampleRegularBlock()
	h1 := b.Hash()

	got, err := DeserializeBlock(b.Bytes())
	require.NoError(t, err)
	h2 := got.Hash()

	assert.Equal(t, h1, h2)
}

func TestPendingHashStableAcrossResign(t *testing.T) {
	b := sampleRegularBlock()
	before := b.PendingHash()

	reg := b.Data.(*RegularData)
	reg.Signature = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	after := b.PendingHash()

	assert.Equal(t, before, after, "pending hash must not depend on the signature")
	assert.NotEqual(t, before, b.Hash(), "full hash differs once the signature changed")
}

func TestBlockTruncatedNeverPanics(t *testing.T) {
	b := sampleRegularBlock()
	wire := b.Bytes()
	for n := 0; n < len(wire); n++ {
		assert.NotPanics(t, func() {
			_, _ = DeserializeBlock(wire[:n])
		})
	}
}

func TestBlockTransactionCountCapRejected(t *testing.T) {
	// slot(8) + pointer(32) + baker(8) + proof(80) + nonce(80) + lastFinalized(32) = 240
	wire := make([]byte, 240+8)
	// slot = 1 (non-genesis)
	wire[7] = 1
	// transaction count = maxTransactionsPerBlock + 1, big-endian u64 at offset 240
	big := uint64(maxTransactionsPerBlock) + 1
	for i := 0; i < 8; i++ {
		wire[240+i] = byte(big >> uint(8*(7-i)))
	}
	_, err := DeserializeBlock(wire)
	require.Error(t, err)
}
