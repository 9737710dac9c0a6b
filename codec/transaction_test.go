package codec

import (
	"testing"

	"github.com/shardline-network/node/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransfer(nonce uint64) *Transaction {
	return &Transaction{
		Signature: []byte{1, 2, 3, 4},
		Header: &TransactionHeader{
			Scheme:       1,
			SenderKey:    []byte{0xAA, 0xBB, 0xCC},
			Nonce:        nonce,
			Gas:          1000,
			FinalizedPtr: common.BytesToHash([]byte("finalized-ptr")),
		},
		Payload: &TransactionPayload{
			Type:          TxTransfer,
			TargetScheme:  1,
			TargetAddress: [32]byte{9, 9, 9},
			Amount:        42,
		},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := sampleTransfer(7)
	wire := tx.Bytes()

	got, err := DeserializeTransaction(wire)
	require.NoError(t, err)

	assert.Equal(t, tx.Signature, got.Signature)
	assert.Equal(t, tx.Header.Scheme, got.Header.Scheme)
	assert.Equal(t, tx.Header.SenderKey, got.Header.SenderKey)
	assert.Equal(t, tx.Header.Nonce, got.Header.Nonce)
	assert.Equal(t, tx.Header.Gas, got.Header.Gas)
	assert.Equal(t, tx.Header.FinalizedPtr, got.Header.FinalizedPtr)
	assert.Equal(t, tx.Payload.Type, got.Payload.Type)
	assert.Equal(t, tx.Payload.TargetAddress, got.Payload.TargetAddress)
	assert.Equal(t, tx.Payload.Amount, got.Payload.Amount)

	assert.Equal(t, wire, got.Bytes(), "re-serialization must reproduce the exact input bytes")
}

func TestTransactionZeroNonceRejected(t *testing.T) {
	tx := sampleTransfer(0)
	_, err := DeserializeTransaction(tx.Bytes())
	require.Error(t, err)
	cerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrZeroRequired, cerr.Kind)
}

func TestTransactionPayloadTooLargeRejected(t *testing.T) {
	tx := sampleTransfer(1)
	wire := tx.Bytes()

	// Overwrite the payload_len field (right after signature+header) with a
	// value above the protocol cap, independent of the header's length.
	sigLen := 8 + len(tx.Signature)
	headerLen := len(tx.Header.SenderKey) + 1 + 8 + 8 + 8 + common.HashLength
	offset := sigLen + headerLen
	require.GreaterOrEqual(t, len(wire), offset+4)

	big := uint32(PayloadMax) + 1
	wire[offset+0] = byte(big >> 24)
	wire[offset+1] = byte(big >> 16)
	wire[offset+2] = byte(big >> 8)
	wire[offset+3] = byte(big)

	_, err := DeserializeTransaction(wire)
	require.Error(t, err)
	cerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrLengthExceedsCap, cerr.Kind)
}

func TestTransactionTruncatedNeverPanics(t *testing.T) {
	tx := sampleTransfer(3)
	wire := tx.Bytes()

	for n := 0; n < len(wire); n++ {
		assert.NotPanics(t, func() {
			_, _ = DeserializeTransaction(wire[:n])
		})
	}
}
