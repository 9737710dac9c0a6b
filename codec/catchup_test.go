package codec

import (
	"testing"

	"github.com/shardline-network/node/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatchUpStatusRoundTrip(t *testing.T) {
	s := &CatchUpStatus{
		IsRequest:           true,
		LastFinalizedBlock:  common.BytesToHash([]byte("finalized")),
		LastFinalizedHeight: 123,
		BestBlock:           common.BytesToHash([]byte("best")),
		FinalizationJustifiers: []common.Hash{
			common.BytesToHash([]byte("j1")),
			common.BytesToHash([]byte("j2")),
		},
	}
	wire := s.Bytes()

	got, err := DeserializeCatchUpStatus(wire)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, wire, got.Bytes())
}

func TestCatchUpStatusTruncatedNeverPanics(t *testing.T) {
	s := &CatchUpStatus{FinalizationJustifiers: []common.Hash{common.BytesToHash([]byte("j"))}}
	wire := s.Bytes()
	for n := 0; n < len(wire); n++ {
		assert.NotPanics(t, func() {
			_, _ = DeserializeCatchUpStatus(wire[:n])
		})
	}
}
