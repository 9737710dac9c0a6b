package p2p

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(payload []byte) []byte {
	return Frame(payload)
}

func TestFramerDeliversWholeFramesRegardlessOfSplit(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		[]byte(""),
		make([]byte, 5000),
		[]byte("x"),
	}
	var stream []byte
	for _, p := range payloads {
		stream = append(stream, frameOf(p)...)
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		f := NewFramer()
		var got [][]byte
		pos := 0
		for pos < len(stream) {
			chunk := 1 + rng.Intn(7)
			if pos+chunk > len(stream) {
				chunk = len(stream) - pos
			}
			frames, err := f.Feed(stream[pos : pos+chunk])
			require.NoError(t, err)
			got = append(got, frames...)
			pos += chunk
		}

		require.Len(t, got, len(payloads))
		for i := range payloads {
			assert.Equal(t, payloads[i], got[i])
		}
	}
}

func TestFramerDiscardsOversizedLengthAndResyncs(t *testing.T) {
	f := NewFramer()

	var badHeader [4]byte
	binary.BigEndian.PutUint32(badHeader[:], MaxFrameSize+1)

	good := frameOf([]byte("resynced"))

	stream := append(badHeader[:], good...)
	frames, err := f.Feed(stream)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("resynced"), frames[0])
}

func TestFramerHandlesSingleByteChunks(t *testing.T) {
	payload := []byte("concordium-like-framing")
	f := NewFramer()
	var got [][]byte
	for _, b := range frameOf(payload) {
		frames, err := f.Feed([]byte{b})
		require.NoError(t, err)
		got = append(got, frames...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}
