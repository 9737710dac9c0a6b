package codec

import (
	"bytes"
	"io"

	"github.com/shardline-network/node/common"
)

// maxFinalizationJustifiers bounds the justifier-hash list the way the
// original's read_multiple! caps it (1024 entries of 32 bytes each).
const maxFinalizationJustifiers = 1024

// CatchUpStatus is exchanged to reconcile two peers' finalized-chain views
// (spec.md §3, §4.8).
type CatchUpStatus struct {
	IsRequest              bool
	LastFinalizedBlock     common.Hash
	LastFinalizedHeight    uint64
	BestBlock              common.Hash
	FinalizationJustifiers []common.Hash
}

// Serialize writes the status's canonical encoding.
func (s *CatchUpStatus) Serialize(w io.Writer) error {
	var flag uint8
	if s.IsRequest {
		flag = 1
	}
	if err := WriteU8(w, flag); err != nil {
		return err
	}
	if _, err := w.Write(s.LastFinalizedBlock.Bytes()); err != nil {
		return err
	}
	if err := WriteU64(w, s.LastFinalizedHeight); err != nil {
		return err
	}
	if _, err := w.Write(s.BestBlock.Bytes()); err != nil {
		return err
	}
	if err := WriteU32(w, uint32(len(s.FinalizationJustifiers))); err != nil {
		return err
	}
	for _, j := range s.FinalizationJustifiers {
		if _, err := w.Write(j.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the status's canonical serialization.
func (s *CatchUpStatus) Bytes() []byte {
	var buf bytes.Buffer
	_ = s.Serialize(&buf)
	return buf.Bytes()
}

// DeserializeCatchUpStatus parses a CatchUpStatus.
func DeserializeCatchUpStatus(data []byte) (*CatchUpStatus, error) {
	r := bytes.NewReader(data)

	flag, err := ReadU8(r, "catch-up is_request")
	if err != nil {
		return nil, err
	}
	lastFinalized, err := ReadFixed(r, common.HashLength, "catch-up last finalized block")
	if err != nil {
		return nil, err
	}
	height, err := ReadU64(r, "catch-up last finalized height")
	if err != nil {
		return nil, err
	}
	best, err := ReadFixed(r, common.HashLength, "catch-up best block")
	if err != nil {
		return nil, err
	}
	count, err := ReadU32(r, "catch-up justifier count")
	if err != nil {
		return nil, err
	}
	if count > maxFinalizationJustifiers {
		return nil, errCap("catch-up justifiers")
	}
	justifiers := make([]common.Hash, 0, count)
	for i := uint32(0); i < count; i++ {
		h, err := ReadFixed(r, common.HashLength, "catch-up justifier")
		if err != nil {
			return nil, err
		}
		justifiers = append(justifiers, common.BytesToHash(h))
	}

	return &CatchUpStatus{
		IsRequest:              flag != 0,
		LastFinalizedBlock:     common.BytesToHash(lastFinalized),
		LastFinalizedHeight:    height,
		BestBlock:              common.BytesToHash(best),
		FinalizationJustifiers: justifiers,
	}, nil
}
