package codec

import (
	"bytes"
	"crypto/sha256"
	"io"

	"github.com/shardline-network/node/common"
)

// Fixed-size field widths from spec.md §4.1.
const (
	proofLength   = 80
	nonceLength   = 80
	bakerIDLength = 8
)

// Slot identifies a block's position; slot 0 is reserved for the genesis
// block (spec.md §3).
type Slot = uint64

// BlockData is the tagged variant carried by a Block: either the opaque
// genesis body or a fully-typed regular block.
type BlockData interface {
	isBlockData()
}

// GenesisData is an opaque trailing bytestring. spec.md §9 leaves the
// internal layout of GenesisData as an open question ("the in-tree
// deserializer ... is incomplete"); this binding keeps the body opaque
// until a validating consumer needs to parse it, which is explicitly out
// of scope for this layer.
type GenesisData struct {
	Opaque []byte
}

func (GenesisData) isBlockData() {}

// RegularData is a baked block: a pointer to its parent, proof-of-stake
// material, the finalized-chain pointer, its transaction list and a
// trailing signature.
type RegularData struct {
	Pointer       common.Hash
	BakerID       uint64
	Proof         [proofLength]byte
	Nonce         [nonceLength]byte
	LastFinalized common.Hash
	Transactions  []*Transaction
	Signature     []byte // length-prefixed (u16) per spec.md §4.1 "signature_short"
}

func (RegularData) isBlockData() {}

// Block is the top-level wire type: a slot followed by its variant body.
type Block struct {
	Slot Slot
	Data BlockData
}

// IsGenesis reports whether the block is the slot-0 genesis variant.
func (b *Block) IsGenesis() bool { return b.Slot == 0 }

// Serialize writes the block's canonical bit-exact encoding.
func (b *Block) Serialize(w io.Writer) error {
	if err := WriteU64(w, b.Slot); err != nil {
		return err
	}
	switch d := b.Data.(type) {
	case *GenesisData:
		_, err := w.Write(d.Opaque)
		return err
	case *RegularData:
		return serializeRegular(w, d, false)
	default:
		return errVariant("block data")
	}
}

// Bytes returns the canonical serialization, the hashing input for a
// block's content identity (spec.md §3).
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer
	// Serialize never fails against a bytes.Buffer.
	_ = b.Serialize(&buf)
	return buf.Bytes()
}

// Hash is the SHA-256 of the block's canonical serialization.
func (b *Block) Hash() common.Hash {
	sum := sha256.Sum256(b.Bytes())
	return common.Hash(sum)
}

// PendingHash is the identity used for not-yet-finalized blocks: the
// canonical serialization with the trailing signature replaced by an
// empty (zero-length) one, so the
// hash is stable across re-signing or re-serialization of the same block
// content (spec.md §9, "pending-block hashing"). Genesis blocks have no
// signature and their pending hash equals their normal hash.
func (b *Block) PendingHash() common.Hash {
	reg, ok := b.Data.(*RegularData)
	if !ok {
		return b.Hash()
	}
	var buf bytes.Buffer
	_ = WriteU64(&buf, b.Slot)
	_ = serializeRegular(&buf, reg, true)
	sum := sha256.Sum256(buf.Bytes())
	return common.Hash(sum)
}

func serializeRegular(w io.Writer, d *RegularData, stripSignature bool) error {
	if _, err := w.Write(d.Pointer.Bytes()); err != nil {
		return err
	}
	if err := WriteU64(w, d.BakerID); err != nil {
		return err
	}
	if _, err := w.Write(d.Proof[:]); err != nil {
		return err
	}
	if _, err := w.Write(d.Nonce[:]); err != nil {
		return err
	}
	if _, err := w.Write(d.LastFinalized.Bytes()); err != nil {
		return err
	}
	if err := WriteU64(w, uint64(len(d.Transactions))); err != nil {
		return err
	}
	for _, tx := range d.Transactions {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}
	if stripSignature {
		return WriteU16(w, 0)
	}
	return WriteShortBytes(w, d.Signature)
}

// maxTransactionsPerBlock bounds the transaction-count prefix the way
// spec.md §4.1 "Multi" caps bakers at 512 entries; blocks get a larger,
// still-finite cap so a corrupt length prefix can't force an unbounded
// allocation.
const maxTransactionsPerBlock = 1 << 20

// DeserializeBlock parses a Block from its canonical encoding. It never
// panics on truncated or malformed input (testable property 2); every
// length is checked against its cap before any allocation.
func DeserializeBlock(data []byte) (*Block, error) {
	r := bytes.NewReader(data)
	slot, err := ReadU64(r, "block slot")
	if err != nil {
		return nil, err
	}

	if slot == 0 {
		rest := make([]byte, r.Len())
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, errTruncated("genesis body")
		}
		return &Block{Slot: slot, Data: &GenesisData{Opaque: rest}}, nil
	}

	pointer, err := ReadFixed(r, common.HashLength, "block pointer")
	if err != nil {
		return nil, err
	}
	bakerID, err := ReadU64(r, "baker id")
	if err != nil {
		return nil, err
	}
	proof, err := ReadFixed(r, proofLength, "proof")
	if err != nil {
		return nil, err
	}
	nonce, err := ReadFixed(r, nonceLength, "nonce")
	if err != nil {
		return nil, err
	}
	lastFinalized, err := ReadFixed(r, common.HashLength, "last finalized")
	if err != nil {
		return nil, err
	}

	txCount, err := ReadU64(r, "transaction count")
	if err != nil {
		return nil, err
	}
	if txCount > maxTransactionsPerBlock {
		return nil, errCap("transaction count")
	}
	txs := make([]*Transaction, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx, err := DeserializeTransactionFrom(r)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	signature, err := ReadShortBytes(r)
	if err != nil {
		return nil, err
	}

	reg := &RegularData{
		Pointer:       common.BytesToHash(pointer),
		BakerID:       bakerID,
		LastFinalized: common.BytesToHash(lastFinalized),
		Transactions:  txs,
		Signature:     signature,
	}
	copy(reg.Proof[:], proof)
	copy(reg.Nonce[:], nonce)

	return &Block{Slot: slot, Data: reg}, nil
}
