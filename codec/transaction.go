package codec

import (
	"bytes"
	"crypto/sha256"
	"io"

	"github.com/shardline-network/node/common"
)

// PayloadMax is the protocol-wide cap on a transaction payload (spec.md §3,
// §8 property 4): 512 MiB.
const PayloadMax = 512 << 20

// SchemeID identifies the signature scheme a sender's key belongs to.
type SchemeID uint8

// TransactionType tags a TransactionPayload variant.
type TransactionType uint8

const (
	TxDeployModule TransactionType = iota
	TxInitContract
	TxUpdate
	TxTransfer
	TxDeployCredentials
	TxDeployEncryptionKey
	TxAddBaker
	TxRemoveBaker
	TxUpdateBakerAccount
	TxUpdateBakerSignKey
)

// ContractAddress is a contract's address space (index/subindex pair), the
// same shape Concordium's original type uses.
type ContractAddress struct {
	Index    uint64
	Subindex uint64
}

func (c ContractAddress) serialize(w io.Writer) error {
	if err := WriteU64(w, c.Index); err != nil {
		return err
	}
	return WriteU64(w, c.Subindex)
}

func deserializeContractAddress(r *bytes.Reader) (ContractAddress, error) {
	idx, err := ReadU64(r, "contract address index")
	if err != nil {
		return ContractAddress{}, err
	}
	sub, err := ReadU64(r, "contract address subindex")
	if err != nil {
		return ContractAddress{}, err
	}
	return ContractAddress{Index: idx, Subindex: sub}, nil
}

// TransactionPayload is the tagged variant carried after a transaction's
// header (spec.md §3). Only the variant's tag is always present on the
// wire; everything past the tag is variant-specific.
type TransactionPayload struct {
	Type TransactionType

	// DeployModule
	Module []byte

	// InitContract
	Amount        uint64
	ModuleHash    common.Hash
	Contract      uint32
	Param         []byte

	// Update
	Address ContractAddress
	Message []byte

	// Transfer
	TargetScheme  SchemeID
	TargetAddress [32]byte
}

func (p *TransactionPayload) serialize(w io.Writer) error {
	if err := WriteU8(w, uint8(p.Type)); err != nil {
		return err
	}
	switch p.Type {
	case TxDeployModule:
		_, err := w.Write(p.Module)
		return err
	case TxInitContract:
		if err := WriteU64(w, p.Amount); err != nil {
			return err
		}
		if _, err := w.Write(p.ModuleHash.Bytes()); err != nil {
			return err
		}
		if err := WriteU32(w, p.Contract); err != nil {
			return err
		}
		_, err := w.Write(p.Param)
		return err
	case TxUpdate:
		if err := WriteU64(w, p.Amount); err != nil {
			return err
		}
		if err := p.Address.serialize(w); err != nil {
			return err
		}
		_, err := w.Write(p.Message)
		return err
	case TxTransfer:
		if err := WriteU8(w, uint8(p.TargetScheme)); err != nil {
			return err
		}
		if _, err := w.Write(p.TargetAddress[:]); err != nil {
			return err
		}
		return WriteU64(w, p.Amount)
	default:
		// Remaining variants (DeployCredentials, DeployEncryptionKey,
		// AddBaker, RemoveBaker, UpdateBakerAccount, UpdateBakerSignKey)
		// carry no body beyond the tag, mirroring the original's
		// not-yet-implemented variants, which this layer treats as opaque
		// zero-length bodies rather than refusing to route them.
		return nil
	}
}

// deserializePayload parses a payload of declared length length (the
// payload_len field, which counts the one-byte type tag); the variant
// body is the length-1 bytes after the tag (spec.md §4.1).
func deserializePayload(r *bytes.Reader, length uint32) (*TransactionPayload, error) {
	tag, err := ReadU8(r, "payload type")
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, errTruncated("payload type")
	}
	remaining := int64(length) - 1

	switch TransactionType(tag) {
	case TxDeployModule:
		mod, err := ReadFixed(r, int(remaining), "deploy module body")
		if err != nil {
			return nil, err
		}
		return &TransactionPayload{Type: TxDeployModule, Module: mod}, nil

	case TxInitContract:
		const fixed = 8 + common.HashLength + 4
		if remaining < fixed {
			return nil, errTruncated("init contract fixed fields")
		}
		amount, err := ReadU64(r, "init contract amount")
		if err != nil {
			return nil, err
		}
		modHash, err := ReadFixed(r, common.HashLength, "init contract module hash")
		if err != nil {
			return nil, err
		}
		contract, err := ReadU32(r, "init contract id")
		if err != nil {
			return nil, err
		}
		param, err := ReadFixed(r, int(remaining-fixed), "init contract param")
		if err != nil {
			return nil, err
		}
		return &TransactionPayload{
			Type:       TxInitContract,
			Amount:     amount,
			ModuleHash: common.BytesToHash(modHash),
			Contract:   contract,
			Param:      param,
		}, nil

	case TxUpdate:
		const fixed = 8 + 16 // amount + ContractAddress(index+subindex)
		if remaining < fixed {
			return nil, errTruncated("update fixed fields")
		}
		amount, err := ReadU64(r, "update amount")
		if err != nil {
			return nil, err
		}
		addr, err := deserializeContractAddress(r)
		if err != nil {
			return nil, err
		}
		msg, err := ReadFixed(r, int(remaining-fixed), "update message")
		if err != nil {
			return nil, err
		}
		return &TransactionPayload{Type: TxUpdate, Amount: amount, Address: addr, Message: msg}, nil

	case TxTransfer:
		const want = 1 + 32 + 8
		if remaining != want {
			return nil, errTruncated("transfer body")
		}
		scheme, err := ReadU8(r, "transfer target scheme")
		if err != nil {
			return nil, err
		}
		target, err := ReadFixed(r, 32, "transfer target address")
		if err != nil {
			return nil, err
		}
		amount, err := ReadU64(r, "transfer amount")
		if err != nil {
			return nil, err
		}
		p := &TransactionPayload{Type: TxTransfer, TargetScheme: SchemeID(scheme), Amount: amount}
		copy(p.TargetAddress[:], target)
		return p, nil

	case TxDeployCredentials, TxDeployEncryptionKey, TxAddBaker, TxRemoveBaker,
		TxUpdateBakerAccount, TxUpdateBakerSignKey:
		if remaining != 0 {
			return nil, errTruncated("fixed-shape payload has trailing bytes")
		}
		return &TransactionPayload{Type: TransactionType(tag)}, nil

	default:
		return nil, errVariant("transaction payload type")
	}
}

// TransactionHeader carries the sender's signing material and the
// finalized-chain pointer the transaction was built against.
type TransactionHeader struct {
	Scheme        SchemeID
	SenderKey     []byte // u64-length-prefixed
	Nonce         uint64 // must be nonzero (spec.md §3, §8 property 3)
	Gas           uint64
	FinalizedPtr  common.Hash
	SenderAccount common.Hash // derived: SHA-256(SenderKey), a stand-in account address
}

func (h *TransactionHeader) serialize(w io.Writer) error {
	if err := WriteU8(w, uint8(h.Scheme)); err != nil {
		return err
	}
	if err := WriteU64(w, uint64(len(h.SenderKey))); err != nil {
		return err
	}
	if _, err := w.Write(h.SenderKey); err != nil {
		return err
	}
	if err := WriteU64(w, h.Nonce); err != nil {
		return err
	}
	if err := WriteU64(w, h.Gas); err != nil {
		return err
	}
	_, err := w.Write(h.FinalizedPtr.Bytes())
	return err
}

func deserializeHeader(r *bytes.Reader) (*TransactionHeader, error) {
	scheme, err := ReadU8(r, "transaction scheme")
	if err != nil {
		return nil, err
	}
	keyLen, err := ReadU64(r, "sender key length")
	if err != nil {
		return nil, err
	}
	if keyLen > LongMax {
		return nil, errCap("sender key")
	}
	key, err := ReadFixed(r, int(keyLen), "sender key")
	if err != nil {
		return nil, err
	}
	nonce, err := ReadU64(r, "transaction nonce")
	if err != nil {
		return nil, err
	}
	if nonce == 0 {
		return nil, errZero("transaction nonce")
	}
	gas, err := ReadU64(r, "gas amount")
	if err != nil {
		return nil, err
	}
	finalizedPtr, err := ReadFixed(r, common.HashLength, "finalized pointer")
	if err != nil {
		return nil, err
	}

	account := sha256.Sum256(key)
	return &TransactionHeader{
		Scheme:        SchemeID(scheme),
		SenderKey:     key,
		Nonce:         nonce,
		Gas:           gas,
		FinalizedPtr:  common.BytesToHash(finalizedPtr),
		SenderAccount: common.Hash(account),
	}, nil
}

// Transaction is the full wire transaction: a signature, a header and a
// typed payload, plus its derived content hash.
type Transaction struct {
	Signature []byte // u64-length-prefixed
	Header    *TransactionHeader
	Payload   *TransactionPayload
	Hash      common.Hash
}

// Serialize writes the transaction's canonical encoding.
func (t *Transaction) Serialize(w io.Writer) error {
	if err := WriteU64(w, uint64(len(t.Signature))); err != nil {
		return err
	}
	if _, err := w.Write(t.Signature); err != nil {
		return err
	}
	if err := t.Header.serialize(w); err != nil {
		return err
	}

	var payloadBuf bytes.Buffer
	if err := t.Payload.serialize(&payloadBuf); err != nil {
		return err
	}
	if err := WriteU32(w, uint32(payloadBuf.Len())); err != nil {
		return err
	}
	_, err := w.Write(payloadBuf.Bytes())
	return err
}

// Bytes returns the transaction's canonical serialization.
func (t *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	_ = t.Serialize(&buf)
	return buf.Bytes()
}

// DeserializeTransaction parses a standalone transaction (e.g. the payload
// of a CONSENSUS_TRANSACTION message).
func DeserializeTransaction(data []byte) (*Transaction, error) {
	return DeserializeTransactionFrom(bytes.NewReader(data))
}

// DeserializeTransactionFrom parses one transaction from r, leaving the
// cursor positioned just past it — used both standalone and when reading
// a block's transaction list.
func DeserializeTransactionFrom(r *bytes.Reader) (*Transaction, error) {
	sigLen, err := ReadU64(r, "signature length")
	if err != nil {
		return nil, err
	}
	if sigLen > LongMax {
		return nil, errCap("transaction signature")
	}
	sig, err := ReadFixed(r, int(sigLen), "signature")
	if err != nil {
		return nil, err
	}

	header, err := deserializeHeader(r)
	if err != nil {
		return nil, err
	}

	payloadLen, err := ReadU32(r, "payload length")
	if err != nil {
		return nil, err
	}
	if payloadLen > PayloadMax {
		return nil, errCap("transaction payload")
	}
	payload, err := deserializePayload(r, payloadLen)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{Signature: sig, Header: header, Payload: payload}
	tx.Hash = common.Hash(sha256.Sum256(tx.Bytes()))
	return tx, nil
}
