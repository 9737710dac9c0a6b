package codec

import (
	"encoding/binary"
	"io"
)

// Bounds for the three length-prefixed bytestring flavors of spec.md §4.1.
const (
	ShortMax  = 1 << 10       // 1 KiB, u16 length prefix
	MediumMax = 4 << 10       // 4 KiB, u32 length prefix
	LongMax   = 64 << 10      // 64 KiB, u64 length prefix
)

// WriteShortBytes writes a u16-length-prefixed bytestring (≤ ShortMax).
func WriteShortBytes(w io.Writer, b []byte) error {
	if len(b) > ShortMax {
		return errCap("short bytestring")
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadShortBytes reads a u16-length-prefixed bytestring, rejecting a
// declared length over ShortMax before attempting to read the payload.
func ReadShortBytes(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, errTruncated("short bytestring length")
	}
	if int(n) > ShortMax {
		return nil, errCap("short bytestring")
	}
	return readExact(r, int(n), "short bytestring body")
}

// WriteMediumBytes writes a u32-length-prefixed bytestring (≤ MediumMax).
func WriteMediumBytes(w io.Writer, b []byte) error {
	if len(b) > MediumMax {
		return errCap("medium bytestring")
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadMediumBytes reads a u32-length-prefixed bytestring (≤ MediumMax).
func ReadMediumBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, errTruncated("medium bytestring length")
	}
	if int64(n) > MediumMax {
		return nil, errCap("medium bytestring")
	}
	return readExact(r, int(n), "medium bytestring body")
}

// WriteLongBytes writes a u64-length-prefixed bytestring (≤ LongMax).
func WriteLongBytes(w io.Writer, b []byte) error {
	if len(b) > LongMax {
		return errCap("long bytestring")
	}
	if err := binary.Write(w, binary.BigEndian, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadLongBytes reads a u64-length-prefixed bytestring (≤ LongMax).
func ReadLongBytes(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, errTruncated("long bytestring length")
	}
	if n > LongMax {
		return nil, errCap("long bytestring")
	}
	return readExact(r, int(n), "long bytestring body")
}

// readExact reads exactly n bytes, turning a short read into a codec.Error
// instead of the bare io error a caller would have to special-case.
func readExact(r io.Reader, n int, field string) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errTruncated(field)
	}
	return buf, nil
}

// ReadU8 / ReadU16 / ReadU32 / ReadU64 are small helpers shared by every
// fixed-layout type in this package; they all fold a short read into the
// same codec.Error so callers never need to distinguish io.EOF from
// io.ErrUnexpectedEOF.
func ReadU8(r io.Reader, field string) (uint8, error) {
	b, err := readExact(r, 1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadU16(r io.Reader, field string) (uint16, error) {
	b, err := readExact(r, 2, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func ReadU32(r io.Reader, field string) (uint32, error) {
	b, err := readExact(r, 4, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func ReadU64(r io.Reader, field string) (uint64, error) {
	b, err := readExact(r, 8, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func WriteU8(w io.Writer, v uint8) error  { _, err := w.Write([]byte{v}); return err }
func WriteU16(w io.Writer, v uint16) error { return binary.Write(w, binary.BigEndian, v) }
func WriteU32(w io.Writer, v uint32) error { return binary.Write(w, binary.BigEndian, v) }
func WriteU64(w io.Writer, v uint64) error { return binary.Write(w, binary.BigEndian, v) }

func ReadFixed(r io.Reader, n int, field string) ([]byte, error) {
	return readExact(r, n, field)
}
