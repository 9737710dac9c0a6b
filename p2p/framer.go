package p2p

import "encoding/binary"

// Framer accumulates raw, post-TLS-decrypt plaintext into complete
// length-prefixed application packets (spec.md §4.2). It holds no socket
// reference, which is what makes testable property 6 ("any split of a
// byte stream ... delivers the same sequence of complete frames") and
// property 7 (over-cap length resynchronizes) checkable without a live
// connection.
type Framer struct {
	pending  []byte
	expected uint32 // 0 means "waiting for a length prefix"
}

// NewFramer returns an empty Framer ready to accept the start of a
// stream.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends newly-read bytes and extracts every frame that is now
// complete, in order. It never panics and never blocks; bytes that don't
// yet complete a frame are retained for the next call.
func (f *Framer) Feed(data []byte) ([][]byte, error) {
	f.pending = append(f.pending, data...)

	var frames [][]byte
	for {
		if f.expected == 0 {
			if len(f.pending) < 4 {
				break
			}
			length := binary.BigEndian.Uint32(f.pending[:4])
			f.pending = f.pending[4:]

			if length > MaxFrameSize {
				// Discard the erroneous header and resynchronize on
				// whatever bytes follow it, per spec.md §4.2 and
				// testable property 7 — do not touch f.pending further,
				// the loop simply goes around waiting for a fresh
				// length prefix.
				continue
			}
			f.expected = length
		}

		if uint32(len(f.pending)) < f.expected {
			break
		}

		frame := make([]byte, f.expected)
		copy(frame, f.pending[:f.expected])
		f.pending = f.pending[f.expected:]
		f.expected = 0
		frames = append(frames, frame)
	}

	return frames, nil
}

// Pending reports how many bytes are buffered waiting for the rest of
// the current frame (or the length prefix itself); used for a cheap
// unbounded-growth guard by callers that want to bound per-connection
// memory ahead of reading a declared length.
func (f *Framer) Pending() int { return len(f.pending) }
