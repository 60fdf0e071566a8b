package bus

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// ErrMalformedFrame signals a frame whose length prefix does not match
// its payload, the transport-level framing error spec.md §7 says must
// never be swallowed silently.
var ErrMalformedFrame = xerrors.New("bus: malformed frame")

// encodeFrame prepends a 4-byte big-endian length prefix to payload, the
// wire format spec.md §6 specifies. Framing is the bus's concern; it
// never inspects payload contents, which belong to the protocol layer.
func encodeFrame(payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame
}

// decodeFrame is encodeFrame's inverse. decode(encode(p)) == p for all p.
func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, xerrors.Errorf("%w: frame shorter than length prefix", ErrMalformedFrame)
	}
	length := binary.BigEndian.Uint32(frame[:4])
	if int(length) != len(frame)-4 {
		return nil, xerrors.Errorf("%w: declared length %d, got %d bytes", ErrMalformedFrame, length, len(frame)-4)
	}
	return frame[4:], nil
}
