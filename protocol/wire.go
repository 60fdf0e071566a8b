package protocol

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/xerrors"
)

const headerLen = 4 // type(1) + round(1) + sender_id(2)

// ScalarByteLen returns ⌈log2(q)/8⌉, the fixed width spec.md §6 assigns
// to a Message's big-endian scalar value field.
func ScalarByteLen(q *big.Int) int {
	n := (q.BitLen() + 7) / 8
	if n == 0 {
		n = 1
	}
	return n
}

// EncodeMessage serializes m into the tagged record spec.md §6
// describes: {type, round, sender_id, value}, value padded to
// scalarLen bytes.
func EncodeMessage(m Message, scalarLen int) []byte {
	buf := make([]byte, headerLen+scalarLen)
	buf[0] = byte(m.Type)
	buf[1] = m.Round
	binary.BigEndian.PutUint16(buf[2:4], m.SenderID)
	m.Value.FillBytes(buf[headerLen:])
	return buf
}

// DecodeMessage is EncodeMessage's inverse.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < headerLen+1 {
		return Message{}, xerrors.Errorf("%w: frame too short for a protocol message", ErrProtocolViolation)
	}
	return Message{
		Type:     MessageType(b[0]),
		Round:    b[1],
		SenderID: binary.BigEndian.Uint16(b[2:4]),
		Value:    new(big.Int).SetBytes(b[headerLen:]),
	}, nil
}
