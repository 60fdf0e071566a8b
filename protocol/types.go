// Package protocol implements the Participant state machine from
// spec.md §4.4: share generation, share exchange, local partial
// computation, and result aggregation for secure multi-party Lagrange
// interpolation.
package protocol

import "math/big"

// MessageType tags a wire Message per spec.md §6.
type MessageType uint8

const (
	TypeShare   MessageType = 1
	TypePartial MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case TypeShare:
		return "SHARE"
	case TypePartial:
		return "PARTIAL"
	default:
		return "UNKNOWN"
	}
}

// Message is the payload record exchanged between participants, framed
// by the bus and interpreted here. SenderID is redundant with the bus
// envelope's `from` field; Exchanging/Aggregating cross-check the two and
// treat a mismatch as a ProtocolViolation.
type Message struct {
	Type     MessageType
	Round    uint8
	SenderID uint16
	Value    *big.Int
}

// State is a ParticipantState from spec.md §3. Transitions are linear
// forward; any receive error on a required channel moves to Failed.
type State int

const (
	StateInit State = iota
	StateSharing
	StateExchanging
	StateComputing
	StateBroadcasting
	StateAggregating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSharing:
		return "Sharing"
	case StateExchanging:
		return "Exchanging"
	case StateComputing:
		return "Computing"
	case StateBroadcasting:
		return "Broadcasting"
	case StateAggregating:
		return "Aggregating"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// PrivatePoint is a participant's input pair (x_i, y_i).
type PrivatePoint struct {
	X *big.Int
	Y *big.Int
}
