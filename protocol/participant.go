package protocol

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"github.com/Magic-six/experiment/bus"
	"github.com/Magic-six/experiment/group"
	"github.com/Magic-six/experiment/metrics"
	"github.com/Magic-six/experiment/netsim"
)

// Bus is the subset of bus.Bus a Participant needs, so tests can supply
// a stub transport without standing up a real Bus.
type Bus interface {
	Send(ctx context.Context, from, to int, payload []byte) error
	Broadcast(ctx context.Context, from int, payload []byte) error
	Recv(ctx context.Context, self int) (from int, payload []byte, err error)
}

var _ Bus = (*bus.Bus)(nil)

// Config wires one Participant into a run.
type Config struct {
	ID     int
	N      int
	Params *group.Params
	Point  PrivatePoint
	// PeerXs lists every participant's public abscissa, indexed by ID.
	PeerXs []*big.Int
	EvalAt *big.Int

	Bus     Bus
	Sink    *metrics.Sink
	Profile netsim.Profile
	RunID   uuid.UUID

	// BaseRecvTimeout overrides DefaultBaseRecvTimeout when non-zero.
	BaseRecvTimeout time.Duration
}

// pendingMsg is a message that arrived for a round the participant
// hasn't reached yet, set aside until collectRound asks for that round.
type pendingMsg struct {
	value *big.Int
	typ   MessageType
}

// Participant is the per-party state machine from spec.md §4.4.
type Participant struct {
	cfg   Config
	arith *group.Arith

	mu    sync.Mutex
	state State

	// lambdas[j] is originator j's Lagrange coefficient, indexed by
	// originator ID, not by this participant's own ID.
	lambdas []*big.Int

	// pending holds messages that arrived out of round order, keyed by
	// round then sender. The bus guarantees FIFO only per (sender,
	// receiver) pair, so a fast peer's round-2 broadcast can reach this
	// participant's mailbox before a slower peer's round-1 share does.
	pending map[uint8]map[int]pendingMsg
}

// New validates cfg and returns a Participant ready to Run.
func New(cfg Config) (*Participant, error) {
	if cfg.ID < 0 || cfg.ID >= cfg.N {
		return nil, xerrors.Errorf("protocol: id %d out of range [0,%d)", cfg.ID, cfg.N)
	}
	if len(cfg.PeerXs) != cfg.N {
		return nil, xerrors.Errorf("protocol: expected %d peer abscissas, got %d", cfg.N, len(cfg.PeerXs))
	}
	if cfg.BaseRecvTimeout == 0 {
		cfg.BaseRecvTimeout = DefaultBaseRecvTimeout
	}

	var observer group.ComputeObserver
	if cfg.Sink != nil {
		observer = cfg.Sink
	}

	return &Participant{
		cfg:     cfg,
		arith:   group.New(cfg.Params, observer),
		state:   StateInit,
		pending: make(map[uint8]map[int]pendingMsg),
	}, nil
}

// State returns the participant's current ParticipantState.
func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Participant) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	log.Debug().
		Str("run", p.cfg.RunID.String()).
		Int("participant", p.cfg.ID).
		Str("state", s.String()).
		Msg("protocol: state transition")
}

// Run drives the participant through Init -> Sharing -> Exchanging ->
// Computing -> Broadcasting -> Aggregating -> Done, or to Failed on any
// error. The returned value is f(eval_at) once every honest participant
// has contributed its share.
func (p *Participant) Run(ctx context.Context) (*big.Int, error) {
	p.setState(StateInit)
	lambdas := make([]*big.Int, p.cfg.N)
	for j := 0; j < p.cfg.N; j++ {
		lambda, err := p.arith.LagrangeCoefficient(p.cfg.PeerXs, j, p.cfg.EvalAt)
		if err != nil {
			return p.fail(xerrors.Errorf("init: %w", err))
		}
		lambdas[j] = lambda
	}
	p.lambdas = lambdas

	ownShare, err := p.share(ctx)
	if err != nil {
		return p.fail(err)
	}

	received, err := p.exchange(ctx)
	if err != nil {
		return p.fail(err)
	}

	partial := p.computePartial(ownShare, received)
	p.setState(StateBroadcasting)

	if err := p.broadcastPartial(ctx, partial); err != nil {
		return p.fail(xerrors.Errorf("broadcasting: %w", err))
	}

	result, err := p.aggregate(ctx, partial)
	if err != nil {
		return p.fail(err)
	}

	p.setState(StateDone)
	return result, nil
}

func (p *Participant) fail(err error) (*big.Int, error) {
	p.setState(StateFailed)
	log.Error().
		Str("run", p.cfg.RunID.String()).
		Int("participant", p.cfg.ID).
		Err(err).
		Msg("protocol: participant failed")
	return nil, err
}

// share draws N-1 random scalars r_{i,j}, sets r_{i,i} = y_i - Σr_{i,j}
// mod q, sends each r_{i,j} to peer j, and returns the kept share r_{i,i}.
func (p *Participant) share(ctx context.Context) (*big.Int, error) {
	p.setState(StateSharing)

	sum := big.NewInt(0)
	outgoing := make(map[int]*big.Int, p.cfg.N-1)
	for j := 0; j < p.cfg.N; j++ {
		if j == p.cfg.ID {
			continue
		}
		r, err := p.arith.RandomScalar()
		if err != nil {
			return nil, xerrors.Errorf("sharing: %w", err)
		}
		outgoing[j] = r
		sum = p.arith.AddScalar(sum, r)
	}
	self := p.arith.SubScalar(p.cfg.Point.Y, sum)

	scalarLen := ScalarByteLen(p.cfg.Params.Q)
	for j, r := range outgoing {
		msg := Message{Type: TypeShare, Round: 1, SenderID: uint16(p.cfg.ID), Value: r}
		encoded := EncodeMessage(msg, scalarLen)
		if err := p.cfg.Bus.Send(ctx, p.cfg.ID, j, encoded); err != nil {
			return nil, xerrors.Errorf("sharing: send to %d: %w", j, err)
		}
		if p.cfg.Sink != nil {
			p.cfg.Sink.AddBytesSent(len(encoded))
		}
	}
	return self, nil
}

// exchange awaits exactly N-1 SHARE messages, one from each peer.
func (p *Participant) exchange(ctx context.Context) (map[int]*big.Int, error) {
	p.setState(StateExchanging)
	return p.collectRound(ctx, 1, TypeShare)
}

// collectRound receives exactly N-1 messages of the given round/type,
// one per peer. The bus only guarantees FIFO per (sender, receiver)
// pair, not across pairs, so a message for a later round can legitimately
// arrive before every message for this round has: such messages are set
// aside in p.pending and consumed when their round comes up. Only a
// stale round, wrong type, or duplicate sender is a ProtocolViolation.
func (p *Participant) collectRound(ctx context.Context, round uint8, want MessageType) (map[int]*big.Int, error) {
	received := make(map[int]*big.Int, p.cfg.N-1)
	if buffered, ok := p.pending[round]; ok {
		for from, pm := range buffered {
			if pm.typ != want {
				return nil, xerrors.Errorf("%w: unexpected message type from %d in round %d", ErrProtocolViolation, from, round)
			}
			received[from] = pm.value
		}
		delete(p.pending, round)
	}

	for len(received) < p.cfg.N-1 {
		from, payload, err := p.recvWithTimeout(ctx)
		if err != nil {
			return nil, xerrors.Errorf("round %d: %w", round, err)
		}

		msg, err := DecodeMessage(payload)
		if err != nil {
			return nil, xerrors.Errorf("round %d: %w", round, err)
		}
		if int(msg.SenderID) != from {
			return nil, xerrors.Errorf("%w: sender id mismatch from %d in round %d", ErrProtocolViolation, from, round)
		}

		if msg.Round > round {
			bucket, ok := p.pending[msg.Round]
			if !ok {
				bucket = make(map[int]pendingMsg)
				p.pending[msg.Round] = bucket
			}
			if _, dup := bucket[from]; dup {
				return nil, xerrors.Errorf("%w: duplicate message from %d in round %d", ErrProtocolViolation, from, msg.Round)
			}
			bucket[from] = pendingMsg{value: msg.Value, typ: msg.Type}
			if p.cfg.Sink != nil {
				p.cfg.Sink.AddBytesRecv(len(payload))
			}
			continue
		}

		if msg.Round < round || msg.Type != want {
			return nil, xerrors.Errorf("%w: unexpected message from %d in round %d", ErrProtocolViolation, from, round)
		}
		if _, dup := received[from]; dup {
			return nil, xerrors.Errorf("%w: duplicate message from %d in round %d", ErrProtocolViolation, from, round)
		}

		received[from] = msg.Value
		if p.cfg.Sink != nil {
			p.cfg.Sink.AddBytesRecv(len(payload))
		}
	}
	return received, nil
}

func (p *Participant) recvWithTimeout(ctx context.Context) (int, []byte, error) {
	timeout := adaptiveRecvTimeout(p.cfg.BaseRecvTimeout, p.cfg.Profile)
	recvCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	from, payload, err := p.cfg.Bus.Recv(recvCtx, p.cfg.ID)
	if p.cfg.Sink != nil {
		p.cfg.Sink.ObserveWait(time.Since(start))
	}
	return from, payload, err
}

// computePartial is participant i's contribution to the final sum: each
// share s_j it holds was originated by participant j, and must be
// weighted by j's own coefficient, not i's: p_i = Σ_j λ_j * s_j mod q.
// Summed across every holder i, this telescopes to Σ_j λ_j * y_j.
func (p *Participant) computePartial(ownShare *big.Int, received map[int]*big.Int) *big.Int {
	p.setState(StateComputing)

	acc := big.NewInt(0)
	for j := 0; j < p.cfg.N; j++ {
		var s *big.Int
		if j == p.cfg.ID {
			s = ownShare
		} else {
			s = received[j]
		}
		term := p.arith.MulScalar(p.lambdas[j], s)
		acc = p.arith.AddScalar(acc, term)
	}
	return acc
}

func (p *Participant) broadcastPartial(ctx context.Context, partial *big.Int) error {
	scalarLen := ScalarByteLen(p.cfg.Params.Q)
	msg := Message{Type: TypePartial, Round: 2, SenderID: uint16(p.cfg.ID), Value: partial}
	encoded := EncodeMessage(msg, scalarLen)

	if err := p.cfg.Bus.Broadcast(ctx, p.cfg.ID, encoded); err != nil {
		return err
	}
	if p.cfg.Sink != nil {
		p.cfg.Sink.AddBytesSent(len(encoded) * (p.cfg.N - 1))
	}
	return nil
}

// aggregate awaits N-1 PARTIAL messages and sums them with this
// participant's own partial to obtain f(eval_at).
func (p *Participant) aggregate(ctx context.Context, ownPartial *big.Int) (*big.Int, error) {
	p.setState(StateAggregating)

	received, err := p.collectRound(ctx, 2, TypePartial)
	if err != nil {
		return nil, err
	}

	result := ownPartial
	for j := 0; j < p.cfg.N; j++ {
		if j == p.cfg.ID {
			continue
		}
		result = p.arith.AddScalar(result, received[j])
	}
	return result, nil
}
