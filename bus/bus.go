// Package bus implements the MessageBus: point-to-point asynchronous
// messaging between a fixed, pre-known set of N participant IDs, shaped
// per ordered pair by a netsim.Shaper.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"

	"github.com/Magic-six/experiment/netsim"
)

// Error kinds from spec.md §7.
var (
	ErrPeerUnreachable = xerrors.New("bus: peer unreachable")
	ErrBusClosed       = xerrors.New("bus: closed")
)

// mailboxCapacity bounds the per-participant inbound queue. The protocol
// never has more than 2*(N-1) messages in flight to one participant in a
// single run, so a fixed generous buffer avoids the shaper's delivery
// worker blocking on a full mailbox.
const mailboxCapacity = 4096

type envelope struct {
	from    int
	payload []byte
}

// Bus is a MessageBus over N participant IDs in [0, N).
type Bus struct {
	n         int
	mailboxes []chan envelope
	shapers   [][]*netsim.Shaper // shapers[from][to], nil on the diagonal

	closeOnce sync.Once
	doneCh    chan struct{}
}

// New wires N participants, each ordered pair (from, to) shaped
// independently by its own netsim.Shaper instance under profile.
func New(n int, profile netsim.Profile) *Bus {
	b := &Bus{
		n:         n,
		mailboxes: make([]chan envelope, n),
		shapers:   make([][]*netsim.Shaper, n),
		doneCh:    make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		b.mailboxes[i] = make(chan envelope, mailboxCapacity)
		b.shapers[i] = make([]*netsim.Shaper, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			b.shapers[i][j] = netsim.NewShaper(profile, int64(i*n+j))
		}
	}
	log.Debug().Int("n", n).Msg("bus: wired")
	return b
}

func (b *Bus) validPeer(id int) bool {
	return id >= 0 && id < b.n
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.doneCh:
		return true
	default:
		return false
	}
}

// Send enqueues payload into the shaped outbound pipe from -> to. It
// returns once the local send buffer has accepted the bytes, not once
// the message is delivered.
func (b *Bus) Send(ctx context.Context, from, to int, payload []byte) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if !b.validPeer(from) || !b.validPeer(to) || from == to {
		return xerrors.Errorf("%w: invalid pair (%d -> %d)", ErrPeerUnreachable, from, to)
	}

	frame := encodeFrame(payload)
	shaper := b.shapers[from][to]
	shaper.Dispatch(ctx, frame, func(delivered []byte) {
		b.deliver(to, from, delivered)
	})
	return nil
}

func (b *Bus) deliver(to, from int, frame []byte) {
	payload, err := decodeFrame(frame)
	if err != nil {
		log.Error().Err(err).Int("to", to).Int("from", from).Msg("bus: dropping malformed frame")
		return
	}
	select {
	case b.mailboxes[to] <- envelope{from: from, payload: payload}:
	case <-b.doneCh:
	}
}

// Broadcast sends payload from `from` to every other participant. The
// shaper treats each recipient link's delay independently, so peers may
// observe the broadcast message at different times.
func (b *Bus) Broadcast(ctx context.Context, from int, payload []byte) error {
	if !b.validPeer(from) {
		return xerrors.Errorf("%w: invalid sender %d", ErrPeerUnreachable, from)
	}
	for to := 0; to < b.n; to++ {
		if to == from {
			continue
		}
		if err := b.Send(ctx, from, to, payload); err != nil {
			return err
		}
	}
	return nil
}

// Recv blocks until a message arrives for self, ctx is cancelled, or the
// bus is shut down.
func (b *Bus) Recv(ctx context.Context, self int) (from int, payload []byte, err error) {
	if !b.validPeer(self) {
		return 0, nil, xerrors.Errorf("%w: invalid participant %d", ErrPeerUnreachable, self)
	}
	select {
	case env := <-b.mailboxes[self]:
		return env.from, env.payload, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-b.doneCh:
		return 0, nil, ErrBusClosed
	}
}

// Close is idempotent. It unblocks any pending Recv with ErrBusClosed and
// stops every shaper's delivery worker.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		close(b.doneCh)
		for i := range b.shapers {
			for j := range b.shapers[i] {
				if b.shapers[i][j] != nil {
					b.shapers[i][j].Close()
				}
			}
		}
		log.Debug().Msg("bus: closed")
	})
	return nil
}
