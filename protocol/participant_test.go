package protocol

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Magic-six/experiment/bus"
	"github.com/Magic-six/experiment/group"
	"github.com/Magic-six/experiment/metrics"
	"github.com/Magic-six/experiment/netsim"
)

// Scenario 1 from spec.md §8: N=3, p=23, q=11, g=2,
// inputs (1,4),(2,5),(3,6), eval_at=0 -> f(0) = 3, zero latency.
func Test_ThreePartyRun_toyScenario(t *testing.T) {
	params, err := group.NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(2))
	require.NoError(t, err)

	xs := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	ys := []*big.Int{big.NewInt(4), big.NewInt(5), big.NewInt(6)}
	evalAt := big.NewInt(0)

	b := bus.New(3, netsim.Local)
	defer b.Close()

	runID := uuid.New()
	results := make([]*big.Int, 3)
	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			part, err := New(Config{
				ID:     id,
				N:      3,
				Params: params,
				Point:  PrivatePoint{X: xs[id], Y: ys[id]},
				PeerXs: xs,
				EvalAt: evalAt,
				Bus:    b,
				Sink:   metrics.New(id, nil),
				RunID:  runID,
			})
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results[id], errs[id] = part.Run(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, big.NewInt(3), results[i])
	}
}

func Test_Participant_duplicateAbscissaFailsAtInit(t *testing.T) {
	params, err := group.NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(2))
	require.NoError(t, err)

	xs := []*big.Int{big.NewInt(1), big.NewInt(1), big.NewInt(2)}
	b := bus.New(3, netsim.Local)
	defer b.Close()

	part, err := New(Config{
		ID:     0,
		N:      3,
		Params: params,
		Point:  PrivatePoint{X: xs[0], Y: big.NewInt(4)},
		PeerXs: xs,
		EvalAt: big.NewInt(0),
		Bus:    b,
	})
	require.NoError(t, err)

	_, err = part.Run(context.Background())
	require.ErrorIs(t, err, group.ErrNotInvertible)
	require.Equal(t, StateFailed, part.State())
}

func Test_Participant_shareIsAdditiveSplitOfSecret(t *testing.T) {
	// Property from spec.md §8: the shares participant j sends in Round 1,
	// plus the kept share, sum to y_j mod q.
	params, err := group.NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(2))
	require.NoError(t, err)
	arith := group.New(params, nil)

	xs := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	b := bus.New(3, netsim.Local)
	defer b.Close()

	part, err := New(Config{
		ID:     0,
		N:      3,
		Params: params,
		Point:  PrivatePoint{X: xs[0], Y: big.NewInt(7)},
		PeerXs: xs,
		EvalAt: big.NewInt(0),
		Bus:    b,
	})
	require.NoError(t, err)

	self, err := part.share(context.Background())
	require.NoError(t, err)

	sum := self
	for _, id := range []int{1, 2} {
		_, payload, err := b.Recv(context.Background(), id)
		require.NoError(t, err)
		msg, err := DecodeMessage(payload)
		require.NoError(t, err)
		sum = arith.AddScalar(sum, msg.Value)
	}
	require.Equal(t, big.NewInt(7), sum)
}

// Worked example from spec.md §8 scenario 1's correctness sketch: q=11,
// originator coefficients λ=[3,8,1], and the share matrix r[originator][holder]
// = [[10,2,3],[1,8,7],[4,9,4]]. Each holder must weight a held share by
// its originator's coefficient, not its own, for the partials to sum to 3.
func Test_ComputePartial_weightsByOriginatorCoefficient(t *testing.T) {
	params, err := group.NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(2))
	require.NoError(t, err)

	r := [3][3]int64{
		{10, 2, 3},
		{1, 8, 7},
		{4, 9, 4},
	}
	lambdas := []*big.Int{big.NewInt(3), big.NewInt(8), big.NewInt(1)}

	sum := big.NewInt(0)
	for holder := 0; holder < 3; holder++ {
		xs := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
		part, err := New(Config{
			ID:     holder,
			N:      3,
			Params: params,
			Point:  PrivatePoint{X: xs[holder], Y: big.NewInt(0)},
			PeerXs: xs,
			EvalAt: big.NewInt(0),
			Bus:    bus.New(3, netsim.Local),
		})
		require.NoError(t, err)
		part.lambdas = lambdas

		ownShare := big.NewInt(r[holder][holder])
		received := map[int]*big.Int{}
		for originator := 0; originator < 3; originator++ {
			if originator == holder {
				continue
			}
			received[originator] = big.NewInt(r[originator][holder])
		}

		partial := part.computePartial(ownShare, received)
		sum = new(big.Int).Mod(new(big.Int).Add(sum, partial), params.Q)
	}
	require.Equal(t, big.NewInt(3), sum)
}

// The bus guarantees FIFO only per (sender, receiver) pair, not across
// senders, so a fast peer's round-2 PARTIAL can reach a mailbox before a
// slower peer's round-1 SHARE does. collectRound must set the early
// message aside rather than fail the round.
func Test_CollectRound_toleratesEarlyNextRoundMessage(t *testing.T) {
	params, err := group.NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(2))
	require.NoError(t, err)
	xs := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	b := bus.New(3, netsim.Local)
	defer b.Close()

	part, err := New(Config{
		ID:     0,
		N:      3,
		Params: params,
		Point:  PrivatePoint{X: xs[0], Y: big.NewInt(7)},
		PeerXs: xs,
		EvalAt: big.NewInt(0),
		Bus:    b,
	})
	require.NoError(t, err)

	scalarLen := ScalarByteLen(params.Q)

	// Peer 2 races ahead: its round-1 SHARE and then its round-2 PARTIAL
	// are both sent before peer 1's round-1 SHARE has been enqueued.
	share2for0 := EncodeMessage(Message{Type: TypeShare, Round: 1, SenderID: 2, Value: big.NewInt(4)}, scalarLen)
	require.NoError(t, b.Send(context.Background(), 2, 0, share2for0))

	earlyPartial := EncodeMessage(Message{Type: TypePartial, Round: 2, SenderID: 2, Value: big.NewInt(9)}, scalarLen)
	require.NoError(t, b.Send(context.Background(), 2, 0, earlyPartial))

	share1 := EncodeMessage(Message{Type: TypeShare, Round: 1, SenderID: 1, Value: big.NewInt(5)}, scalarLen)
	require.NoError(t, b.Send(context.Background(), 1, 0, share1))

	received, err := part.collectRound(context.Background(), 1, TypeShare)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), received[1])

	// Peer 1's round-2 PARTIAL finally arrives, completing round 2 using
	// the message that was buffered earlier.
	share2 := EncodeMessage(Message{Type: TypePartial, Round: 2, SenderID: 1, Value: big.NewInt(6)}, scalarLen)
	require.NoError(t, b.Send(context.Background(), 1, 0, share2))

	received, err = part.collectRound(context.Background(), 2, TypePartial)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9), received[2])
	require.Equal(t, big.NewInt(6), received[1])
}

func Test_CollectRound_rejectsDuplicateSender(t *testing.T) {
	params, err := group.NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(2))
	require.NoError(t, err)
	xs := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	b := bus.New(3, netsim.Local)
	defer b.Close()

	part, err := New(Config{
		ID:     0,
		N:      3,
		Params: params,
		Point:  PrivatePoint{X: xs[0], Y: big.NewInt(7)},
		PeerXs: xs,
		EvalAt: big.NewInt(0),
		Bus:    b,
	})
	require.NoError(t, err)

	scalarLen := ScalarByteLen(params.Q)
	msg := EncodeMessage(Message{Type: TypeShare, Round: 1, SenderID: 1, Value: big.NewInt(1)}, scalarLen)
	require.NoError(t, b.Send(context.Background(), 1, 0, msg))
	require.NoError(t, b.Send(context.Background(), 1, 0, msg))

	_, err = part.collectRound(context.Background(), 1, TypeShare)
	require.ErrorIs(t, err, ErrProtocolViolation)
}
