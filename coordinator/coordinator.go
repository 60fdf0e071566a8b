// Package coordinator implements the Coordinator from spec.md §4.5: it
// instantiates GroupParams and N Participants, wires them through a
// MessageBus shaped by a NetworkProfile, runs the protocol to
// completion or failure, and produces a RunRecord.
package coordinator

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/Magic-six/experiment/bus"
	"github.com/Magic-six/experiment/group"
	"github.com/Magic-six/experiment/metrics"
	"github.com/Magic-six/experiment/netsim"
	"github.com/Magic-six/experiment/protocol"
)

// DefaultDeadline is applied when Config.Deadline is zero, per spec.md §5.
const DefaultDeadline = 60 * time.Second

// Config is the configuration record spec.md §6 lists.
type Config struct {
	PrimeP      *big.Int
	OrderQ      *big.Int
	GeneratorG  *big.Int
	EvalAt      *big.Int // default 0 if nil
	N           int
	Profile     netsim.Profile
	Deadline    time.Duration // default DefaultDeadline if zero
	TestMode    bool
	Inputs      []protocol.PrivatePoint // optional; generated if empty
	Registry    *prometheus.Registry    // optional
	BaseTimeout time.Duration           // optional, forwarded to every Participant
}

// RunRecord is produced by MetricsSink-merged accounting at run
// termination, per spec.md §3.
type RunRecord struct {
	RunID             uuid.UUID
	ParticipantsN     int
	NetworkProfile    netsim.Profile
	WallClockTotal    time.Duration
	ComputeNs         int64
	NetworkWaitNs     int64
	BytesSent         int64
	BytesRecv         int64
	InterpolatedValue *big.Int
	ExpectedValue     *big.Int // set only when Config.TestMode
	OK                bool
	ErrKind           string // "" on success, else one of spec.md §7's kinds
}

// Run instantiates the group, the bus, and N participants, drives the
// protocol to completion, and returns the resulting RunRecord. The
// returned error is non-nil only for configuration problems detected
// before any participant starts; a failed protocol run is reported via
// RunRecord.OK = false, never as a returned error.
func Run(ctx context.Context, cfg Config) (*RunRecord, error) {
	if cfg.N < 2 {
		return nil, xerrors.Errorf("coordinator: N must be >= 2, got %d", cfg.N)
	}
	evalAt := cfg.EvalAt
	if evalAt == nil {
		evalAt = big.NewInt(0)
	}
	deadline := cfg.Deadline
	if deadline == 0 {
		deadline = DefaultDeadline
	}

	params, err := group.NewParams(cfg.PrimeP, cfg.OrderQ, cfg.GeneratorG)
	if err != nil {
		return nil, xerrors.Errorf("coordinator: %w", err)
	}

	inputs, err := resolveInputs(params, cfg)
	if err != nil {
		return nil, xerrors.Errorf("coordinator: %w", err)
	}

	runID := uuid.New()
	log.Info().
		Str("run", runID.String()).
		Int("n", cfg.N).
		Dur("one_way_delay", cfg.Profile.OneWayDelay).
		Msg("coordinator: starting run")

	messageBus := bus.New(cfg.N, cfg.Profile)
	defer messageBus.Close()

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	eg, egCtx := errgroup.WithContext(runCtx)

	peerXs := make([]*big.Int, cfg.N)
	for i, pt := range inputs {
		peerXs[i] = pt.X
	}

	results := make([]*big.Int, cfg.N)
	sinks := make([]*metrics.Sink, cfg.N)
	for i := 0; i < cfg.N; i++ {
		sinks[i] = metrics.New(i, cfg.Registry)
	}

	start := time.Now()
	for i := 0; i < cfg.N; i++ {
		id := i
		eg.Go(func() error {
			participant, err := protocol.New(protocol.Config{
				ID:              id,
				N:               cfg.N,
				Params:          params,
				Point:           inputs[id],
				PeerXs:          peerXs,
				EvalAt:          evalAt,
				Bus:             messageBus,
				Sink:            sinks[id],
				Profile:         cfg.Profile,
				RunID:           runID,
				BaseRecvTimeout: cfg.BaseTimeout,
			})
			if err != nil {
				return err
			}
			result, err := participant.Run(egCtx)
			if err != nil {
				return err
			}
			results[id] = result
			return nil
		})
	}

	runErr := eg.Wait()
	wallClock := time.Since(start)
	messageBus.Close()

	record := &RunRecord{
		RunID:          runID,
		ParticipantsN:  cfg.N,
		NetworkProfile: cfg.Profile,
		WallClockTotal: wallClock,
	}

	snapshots := make([]metrics.Snapshot, cfg.N)
	for i, s := range sinks {
		snapshots[i] = s.Snapshot()
	}
	merged := metrics.Merge(snapshots)
	record.ComputeNs = merged.ComputeNs
	record.NetworkWaitNs = merged.NetworkWaitNs
	record.BytesSent = merged.BytesSent
	record.BytesRecv = merged.BytesRecv

	if runErr != nil {
		record.OK = false
		record.ErrKind = classifyError(runCtx, runErr)
		log.Error().Str("run", runID.String()).Str("err_kind", record.ErrKind).Err(runErr).Msg("coordinator: run failed")
	} else {
		record.OK = true
		record.InterpolatedValue = results[0]
	}

	if cfg.TestMode {
		expected := clearTextInterpolate(params, inputs, evalAt)
		record.ExpectedValue = expected
		record.OK = record.OK && record.InterpolatedValue != nil && record.InterpolatedValue.Cmp(expected) == 0
	}

	log.Info().
		Str("run", runID.String()).
		Bool("ok", record.OK).
		Dur("wall_clock", record.WallClockTotal).
		Msg("coordinator: run finished")

	return record, nil
}

// resolveInputs returns cfg.Inputs verbatim if supplied, otherwise
// generates N PrivatePoints with abscissas 1..N and random scalars.
func resolveInputs(params *group.Params, cfg Config) ([]protocol.PrivatePoint, error) {
	if len(cfg.Inputs) > 0 {
		if len(cfg.Inputs) != cfg.N {
			return nil, xerrors.Errorf("expected %d inputs, got %d", cfg.N, len(cfg.Inputs))
		}
		return cfg.Inputs, nil
	}

	arith := group.New(params, nil)
	inputs := make([]protocol.PrivatePoint, cfg.N)
	for i := 0; i < cfg.N; i++ {
		y, err := arith.RandomScalar()
		if err != nil {
			return nil, xerrors.Errorf("%w: %v", group.ErrRNGUnavailable, err)
		}
		inputs[i] = protocol.PrivatePoint{X: big.NewInt(int64(i + 1)), Y: y}
	}
	return inputs, nil
}

// clearTextInterpolate computes Σ λ_j * y_j in the clear, for
// Config.TestMode verification.
func clearTextInterpolate(params *group.Params, inputs []protocol.PrivatePoint, evalAt *big.Int) *big.Int {
	arith := group.New(params, nil)
	xs := make([]*big.Int, len(inputs))
	for i, pt := range inputs {
		xs[i] = pt.X
	}

	result := big.NewInt(0)
	for i, pt := range inputs {
		lambda, err := arith.LagrangeCoefficient(xs, i, evalAt)
		if err != nil {
			return nil
		}
		term := arith.MulScalar(lambda, pt.Y)
		result = arith.AddScalar(result, term)
	}
	return result
}

// classifyError maps a run failure to one of spec.md §7's error kinds.
func classifyError(runCtx context.Context, err error) string {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "Timeout"
	}
	switch {
	case errors.Is(err, group.ErrNotInvertible):
		return "NotInvertible"
	case errors.Is(err, group.ErrRNGUnavailable):
		return "RNGUnavailable"
	case errors.Is(err, bus.ErrBusClosed):
		return "BusClosed"
	case errors.Is(err, bus.ErrPeerUnreachable):
		return "PeerUnreachable"
	case errors.Is(err, protocol.ErrProtocolViolation):
		return "ProtocolViolation"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Unknown"
	}
}
