// Package group implements arithmetic over the order-q subgroup of
// (Z/pZ)* used by the Lagrange interpolation protocol: element
// operations modulo p, exponent (scalar) operations modulo q.
package group

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// ComputeObserver receives the wall-clock cost of a single GroupArith
// call. Participant wires this to its MetricsSink; nil is a valid,
// no-op observer.
type ComputeObserver interface {
	ObserveCompute(d time.Duration)
}

// Params is a GroupParams record: modulus p, subgroup order q (q | p-1),
// generator g of the order-q subgroup.
type Params struct {
	P *big.Int
	Q *big.Int
	G *big.Int
}

// NewParams validates g^q ≡ 1 (mod p) before returning the record. It does
// not attempt to verify g has no smaller order; callers are expected to
// supply parameters already known to generate the order-q subgroup.
func NewParams(p, q, g *big.Int) (*Params, error) {
	check := new(big.Int).Exp(g, q, p)
	if check.Cmp(big.NewInt(1)) != 0 {
		return nil, xerrors.Errorf("g^q mod p != 1: invalid group parameters")
	}
	return &Params{P: p, Q: q, G: g}, nil
}

// Arith exposes GroupArith operations bound to a single Params value.
// Params is immutable and safe to share across participants.
type Arith struct {
	params   *Params
	observer ComputeObserver
}

// New returns an Arith bound to params. observer may be nil.
func New(params *Params, observer ComputeObserver) *Arith {
	return &Arith{params: params, observer: observer}
}

func (a *Arith) timed(f func()) {
	start := time.Now()
	f()
	if a.observer != nil {
		a.observer.ObserveCompute(time.Since(start))
	}
}

// RandomScalar returns a uniform value in [0, q).
func (a *Arith) RandomScalar() (*big.Int, error) {
	var n *big.Int
	var err error
	a.timed(func() {
		n, err = rand.Int(rand.Reader, a.params.Q)
	})
	if err != nil {
		log.Error().Err(err).Msg("group: OS RNG read failed")
		return nil, xerrors.Errorf("%w: %v", ErrRNGUnavailable, err)
	}
	return n, nil
}

// AddScalar returns a+b mod q.
func (a *Arith) AddScalar(x, y *big.Int) *big.Int {
	var out *big.Int
	a.timed(func() {
		out = new(big.Int).Add(x, y)
		out.Mod(out, a.params.Q)
	})
	return out
}

// SubScalar returns a-b mod q, normalized into [0, q).
func (a *Arith) SubScalar(x, y *big.Int) *big.Int {
	var out *big.Int
	a.timed(func() {
		out = new(big.Int).Sub(x, y)
		out.Mod(out, a.params.Q)
	})
	return out
}

// MulScalar returns a*b mod q.
func (a *Arith) MulScalar(x, y *big.Int) *big.Int {
	var out *big.Int
	a.timed(func() {
		out = new(big.Int).Mul(x, y)
		out.Mod(out, a.params.Q)
	})
	return out
}

// InvScalar returns a^-1 mod q via the standard library's extended
// Euclidean ModInverse. gcd(a, q) != 1 is impossible for q prime and
// a != 0 (mod q); the nil-result check is the guard spec.md calls for.
func (a *Arith) InvScalar(x *big.Int) (*big.Int, error) {
	var out *big.Int
	a.timed(func() {
		out = new(big.Int).ModInverse(x, a.params.Q)
	})
	if out == nil {
		return nil, xerrors.Errorf("%w: %s has no inverse mod %s", ErrNotInvertible, x, a.params.Q)
	}
	return out, nil
}

// Pow computes base^exp mod p. Constant-time execution is not required
// under the semi-honest adversary model spec.md assumes.
func (a *Arith) Pow(base, exp *big.Int) *big.Int {
	var out *big.Int
	a.timed(func() {
		out = new(big.Int).Exp(base, exp, a.params.P)
	})
	return out
}

// LagrangeCoefficient computes λ_i = ∏_{j≠i} (evalAt - x_j) * (x_i - x_j)^-1
// mod q for the public abscissa set xs, index i, and evaluation point
// evalAt. Returns ErrNotInvertible if two abscissas coincide.
func (a *Arith) LagrangeCoefficient(xs []*big.Int, i int, evalAt *big.Int) (*big.Int, error) {
	lambda := big.NewInt(1)
	for j, xj := range xs {
		if j == i {
			continue
		}
		num := a.SubScalar(evalAt, xj)
		den := a.SubScalar(xs[i], xj)
		denInv, err := a.InvScalar(den)
		if err != nil {
			return nil, xerrors.Errorf("lagrange coefficient %d: %w", i, err)
		}
		term := a.MulScalar(num, denInv)
		lambda = a.MulScalar(lambda, term)
	}
	return lambda, nil
}

// Params returns the bound GroupParams.
func (a *Arith) Params() *Params {
	return a.params
}
