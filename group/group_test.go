package group

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func toyParams(t *testing.T) *Params {
	p, err := NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(2))
	require.NoError(t, err)
	return p
}

func Test_NewParams_rejectsBadGenerator(t *testing.T) {
	// 5 is not a square mod 23, so 5^11 mod 23 = 22, not 1.
	_, err := NewParams(big.NewInt(23), big.NewInt(11), big.NewInt(5))
	require.Error(t, err)
}

func Test_ScalarArith_modQ(t *testing.T) {
	a := New(toyParams(t), nil)

	sum := a.AddScalar(big.NewInt(9), big.NewInt(5))
	require.Equal(t, big.NewInt(3), sum) // 14 mod 11 = 3

	diff := a.SubScalar(big.NewInt(2), big.NewInt(5))
	require.Equal(t, big.NewInt(8), diff) // -3 mod 11 = 8

	prod := a.MulScalar(big.NewInt(6), big.NewInt(6))
	require.Equal(t, big.NewInt(3), prod) // 36 mod 11 = 3
}

func Test_InvScalar(t *testing.T) {
	a := New(toyParams(t), nil)

	inv, err := a.InvScalar(big.NewInt(6))
	require.NoError(t, err)
	one := a.MulScalar(big.NewInt(6), inv)
	require.Equal(t, big.NewInt(1), one)
}

func Test_InvScalar_zeroNotInvertible(t *testing.T) {
	a := New(toyParams(t), nil)

	_, err := a.InvScalar(big.NewInt(0))
	require.ErrorIs(t, err, ErrNotInvertible)
}

func Test_Pow_respectsSubgroup(t *testing.T) {
	a := New(toyParams(t), nil)

	// g^q mod p must be 1 for valid params.
	one := a.Pow(big.NewInt(2), big.NewInt(11))
	require.Equal(t, big.NewInt(1), one)
}

// Scenario 1 from spec.md §8: N=3, p=23, q=11, g=2,
// inputs (1,4),(2,5),(3,6), eval_at=0 -> f(0) = 3.
func Test_LagrangeCoefficient_toyScenario(t *testing.T) {
	a := New(toyParams(t), nil)

	xs := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	ys := []*big.Int{big.NewInt(4), big.NewInt(5), big.NewInt(6)}
	evalAt := big.NewInt(0)

	result := big.NewInt(0)
	for i := range xs {
		lambda, err := a.LagrangeCoefficient(xs, i, evalAt)
		require.NoError(t, err)
		term := a.MulScalar(lambda, ys[i])
		result = a.AddScalar(result, term)
	}

	require.Equal(t, big.NewInt(3), result)
}

func Test_LagrangeCoefficient_duplicateAbscissaFails(t *testing.T) {
	a := New(toyParams(t), nil)

	xs := []*big.Int{big.NewInt(1), big.NewInt(1), big.NewInt(2)}
	_, err := a.LagrangeCoefficient(xs, 0, big.NewInt(0))
	require.ErrorIs(t, err, ErrNotInvertible)
}

type recordingObserver struct {
	calls int
}

func (r *recordingObserver) ObserveCompute(_ time.Duration) { r.calls++ }

func Test_Arith_observesCompute(t *testing.T) {
	obs := &recordingObserver{}
	a := New(toyParams(t), obs)

	a.AddScalar(big.NewInt(1), big.NewInt(2))
	a.MulScalar(big.NewInt(1), big.NewInt(2))
	require.Equal(t, 2, obs.calls)
}
