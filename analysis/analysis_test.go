package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeAssociativeCommutative(t *testing.T) {
	a := GasCostByPc{0: 3, 5: 10, 9: 2}
	b := GasCostByPc{5: 7, 12: 40}
	c := GasCostByPc{0: 1, 12: 1, 77: 5}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	swapped := Merge(b, Merge(a, c))

	require.Equal(t, left, right)
	require.Equal(t, left, swapped)
	require.Equal(t, GasCostByPc{0: 4, 5: 17, 9: 2, 12: 41, 77: 5}, left)
}

func TestMergeIdentity(t *testing.T) {
	a := GasCostByPc{1: 1, 2: 2}
	require.Equal(t, a, Merge(a, GasCostByPc{}))
	require.Equal(t, a, Merge(nil, a))
	require.Empty(t, Merge(nil, nil))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := GasCostByPc{1: 1}
	b := GasCostByPc{1: 2}
	_ = Merge(a, b)
	require.Equal(t, GasCostByPc{1: 1}, a)
	require.Equal(t, GasCostByPc{1: 2}, b)
}

func TestAddOverflowPanics(t *testing.T) {
	c := GasCostByPc{1: ^uint64(0)}
	require.Panics(t, func() { c.Add(GasCostByPc{1: 1}) })
}

func TestTotals(t *testing.T) {
	require.EqualValues(t, 15, GasCostByPc{1: 5, 2: 10}.Total())
	require.EqualValues(t, 7, GasCostByLine{3: 3, 4: 4}.Total())
}
