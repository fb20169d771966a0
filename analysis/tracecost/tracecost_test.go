package tracecost

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jsign/gas-profiler/analysis"
)

func TestExtractSumsRepeatedPCs(t *testing.T) {
	trace := []analysis.ExecutionStep{
		{Pc: 5, GasCost: 3},
		{Pc: 5, GasCost: 7},
		{Pc: 9, GasCost: 2},
	}
	e := Extract(trace)
	require.Equal(t, analysis.GasCostByPc{5: 10, 9: 2}, e.GetReport())
	require.Equal(t, 3, e.Steps())
}

func TestExtractEmpty(t *testing.T) {
	require.Empty(t, Extract(nil).GetReport())
	require.NotNil(t, Extract(nil).GetReport())
}

func TestExtractorSteps(t *testing.T) {
	e := New()
	e.AccessPC(0, 3)
	e.AccessPC(2, 3)
	e.AccessPC(0, 3)
	require.Equal(t, 3, e.Steps())
	require.Equal(t, analysis.GasCostByPc{0: 6, 2: 3}, e.GetReport())
}

func TestConcise(t *testing.T) {
	logs := []StructLog{
		{Pc: 0, Op: "PUSH1", Gas: 1000, GasCost: 3, Depth: 1},
		{Pc: 2, Op: "CALL", Gas: 997, GasCost: 900, Depth: 1},
		{Pc: 0, Op: "PUSH1", Gas: 880, GasCost: 3, Depth: 2},
		{Pc: 2, Op: "STOP", Gas: 877, GasCost: 0, Depth: 2},
		{Pc: 3, Op: "POP", Gas: 950, GasCost: 2, Depth: 1},
		{Pc: 4, Op: "STOP", Gas: 948, GasCost: 0, Depth: 1},
	}

	steps := Concise(logs)
	require.Len(t, steps, 4)
	require.Equal(t, []uint64{0, 2, 3, 4}, []uint64{steps[0].Pc, steps[1].Pc, steps[2].Pc, steps[3].Pc})
	// CALL is charged what it consumed including the callee, not the 900 forwarded.
	require.EqualValues(t, 3, steps[0].GasCost)
	require.EqualValues(t, 47, steps[1].GasCost)
	require.EqualValues(t, 2, steps[2].GasCost)
	require.EqualValues(t, 0, steps[3].GasCost)

	require.Equal(t, analysis.GasCostByPc{0: 3, 2: 47, 3: 2, 4: 0}, Extract(steps).GetReport())
}

func TestConciseKeepsReportedCostWhenGasRises(t *testing.T) {
	steps := Concise([]StructLog{
		{Pc: 0, Gas: 100, GasCost: 5, Depth: 1},
		{Pc: 1, Gas: 120, GasCost: 1, Depth: 1},
	})
	require.EqualValues(t, 5, steps[0].GasCost)
	require.EqualValues(t, 1, steps[1].GasCost)
}

func TestConciseEmpty(t *testing.T) {
	require.Nil(t, Concise(nil))
}
