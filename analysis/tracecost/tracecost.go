package tracecost

import (
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/jsign/gas-profiler/analysis"
)

// StructLog is one step of a debug_traceTransaction struct-logger result.
type StructLog struct {
	Pc      uint64 `json:"pc"`
	Op      string `json:"op"`
	Gas     uint64 `json:"gas"`
	GasCost uint64 `json:"gasCost"`
	Depth   int    `json:"depth"`
}

// Extractor accumulates gas per program counter for a single transaction.
type Extractor struct {
	costs analysis.GasCostByPc
	steps int
}

func New() *Extractor {
	return &Extractor{costs: analysis.GasCostByPc{}}
}

// AccessPC charges gas to pc. Repeated visits to the same pc add up.
func (e *Extractor) AccessPC(pc uint64, gas uint64) {
	var overflow bool
	e.costs[pc], overflow = math.SafeAdd(e.costs[pc], gas)
	if overflow {
		panic("overflow when adding gas")
	}
	e.steps++
}

func (e *Extractor) Steps() int {
	return e.steps
}

func (e *Extractor) GetReport() analysis.GasCostByPc {
	return e.costs
}

// Extract charges every step of trace to a new Extractor. A nil trace yields
// an empty report.
func Extract(trace []analysis.ExecutionStep) *Extractor {
	e := New()
	for _, step := range trace {
		e.AccessPC(step.Pc, step.GasCost)
	}
	return e
}

// Concise reduces a struct-logger trace to the steps executed in the
// outermost frame, which belongs to the called contract. Each step's GasCost
// is the gas actually consumed: the difference to the next step in the same
// frame, so CALLs are charged what the callee used rather than what was
// forwarded. The last step of the frame keeps the reported cost.
func Concise(logs []StructLog) []analysis.ExecutionStep {
	if len(logs) == 0 {
		return nil
	}
	top := logs[0].Depth
	for _, l := range logs {
		top = min(top, l.Depth)
	}

	steps := make([]analysis.ExecutionStep, 0, len(logs))
	pending := -1
	for _, l := range logs {
		if l.Depth != top {
			continue
		}
		if pending >= 0 {
			prev := &steps[pending]
			// Refunds or malformed traces can make gas go up; keep the reported cost then.
			if prev.Gas >= l.Gas {
				prev.GasCost = prev.Gas - l.Gas
			}
		}
		steps = append(steps, analysis.ExecutionStep{
			Pc:      l.Pc,
			Op:      l.Op,
			Gas:     l.Gas,
			GasCost: l.GasCost,
			Depth:   l.Depth,
		})
		pending = len(steps) - 1
	}
	return steps
}
