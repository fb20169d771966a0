package profiler

import (
	"github.com/jsign/gas-profiler/analysis"
)

// Aggregate holds the accumulators of one profiling run. It is not safe for
// concurrent use; a single reducer owns it.
type Aggregate struct {
	GasCostByPcBySignature analysis.GasCostByPcBySignature
	TxCountBySignature     analysis.TxCountBySignature
}

func NewAggregate() *Aggregate {
	return &Aggregate{
		GasCostByPcBySignature: analysis.GasCostByPcBySignature{analysis.AllSignatures: {}},
		TxCountBySignature:     analysis.TxCountBySignature{analysis.AllSignatures: 0},
	}
}

// Add attributes one transaction's cost to signature and to AllSignatures.
// A nil cost still counts the transaction.
func (a *Aggregate) Add(signature string, cost analysis.GasCostByPc) {
	for _, key := range []string{analysis.AllSignatures, signature} {
		a.GasCostByPcBySignature[key] = analysis.Merge(a.GasCostByPcBySignature[key], cost)
		a.TxCountBySignature[key]++
	}
}
