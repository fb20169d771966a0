package analysis

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

const (
	// AllSignatures is the reserved key that aggregates every transaction
	// regardless of the function it invoked.
	AllSignatures = "*"
	// FallbackSignature collects transactions with empty input or a selector
	// that is not part of the contract ABI.
	FallbackSignature = "()"
)

// GasCostByPc maps a program counter to the gas spent executing it.
type GasCostByPc map[uint64]uint64

// GasCostByLine maps a 1-based source line to the gas attributed to it.
type GasCostByLine map[int]uint64

// GasCostByPcBySignature is keyed by function signature or AllSignatures.
type GasCostByPcBySignature map[string]GasCostByPc

// GasCostByLineBySignature is keyed by function signature or AllSignatures.
type GasCostByLineBySignature map[string]GasCostByLine

// TxCountBySignature is keyed by function signature or AllSignatures.
type TxCountBySignature map[string]int

type ExecutionStep struct {
	Pc      uint64
	Op      string
	Gas     uint64
	GasCost uint64
	Depth   int
}

type Transaction struct {
	Hash        common.Hash
	Input       []byte
	BlockNumber uint64
	IsError     bool
}

type SourceFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ContractInfo is the part of the contract metadata handed back to callers.
type ContractInfo struct {
	Address         common.Address `json:"address"`
	ContractName    string         `json:"contractName"`
	CompilerVersion string         `json:"compilerVersion"`
	Optimized       bool           `json:"optimized"`
	Runs            int            `json:"runs"`
	Sources         []SourceFile   `json:"sources"`
}

// ContractMetadata carries everything needed to project PCs onto lines.
// SourceMap is the solc compressed runtime source map and SourceList names
// the files its file indexes refer to.
type ContractMetadata struct {
	ContractInfo

	Bytecode   []byte
	SourceMap  string
	SourceList []string
}

// Add folds other into c in place.
func (c GasCostByPc) Add(other GasCostByPc) {
	for pc, gas := range other {
		sum, overflow := math.SafeAdd(c[pc], gas)
		if overflow {
			panic("overflow when adding gas")
		}
		c[pc] = sum
	}
}

// Total returns the sum of gas across all program counters.
func (c GasCostByPc) Total() uint64 {
	var total uint64
	for _, gas := range c {
		total += gas
	}
	return total
}

// Merge returns the per-PC sum of both mappings without modifying either.
// Nil mappings are treated as empty.
func Merge(accumulated, increment GasCostByPc) GasCostByPc {
	merged := make(GasCostByPc, max(len(accumulated), len(increment)))
	merged.Add(accumulated)
	merged.Add(increment)
	return merged
}

func (c GasCostByLine) Total() uint64 {
	var total uint64
	for _, gas := range c {
		total += gas
	}
	return total
}
