package profiler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/jsign/gas-profiler/analysis"
	"github.com/jsign/gas-profiler/analysis/signatures"
)

const contractSource = "contract C {\n  function foo(uint256) public {\n    x = 1;\n  }\n}\n"

var contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")

type fakeChain struct {
	mu       sync.Mutex
	code     bool
	traces   map[common.Hash][]analysis.ExecutionStep
	fetched  []common.Hash
	existErr error
	stalled  map[common.Hash]bool
}

func (f *fakeChain) ContractExists(context.Context, common.Address) (bool, error) {
	return f.code, f.existErr
}

func (f *fakeChain) FetchTrace(ctx context.Context, h common.Hash) ([]analysis.ExecutionStep, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, h)
	f.mu.Unlock()
	if f.stalled[h] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	trace, ok := f.traces[h]
	if !ok {
		return nil, fmt.Errorf("trace for %s not found", h.Hex())
	}
	return trace, nil
}

type fakeExplorer struct {
	abi      []signatures.Entry
	abiErr   error
	txs      []analysis.Transaction
	abiCalls int
	limit    int
}

func (f *fakeExplorer) Transactions(_ context.Context, _ common.Address, limit int) ([]analysis.Transaction, error) {
	f.limit = limit
	return f.txs, nil
}

func (f *fakeExplorer) ABI(context.Context, common.Address) ([]signatures.Entry, error) {
	f.abiCalls++
	return f.abi, f.abiErr
}

type fakeMetadata struct{}

func (fakeMetadata) FetchContractMetadata(_ context.Context, addr common.Address) (*analysis.ContractMetadata, error) {
	return &analysis.ContractMetadata{
		ContractInfo: analysis.ContractInfo{
			Address:      addr,
			ContractName: "C",
			Sources:      []analysis.SourceFile{{Name: "C.sol", Content: contractSource}},
		},
		// PUSH1 0x80, PUSH1 0x40, MSTORE, STOP
		Bytecode: []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x00},
	}, nil
}

type fakeCompiler struct {
	err error
}

func (f fakeCompiler) AttachCompiledSourceMap(_ context.Context, meta *analysis.ContractMetadata) (*analysis.ContractMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	meta.SourceMap = "0:63:0;13:40;46:10;57:3"
	return meta, nil
}

func fooScenario() (*fakeChain, *fakeExplorer) {
	foo := signatures.Entry{Type: signatures.Function, Name: "foo", Inputs: []signatures.Argument{{Type: "uint256"}}}
	selector := hexutil.MustDecode(signatures.Selector("foo(uint256)"))
	arg := make([]byte, 32)

	h1, h2, h3 := common.HexToHash("0x01"), common.HexToHash("0x02"), common.HexToHash("0x03")
	chain := &fakeChain{
		code: true,
		traces: map[common.Hash][]analysis.ExecutionStep{
			h1: {{Pc: 0, GasCost: 3}, {Pc: 2, GasCost: 3}, {Pc: 4, GasCost: 94}},
			h2: {{Pc: 0, GasCost: 3}, {Pc: 2, GasCost: 3}, {Pc: 4, GasCost: 44}, {Pc: 4, GasCost: 100}},
			h3: {{Pc: 0, GasCost: 3}, {Pc: 5, GasCost: 17}},
		},
	}
	explorer := &fakeExplorer{
		abi: []signatures.Entry{foo, {Type: signatures.Event, Name: "Foo"}},
		txs: []analysis.Transaction{
			{Hash: h1, Input: append(append([]byte{}, selector...), arg...)},
			{Hash: h2, Input: append(append([]byte{}, selector...), arg...)},
			{Hash: h3},
		},
	}
	return chain, explorer
}

func TestProfileEndToEnd(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			chain, explorer := fooScenario()
			p := New(Config{TxLimit: 10, Workers: workers, TraceTimeout: time.Second}, chain, explorer, fakeMetadata{}, fakeCompiler{})

			report, err := p.Profile(context.Background(), contractAddr)
			require.NoError(t, err)

			require.Equal(t, analysis.TxCountBySignature{"*": 3, "foo(uint256)": 2, "()": 1}, report.TxCountBySignature)
			require.EqualValues(t, 270, report.GasCostByLineBySignature["*"].Total())
			require.Equal(t, analysis.GasCostByLine{1: 9, 2: 6, 3: 238, 4: 17}, report.GasCostByLineBySignature["*"])
			require.Equal(t, analysis.GasCostByLine{1: 6, 2: 6, 3: 238}, report.GasCostByLineBySignature["foo(uint256)"])
			require.Equal(t, analysis.GasCostByLine{1: 3, 4: 17}, report.GasCostByLineBySignature["()"])
			require.Empty(t, report.TraceUnavailable)
			require.Equal(t, "C", report.ContractName)
			require.Equal(t, contractAddr, report.Address)
			require.Equal(t, 10, explorer.limit)
		})
	}
}

func TestProfileTraceUnavailable(t *testing.T) {
	chain, explorer := fooScenario()
	delete(chain.traces, common.HexToHash("0x02"))
	p := New(DefaultConfig(), chain, explorer, fakeMetadata{}, fakeCompiler{})

	report, err := p.Profile(context.Background(), contractAddr)
	require.NoError(t, err)

	require.Equal(t, analysis.TxCountBySignature{"*": 3, "foo(uint256)": 2, "()": 1}, report.TxCountBySignature)
	require.EqualValues(t, 120, report.GasCostByLineBySignature["*"].Total())
	require.Equal(t, []common.Hash{common.HexToHash("0x02")}, report.TraceUnavailable)
}

func TestProfileStalledTraceTimesOut(t *testing.T) {
	chain, explorer := fooScenario()
	chain.stalled = map[common.Hash]bool{common.HexToHash("0x02"): true}
	p := New(Config{TxLimit: 10, Workers: 1, TraceTimeout: 50 * time.Millisecond}, chain, explorer, fakeMetadata{}, fakeCompiler{})

	start := time.Now()
	report, err := p.Profile(context.Background(), contractAddr)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	require.Equal(t, analysis.TxCountBySignature{"*": 3, "foo(uint256)": 2, "()": 1}, report.TxCountBySignature)
	require.EqualValues(t, 120, report.GasCostByLineBySignature["*"].Total())
	require.Equal(t, []common.Hash{common.HexToHash("0x02")}, report.TraceUnavailable)
	require.Len(t, chain.fetched, 3)
}

func TestProfileNotAContractRunsFirst(t *testing.T) {
	chain, explorer := fooScenario()
	chain.code = false
	p := New(DefaultConfig(), chain, explorer, fakeMetadata{}, fakeCompiler{})

	_, err := p.Profile(context.Background(), contractAddr)
	require.ErrorIs(t, err, ErrNotAContract)
	require.Equal(t, "NOT_A_CONTRACT", Kind(err))
	require.Zero(t, explorer.abiCalls)
	require.Empty(t, chain.fetched)
}

func TestProfileNoABI(t *testing.T) {
	chain, explorer := fooScenario()
	explorer.abiErr = errors.New("contract source code not verified")
	p := New(DefaultConfig(), chain, explorer, fakeMetadata{}, fakeCompiler{})

	_, err := p.Profile(context.Background(), contractAddr)
	require.ErrorIs(t, err, ErrNoABIFound)
	require.Equal(t, "NO_ABI_FOUND", Kind(err))
	require.Empty(t, chain.fetched)
}

func TestProfileCompilerFailure(t *testing.T) {
	chain, explorer := fooScenario()
	p := New(DefaultConfig(), chain, explorer, fakeMetadata{}, fakeCompiler{err: errors.New("solc not found")})

	_, err := p.Profile(context.Background(), contractAddr)
	require.ErrorIs(t, err, ErrSourceMapUnavailable)
	require.Equal(t, "SOURCE_MAP_UNAVAILABLE", Kind(err))
}

func TestProfileExistenceCheckError(t *testing.T) {
	chain, explorer := fooScenario()
	chain.existErr = errors.New("connection refused")
	p := New(DefaultConfig(), chain, explorer, fakeMetadata{}, fakeCompiler{})

	_, err := p.Profile(context.Background(), contractAddr)
	require.Error(t, err)
	require.Equal(t, "INTERNAL_ERROR", Kind(err))
}

func TestProfileCanceled(t *testing.T) {
	chain, explorer := fooScenario()
	p := New(DefaultConfig(), chain, explorer, fakeMetadata{}, fakeCompiler{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Profile(ctx, contractAddr)
	require.ErrorIs(t, err, context.Canceled)
}
