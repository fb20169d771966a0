// Package profiler attributes the historical gas usage of a contract to its
// functions and source lines.
package profiler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jsign/gas-profiler/analysis"
	"github.com/jsign/gas-profiler/analysis/signatures"
	"github.com/jsign/gas-profiler/analysis/sourcemap"
	"github.com/jsign/gas-profiler/analysis/tracecost"
)

var (
	ErrNotAContract         = errors.New("address has no deployed code")
	ErrNoABIFound           = errors.New("no abi found for address")
	ErrSourceMapUnavailable = errors.New("source map unavailable")
)

// Kind returns the wire tag of a profiling failure.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotAContract):
		return "NOT_A_CONTRACT"
	case errors.Is(err, ErrNoABIFound):
		return "NO_ABI_FOUND"
	case errors.Is(err, ErrSourceMapUnavailable):
		return "SOURCE_MAP_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

type Chain interface {
	ContractExists(ctx context.Context, addr common.Address) (bool, error)
	FetchTrace(ctx context.Context, txHash common.Hash) ([]analysis.ExecutionStep, error)
}

type Explorer interface {
	// Transactions returns up to limit calls into addr, most recent first.
	Transactions(ctx context.Context, addr common.Address, limit int) ([]analysis.Transaction, error)
	ABI(ctx context.Context, addr common.Address) ([]signatures.Entry, error)
}

type MetadataSource interface {
	FetchContractMetadata(ctx context.Context, addr common.Address) (*analysis.ContractMetadata, error)
}

type Compiler interface {
	AttachCompiledSourceMap(ctx context.Context, meta *analysis.ContractMetadata) (*analysis.ContractMetadata, error)
}

type Config struct {
	TxLimit      int
	Workers      int
	TraceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TxLimit:      10,
		Workers:      4,
		TraceTimeout: time.Minute,
	}
}

// Report is the result of a successful profiling run.
type Report struct {
	analysis.ContractInfo

	TxCountBySignature       analysis.TxCountBySignature       `json:"txCountBySignature"`
	GasCostByLineBySignature analysis.GasCostByLineBySignature `json:"gasCostByLineBySignature"`
	// TraceUnavailable lists transactions that were counted but contributed
	// no gas because their trace could not be fetched.
	TraceUnavailable []common.Hash `json:"traceUnavailable,omitempty"`
}

type Profiler struct {
	cfg      Config
	chain    Chain
	explorer Explorer
	metadata MetadataSource
	compiler Compiler
}

func New(cfg Config, chain Chain, explorer Explorer, metadata MetadataSource, compiler Compiler) *Profiler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Profiler{
		cfg:      cfg,
		chain:    chain,
		explorer: explorer,
		metadata: metadata,
		compiler: compiler,
	}
}

type txResult struct {
	index     int
	hash      common.Hash
	signature string
	cost      analysis.GasCostByPc
	steps     int
	err       error
}

func (p *Profiler) Profile(ctx context.Context, addr common.Address) (*Report, error) {
	logger := log.WithField("address", addr.Hex())

	exists, err := p.chain.ContractExists(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("checking contract code: %w", err)
	}
	if !exists {
		return nil, ErrNotAContract
	}

	abi, err := p.explorer.ABI(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoABIFound, err)
	}
	catalog := signatures.NewCatalog(abi)

	txs, err := p.explorer.Transactions(ctx, addr, p.cfg.TxLimit)
	if err != nil {
		return nil, fmt.Errorf("fetching transactions: %w", err)
	}
	logger.Infof("Fetched %d transactions", len(txs))

	agg, unavailable, err := p.aggregate(ctx, catalog, txs)
	if err != nil {
		return nil, err
	}

	meta, err := p.metadata.FetchContractMetadata(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetching contract metadata: %w", err)
	}
	meta, err = p.compiler.AttachCompiledSourceMap(ctx, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceMapUnavailable, err)
	}
	projector, err := sourcemap.NewProjector(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceMapUnavailable, err)
	}

	return &Report{
		ContractInfo:             meta.ContractInfo,
		TxCountBySignature:       agg.TxCountBySignature,
		GasCostByLineBySignature: projector.ProjectAll(agg.GasCostByPcBySignature),
		TraceUnavailable:         unavailable,
	}, nil
}

// aggregate fetches traces on a bounded pool of workers and folds them into
// one Aggregate from the calling goroutine.
func (p *Profiler) aggregate(ctx context.Context, catalog signatures.Catalog, txs []analysis.Transaction) (*Aggregate, []common.Hash, error) {
	results := make(chan txResult, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, tx := range txs {
		g.Go(func() error {
			res := txResult{index: i, hash: tx.Hash, signature: catalog.Resolve(tx.Input)}
			res.cost, res.steps, res.err = p.traceCost(gctx, tx.Hash)
			results <- res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	close(results)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	agg := NewAggregate()
	var failed []txResult
	for res := range results {
		logger := log.WithFields(log.Fields{"tx": res.hash.Hex(), "signature": res.signature})
		if res.err != nil {
			logger.WithError(res.err).Warn("Trace unavailable, counting transaction with zero gas")
			failed = append(failed, res)
		} else {
			logger.Debugf("Processed transaction, %d steps, %d gas", res.steps, res.cost.Total())
		}
		agg.Add(res.signature, res.cost)
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].index < failed[j].index })
	var unavailable []common.Hash
	for _, res := range failed {
		unavailable = append(unavailable, res.hash)
	}
	return agg, unavailable, nil
}

func (p *Profiler) traceCost(ctx context.Context, txHash common.Hash) (analysis.GasCostByPc, int, error) {
	if p.cfg.TraceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TraceTimeout)
		defer cancel()
	}
	trace, err := p.chain.FetchTrace(ctx, txHash)
	if err != nil {
		return nil, 0, err
	}
	e := tracecost.Extract(trace)
	return e.GetReport(), e.Steps(), nil
}
