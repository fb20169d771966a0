// Package node talks to an Ethereum JSON-RPC endpoint that exposes the debug
// namespace.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jsign/gas-profiler/analysis"
	"github.com/jsign/gas-profiler/analysis/tracecost"
)

type Config struct {
	URL               string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
	RetryInterval     time.Duration

	// Trace cache. CacheDir may be empty to keep traces in memory only.
	CacheSize uint32
	CacheDir  string
	CacheOnly bool
}

func DefaultConfig() Config {
	return Config{
		URL:               "http://localhost:8545",
		RequestsPerSecond: 5,
		Burst:             1,
		MaxRetries:        3,
		RetryInterval:     time.Second,
		CacheSize:         1024,
	}
}

type Client struct {
	cfg     Config
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	cache   *traceCache
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.URL, err)
	}
	return New(cfg, rpcClient)
}

func New(cfg Config, rpcClient *rpc.Client) (*Client, error) {
	cache, err := newTraceCache(cfg.CacheSize, cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		rpc:     rpcClient,
		eth:     ethclient.NewClient(rpcClient),
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		cache:   cache,
	}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.eth.CodeAt(ctx, addr, nil)
}

func (c *Client) ContractExists(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.Code(ctx, addr)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

var ErrTraceNotCached = errors.New("trace not cached")

type executionResult struct {
	Gas         uint64                `json:"gas"`
	Failed      bool                  `json:"failed"`
	ReturnValue string                `json:"returnValue"`
	StructLogs  []tracecost.StructLog `json:"structLogs"`
}

var structLoggerConfig = map[string]any{
	"disableStorage": true,
	"disableStack":   true,
	"enableMemory":   false,
}

// FetchTrace returns the concise execution trace of txHash, served from the
// cache when possible.
func (c *Client) FetchTrace(ctx context.Context, txHash common.Hash) ([]analysis.ExecutionStep, error) {
	if trace, ok := c.cache.Get(txHash); ok {
		return trace, nil
	}
	if c.cfg.CacheOnly {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotCached, txHash.Hex())
	}

	op := func() (*executionResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		var res executionResult
		err := c.rpc.CallContext(ctx, &res, "debug_traceTransaction", txHash, structLoggerConfig)
		if err != nil {
			if ctx.Err() == nil && isTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return &res, nil
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(c.cfg.RetryInterval)
	b = backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx)
	res, err := backoff.RetryWithData(op, b)
	if err != nil {
		return nil, fmt.Errorf("tracing %s: %w", txHash.Hex(), err)
	}

	trace := tracecost.Concise(res.StructLogs)
	if err := c.cache.Add(txHash, trace); err != nil {
		log.WithError(err).WithField("tx", txHash.Hex()).Warn("Failed to cache trace")
	}
	return trace, nil
}

// isTransient reports whether a failed call may succeed when retried:
// network timeouts, rate limiting and server-side errors.
func isTransient(err error) bool {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
