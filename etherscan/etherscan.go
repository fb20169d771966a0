// Package etherscan is a minimal client for the Etherscan account and
// contract APIs.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jsign/gas-profiler/analysis"
	"github.com/jsign/gas-profiler/analysis/signatures"
)

var ErrNoABI = errors.New("contract abi not available")

type Config struct {
	URL               string
	APIKey            string
	RequestsPerSecond float64
	MaxRetries        int
	Timeout           time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:               "https://api.etherscan.io/api",
		RequestsPerSecond: 5,
		MaxRetries:        3,
		Timeout:           30 * time.Second,
	}
}

type Client struct {
	cfg     Config
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.MaxRetries
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = nil

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
	}
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	message string
	result  string
}

func (e *apiError) Error() string {
	if e.result == "" {
		return "etherscan: " + e.message
	}
	return fmt.Sprintf("etherscan: %s: %s", e.message, e.result)
}

func (c *Client) call(ctx context.Context, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		params.Set("apikey", c.cfg.APIKey)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("etherscan %s: %w", params.Get("action"), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("etherscan %s: unexpected status %s", params.Get("action"), resp.Status)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decoding etherscan %s response: %w", params.Get("action"), err)
	}
	if r.Status != "1" {
		e := &apiError{message: r.Message}
		// On failures the result is usually a human readable string.
		_ = json.Unmarshal(r.Result, &e.result)
		return r.Result, e
	}
	return r.Result, nil
}

type txListEntry struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
	To          string `json:"to"`
	Input       string `json:"input"`
	IsError     string `json:"isError"`
}

// Transactions returns up to limit of the latest calls into addr, most
// recent first. The creation transaction has no recipient and is left out.
func (c *Client) Transactions(ctx context.Context, addr common.Address, limit int) ([]analysis.Transaction, error) {
	params := url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {addr.Hex()},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {"1"},
		"offset":     {strconv.Itoa(limit)},
		"sort":       {"desc"},
	}
	result, err := c.call(ctx, params)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && strings.HasPrefix(apiErr.message, "No transactions found") {
			return nil, nil
		}
		return nil, err
	}
	var entries []txListEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("decoding txlist: %w", err)
	}

	txs := make([]analysis.Transaction, 0, len(entries))
	for _, e := range entries {
		if !strings.EqualFold(e.To, addr.Hex()) {
			continue
		}
		input, err := hexutil.Decode(e.Input)
		if err != nil {
			log.WithFields(log.Fields{"tx": e.Hash, "input": e.Input}).Warn("Undecodable transaction input, treating as empty")
			input = nil
		}
		blockNumber, _ := strconv.ParseUint(e.BlockNumber, 10, 64)
		txs = append(txs, analysis.Transaction{
			Hash:        common.HexToHash(e.Hash),
			Input:       input,
			BlockNumber: blockNumber,
			IsError:     e.IsError == "1",
		})
		if len(txs) == limit {
			break
		}
	}
	return txs, nil
}

// ABI fetches the verified ABI of addr. Any failure, including an unverified
// contract, wraps ErrNoABI.
func (c *Client) ABI(ctx context.Context, addr common.Address) ([]signatures.Entry, error) {
	result, err := c.call(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getabi"},
		"address": {addr.Hex()},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoABI, err)
	}
	var abiJSON string
	if err := json.Unmarshal(result, &abiJSON); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoABI, err)
	}
	entries, err := signatures.ParseABI([]byte(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoABI, err)
	}
	return entries, nil
}
