package node

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/elastic/go-freelru"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/xxh3"

	"github.com/jsign/gas-profiler/analysis"
)

type cachedTrace struct {
	Steps []analysis.ExecutionStep
}

// traceCache keeps recently used traces in memory and, when dir is set,
// persists every trace as a gob file named after the transaction hash.
type traceCache struct {
	lru *freelru.SyncedLRU[common.Hash, []analysis.ExecutionStep]
	dir string
}

func hashTxHash(h common.Hash) uint32 {
	return uint32(xxh3.Hash(h[:]))
}

func newTraceCache(size uint32, dir string) (*traceCache, error) {
	if size == 0 {
		size = 1
	}
	lru, err := freelru.NewSynced[common.Hash, []analysis.ExecutionStep](size, hashTxHash)
	if err != nil {
		return nil, fmt.Errorf("creating trace lru: %w", err)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating trace cache dir: %w", err)
		}
	}
	return &traceCache{lru: lru, dir: dir}, nil
}

func (c *traceCache) path(h common.Hash) string {
	return filepath.Join(c.dir, h.Hex()+".gob")
}

func (c *traceCache) Get(h common.Hash) ([]analysis.ExecutionStep, bool) {
	if steps, ok := c.lru.Get(h); ok {
		return steps, true
	}
	if c.dir == "" {
		return nil, false
	}
	traceBytes, err := os.ReadFile(c.path(h))
	if err != nil {
		return nil, false
	}
	var ct cachedTrace
	if err := gob.NewDecoder(bytes.NewReader(traceBytes)).Decode(&ct); err != nil {
		return nil, false
	}
	c.lru.Add(h, ct.Steps)
	return ct.Steps, true
}

func (c *traceCache) Add(h common.Hash, steps []analysis.ExecutionStep) error {
	c.lru.Add(h, steps)
	if c.dir == "" {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cachedTrace{Steps: steps}); err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	f, err := os.CreateTemp(c.dir, "trace-*")
	if err != nil {
		return err
	}
	_, werr := f.Write(buf.Bytes())
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("writing trace: %w", err)
	}
	return os.Rename(f.Name(), c.path(h))
}
