// Package compiler recovers the runtime source map of a verified contract by
// recompiling its sources with solc.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	log "github.com/sirupsen/logrus"

	"github.com/jsign/gas-profiler/analysis"
	"github.com/jsign/gas-profiler/analysis/sourcemap"
)

// Unlinked library references in solc output are 40 character placeholders.
var linkPlaceholder = regexp.MustCompile(`__.{36}__`)

type Config struct {
	SolcPath string
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		SolcPath: "solc",
		Timeout:  2 * time.Minute,
	}
}

type Solc struct {
	cfg Config
}

func New(cfg Config) *Solc {
	return &Solc{cfg: cfg}
}

// AttachCompiledSourceMap compiles meta's sources and returns a copy of meta
// with SourceMap and SourceList set. The compiled runtime code must match
// meta.Bytecode instruction by instruction, otherwise the source map would
// point at the wrong lines.
func (s *Solc) AttachCompiledSourceMap(ctx context.Context, meta *analysis.ContractMetadata) (*analysis.ContractMetadata, error) {
	decl, err := sourcemap.DeclaringSource(meta.Sources, meta.ContractName)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "gas-profiler-solc-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	files := make([]string, 0, len(meta.Sources))
	for _, src := range meta.Sources {
		name := filepath.Clean(src.Name)
		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return nil, fmt.Errorf("refusing source path %q", src.Name)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(src.Content), 0o644); err != nil {
			return nil, err
		}
		files = append(files, name)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	args := []string{"--combined-json", "bin-runtime,srcmap-runtime"}
	if meta.Optimized {
		args = append(args, "--optimize", "--optimize-runs", strconv.Itoa(max(meta.Runs, 1)))
	}
	args = append(args, files...)
	cmd := exec.CommandContext(ctx, s.cfg.SolcPath, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.WithFields(log.Fields{"contract": meta.ContractName, "compiler": meta.CompilerVersion}).Debug("Compiling sources")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running %s: %w: %s", s.cfg.SolcPath, err, strings.TrimSpace(stderr.String()))
	}

	out, err := ParseCombinedJSON(stdout.Bytes(), filepath.Clean(decl.Name), meta.ContractName)
	if err != nil {
		return nil, err
	}
	if err := CheckRuntime(out, meta); err != nil {
		return nil, err
	}
	compiled := *meta
	compiled.SourceMap = out.SourceMap
	compiled.SourceList = out.SourceList
	return &compiled, nil
}

type Output struct {
	RuntimeBytecode string
	SourceMap       string
	SourceList      []string
	Version         string
}

// CheckRuntime fails when the compiled runtime code does not execute the same
// instructions as the deployed code in meta.
func CheckRuntime(out *Output, meta *analysis.ContractMetadata) error {
	linked := linkPlaceholder.ReplaceAllString(out.RuntimeBytecode, strings.Repeat("0", 40))
	runtime, err := hexutil.Decode("0x" + strings.TrimPrefix(linked, "0x"))
	if err != nil {
		return fmt.Errorf("decoding compiled runtime code: %w", err)
	}
	if !sourcemap.SameInstructions(runtime, meta.Bytecode) {
		return fmt.Errorf("compiled runtime code does not match deployed code (solc %q, contract compiled with %q)", out.Version, meta.CompilerVersion)
	}
	return nil
}

type combinedJSON struct {
	Contracts map[string]struct {
		BinRuntime    string `json:"bin-runtime"`
		SrcmapRuntime string `json:"srcmap-runtime"`
	} `json:"contracts"`
	SourceList []string `json:"sourceList"`
	Version    string   `json:"version"`
}

// ParseCombinedJSON picks contractName out of solc --combined-json output.
// Contracts are keyed "path:Name"; older compilers use the bare name. When
// several files declare contractName the one in sourceFile wins, then the
// first key in sorted order.
func ParseCombinedJSON(data []byte, sourceFile, contractName string) (*Output, error) {
	var cj combinedJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("decoding solc output: %w", err)
	}
	var keys []string
	for key := range cj.Contracts {
		if key == contractName || strings.HasSuffix(key, ":"+contractName) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("contract %q not found in solc output", contractName)
	}
	sort.Strings(keys)
	key := keys[0]
	for _, k := range keys {
		if k == sourceFile+":"+contractName {
			key = k
			break
		}
	}
	c := cj.Contracts[key]
	return &Output{
		RuntimeBytecode: c.BinRuntime,
		SourceMap:       c.SrcmapRuntime,
		SourceList:      cj.SourceList,
		Version:         cj.Version,
	}, nil
}
