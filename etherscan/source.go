package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jsign/gas-profiler/analysis"
)

type sourceCodeEntry struct {
	SourceCode       string `json:"SourceCode"`
	ContractName     string `json:"ContractName"`
	CompilerVersion  string `json:"CompilerVersion"`
	OptimizationUsed string `json:"OptimizationUsed"`
	Runs             string `json:"Runs"`
}

// SourceCode returns the verified source of addr. Bytecode and source map are
// left for the node and the compiler to fill in.
func (c *Client) SourceCode(ctx context.Context, addr common.Address) (*analysis.ContractInfo, error) {
	result, err := c.call(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {addr.Hex()},
	})
	if err != nil {
		return nil, err
	}
	var entries []sourceCodeEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("decoding getsourcecode: %w", err)
	}
	if len(entries) == 0 || entries[0].SourceCode == "" {
		return nil, fmt.Errorf("no verified source for %s", addr.Hex())
	}
	e := entries[0]

	sources, err := SplitSources(e.SourceCode, e.ContractName)
	if err != nil {
		return nil, err
	}
	runs, _ := strconv.Atoi(e.Runs)
	return &analysis.ContractInfo{
		Address:         addr,
		ContractName:    e.ContractName,
		CompilerVersion: e.CompilerVersion,
		Optimized:       e.OptimizationUsed == "1",
		Runs:            runs,
		Sources:         sources,
	}, nil
}

type sourceContent struct {
	Content string `json:"content"`
}

// SplitSources understands the three layouts Etherscan uses for SourceCode:
// a plain single file, a JSON object of files, and a standard-json input
// wrapped in an extra pair of braces.
func SplitSources(sourceCode, contractName string) ([]analysis.SourceFile, error) {
	trimmed := strings.TrimSpace(sourceCode)
	if !strings.HasPrefix(trimmed, "{") {
		return []analysis.SourceFile{{Name: contractName + ".sol", Content: sourceCode}}, nil
	}

	var files map[string]sourceContent
	if strings.HasPrefix(trimmed, "{{") {
		var input struct {
			Sources map[string]sourceContent `json:"sources"`
		}
		if err := json.Unmarshal([]byte(trimmed[1:len(trimmed)-1]), &input); err != nil {
			return nil, fmt.Errorf("decoding standard-json sources: %w", err)
		}
		files = input.Sources
	} else if err := json.Unmarshal([]byte(trimmed), &files); err != nil {
		return nil, fmt.Errorf("decoding multi-file sources: %w", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	sources := make([]analysis.SourceFile, 0, len(names))
	for _, name := range names {
		sources = append(sources, analysis.SourceFile{Name: name, Content: files[name].Content})
	}
	return sources, nil
}
