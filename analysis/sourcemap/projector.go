package sourcemap

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jsign/gas-profiler/analysis"
)

var errNoBytecode = errors.New("contract metadata has no bytecode")

// Projector attributes per-PC gas to lines of the file declaring the
// contract. It is read-only after construction and safe for concurrent use.
type Projector struct {
	instructions map[uint64]int
	locations    []Location
	file         int
	lines        *LineIndex
}

func NewProjector(meta *analysis.ContractMetadata) (*Projector, error) {
	if len(meta.Bytecode) == 0 {
		return nil, errNoBytecode
	}
	locations, err := Decode(meta.SourceMap)
	if err != nil {
		return nil, fmt.Errorf("decoding source map: %w", err)
	}
	file, src, err := mainSource(meta)
	if err != nil {
		return nil, err
	}
	return &Projector{
		instructions: InstructionIndex(meta.Bytecode),
		locations:    locations,
		file:         file,
		lines:        NewLineIndex(src.Content),
	}, nil
}

// Line returns the source line executed at pc, if any.
func (p *Projector) Line(pc uint64) (int, bool) {
	idx, ok := p.instructions[pc]
	if !ok || idx >= len(p.locations) {
		return 0, false
	}
	loc := p.locations[idx]
	if loc.File != p.file {
		return 0, false
	}
	return p.lines.Line(loc.Offset)
}

// Project sums gas per line. PCs without a line in the contract's source
// file are dropped.
func (p *Projector) Project(costs analysis.GasCostByPc) analysis.GasCostByLine {
	byLine := make(analysis.GasCostByLine)
	for pc, gas := range costs {
		line, ok := p.Line(pc)
		if !ok {
			continue
		}
		byLine[line] += gas
	}
	return byLine
}

func (p *Projector) ProjectAll(costs analysis.GasCostByPcBySignature) analysis.GasCostByLineBySignature {
	out := make(analysis.GasCostByLineBySignature, len(costs))
	for sig, byPc := range costs {
		out[sig] = p.Project(byPc)
	}
	return out
}

// mainSource picks the file that declares the contract and returns its index
// in the compiler's source list.
func mainSource(meta *analysis.ContractMetadata) (int, analysis.SourceFile, error) {
	src, err := DeclaringSource(meta.Sources, meta.ContractName)
	if err != nil {
		return 0, analysis.SourceFile{}, err
	}
	if len(meta.SourceList) == 0 {
		return 0, src, nil
	}
	for i, name := range meta.SourceList {
		if name == src.Name {
			return i, src, nil
		}
	}
	return 0, analysis.SourceFile{}, fmt.Errorf("source %q missing from compiler source list", src.Name)
}

// DeclaringSource returns the file among sources that declares contractName.
// A single source is assumed to be it.
func DeclaringSource(sources []analysis.SourceFile, contractName string) (analysis.SourceFile, error) {
	switch len(sources) {
	case 0:
		return analysis.SourceFile{}, errors.New("contract metadata has no sources")
	case 1:
		return sources[0], nil
	}
	decl := regexp.MustCompile(`\b(contract|library|interface)\s+` + regexp.QuoteMeta(contractName) + `\b`)
	for _, s := range sources {
		if decl.MatchString(s.Content) {
			return s, nil
		}
	}
	return analysis.SourceFile{}, fmt.Errorf("no source declares contract %q", contractName)
}
