// Package signatures resolves call input to the ABI function it dispatches to.
package signatures

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jsign/gas-profiler/analysis"
)

type EntryKind string

const (
	Function    EntryKind = "function"
	Event       EntryKind = "event"
	Constructor EntryKind = "constructor"
	Fallback    EntryKind = "fallback"
	Receive     EntryKind = "receive"
	Error       EntryKind = "error"
)

type Argument struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Components []Argument `json:"components,omitempty"`
	Indexed    bool       `json:"indexed,omitempty"`
}

type Entry struct {
	Type            EntryKind  `json:"type"`
	Name            string     `json:"name"`
	Inputs          []Argument `json:"inputs"`
	Outputs         []Argument `json:"outputs,omitempty"`
	StateMutability string     `json:"stateMutability,omitempty"`
}

// ParseABI decodes a JSON ABI document. Entries that do not decode are skipped;
// only a document that is not a JSON array is an error.
func ParseABI(data []byte) ([]Entry, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding abi: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal(r, &e); err != nil {
			continue
		}
		// Pre-0.6 compilers omit the type of function entries.
		if e.Type == "" {
			e.Type = Function
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Signature returns the canonical form name(type1,type2,...).
func Signature(e Entry) string {
	return e.Name + canonicalTuple(e.Inputs)
}

func canonicalTuple(args []Argument) string {
	types := make([]string, len(args))
	for i, arg := range args {
		types[i] = canonicalType(arg)
	}
	return "(" + strings.Join(types, ",") + ")"
}

func canonicalType(arg Argument) string {
	if !strings.HasPrefix(arg.Type, "tuple") {
		return arg.Type
	}
	// Keep array suffixes such as tuple[] or tuple[2][].
	return canonicalTuple(arg.Components) + strings.TrimPrefix(arg.Type, "tuple")
}

// Selector returns the 0x-prefixed first four bytes of keccak256(sig).
func Selector(sig string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(sig))[:4])
}

// Catalog maps selectors to function signatures. It is read-only once built.
type Catalog map[string]string

func NewCatalog(entries []Entry) Catalog {
	c := make(Catalog, len(entries))
	for _, e := range entries {
		if e.Type != Function {
			continue
		}
		sig := Signature(e)
		c[Selector(sig)] = sig
	}
	return c
}

// Resolve returns the signature invoked by a call with the given input.
// Empty input, short input and unknown selectors all resolve to
// analysis.FallbackSignature.
func (c Catalog) Resolve(input []byte) string {
	if len(input) == 0 {
		return analysis.FallbackSignature
	}
	if len(input) < 4 {
		return analysis.FallbackSignature
	}
	sig, ok := c[hexutil.Encode(input[:4])]
	if !ok {
		return analysis.FallbackSignature
	}
	return sig
}
