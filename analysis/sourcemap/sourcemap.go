package sourcemap

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Location is one decoded entry of a solc source map. Entry i describes the
// i-th instruction of the bytecode, not the byte at offset i.
type Location struct {
	Offset        int
	Length        int
	File          int
	Jump          byte
	ModifierDepth int
}

// Decode expands a solc compressed source map ("s:l:f:j:m;..."). Empty fields
// inherit the value of the previous entry.
func Decode(srcmap string) ([]Location, error) {
	if srcmap == "" {
		return nil, nil
	}
	entries := strings.Split(srcmap, ";")
	locations := make([]Location, 0, len(entries))

	var prev Location
	for i, entry := range entries {
		loc := prev
		fields := strings.Split(entry, ":")
		if len(fields) > 5 {
			return nil, fmt.Errorf("entry %d: too many fields in %q", i, entry)
		}
		for j, field := range fields {
			if field == "" {
				continue
			}
			if j == 3 {
				if len(field) != 1 {
					return nil, fmt.Errorf("entry %d: invalid jump type %q", i, field)
				}
				loc.Jump = field[0]
				continue
			}
			v, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			switch j {
			case 0:
				loc.Offset = v
			case 1:
				loc.Length = v
			case 2:
				loc.File = v
			case 4:
				loc.ModifierDepth = v
			}
		}
		locations = append(locations, loc)
		prev = loc
	}
	return locations, nil
}

// InstructionIndex maps every instruction start in code to its ordinal.
// PUSH immediates are not instructions and get no entry.
func InstructionIndex(code []byte) map[uint64]int {
	index := make(map[uint64]int, len(code))
	var n int
	for i := 0; i < len(code); i += instructionSize(code[i]) {
		index[uint64(i)] = n
		n++
	}
	return index
}

func instructionSize(b byte) int {
	op := vm.OpCode(b)
	if op < vm.PUSH1 || op > vm.PUSH32 {
		return 1
	}
	return int(op-vm.PUSH1) + 2
}

// StripMetadata drops the CBOR metadata solc appends to runtime code. The
// last two bytes hold the big-endian length of the CBOR map before them.
// Code without a recognizable trailer is returned as is.
func StripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	start := len(code) - 2 - n
	if n == 0 || start < 0 || code[start]&0xe0 != 0xa0 {
		return code
	}
	return code[:start]
}

// SameInstructions reports whether a and b run the same opcodes in the same
// order, ignoring metadata trailers. PUSH immediates are not compared since
// immutables and linked library addresses are only known after deployment.
func SameInstructions(a, b []byte) bool {
	a, b = StripMetadata(a), StripMetadata(b)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] != b[j] {
			return false
		}
		size := instructionSize(a[i])
		i += size
		j += size
	}
	return i >= len(a) && j >= len(b)
}

// LineIndex resolves byte offsets of one source file to 1-based line numbers.
type LineIndex struct {
	starts []int
	size   int
}

func NewLineIndex(content string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts, size: len(content)}
}

func (li *LineIndex) Line(offset int) (int, bool) {
	if offset < 0 || offset >= li.size {
		return 0, false
	}
	return sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }), true
}
