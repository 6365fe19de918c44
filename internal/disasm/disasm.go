// Package disasm decodes ARM64 and x86 machine code around patch sites.
package disasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"repatch/internal/binfmt"
)

var ErrUnsupportedArch = errors.New("disasm: unsupported architecture")

// Inst is a decoded instruction with address and raw bytes.
type Inst struct {
	Addr     uint64
	Raw      []byte
	Size     int
	Mnemonic string
	Operands string
	Text     string // full disassembly line
	Target   uint64 // direct branch target, 0 if none
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	Arch     string // binfmt.ArchARM64, ArchAMD64 or Arch386
	BaseAddr uint64 // address of the first byte in data
	MaxSteps int    // maximum instructions to decode; 0 = 10M
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Disassemble decodes instructions from a byte region up to MaxSteps or end
// of data. Undecodable bytes become .word (ARM64) or .byte (x86) entries.
func Disassemble(data []byte, opts Options) ([]Inst, error) {
	switch opts.Arch {
	case binfmt.ArchARM64:
		return disasmARM64(data, opts), nil
	case binfmt.ArchAMD64:
		return disasmX86(data, 64, opts), nil
	case binfmt.Arch386:
		return disasmX86(data, 32, opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedArch, opts.Arch)
}

func disasmARM64(data []byte, opts Options) []Inst {
	n := min(len(data)/4, opts.effectiveMax())
	result := make([]Inst, 0, n)
	for i := 0; i < n; i++ {
		off := i * 4
		raw := data[off : off+4]
		word := binary.LittleEndian.Uint32(raw)
		addr := opts.BaseAddr + uint64(off)

		in := Inst{Addr: addr, Raw: raw, Size: 4}
		inst, err := arm64asm.Decode(raw)
		if err != nil {
			in.Mnemonic = ".word"
			in.Operands = fmt.Sprintf("0x%08x", word)
			in.Text = ".word " + in.Operands
		} else {
			in.Text = inst.String()
			in.Mnemonic, in.Operands = split(in.Text)
			in.Target = branchTarget(word, addr)
		}
		result = append(result, in)
	}
	return result
}

func disasmX86(data []byte, mode int, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	var result []Inst
	for off := 0; off < len(data) && len(result) < maxSteps; {
		addr := opts.BaseAddr + uint64(off)
		inst, err := x86asm.Decode(data[off:], mode)
		if err != nil || inst.Len == 0 {
			b := data[off]
			result = append(result, Inst{
				Addr:     addr,
				Raw:      data[off : off+1],
				Size:     1,
				Mnemonic: ".byte",
				Operands: fmt.Sprintf("0x%02x", b),
				Text:     fmt.Sprintf(".byte 0x%02x", b),
			})
			off++
			continue
		}
		in := Inst{Addr: addr, Raw: data[off : off+inst.Len], Size: inst.Len}
		in.Text = strings.ToLower(x86asm.IntelSyntax(inst, addr, nil))
		in.Mnemonic, in.Operands = split(in.Text)
		for _, a := range inst.Args {
			if rel, ok := a.(x86asm.Rel); ok {
				in.Target = uint64(int64(addr) + int64(inst.Len) + int64(rel))
				break
			}
		}
		result = append(result, in)
		off += inst.Len
	}
	return result
}

func split(text string) (mnemonic, operands string) {
	parts := strings.SplitN(text, " ", 2)
	mnemonic = parts[0]
	if len(parts) > 1 {
		operands = parts[1]
	}
	return mnemonic, operands
}

// branchTarget decodes the direct target of an ARM64 B, BL, B.cond, CBZ,
// CBNZ, TBZ or TBNZ at pc. Returns 0 for anything else.
func branchTarget(raw uint32, pc uint64) uint64 {
	var imm uint32
	var bits int
	switch {
	case raw&0x7C000000 == 0x14000000: // B, BL
		imm, bits = raw&0x03FFFFFF, 26
	case raw&0xFF000010 == 0x54000000: // B.cond
		imm, bits = (raw>>5)&0x7FFFF, 19
	case raw&0x7E000000 == 0x34000000: // CBZ, CBNZ
		imm, bits = (raw>>5)&0x7FFFF, 19
	case raw&0x7E000000 == 0x36000000: // TBZ, TBNZ
		imm, bits = (raw>>5)&0x3FFF, 14
	default:
		return 0
	}
	return uint64(int64(pc) + int64(signExtend(imm, bits))*4)
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask)
	}
	return int32(val & mask)
}

// Region disassembles the instructions covering image[off:off+n]. ARM64
// regions are widened to whole instructions.
func Region(image []byte, off, n int, opts Options) ([]Inst, error) {
	if off < 0 || n < 0 || off+n > len(image) {
		return nil, fmt.Errorf("disasm: region [%d,%d) outside image of %d bytes", off, off+n, len(image))
	}
	start, end := off, off+n
	if opts.Arch == binfmt.ArchARM64 {
		start = off &^ 3
		end = min((end+3)&^3, len(image))
	}
	opts.BaseAddr += uint64(start)
	return Disassemble(image[start:end], opts)
}

// Format renders instructions as stable text output, one per line:
// <addr>  <hex bytes>  <disasm>  ; <comment>
func Format(insts []Inst, lookup SymbolLookup) string {
	var b strings.Builder
	for _, inst := range insts {
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		fmt.Fprintf(&b, "%-23s  ", hexBytes(inst.Raw))
		b.WriteString(inst.Text)
		switch {
		case lookup != nil && hasName(lookup, inst.Addr):
			name, _ := lookup(inst.Addr)
			fmt.Fprintf(&b, "  ; <%s>", name)
		case inst.Target != 0:
			if name, ok := lookupName(lookup, inst.Target); ok {
				fmt.Fprintf(&b, "  ; -> <%s>", name)
			} else {
				fmt.Fprintf(&b, "  ; -> 0x%x", inst.Target)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func hexBytes(raw []byte) string {
	parts := make([]string, len(raw))
	for i, c := range raw {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}

func hasName(lookup SymbolLookup, addr uint64) bool {
	_, ok := lookup(addr)
	return ok
}

func lookupName(lookup SymbolLookup, addr uint64) (string, bool) {
	if lookup == nil {
		return "", false
	}
	return lookup(addr)
}

// MapLookup returns a SymbolLookup over a fixed address table.
func MapLookup(names map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := names[addr]; ok {
			return name, true
		}
		return "", false
	}
}
