// Package binfmt identifies native module images and maps symbols to file offsets.
package binfmt

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"errors"
	"fmt"
)

var (
	ErrUnknownFormat = errors.New("binfmt: not an ELF or PE image")
	ErrNoSymbol      = errors.New("binfmt: symbol not found")
	ErrNoSegment     = errors.New("binfmt: no segment covers address")
)

// Format is the container format of an image.
type Format string

const (
	FormatELF Format = "elf"
	FormatPE  Format = "pe"
	FormatRaw Format = "raw"
)

// Arch names used by the disassembler.
const (
	ArchARM64 = "arm64"
	ArchAMD64 = "amd64"
	Arch386   = "386"
)

// Info describes a probed image.
type Info struct {
	Format Format
	Arch   string // empty when the machine type is not one we decode
	Bits   int
}

// Probe identifies the image format and machine.
func Probe(image []byte) (Info, error) {
	if ef, err := elf.NewFile(bytes.NewReader(image)); err == nil {
		defer ef.Close()
		info := Info{Format: FormatELF, Bits: 32}
		if ef.Class == elf.ELFCLASS64 {
			info.Bits = 64
		}
		switch ef.Machine {
		case elf.EM_AARCH64:
			info.Arch = ArchARM64
		case elf.EM_X86_64:
			info.Arch = ArchAMD64
		case elf.EM_386:
			info.Arch = Arch386
		}
		return info, nil
	}
	if pf, err := pe.NewFile(bytes.NewReader(image)); err == nil {
		defer pf.Close()
		info := Info{Format: FormatPE, Bits: 32}
		switch pf.FileHeader.Machine {
		case pe.IMAGE_FILE_MACHINE_AMD64:
			info.Arch, info.Bits = ArchAMD64, 64
		case pe.IMAGE_FILE_MACHINE_ARM64:
			info.Arch, info.Bits = ArchARM64, 64
		case pe.IMAGE_FILE_MACHINE_I386:
			info.Arch = Arch386
		}
		return info, nil
	}
	return Info{}, ErrUnknownFormat
}

// SymbolOffset returns the file offset of a named symbol. ELF images are
// searched through dynamic then static symbols and the address is mapped
// through PT_LOAD segments; PE images through the COFF symbol table and
// section headers.
func SymbolOffset(image []byte, name string) (int64, error) {
	info, err := Probe(image)
	if err != nil {
		return 0, err
	}
	switch info.Format {
	case FormatELF:
		return elfSymbolOffset(image, name)
	case FormatPE:
		return peSymbolOffset(image, name)
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

func elfSymbolOffset(image []byte, name string) (int64, error) {
	ef, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, fmt.Errorf("binfmt: elf: %w", err)
	}
	defer ef.Close()

	var va uint64
	found := false
	for _, lookup := range []func() ([]elf.Symbol, error){ef.DynamicSymbols, ef.Symbols} {
		syms, err := lookup()
		if err != nil {
			continue
		}
		for _, s := range syms {
			if s.Name == name {
				va, found = s.Value, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
	}

	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			off := va - p.Vaddr + p.Off
			if off >= uint64(len(image)) {
				return 0, fmt.Errorf("binfmt: VA 0x%x maps to offset 0x%x beyond image size 0x%x", va, off, len(image))
			}
			return int64(off), nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

func peSymbolOffset(image []byte, name string) (int64, error) {
	pf, err := pe.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, fmt.Errorf("binfmt: pe: %w", err)
	}
	defer pf.Close()

	for _, s := range pf.Symbols {
		if s.Name != name || s.SectionNumber <= 0 || int(s.SectionNumber) > len(pf.Sections) {
			continue
		}
		sec := pf.Sections[s.SectionNumber-1]
		if s.Value >= sec.Size {
			return 0, fmt.Errorf("%w: %s at 0x%x", ErrNoSegment, name, s.Value)
		}
		return int64(sec.Offset) + int64(s.Value), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}
