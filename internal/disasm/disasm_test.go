package disasm

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"repatch/internal/binfmt"
)

func arm64Words(words ...uint32) []byte {
	data := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data
}

func TestDisassembleNOP(t *testing.T) {
	// ARM64 NOP = 0xd503201f
	data := arm64Words(0xd503201f, 0xd503201f)

	insts, err := Disassemble(data, Options{Arch: binfmt.ArchARM64, BaseAddr: 0x1000})
	if err != nil {
		t.Fatal(err)
	}
	if len(insts) != 2 {
		t.Fatalf("got %d instructions, want 2", len(insts))
	}
	if insts[0].Addr != 0x1000 {
		t.Errorf("addr[0] = 0x%x, want 0x1000", insts[0].Addr)
	}
	if insts[1].Addr != 0x1004 {
		t.Errorf("addr[1] = 0x%x, want 0x1004", insts[1].Addr)
	}
	if !strings.Contains(strings.ToLower(insts[0].Text), "nop") {
		t.Errorf("expected NOP, got: %s", insts[0].Text)
	}
}

func TestDisassembleARM64Branch(t *testing.T) {
	// B #+8
	insts, err := Disassemble(arm64Words(0x14000002), Options{Arch: binfmt.ArchARM64, BaseAddr: 0x1000})
	if err != nil {
		t.Fatal(err)
	}
	if insts[0].Target != 0x1008 {
		t.Errorf("target = 0x%x, want 0x1008", insts[0].Target)
	}

	// B.EQ #-4
	insts, _ = Disassemble(arm64Words(0x54ffffe0), Options{Arch: binfmt.ArchARM64, BaseAddr: 0x1000})
	if insts[0].Target != 0xffc {
		t.Errorf("b.eq target = 0x%x, want 0xffc", insts[0].Target)
	}
}

func TestDisassembleMaxSteps(t *testing.T) {
	// 100 NOPs but max 10.
	words := make([]uint32, 100)
	for i := range words {
		words[i] = 0xd503201f
	}

	insts, _ := Disassemble(arm64Words(words...), Options{Arch: binfmt.ArchARM64, MaxSteps: 10})
	if len(insts) != 10 {
		t.Fatalf("got %d instructions, want 10", len(insts))
	}
}

func TestDisassembleEmpty(t *testing.T) {
	insts, _ := Disassemble(nil, Options{Arch: binfmt.ArchARM64})
	if len(insts) != 0 {
		t.Fatalf("got %d instructions for nil data", len(insts))
	}
}

func TestDisassembleShort(t *testing.T) {
	// Less than 4 bytes.
	insts, _ := Disassemble([]byte{0x01, 0x02}, Options{Arch: binfmt.ArchARM64})
	if len(insts) != 0 {
		t.Fatalf("got %d instructions for 2 bytes", len(insts))
	}
}

func TestDisassembleX86(t *testing.T) {
	// nop; jmp +2; ret
	data := []byte{0x90, 0xeb, 0x02, 0xc3}
	insts, err := Disassemble(data, Options{Arch: binfmt.ArchAMD64, BaseAddr: 0x2000})
	if err != nil {
		t.Fatal(err)
	}
	if len(insts) != 3 {
		t.Fatalf("got %d instructions, want 3", len(insts))
	}
	if insts[0].Mnemonic != "nop" {
		t.Errorf("mnemonic[0] = %q, want nop", insts[0].Mnemonic)
	}
	if insts[1].Size != 2 || insts[1].Addr != 0x2001 {
		t.Errorf("inst[1] = size %d addr 0x%x, want size 2 addr 0x2001", insts[1].Size, insts[1].Addr)
	}
	if insts[1].Target != 0x2005 {
		t.Errorf("jmp target = 0x%x, want 0x2005", insts[1].Target)
	}
	if insts[2].Mnemonic != "ret" {
		t.Errorf("mnemonic[2] = %q, want ret", insts[2].Mnemonic)
	}
}

func TestDisassembleUnsupportedArch(t *testing.T) {
	_, err := Disassemble([]byte{0}, Options{Arch: "mips"})
	if !errors.Is(err, ErrUnsupportedArch) {
		t.Fatalf("err = %v, want ErrUnsupportedArch", err)
	}
}

func TestRegionAlignsARM64(t *testing.T) {
	image := arm64Words(0xd503201f, 0xd503201f, 0xd503201f)
	insts, err := Region(image, 5, 2, Options{Arch: binfmt.ArchARM64})
	if err != nil {
		t.Fatal(err)
	}
	if len(insts) != 1 || insts[0].Addr != 4 {
		t.Fatalf("got %+v, want one instruction at 4", insts)
	}

	if _, err := Region(image, 10, 4, Options{Arch: binfmt.ArchARM64}); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestFormat(t *testing.T) {
	insts, _ := Disassemble(arm64Words(0xd503201f, 0x14000002), Options{Arch: binfmt.ArchARM64, BaseAddr: 0x1000})

	syms := map[uint64]string{0x1000: "nop_func"}
	text := Format(insts, MapLookup(syms))
	if !strings.Contains(text, "0x00001000") {
		t.Errorf("missing address in output: %s", text)
	}
	if !strings.Contains(text, "<nop_func>") {
		t.Errorf("missing symbol in output: %s", text)
	}
	if !strings.Contains(text, "-> 0x100c") {
		t.Errorf("missing branch target in output: %s", text)
	}
	if !strings.Contains(text, "1f 20 03 d5") {
		t.Errorf("missing raw bytes in output: %s", text)
	}
}

func TestFormatDeterministic(t *testing.T) {
	insts, _ := Disassemble(arm64Words(0xd503201f, 0xd503201f, 0xd503201f), Options{Arch: binfmt.ArchARM64, BaseAddr: 0x2000})
	out1 := Format(insts, nil)
	out2 := Format(insts, nil)
	if out1 != out2 {
		t.Error("non-deterministic output")
	}
}
