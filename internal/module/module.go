// Package module loads and writes patchable binary modules.
//
// On disk a module is its native image optionally followed by a metadata
// stream and a footer:
//
//	image | stream | uint32 LE stream length | "RPMETA01"
//
// The stream carries custom attributes and the type-level object model.
// Images written without attributes or metadata get no stream at all.
package module

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"repatch/internal/binfmt"
	"repatch/internal/metadata"
)

// PatchedAttribute is the custom attribute stamped on patched modules.
const PatchedAttribute = "repatch.Patched"

var (
	ErrCorruptStream = errors.New("module: corrupt metadata stream")
	ErrEmpty         = errors.New("module: empty file")
)

var magic = []byte("RPMETA01")

const footerSize = 4 + 8

// Module is a loaded binary module.
type Module struct {
	Name       string
	Path       string
	Format     binfmt.Format
	Arch       string
	Image      []byte
	Attributes map[string]bool
	Metadata   *metadata.Module
}

type streamJSON struct {
	Attributes map[string]bool `json:"attributes,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// Load reads and parses the module at path. A file without a metadata
// stream must be a recognisable ELF or PE image.
func Load(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("module: read: %w", err)
	}
	m, err := Parse(filepath.Base(path), data)
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// Parse builds a Module from file contents.
func Parse(name string, data []byte) (*Module, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	m := &Module{Name: name, Image: data, Attributes: make(map[string]bool)}

	hasStream := false
	if n := len(data); n >= footerSize && bytes.Equal(data[n-len(magic):], magic) {
		size := int(binary.LittleEndian.Uint32(data[n-footerSize:]))
		start := n - footerSize - size
		if size < 0 || start < 0 {
			return nil, fmt.Errorf("%w: length %d exceeds file size", ErrCorruptStream, size)
		}
		if err := m.decodeStream(data[start : n-footerSize]); err != nil {
			return nil, err
		}
		m.Image = data[:start]
		hasStream = true
	}

	info, err := binfmt.Probe(m.Image)
	switch {
	case err == nil:
		m.Format, m.Arch = info.Format, info.Arch
	case hasStream:
		m.Format = binfmt.FormatRaw
	default:
		return nil, fmt.Errorf("module: %s: %w", name, err)
	}
	return m, nil
}

func (m *Module) decodeStream(b []byte) error {
	var s streamJSON
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptStream, err)
	}
	for k, v := range s.Attributes {
		m.Attributes[k] = v
	}
	if len(s.Metadata) > 0 {
		md, err := metadata.Decode(s.Metadata)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		m.Metadata = md
	}
	return nil
}

// Bytes serialises m.
func (m *Module) Bytes() ([]byte, error) {
	if len(m.Attributes) == 0 && m.Metadata == nil {
		return bytes.Clone(m.Image), nil
	}
	s := streamJSON{Attributes: m.Attributes}
	if m.Metadata != nil {
		md, err := metadata.Encode(m.Metadata)
		if err != nil {
			return nil, err
		}
		s.Metadata = md
	}
	stream, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("module: encode stream: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(m.Image) + len(stream) + footerSize)
	buf.Write(m.Image)
	buf.Write(stream)
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(stream)))
	buf.Write(size[:])
	buf.Write(magic)
	return buf.Bytes(), nil
}

// Write serialises m to path, creating parent directories.
func (m *Module) Write(path string) error {
	data, err := m.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("module: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("module: write: %w", err)
	}
	return nil
}

// HasPatchedMark reports whether m carries the patched attribute.
func (m *Module) HasPatchedMark() bool {
	return m.Attributes[PatchedAttribute]
}

// SetPatchedMark stamps the patched attribute. It reports whether the
// attribute was newly added.
func (m *Module) SetPatchedMark() bool {
	if m.HasPatchedMark() {
		return false
	}
	m.SetAttribute(PatchedAttribute, true)
	return true
}

// SetAttribute sets a custom attribute.
func (m *Module) SetAttribute(name string, value bool) {
	if m.Attributes == nil {
		m.Attributes = make(map[string]bool)
	}
	m.Attributes[name] = value
}
