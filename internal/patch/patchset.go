package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"repatch/internal/binfmt"
	"repatch/internal/disasm"
	"repatch/internal/module"
)

// A patch set file lists transforms, each a sequence of steps:
//
//	transforms:
//	  - name: SkipCheck
//	    modules: ["App*.dll"]
//	    steps:
//	      - find: "74 ?? 48 8b"
//	        replace: "eb ?? 48 8b"
//	      - at: {symbol: CheckLicense, rel: 4}
//	        expect: "31 c0"
//	        replace: "b0 01"
//	      - attribute: Vendor.Reviewed
type setFile struct {
	Description string      `yaml:"description,omitempty"`
	Transforms  []yaml.Node `yaml:"transforms"`
}

type transformSpec struct {
	Name    string      `yaml:"name"`
	After   []string    `yaml:"after,omitempty"`
	Modules []string    `yaml:"modules,omitempty"`
	Steps   []yaml.Node `yaml:"steps"`
}

type stepSpec struct {
	Find      string    `yaml:"find,omitempty"`
	Count     int       `yaml:"count,omitempty"`
	At        *Location `yaml:"at,omitempty,flow"`
	Expect    string    `yaml:"expect,omitempty"`
	Replace   string    `yaml:"replace,omitempty"`
	Attribute string    `yaml:"attribute,omitempty"`
}

// Location is a file offset given directly or as a symbol plus a relative
// adjustment. It may be written inline as an integer or a symbol name.
type Location struct {
	Offset *int64 `yaml:"offset,omitempty"`
	Symbol string `yaml:"symbol,omitempty"`
	Rel    int64  `yaml:"rel,omitempty"`
}

func (l *Location) UnmarshalYAML(n *yaml.Node) error {
	*l = Location{}
	if n.Kind == yaml.ScalarNode {
		if off, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			l.Offset = &off
			return nil
		}
		l.Symbol = n.Value
		return nil
	}
	if err := checkKeys(n, "offset", "symbol", "rel"); err != nil {
		return err
	}
	type locationData Location
	var obj locationData
	if err := n.Decode(&obj); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*l = Location(obj)
	if (l.Offset == nil) == (l.Symbol == "") {
		return fmt.Errorf("line %d: location needs exactly one of offset or symbol", n.Line)
	}
	return nil
}

func (l Location) resolve(image []byte) (int64, error) {
	if l.Offset != nil {
		return *l.Offset + l.Rel, nil
	}
	off, err := binfmt.SymbolOffset(image, l.Symbol)
	if err != nil {
		return 0, err
	}
	return off + l.Rel, nil
}

func (l Location) String() string {
	if l.Offset != nil {
		return fmt.Sprintf("0x%x%+d", *l.Offset, l.Rel)
	}
	return fmt.Sprintf("%s%+d", l.Symbol, l.Rel)
}

// decodeStrict decodes the mapping n into v, rejecting keys not in allowed.
func decodeStrict(n *yaml.Node, v any, allowed ...string) error {
	if err := checkKeys(n, allowed...); err != nil {
		return err
	}
	return n.Decode(v)
}

func checkKeys(n *yaml.Node, allowed ...string) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i]
		if !slices.Contains(allowed, k.Value) {
			return fmt.Errorf("line %d: unknown field %q", k.Line, k.Value)
		}
	}
	return nil
}

// LoadSet reads the patch set at path.
func LoadSet(path string, log logrus.FieldLogger) ([]Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("patch: read set: %w", err)
	}
	ts, err := ParseSet(data, log)
	if err != nil {
		return nil, fmt.Errorf("patch: %s: %w", path, err)
	}
	return ts, nil
}

// ParseSet turns patch set YAML into transforms in file order.
func ParseSet(data []byte, log logrus.FieldLogger) ([]Transform, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f setFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var out []Transform
	for i := range f.Transforms {
		n := &f.Transforms[i]
		var ts transformSpec
		if err := decodeStrict(n, &ts, "name", "after", "modules", "steps"); err != nil {
			return nil, err
		}
		if ts.Name == "" {
			return nil, fmt.Errorf("line %d: transform without a name", n.Line)
		}
		for _, g := range ts.Modules {
			if _, err := path.Match(g, ""); err != nil {
				return nil, fmt.Errorf("line %d: modules pattern %q: %w", n.Line, g, err)
			}
		}
		if len(ts.Steps) == 0 {
			return nil, fmt.Errorf("line %d: transform %s has no steps", n.Line, ts.Name)
		}

		var steps []step
		for j := range ts.Steps {
			sn := &ts.Steps[j]
			var ss stepSpec
			if err := decodeStrict(sn, &ss, "find", "count", "at", "expect", "replace", "attribute"); err != nil {
				return nil, err
			}
			s, err := buildStep(ss)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", sn.Line, err)
			}
			steps = append(steps, s)
		}
		out = append(out, Transform{
			Name:  ts.Name,
			After: ts.After,
			Apply: applySteps(ts.Modules, steps, log.WithField("transform", ts.Name)),
		})
	}
	return out, nil
}

// step applies one instruction and reports whether it changed the module.
type step func(m *module.Module, log logrus.FieldLogger) (bool, error)

func buildStep(s stepSpec) (step, error) {
	kinds := 0
	if s.Find != "" {
		kinds++
	}
	if s.At != nil {
		kinds++
	}
	if s.Attribute != "" {
		kinds++
	}
	if kinds != 1 {
		return nil, errors.New("step needs exactly one of find, at or attribute")
	}

	switch {
	case s.Attribute != "":
		if s.Replace != "" || s.Expect != "" || s.Count != 0 {
			return nil, errors.New("attribute step takes no other fields")
		}
		return attributeStep(s.Attribute), nil
	case s.Find != "":
		if s.Expect != "" {
			return nil, errors.New("find step takes replace, not expect")
		}
		find, err := ParsePattern(s.Find)
		if err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
		repl, err := ParsePattern(s.Replace)
		if err != nil {
			return nil, fmt.Errorf("replace: %w", err)
		}
		if len(find) == 0 {
			return nil, errors.New("find pattern is empty")
		}
		if len(repl) == 0 {
			return nil, errors.New("find step needs replace")
		}
		if len(find) != len(repl) {
			return nil, fmt.Errorf("find is %d bytes but replace is %d", len(find), len(repl))
		}
		if s.Count < 0 {
			return nil, fmt.Errorf("count %d is negative", s.Count)
		}
		return findReplaceStep(find, repl, s.Count), nil
	default:
		if s.Count != 0 {
			return nil, errors.New("at step takes no count")
		}
		repl, err := ParsePattern(s.Replace)
		if err != nil {
			return nil, fmt.Errorf("replace: %w", err)
		}
		if len(repl) == 0 {
			return nil, errors.New("at step needs replace")
		}
		var expect Pattern
		if s.Expect != "" {
			if expect, err = ParsePattern(s.Expect); err != nil {
				return nil, fmt.Errorf("expect: %w", err)
			}
			if len(expect) != len(repl) {
				return nil, fmt.Errorf("expect is %d bytes but replace is %d", len(expect), len(repl))
			}
		}
		return atStep(*s.At, expect, repl), nil
	}
}

func applySteps(globs []string, steps []step, log logrus.FieldLogger) func(*module.Module) (bool, error) {
	return func(m *module.Module) (bool, error) {
		if !matchModule(globs, m.Name) {
			return false, nil
		}
		changed := false
		for i, s := range steps {
			c, err := s(m, log.WithField("module", m.Name))
			if err != nil {
				return false, fmt.Errorf("step %d: %w", i+1, err)
			}
			changed = changed || c
		}
		return changed, nil
	}
}

func matchModule(globs []string, name string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, _ := path.Match(g, name); ok {
			return true
		}
	}
	return false
}

func attributeStep(name string) step {
	return func(m *module.Module, log logrus.FieldLogger) (bool, error) {
		if m.Attributes[name] {
			return false, nil
		}
		m.SetAttribute(name, true)
		log.WithField("attribute", name).Debug("attribute set")
		return true, nil
	}
}

func findReplaceStep(find, repl Pattern, count int) step {
	return func(m *module.Module, log logrus.FieldLogger) (bool, error) {
		changed := false
		matches := 0
		for off := 0; off+len(find) <= len(m.Image); {
			if !find.Match(m.Image[off:]) {
				off++
				continue
			}
			matches++
			if repl.Apply(m.Image[off:]) {
				changed = true
				logSite(m, off, len(repl), log)
			}
			off += len(find)
			if count > 0 && matches == count {
				break
			}
		}
		if matches == 0 {
			log.Debug("pattern not found")
		}
		return changed, nil
	}
}

func atStep(loc Location, expect, repl Pattern) step {
	return func(m *module.Module, log logrus.FieldLogger) (bool, error) {
		off, err := loc.resolve(m.Image)
		if err != nil {
			return false, err
		}
		if off < 0 || off+int64(len(repl)) > int64(len(m.Image)) {
			return false, fmt.Errorf("%s: offset 0x%x outside image of %d bytes", loc, off, len(m.Image))
		}
		site := m.Image[off:]
		if repl.Match(site) {
			return false, nil
		}
		if expect != nil && !expect.Match(site) {
			return false, fmt.Errorf("%s: expected %s, found % x", loc, expect, site[:len(expect)])
		}
		repl.Apply(site)
		logSite(m, int(off), len(repl), log)
		return true, nil
	}
}

// logSite logs the disassembly of a patched region at debug level.
func logSite(m *module.Module, off, n int, log logrus.FieldLogger) {
	entry := log.WithField("offset", fmt.Sprintf("0x%x", off))
	if m.Arch == "" {
		entry.Debug("patched bytes")
		return
	}
	insts, err := disasm.Region(m.Image, off, n, disasm.Options{Arch: m.Arch})
	if err != nil {
		entry.WithError(err).Debug("patched bytes")
		return
	}
	entry.Debug("patched site\n" + strings.TrimRight(disasm.Format(insts, nil), "\n"))
}
