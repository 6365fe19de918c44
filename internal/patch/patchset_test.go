package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repatch/internal/binfmt"
	"repatch/internal/module"
)

func parse(t *testing.T, src string) []Transform {
	t.Helper()
	log, _ := test.NewNullLogger()
	ts, err := ParseSet([]byte(src), log)
	require.NoError(t, err)
	return ts
}

func parseErr(t *testing.T, src string) error {
	t.Helper()
	_, err := ParseSet([]byte(src), nil)
	require.Error(t, err)
	return err
}

func rawModule(name string, image ...byte) *module.Module {
	return &module.Module{Name: name, Image: image, Format: binfmt.FormatRaw}
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern("74 ?? 48\t8B")
	require.NoError(t, err)
	assert.Equal(t, Pattern{0x74, wildcard, 0x48, 0x8b}, p)
	assert.Equal(t, "74 ?? 48 8b", p.String())

	p, err = ParsePattern("eb05")
	require.NoError(t, err)
	assert.Equal(t, Pattern{0xeb, 0x05}, p)

	_, err = ParsePattern("7")
	assert.Error(t, err)
	_, err = ParsePattern("zz")
	assert.Error(t, err)
}

func TestFindReplaceWildcards(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: Jumps
    steps:
      - find: "74 ?? 48"
        replace: "eb ?? 48"
`)
	require.Len(t, ts, 1)
	m := rawModule("A.dll", 0x00, 0x74, 0x05, 0x48, 0x74, 0x09, 0x48)

	changed, err := ts[0].Apply(m)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []byte{0x00, 0xeb, 0x05, 0x48, 0xeb, 0x09, 0x48}, m.Image)

	changed, err = ts[0].Apply(m)
	require.NoError(t, err)
	assert.False(t, changed, "second application finds nothing to change")
}

func TestFindReplaceCount(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: FirstOnly
    steps:
      - find: "aa bb"
        replace: "cc bb"
        count: 1
`)
	m := rawModule("A.dll", 0xaa, 0xbb, 0xaa, 0xbb)
	changed, err := ts[0].Apply(m)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []byte{0xcc, 0xbb, 0xaa, 0xbb}, m.Image)
}

func TestAtOffset(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: Fixed
    steps:
      - at: 2
        expect: "31 c0"
        replace: "b0 01"
  - name: Relative
    steps:
      - at: {offset: 0x0, rel: 4}
        replace: "90"
`)
	require.Len(t, ts, 2)

	m := rawModule("A.dll", 0, 0, 0x31, 0xc0, 0xff)
	changed, err := ts[0].Apply(m)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []byte{0, 0, 0xb0, 0x01, 0xff}, m.Image)

	// Already replaced: no change, no expect failure.
	changed, err = ts[0].Apply(m)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = ts[1].Apply(m)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, byte(0x90), m.Image[4])
}

func TestAtExpectMismatch(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: Fixed
    steps:
      - at: 0
        expect: "31 c0"
        replace: "b0 01"
`)
	m := rawModule("A.dll", 0x12, 0x34)
	_, err := ts[0].Apply(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 31 c0, found 12 34")
	assert.Equal(t, []byte{0x12, 0x34}, m.Image)
}

func TestAtOutOfRange(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: Far
    steps:
      - at: 0x100
        replace: "90"
`)
	_, err := ts[0].Apply(rawModule("A.dll", 0))
	assert.ErrorContains(t, err, "outside image")
}

func TestAtSymbolNeedsNativeImage(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: Sym
    steps:
      - at: CheckLicense
        replace: "90"
`)
	_, err := ts[0].Apply(rawModule("A.dll", 0, 1, 2, 3))
	assert.ErrorIs(t, err, binfmt.ErrUnknownFormat)
}

func TestAttributeStep(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: Stamp
    steps:
      - attribute: Vendor.Reviewed
`)
	m := rawModule("A.dll", 0)
	changed, err := ts[0].Apply(m)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, m.Attributes["Vendor.Reviewed"])

	changed, err = ts[0].Apply(m)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestModulesFilter(t *testing.T) {
	ts := parse(t, `
transforms:
  - name: OnlyCore
    modules: ["Core*.dll"]
    after: []
    steps:
      - attribute: Seen
`)
	changed, err := ts[0].Apply(rawModule("App.dll", 0))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = ts[0].Apply(rawModule("CoreLib.dll", 0))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestParseSetErrors(t *testing.T) {
	err := parseErr(t, `
transforms:
  - name: X
    stepz: []
`)
	assert.ErrorContains(t, err, `line 4: unknown field "stepz"`)

	err = parseErr(t, `
transforms:
  - name: X
    steps:
      - find: "aa"
        attribute: Y
`)
	assert.ErrorContains(t, err, "line 5: step needs exactly one of")

	err = parseErr(t, `
transforms:
  - name: X
    steps:
      - find: "aa bb"
        replace: "cc"
`)
	assert.ErrorContains(t, err, "find is 2 bytes but replace is 1")

	err = parseErr(t, `
transforms:
  - name: X
    steps:
      - find: " "
        replace: " "
`)
	assert.ErrorContains(t, err, "line 5: find pattern is empty")

	err = parseErr(t, `
transforms:
  - name: X
    steps:
      - find: "aa"
`)
	assert.ErrorContains(t, err, "line 5: find step needs replace")

	err = parseErr(t, `
transforms:
  - steps:
      - attribute: Y
`)
	assert.ErrorContains(t, err, "transform without a name")

	err = parseErr(t, `
transforms:
  - name: X
    steps:
      - at: {offset: 1, symbol: S}
        replace: "90"
`)
	assert.ErrorContains(t, err, "exactly one of offset or symbol")

	err = parseErr(t, "bogus: 1\n")
	assert.ErrorContains(t, err, "line 1")
}

func TestParseSetEmpty(t *testing.T) {
	ts, err := ParseSet(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestLoadSetKeepsOrderAndDeps(t *testing.T) {
	p := filepath.Join(t.TempDir(), "set.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
description: ordering
transforms:
  - name: A
    steps:
      - attribute: a
  - name: B
    after: [A]
    steps:
      - attribute: b
`), 0o644))

	log := logrus.New()
	ts, err := LoadSet(p, log)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, Names(ts))
	assert.Equal(t, []string{"A"}, ts[1].After)
	assert.NoError(t, ValidateOrder(ts))

	_, err = LoadSet(filepath.Join(t.TempDir(), "missing.yaml"), log)
	assert.Error(t, err)
}

func TestPatchedSiteIsLoggedWithDisassembly(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	ts, err := ParseSet([]byte(`
transforms:
  - name: Nop
    steps:
      - at: 0
        replace: "1f 20 03 d5"
`), log)
	require.NoError(t, err)

	m := rawModule("A.so", 0, 0, 0, 0)
	m.Arch = binfmt.ArchARM64
	changed, err := ts[0].Apply(m)
	require.NoError(t, err)
	require.True(t, changed)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Contains(t, strings.ToLower(entry.Message), "nop")
	assert.Equal(t, "Nop", entry.Data["transform"])
	assert.Equal(t, "0x0", entry.Data["offset"])
}
