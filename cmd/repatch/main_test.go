package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repatch/internal/manifest"
	"repatch/internal/metadata"
	"repatch/internal/module"
	"repatch/internal/output"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

const (
	testPassword = "correct horse battery staple"
	testSalt     = "0123456789abcdef"
)

const testSet = `
transforms:
  - name: Jumps
    steps:
      - find: "74 05"
        replace: "eb 05"
  - name: Stamp
    after: [Jumps]
    steps:
      - attribute: App.Licensed
`

type fixture struct {
	base   string
	config string
}

// newFixture lays out base/bin/A.dll, an encrypted manifest at
// base/Ecu/m.prg listing it, a patch set and a config file.
func newFixture(t *testing.T) fixture {
	t.Helper()
	base := t.TempDir()
	bin := filepath.Join(base, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))

	md := metadata.NewModule("A")
	md.AddType("App", "Worker")
	m := &module.Module{Name: "A.dll", Image: []byte{0x74, 0x05, 0x90, 0x90}, Metadata: md}
	require.NoError(t, m.Write(filepath.Join(bin, "A.dll")))

	writeManifest(t, base)

	setPath := filepath.Join(t.TempDir(), "base.yaml")
	require.NoError(t, os.WriteFile(setPath, []byte(testSet), 0o644))

	cfg := fmt.Sprintf(`
module_dir: bin
patch_sets:
  base: %q
manifest:
  path: Ecu/m.prg
  password: %q
  salt: %q
log:
  level: error
`, setPath, testPassword, testSalt)
	cfgPath := filepath.Join(t.TempDir(), "repatch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return fixture{base: base, config: cfgPath}
}

func writeManifest(t *testing.T, base string) {
	t.Helper()
	c, err := manifest.NewCodec([]byte(testPassword), []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}, 0, nil)
	require.NoError(t, err)
	hash := manifest.HashFile(filepath.Join(base, "bin", "A.dll"), nil)
	require.NotEmpty(t, hash)
	data, err := c.Encrypt([]manifest.Record{{Path: "bin/A.dll", FileName: "A.dll", Hash: hash}})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "Ecu"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "Ecu", "m.prg"), data, 0o644))
}

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee *exitError
	require.True(t, errors.As(err, &ee), "want exitError, got %v", err)
	return ee.code
}

func TestPatchCommand(t *testing.T) {
	f := newFixture(t)
	out := capture(t)

	require.NoError(t, cmdPatch([]string{"-config", f.config, f.base}))
	assert.Contains(t, out.String(), "A.dll ++ [patched]")
	assert.Contains(t, out.String(), "└──Jumps")

	patched, err := module.Load(filepath.Join(f.base, "bin", "patched", "A.dll"))
	require.NoError(t, err)
	assert.Equal(t, byte(0xeb), patched.Image[0])
	assert.True(t, patched.Attributes["App.Licensed"])
	assert.True(t, patched.HasPatchedMark())
	assert.FileExists(t, filepath.Join(f.base, "bin", "patched", output.ReportFile))
}

func TestPatchCommandRerun(t *testing.T) {
	f := newFixture(t)
	out := capture(t)

	require.NoError(t, cmdPatch([]string{"-config", f.config, f.base}))
	require.NoError(t, cmdPatch([]string{"-config", f.config, f.base}))
	assert.Equal(t, 2, strings.Count(out.String(), "A.dll ++ [patched]"), "sources stay unmarked")

	out.Reset()
	t.Setenv("REPATCH_MODULE_DIR", filepath.Join("bin", "patched"))
	require.NoError(t, cmdPatch([]string{"-config", f.config, f.base}))
	assert.Contains(t, out.String(), "A.dll [already patched]")
	assert.NoFileExists(t, filepath.Join(f.base, "bin", "patched", "patched", "A.dll"))
}

func TestPatchCommandDeobfuscate(t *testing.T) {
	f := newFixture(t)
	out := capture(t)

	require.NoError(t, cmdPatch([]string{"-config", f.config, "-deobfuscate", f.base}))
	assert.Contains(t, out.String(), "A.dll ++ [patched][deobfuscate success")
}

func TestPatchCommandLayoutMissing(t *testing.T) {
	f := newFixture(t)
	out := capture(t)

	err := cmdPatch([]string{"-config", f.config, t.TempDir()})
	assert.Equal(t, -1, exitCode(t, err))
	assert.Contains(t, out.String(), "Folder structure does not match")
}

func TestPatchCommandUnknownSet(t *testing.T) {
	f := newFixture(t)
	capture(t)

	err := cmdPatch([]string{"-config", f.config, "-type", filepath.Join(t.TempDir(), "none.yaml"), f.base})
	assert.Error(t, err)
}

func TestDecryptCommand(t *testing.T) {
	f := newFixture(t)
	out := capture(t)
	jsonPath := filepath.Join(t.TempDir(), "records.json")

	require.NoError(t, cmdDecrypt([]string{"-config", f.config, "-json", jsonPath, f.base}))
	assert.Contains(t, out.String(), "FilePath")
	assert.Contains(t, out.String(), "bin/A.dll")
	assert.FileExists(t, jsonPath)
}

func TestDecryptCommandWrongKey(t *testing.T) {
	f := newFixture(t)
	capture(t)
	t.Setenv("REPATCH_MANIFEST_PASSWORD", "wrong")

	err := cmdDecrypt([]string{"-config", f.config, f.base})
	assert.Equal(t, -1, exitCode(t, err))
}

func TestVerifyCommand(t *testing.T) {
	f := newFixture(t)
	out := capture(t)

	require.NoError(t, cmdVerify([]string{"-config", f.config, f.base}))
	assert.Contains(t, out.String(), "1 checked, 0 failed")

	require.NoError(t, os.WriteFile(filepath.Join(f.base, "bin", "A.dll"), []byte("tampered"), 0o644))
	err := cmdVerify([]string{"-config", f.config, f.base})
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, out.String(), "mismatch")
}

func TestGraphCommand(t *testing.T) {
	f := newFixture(t)
	dot := filepath.Join(t.TempDir(), "transforms.dot")

	require.NoError(t, cmdGraph([]string{"-config", f.config, "-out", dot}))
	data, err := os.ReadFile(dot)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Jumps")
	assert.Contains(t, string(data), "Stamp")
}
