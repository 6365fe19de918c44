package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec(t *testing.T, log logrus.FieldLogger) *Codec {
	t.Helper()
	c, err := NewCodec([]byte("correct horse battery staple"), []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}, 0, log)
	require.NoError(t, err)
	return c
}

func writeManifest(t *testing.T, c *Codec, text string) string {
	t.Helper()
	data, err := c.EncryptText([]byte(text))
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "manifest.enc")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestNewCodecRequiresKeyMaterial(t *testing.T) {
	_, err := NewCodec(nil, []byte{1}, 0, nil)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
	_, err = NewCodec([]byte("pw"), nil, 0, nil)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}

func TestDecryptExampleRecord(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := testCodec(t, log)
	p := writeManifest(t, c, "\ufeffFolder\\App.exe;;QWJjZGVmZ2g=;;\r\n")

	records, err := c.Decrypt(p)
	require.NoError(t, err)
	want := []Record{{Path: "Folder/App.exe", FileName: "App.exe", Hash: "4162636465666768"}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestDecryptRoundTripCollapsesDuplicates(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := testCodec(t, log)
	in := []Record{
		{Path: "bin/A.dll", FileName: "A.dll", Hash: "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"},
		{Path: "bin/sub/B.dll", FileName: "B.dll", Hash: "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"},
		{Path: "bin/A.dll", FileName: "A.dll", Hash: "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"},
	}
	data, err := c.Encrypt(in)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "manifest.enc")
	require.NoError(t, os.WriteFile(p, data, 0o644))

	records, err := c.Decrypt(p)
	require.NoError(t, err)
	if diff := cmp.Diff(in[:2], records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestDecryptInvalidHashKeepsPath(t *testing.T) {
	log, hook := test.NewNullLogger()
	c := testCodec(t, log)
	p := writeManifest(t, c, "a/B.dll;;not*base64;;\r\nc/D.dll;;QUJD;;\r\n")

	records, err := c.Decrypt(p)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{Path: "a/B.dll", FileName: "B.dll"}, records[0])
	assert.Equal(t, "414243", records[1].Hash)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "B.dll", hook.LastEntry().Data["file"])
}

func TestDecryptMissingFile(t *testing.T) {
	log, hook := test.NewNullLogger()
	c := testCodec(t, log)

	records, err := c.Decrypt(filepath.Join(t.TempDir(), "absent.enc"))
	assert.Error(t, err)
	assert.Nil(t, records)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
}

func TestDecryptWrongKey(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := writeManifest(t, testCodec(t, log), "x/Y.dll;;QUJD;;\r\n")

	other, err := NewCodec([]byte("another password"), []byte{9, 9, 9, 9, 9, 9, 9, 9}, 0, log)
	require.NoError(t, err)
	records, err := other.Decrypt(p)
	// A wrong key almost always breaks the padding; when it does not, the
	// plaintext is still garbage and must not match the original record.
	if err == nil {
		for _, r := range records {
			assert.NotEqual(t, "x/Y.dll", r.Path)
		}
		return
	}
	assert.ErrorIs(t, err, ErrBadPadding)
	assert.NotEmpty(t, hook.Entries)
}

func TestDecryptCorruptLength(t *testing.T) {
	log, _ := test.NewNullLogger()
	c := testCodec(t, log)
	p := filepath.Join(t.TempDir(), "short.enc")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))

	_, err := c.Decrypt(p)
	assert.ErrorIs(t, err, ErrBadLength)
}

func TestParseRecordsDropsEmpty(t *testing.T) {
	log, hook := test.NewNullLogger()
	records := ParseRecords(";;\r\n;;\r\nonly/Path.dll;;\r\n", log)
	require.Len(t, records, 1)
	assert.Equal(t, "Path.dll", records[0].FileName)
	assert.Empty(t, records[0].Hash)
	assert.Len(t, hook.Entries, 1)
}

func TestHashFile(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := filepath.Join(t.TempDir(), "abc.txt")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))

	got := HashFile(p, log)
	want := "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"
	if got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}

func TestHashFileMissing(t *testing.T) {
	log, hook := test.NewNullLogger()
	got := HashFile(filepath.Join(t.TempDir(), "nope"), log)
	if got != "" {
		t.Errorf("HashFile = %q, want empty", got)
	}
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
