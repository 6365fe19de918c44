package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "A.dll"), []byte("abc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "B.dll"), []byte("changed"), 0o644))

	records := []Record{
		{Path: "bin/A.dll", FileName: "A.dll", Hash: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{Path: "bin/B.dll", FileName: "B.dll", Hash: "E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"},
		{Path: "bin/C.dll", FileName: "C.dll", Hash: "00"},
	}
	log, _ := test.NewNullLogger()
	checks := Verify(root, records, log)
	require.Len(t, checks, 3)

	assert.Equal(t, CheckOK, checks[0].Status)
	assert.Equal(t, "BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD", checks[0].Actual)
	assert.Equal(t, CheckMismatch, checks[1].Status)
	assert.Equal(t, CheckMissing, checks[2].Status)
	assert.Empty(t, checks[2].Actual)
	assert.Equal(t, 2, Failed(checks))
}
