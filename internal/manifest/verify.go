package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// CheckStatus is the outcome of comparing one record with the file on disk.
type CheckStatus string

const (
	CheckOK       CheckStatus = "ok"
	CheckMismatch CheckStatus = "mismatch"
	CheckMissing  CheckStatus = "missing"
)

// Check pairs a record with the hash found on disk.
type Check struct {
	Record Record      `json:"record"`
	Actual string      `json:"actual,omitempty"`
	Status CheckStatus `json:"status"`
}

// Verify hashes every record's file relative to root. Records without an
// expected hash compare as a mismatch.
func Verify(root string, records []Record, log logrus.FieldLogger) []Check {
	if log == nil {
		log = logrus.StandardLogger()
	}
	checks := make([]Check, 0, len(records))
	for _, r := range records {
		p := filepath.Join(root, filepath.FromSlash(r.Path))
		c := Check{Record: r}
		if _, err := os.Stat(p); err != nil {
			c.Status = CheckMissing
			checks = append(checks, c)
			continue
		}
		c.Actual = HashFile(p, log)
		if c.Actual != "" && strings.EqualFold(c.Actual, r.Hash) {
			c.Status = CheckOK
		} else {
			c.Status = CheckMismatch
			log.WithFields(logrus.Fields{"file": r.Path, "expected": r.Hash, "actual": c.Actual}).Debug("hash mismatch")
		}
		checks = append(checks, c)
	}
	return checks
}

// Failed counts checks that are not ok.
func Failed(checks []Check) int {
	n := 0
	for _, c := range checks {
		if c.Status != CheckOK {
			n++
		}
	}
	return n
}
