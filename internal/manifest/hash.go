package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// HashFile returns the upper-case hex SHA-256 of the file's contents.
// It returns "" and logs a warning if the file cannot be read.
func HashFile(path string, log logrus.FieldLogger) string {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).WithField("file", path).Warn("failed to calculate hash")
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		log.WithError(err).WithField("file", path).Warn("failed to calculate hash")
		return ""
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}
