// Package manifest decrypts and parses encrypted integrity manifests.
//
// A manifest is an AES-256-CBC encrypted text file whose key and IV are
// derived with PBKDF2-HMAC-SHA1 from a password and salt. The plaintext holds
// ";;\r\n"-separated records of the form "<path>;;<base64 sha256>".
package manifest

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the PBKDF2 iteration count used when none is configured.
const DefaultIterations = 1100

const (
	keySize         = 32 // AES-256
	recordSeparator = ";;\r\n"
	fieldSeparator  = ";;"
	bom             = "\ufeff"
)

var (
	ErrNoKeyMaterial = errors.New("manifest: password and salt are required")
	ErrBadPadding    = errors.New("manifest: invalid padding")
	ErrBadLength     = errors.New("manifest: ciphertext is not a multiple of the block size")
)

// Record is one decrypted manifest entry.
type Record struct {
	Path     string `json:"path"`
	FileName string `json:"file_name"`
	Hash     string `json:"hash"`
}

// Codec holds the key material for one manifest scheme.
type Codec struct {
	password   []byte
	salt       []byte
	iterations int
	log        logrus.FieldLogger
}

// NewCodec returns a Codec. iterations <= 0 selects DefaultIterations.
func NewCodec(password, salt []byte, iterations int, log logrus.FieldLogger) (*Codec, error) {
	if len(password) == 0 || len(salt) == 0 {
		return nil, ErrNoKeyMaterial
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Codec{password: password, salt: salt, iterations: iterations, log: log}, nil
}

// keyIV derives the AES key followed by the IV from a single PBKDF2 stream.
func (c *Codec) keyIV() (key, iv []byte) {
	dk := pbkdf2.Key(c.password, c.salt, c.iterations, keySize+aes.BlockSize, sha1.New)
	return dk[:keySize], dk[keySize:]
}

// Decrypt reads and decrypts the manifest file.
// Failures are logged at warning level and returned; callers treat any
// error as "no manifest".
func (c *Codec) Decrypt(file string) ([]Record, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		err = fmt.Errorf("manifest: read: %w", err)
		c.log.WithError(err).WithField("path", file).Warn("failed to decrypt manifest")
		return nil, err
	}
	plain, err := c.DecryptBytes(data)
	if err != nil {
		c.log.WithError(err).WithField("path", file).Warn("failed to decrypt manifest")
		return nil, err
	}
	return ParseRecords(string(plain), c.log), nil
}

// DecryptBytes decrypts ciphertext and removes PKCS#7 padding.
func (c *Codec) DecryptBytes(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrBadLength
	}
	key, iv := c.keyIV()
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("manifest: cipher: %w", err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return unpad(plain)
}

// EncryptText pads and encrypts plaintext under the codec's key material.
func (c *Codec) EncryptText(plain []byte) ([]byte, error) {
	key, iv := c.keyIV()
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("manifest: cipher: %w", err)
	}
	padding := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(bytes.Clone(plain), bytes.Repeat([]byte{byte(padding)}, padding)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Encrypt serialises records in manifest text form and encrypts them.
// Hashes are expected in upper-case hex and are stored as base64.
func (c *Codec) Encrypt(records []Record) ([]byte, error) {
	var b strings.Builder
	for _, r := range records {
		raw, err := hex.DecodeString(r.Hash)
		if err != nil {
			return nil, fmt.Errorf("manifest: hash for %s: %w", r.Path, err)
		}
		b.WriteString(r.Path)
		b.WriteString(fieldSeparator)
		b.WriteString(base64.StdEncoding.EncodeToString(raw))
		b.WriteString(recordSeparator)
	}
	return c.EncryptText([]byte(b.String()))
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}

// ParseRecords splits decrypted manifest text into records.
// Identical lines are collapsed to the first occurrence.
func ParseRecords(text string, log logrus.FieldLogger) []Record {
	if log == nil {
		log = logrus.StandardLogger()
	}
	seen := make(map[string]struct{})
	var records []Record
	for _, line := range strings.Split(text, recordSeparator) {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		records = append(records, parseRecord(line, log))
	}
	return records
}

func parseRecord(line string, log logrus.FieldLogger) Record {
	var fields []string
	for _, f := range strings.Split(line, fieldSeparator) {
		if f != "" {
			fields = append(fields, f)
		}
	}

	var r Record
	if len(fields) > 0 {
		r.Path = strings.ReplaceAll(strings.Trim(fields[0], bom), `\`, "/")
		r.FileName = strings.Trim(path.Base(r.Path), bom)
	}
	if len(fields) < 2 {
		log.WithField("file", r.FileName).Warn("manifest record has no hash field")
		return r
	}

	raw, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"hash": fields[1],
			"file": r.FileName,
		}).Warn("failed to parse hash value")
		return r
	}
	r.Hash = strings.ToUpper(hex.EncodeToString(raw))
	return r
}
