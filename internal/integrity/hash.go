// Package integrity hashes bundle files and writes and verifies the
// "<sha256>  <path>" manifest that fingerprints a completed bundle.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Hasher computes the hex SHA-256 digest of a file.
type Hasher interface {
	HashFile(path string) (string, error)
}

// SHA256Hasher hashes files from disk.
type SHA256Hasher struct{}

// HashFile returns the lower-case hex SHA-256 of the file at path.
func (SHA256Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("integrity: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// IsHexDigest reports whether s looks like a SHA-256 hex digest.
func IsHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range strings.ToLower(s) {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
