// Package checksum computes content digests for chunk and whole-file
// integrity checks. Digests detect corruption; they are not a security
// boundary.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/maneesh/scatterstore/internal/models"
	"github.com/zeebo/blake3"
)

// Algorithm names a digest function. Digests are lower-case hex.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Default is used when a record carries no algorithm.
const Default = SHA256

// Parse resolves an algorithm name. An empty name yields Default.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "":
		return Default, nil
	case SHA256, BLAKE3:
		return Algorithm(name), nil
	default:
		return "", fmt.Errorf("%w: unknown checksum algorithm %q", models.ErrInvalidInput, name)
	}
}

// NewHash returns a streaming hash for a.
func (a Algorithm) NewHash() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Sum computes the digest of data.
func (a Algorithm) Sum(data []byte) string {
	if a == BLAKE3 {
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumReader streams r through the digest.
func (a Algorithm) SumReader(r io.Reader) (string, error) {
	h := a.NewHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return Hex(h), nil
}

// SumFile computes the digest of the file at path.
func (a Algorithm) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return a.SumReader(f)
}

// Verify reports whether data matches the expected digest.
func (a Algorithm) Verify(data []byte, expected string) bool {
	return a.Sum(data) == expected
}

// Hex renders the current digest of h.
func Hex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
