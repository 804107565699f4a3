package digest

import (
	"crypto/sha1" //nolint:gosec // content identity, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// DefaultBlockSize is the read size used when hashing documents.
const DefaultBlockSize = 68157440

// Algorithm names a digest function.
type Algorithm string

// Supported digest algorithms.
const (
	SHA1    Algorithm = "sha1"
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// ParseAlgorithm returns the algorithm for name. An empty name selects SHA1.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "", SHA1:
		return SHA1, nil
	case SHA256, BLAKE2b:
		return Algorithm(name), nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %q", name)
	}
}

func (a Algorithm) new() (hash.Hash, error) {
	switch a {
	case "", SHA1:
		return sha1.New(), nil //nolint:gosec // see import
	case SHA256:
		return sha256.New(), nil
	case BLAKE2b:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", string(a))
	}
}

// HashReader returns the hex digest of everything read from r. Input is
// consumed in blocks of at most blockSize bytes; values <= 0 select
// DefaultBlockSize.
func HashReader(r io.Reader, alg Algorithm, blockSize int) (string, error) {
	h, err := alg.new()
	if err != nil {
		return "", err
	}

	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	buf := make([]byte, blockSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}

		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return "", fmt.Errorf("reading content: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex digest of the file at path.
func HashFile(path string, alg Algorithm, blockSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sum, err := HashReader(f, alg, blockSize)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return sum, nil
}

// HashString returns the hex digest of s, or nil when s is empty.
func HashString(s string, alg Algorithm) *string {
	if s == "" {
		return nil
	}

	h, err := alg.new()
	if err != nil {
		return nil
	}

	_, _ = io.WriteString(h, s)
	sum := hex.EncodeToString(h.Sum(nil))

	return &sum
}
