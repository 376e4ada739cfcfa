// Package hasher computes content fingerprints used as media dedup keys.
//
// A fingerprint is "<algorithm>:<hex digest>". Identical bytes always produce
// the identical fingerprint, independent of source URL or file name.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names accepted by New.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// Hasher produces fingerprints with a fixed algorithm.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Hasher for the named algorithm. Empty selects SHA-256.
func New(algorithm string) (*Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	case BLAKE3:
		return &Hasher{algorithm: BLAKE3, newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// Algorithm returns the canonical algorithm name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Sum fingerprints an in-memory payload.
func (h *Hasher) Sum(data []byte) string {
	d := h.newHash()
	d.Write(data)
	return h.format(d.Sum(nil))
}

// SumReader fingerprints a stream and returns the number of bytes read.
func (h *Hasher) SumReader(r io.Reader) (string, int64, error) {
	d := h.newHash()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, fmt.Errorf("hash stream: %w", err)
	}
	return h.format(d.Sum(nil)), n, nil
}

func (h *Hasher) format(sum []byte) string {
	return h.algorithm + ":" + hex.EncodeToString(sum)
}

// Split separates a fingerprint into algorithm and hex digest.
func Split(fingerprint string) (algorithm, digest string, err error) {
	algorithm, digest, ok := strings.Cut(fingerprint, ":")
	if !ok || algorithm == "" || digest == "" {
		return "", "", fmt.Errorf("malformed fingerprint %q", fingerprint)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", fmt.Errorf("malformed fingerprint digest: %w", err)
	}
	return algorithm, digest, nil
}
