package manifest

import (
	"context"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// ChunkSize is how much data is hashed between cancellation checks
const ChunkSize = 1 << 20

// ErrHashMismatch is returned when content does not match its expected digest.
var ErrHashMismatch = errors.New("hash mismatch")

// Compute digests r in ChunkSize pieces, checking ctx between chunks.
// An empty algorithm means digest.Canonical (sha256).
func Compute(ctx context.Context, r io.Reader, alg digest.Algorithm) (digest.Digest, int64, error) {
	if alg == "" {
		alg = digest.Canonical
	}
	if !alg.Available() {
		return "", 0, fmt.Errorf("digest algorithm %q unavailable", alg)
	}

	digester := alg.Digester()
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, err := io.CopyN(digester.Hash(), r, ChunkSize)
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", total, err
		}
	}
	return digester.Digest(), total, nil
}

// ComputeFile digests the file at path
func ComputeFile(ctx context.Context, path string, alg digest.Algorithm) (digest.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return Compute(ctx, f, alg)
}

// VerifyFile checks that the file at path has the expected digest
func VerifyFile(ctx context.Context, path string, expected digest.Digest) error {
	if err := expected.Validate(); err != nil {
		return err
	}
	got, _, err := ComputeFile(ctx, path, expected.Algorithm())
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, got, expected)
	}
	return nil
}
