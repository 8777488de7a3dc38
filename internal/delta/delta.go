// Package delta encodes and applies file patches. A patch is a zstd frame
// compressed with the previous version of the file as raw dictionary, so
// content shared with the old file costs almost nothing to transfer.
package delta

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// dictID tags frames produced by Encode; Apply refuses anything else.
const dictID uint32 = 0x63726166

// chunkSize bounds the work done between cancellation checks
const chunkSize = 1 << 20

func windowFor(n int) int {
	w := zstd.MinWindowSize
	for w < n && w < zstd.MaxWindowSize {
		w <<= 1
	}
	return w
}

// Encode produces a patch that turns base into target
func Encode(base, target []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderDictRaw(dictID, base),
		zstd.WithWindowSize(windowFor(max(len(base), len(target)))),
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delta encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(target, nil), nil
}

// Apply streams the patch against base into out and returns the number of
// bytes written. ctx is checked between chunks.
func Apply(ctx context.Context, base []byte, patch io.Reader, out io.Writer) (int64, error) {
	dec, err := zstd.NewReader(patch,
		zstd.WithDecoderDictRaw(dictID, base),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(zstd.MaxWindowSize),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to open delta: %w", err)
	}
	defer dec.Close()

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := io.CopyN(out, dec, chunkSize)
		written += n
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("failed to apply delta: %w", err)
		}
	}
}
