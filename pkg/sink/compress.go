package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// compressFile streams src through a Zstd encoder into dst at the given
// level (1-22) and removes src on success. Adapted from the encoder/
// decoder pairing used for nanolog's column blocks, generalized here to
// whole-file streaming instead of length-prefixed blocks.
func compressFile(src, dst string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("compress: open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("compress: open dest: %w", err)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		out.Close()
		return fmt.Errorf("compress: new encoder: %w", err)
	}

	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return fmt.Errorf("compress: copy: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("compress: close encoder: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("compress: close dest: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("compress: remove source: %w", err)
	}
	return nil
}

// decompressFile streams src through a Zstd decoder into dst. Used only
// by tests to verify the round-trip law; the engine never decompresses
// its own rotated files.
func decompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("decompress: open source: %w", err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("decompress: new decoder: %w", err)
	}
	defer dec.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("decompress: open dest: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, dec); err != nil {
		return fmt.Errorf("decompress: copy: %w", err)
	}
	return nil
}
