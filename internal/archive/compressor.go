package archive

import (
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// newCompressor builds the compression stage for the selected format.
// gzip uses the parallel pgzip writer; workers == 1 falls back to the
// single-threaded writer, and 0 (or negative) means one worker per CPU.
func newCompressor(w io.Writer, opts Options) (io.WriteCloser, error) {
	switch opts.Format {
	case "zstd":
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil

	case "gzip", "":
		if opts.Workers == 1 {
			zw, err := gzip.NewWriterLevel(w, gzipLevel(opts.Level))
			if err != nil {
				return nil, fmt.Errorf("gzip writer: %w", err)
			}
			return zw, nil
		}
		zw, err := pgzip.NewWriterLevel(w, gzipLevel(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("pgzip writer: %w", err)
		}
		workers := opts.Workers
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		if err := zw.SetConcurrency(1<<20, workers); err != nil {
			return nil, fmt.Errorf("pgzip concurrency: %w", err)
		}
		return zw, nil

	case "none":
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unknown compression format %q", opts.Format)
}

func gzipLevel(level int) int {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		return gzip.DefaultCompression
	}
	return level
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
