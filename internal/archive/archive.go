// Package archive streams a unit's data root through tar, a progress meter,
// and a compressor straight into the artifact file. No uncompressed
// intermediate ever touches the disk.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/mediback/mediback/internal/logger"
)

var (
	ErrEmptyArtifact = errors.New("artifact is empty")
	ErrNoDataRoot    = errors.New("data root does not exist")
)

// Artifact is the output of one successful pipeline run. Immutable after
// creation; only the retention manager or bulk cleanup deletes it.
type Artifact struct {
	Path      string
	Unit      string
	CreatedAt time.Time
	SizeBytes int64
	RawBytes  int64
}

// Options selects format, level and parallelism for the compression stage.
type Options struct {
	Format   string // "gzip", "zstd" or "none"
	Level    int
	Workers  int // 1 forces the single-threaded gzip writer, 0 means one per CPU
	Progress bool
}

// Ext returns the artifact filename extension for the selected format.
func (o Options) Ext() string {
	switch o.Format {
	case "zstd":
		return "tar.zst"
	case "none", "":
		return "tar"
	}
	return "tar.gz"
}

// Transient state the media server rebuilds on its own; never archived.
var excludedDirs = []string{
	"cache",
	"logs",
	"crash reports",
	"diagnostics",
	"updates",
	"transcode",
}

var excludedSuffixes = []string{".tmp", ".lock", ".pid", ".swp", "~"}

// Compress archives dataRoot into destDir/<unit>_<stamp>.<ext>. The stamp
// is chosen by the caller so the run directory and the artifact share it.
// On any failure, including cancellation, the partial file is removed and
// must not be treated as an artifact.
func Compress(
	ctx context.Context,
	dataRoot, destDir, unit, stamp string,
	opts Options,
	log logger.Logger,
) (*Artifact, error) {
	if _, err := os.Stat(dataRoot); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNoDataRoot, dataRoot)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination %q: %w", destDir, err)
	}

	destPath := filepath.Join(destDir, fmt.Sprintf("%s_%s.%s", unit, stamp, opts.Ext()))

	rawTotal := measureSource(dataRoot)
	log.Info("archiving data root",
		"unit", unit,
		"data_root", dataRoot,
		"artifact", destPath,
		"format", opts.Format,
		"estimated_bytes", rawTotal,
	)

	raw, err := writeArchive(ctx, dataRoot, destPath, unit, rawTotal, opts)
	if err != nil {
		// A failed run's file is garbage; never leave it looking valid.
		os.Remove(destPath)
		return nil, err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(destPath)
		return nil, fmt.Errorf("%w: %q", ErrEmptyArtifact, destPath)
	}

	log.Info("archive complete",
		"unit", unit,
		"artifact", destPath,
		"raw_bytes", raw,
		"compressed_bytes", info.Size(),
	)
	return &Artifact{
		Path:      destPath,
		Unit:      unit,
		CreatedAt: info.ModTime(),
		SizeBytes: info.Size(),
		RawBytes:  raw,
	}, nil
}

func writeArchive(
	ctx context.Context,
	dataRoot, destPath, unit string,
	rawTotal int64,
	opts Options,
) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create artifact: %w", err)
	}
	defer out.Close()

	comp, err := newCompressor(out, opts)
	if err != nil {
		return 0, err
	}

	counter := &countingWriter{w: comp}
	var sink io.Writer = counter
	if opts.Progress {
		// Sized against the pre-measured source; an unknown size degrades
		// to a spinner instead of failing.
		total := rawTotal
		if total <= 0 {
			total = -1
		}
		bar := progressbar.DefaultBytes(total, unit)
		sink = io.MultiWriter(counter, bar)
	}

	tw := tar.NewWriter(sink)
	if err := addTree(ctx, tw, dataRoot); err != nil {
		tw.Close()
		comp.Close()
		return 0, err
	}
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("finalize archive: %w", err)
	}
	if err := comp.Close(); err != nil {
		return 0, fmt.Errorf("finalize compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("flush artifact: %w", err)
	}
	return counter.n, nil
}

func addTree(ctx context.Context, tw *tar.Writer, dataRoot string) error {
	return filepath.WalkDir(dataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dataRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if excludedDir(d.Name()) {
				return filepath.SkipDir
			}
		} else if excludedFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			// Sockets and devices have no place in a backup.
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("archive %q: %w", path, err)
		}
		return nil
	})
}

// measureSource walks the data root ahead of archiving to size the progress
// meter. Best effort: a failed walk just disables the size estimate.
func measureSource(dataRoot string) int64 {
	var total int64
	err := filepath.WalkDir(dataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if excludedDir(d.Name()) && path != dataRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if excludedFile(d.Name()) {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return total
}

func excludedDir(name string) bool {
	lower := strings.ToLower(name)
	for _, d := range excludedDirs {
		if lower == d {
			return true
		}
	}
	return false
}

func excludedFile(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range excludedSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
