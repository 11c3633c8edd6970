// Package retention enforces keep-newest-N policies over local artifact
// sets. Remote retention lives with each provider.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mediback/mediback/internal/ledger"
	"github.com/mediback/mediback/internal/logger"
)

var ErrCleanup = errors.New("retention cleanup failed")

const defaultStampFormat = "2006-01-02_15-04-05"

var archiveExts = []string{".tar.gz", ".tar.zst", ".tar"}

// Artifact is one backup file found under the backup root.
type Artifact struct {
	Path  string
	Unit  string
	Stamp time.Time
	Size  int64
}

// List returns the artifacts for unit under root, newest first. An empty
// unit matches every unit. Artifact names embed the configured timestamp
// format; an empty format means the default layout.
func List(root, unit, format string) ([]Artifact, error) {
	if format == "" {
		format = defaultStampFormat
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup root %q: %w", root, err)
	}

	var artifacts []Artifact
	for _, runDir := range entries {
		if !runDir.IsDir() {
			continue
		}
		dir := filepath.Join(root, runDir.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			art, ok := parseArtifact(filepath.Join(dir, f.Name()), format)
			if !ok {
				continue
			}
			if unit != "" && art.Unit != unit {
				continue
			}
			artifacts = append(artifacts, art)
		}
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Stamp.After(artifacts[j].Stamp)
	})
	return artifacts, nil
}

// Enforce keeps the newest keep artifacts for unit and deletes the rest,
// each with its ledger sidecar. keep == 0 disables cleanup entirely; it is
// never "delete everything"; that is Purge, a separate confirmed operation.
func Enforce(root, unit string, keep int, format string, log logger.Logger) (int, error) {
	if keep <= 0 {
		log.Info("local retention disabled", "unit", unit)
		return 0, nil
	}

	artifacts, err := List(root, unit, format)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	if len(artifacts) <= keep {
		return 0, nil
	}

	removed := 0
	for _, art := range artifacts[keep:] {
		if err := removeArtifact(art, log); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrCleanup, err)
		}
		removed++
	}
	log.Info("local retention enforced",
		"unit", unit,
		"kept", keep,
		"removed", removed,
	)
	return removed, nil
}

// Purge deletes every artifact for unit (every unit when unit is empty).
// Callers must gate this behind explicit confirmation.
func Purge(root, unit, format string, log logger.Logger) (int, error) {
	artifacts, err := List(root, unit, format)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	removed := 0
	for _, art := range artifacts {
		if err := removeArtifact(art, log); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrCleanup, err)
		}
		removed++
	}
	log.Warn("bulk cleanup removed all artifacts", "unit", unit, "removed", removed)
	return removed, nil
}

func removeArtifact(art Artifact, log logger.Logger) error {
	if err := os.Remove(art.Path); err != nil {
		return fmt.Errorf("remove %q: %w", art.Path, err)
	}
	sidecar := ledger.SidecarFor(art.Path)
	if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar %q: %w", sidecar, err)
	}
	log.Info("removed artifact", "path", art.Path)

	// Drop the run directory once its last artifact is gone.
	dir := filepath.Dir(art.Path)
	if remaining, err := os.ReadDir(dir); err == nil && len(remaining) == 0 {
		_ = os.Remove(dir)
	}
	return nil
}

// parseArtifact recognizes `<unit>_<stamp>.<ext>` names, where the stamp
// uses the given layout. Files that do not match the pattern are ignored.
func parseArtifact(path, format string) (Artifact, bool) {
	name := filepath.Base(path)
	ext := ""
	for _, e := range archiveExts {
		if strings.HasSuffix(name, e) {
			ext = e
			break
		}
	}
	if ext == "" {
		return Artifact{}, false
	}
	base := strings.TrimSuffix(name, ext)
	if len(base) < len(format)+2 {
		return Artifact{}, false
	}
	stampStr := base[len(base)-len(format):]
	unit := strings.TrimSuffix(base[:len(base)-len(format)], "_")
	if unit == "" {
		return Artifact{}, false
	}
	stamp, err := time.Parse(format, stampStr)
	if err != nil {
		return Artifact{}, false
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return Artifact{Path: path, Unit: unit, Stamp: stamp, Size: size}, true
}
