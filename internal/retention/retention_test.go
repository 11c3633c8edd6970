package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mediback/mediback/internal/logger"
)

// seedArtifacts creates n run directories for unit, one artifact each, with
// strictly increasing stamps. Returns paths oldest first.
func seedArtifacts(t testing.TB, root, unit string, n int) []string {
	t.Helper()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		stamp := base.Add(time.Duration(i) * time.Hour).Format(defaultStampFormat)
		dir := filepath.Join(root, stamp)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.tar.gz", unit, stamp))
		if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
			t.Fatal(err)
		}
		sidecar := filepath.Join(dir, fmt.Sprintf("%s_%s.log", unit, stamp))
		if err := os.WriteFile(sidecar, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return paths
}

func TestList_NewestFirstAndUnitScoped(t *testing.T) {
	root := t.TempDir()
	seedArtifacts(t, root, "plex", 3)
	seedArtifacts(t, root, "media1", 2)

	arts, err := List(root, "plex", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(arts) != 3 {
		t.Fatalf("got %d artifacts, want 3", len(arts))
	}
	for i := 1; i < len(arts); i++ {
		if arts[i].Stamp.After(arts[i-1].Stamp) {
			t.Error("artifacts not sorted newest first")
		}
	}
	all, err := List(root, "", "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("got %d artifacts across units, want 5", len(all))
	}
}

func TestEnforce_RemovesOldestBeyondKeep(t *testing.T) {
	root := t.TempDir()
	paths := seedArtifacts(t, root, "media1", 4)

	removed, err := Enforce(root, "media1", 1, "", logger.Global())
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed %d, want 3", removed)
	}

	newest := paths[len(paths)-1]
	if _, err := os.Stat(newest); err != nil {
		t.Errorf("newest artifact was removed: %v", err)
	}
	for _, old := range paths[:3] {
		if _, err := os.Stat(old); !os.IsNotExist(err) {
			t.Errorf("old artifact survived: %s", old)
		}
		sidecar := old[:len(old)-len(".tar.gz")] + ".log"
		if _, err := os.Stat(sidecar); !os.IsNotExist(err) {
			t.Errorf("sidecar survived: %s", sidecar)
		}
	}
}

func TestEnforce_ZeroKeepIsNoOp(t *testing.T) {
	root := t.TempDir()
	seedArtifacts(t, root, "plex", 3)

	removed, err := Enforce(root, "plex", 0, "", logger.Global())
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if removed != 0 {
		t.Errorf("keep=0 removed %d artifacts, want 0", removed)
	}
	arts, _ := List(root, "plex", "")
	if len(arts) != 3 {
		t.Errorf("keep=0 left %d artifacts, want 3", len(arts))
	}
}

func TestEnforce_DoesNotTouchOtherUnits(t *testing.T) {
	root := t.TempDir()
	seedArtifacts(t, root, "plex", 3)
	seedArtifacts(t, root, "media1", 3)

	if _, err := Enforce(root, "plex", 1, "", logger.Global()); err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	others, _ := List(root, "media1", "")
	if len(others) != 3 {
		t.Errorf("retention for plex removed media1 artifacts: %d left", len(others))
	}
}

func TestPurge_RemovesEverything(t *testing.T) {
	root := t.TempDir()
	seedArtifacts(t, root, "plex", 3)

	removed, err := Purge(root, "plex", "", logger.Global())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if removed != 3 {
		t.Errorf("purged %d, want 3", removed)
	}
	arts, _ := List(root, "plex", "")
	if len(arts) != 0 {
		t.Errorf("purge left %d artifacts", len(arts))
	}
}

func TestListAndEnforce_ConfiguredStampFormat(t *testing.T) {
	const format = "20060102-150405"
	root := t.TempDir()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		stamp := base.Add(time.Duration(i) * time.Hour).Format(format)
		dir := filepath.Join(root, stamp)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, fmt.Sprintf("plex_%s.tar.gz", stamp))
		if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	arts, err := List(root, "plex", format)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(arts) != 3 {
		t.Fatalf("listed %d of 3 artifacts with custom stamp format", len(arts))
	}

	removed, err := Enforce(root, "plex", 1, format, logger.Global())
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d artifacts, want 2", removed)
	}
	left, _ := List(root, "plex", format)
	if len(left) != 1 {
		t.Fatalf("%d artifacts left, want 1", len(left))
	}
	if got := left[0].Stamp; !got.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("survivor stamp = %v, want the newest", got)
	}
}

func TestEnforce_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("keep=N over M>N artifacts removes exactly M-N, never the newest", prop.ForAll(
		func(m, keep int) bool {
			if keep >= m {
				keep = m - 1
			}
			root := t.TempDir()
			paths := seedArtifacts(t, root, "vfx", m)

			removed, err := Enforce(root, "vfx", keep, "", logger.Global())
			if err != nil {
				return false
			}
			if removed != m-keep {
				return false
			}
			left, err := List(root, "vfx", "")
			if err != nil || len(left) != keep {
				return false
			}
			// Survivors must be exactly the newest keep artifacts.
			for i := 0; i < keep; i++ {
				if left[i].Path != paths[len(paths)-1-i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 12),
		gen.IntRange(1, 11),
	))

	properties.Property("keep=0 removes nothing", prop.ForAll(
		func(m int) bool {
			root := t.TempDir()
			seedArtifacts(t, root, "vfx", m)
			removed, err := Enforce(root, "vfx", 0, "", logger.Global())
			if err != nil || removed != 0 {
				return false
			}
			left, err := List(root, "vfx", "")
			return err == nil && len(left) == m
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
