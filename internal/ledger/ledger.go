// Package ledger assembles the structured per-run record persisted beside
// each artifact.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is the run ledger record. It is assembled once, after the
// compression pipeline completes, and never mutated afterwards.
type Entry struct {
	Unit        string    `json:"unit"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	PreRunState  string `json:"pre_run_state"`
	PostRunState string `json:"post_run_state,omitempty"`
	WasRunning   bool   `json:"was_running"`
	Stopped      bool   `json:"stopped"`
	Restarted    bool   `json:"restarted"`
	Unsafe       bool   `json:"unsafe,omitempty"`

	StopForBackup   bool   `json:"stop_for_backup"`
	VerifyIntegrity bool   `json:"verify_integrity"`
	Compression     string `json:"compression"`
	AutoUpload      bool   `json:"auto_upload"`
	DeleteLocal     bool   `json:"delete_local_after_upload"`
	AutoApproved    bool   `json:"auto_approved,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`

	IntegritySummary string `json:"integrity_summary,omitempty"`

	ArtifactPath  string `json:"artifact_path,omitempty"`
	ArtifactBytes int64  `json:"artifact_bytes,omitempty"`
	RawBytes      int64  `json:"raw_bytes,omitempty"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	LogTail []string `json:"log_tail,omitempty"`
}

// SidecarFor maps an artifact path to its ledger sidecar: the artifact's
// base name with the archive extension replaced by .log.
func SidecarFor(artifactPath string) string {
	name := filepath.Base(artifactPath)
	for _, ext := range []string{".tar.gz", ".tar.zst", ".tar"} {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	return filepath.Join(filepath.Dir(artifactPath), name+".log")
}

// Write persists the entry as an indented JSON file at path.
func (e *Entry) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure ledger directory %q: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ledger file %q: %w", path, err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(e); err != nil {
		return fmt.Errorf("encode ledger JSON: %w", err)
	}
	return nil
}

// Load reads an entry back from disk.
func (e *Entry) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ledger file %q: %w", path, err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(e); err != nil {
		return fmt.Errorf("decode ledger JSON: %w", err)
	}
	return nil
}
