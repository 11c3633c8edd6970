package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
)

// Rclone replicates artifacts through a preconfigured rclone remote. The
// binary is the provider's API: mediback shells out the same way it would
// to any other external tool and stays backend-agnostic.
type Rclone struct {
	cfg config.RcloneConfig
	log logger.Logger
}

var _ Provider = (*Rclone)(nil)

func newRclone(cfg config.RcloneConfig, log logger.Logger) *Rclone {
	if cfg.Binary == "" {
		cfg.Binary = "rclone"
	}
	return &Rclone{cfg: cfg, log: log}
}

func (r *Rclone) Name() string { return "rclone" }

func (r *Rclone) remote(parts ...string) string {
	p := r.cfg.RemotePath
	for _, part := range parts {
		p = p + "/" + part
	}
	return r.cfg.RemoteName + ":" + p
}

func (r *Rclone) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.cfg.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rclone %s: %w: %s", args[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func (r *Rclone) Upload(ctx context.Context, localPath string) error {
	dest := r.remote(filepath.Base(localPath))
	if _, err := r.run(ctx, "copyto", localPath, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	r.log.Info("uploaded artifact", "provider", "rclone", "remote", dest)
	return nil
}

// lsjsonEntry is the subset of `rclone lsjson` output the provider reads.
type lsjsonEntry struct {
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

func (r *Rclone) Verify(ctx context.Context, localPath string) (VerifyResult, error) {
	local, err := os.Stat(localPath)
	if err != nil {
		return VerifyUnknown, err
	}

	out, err := r.run(ctx, "lsjson", r.remote(filepath.Base(localPath)))
	if err != nil {
		return VerifyUnknown, err
	}
	var entries []lsjsonEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return VerifyUnknown, fmt.Errorf("parse lsjson: %w", err)
	}
	if len(entries) == 0 {
		return VerifyMismatch, nil
	}
	// Some backends report no size; that is not a verified success.
	if entries[0].Size < 0 {
		return VerifyUnknown, nil
	}
	if entries[0].Size != local.Size() {
		return VerifyMismatch, nil
	}
	return VerifyMatch, nil
}

func (r *Rclone) Cleanup(ctx context.Context, unit string, keep int) error {
	if keep <= 0 {
		return nil
	}
	out, err := r.run(ctx, "lsjson", r.remote())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	var entries []lsjsonEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return fmt.Errorf("%w: parse lsjson: %v", ErrCleanup, err)
	}

	var artifacts []lsjsonEntry
	for _, e := range entries {
		if !e.IsDir && isArtifactFor(e.Name, unit) {
			artifacts = append(artifacts, e)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})

	for _, old := range artifacts[min(keep, len(artifacts)):] {
		target := r.remote(old.Name)
		if _, err := r.run(ctx, "deletefile", target); err != nil {
			return fmt.Errorf("%w: %v", ErrCleanup, err)
		}
		r.log.Info("removed remote artifact", "provider", "rclone", "remote", target)
	}
	return nil
}

func (r *Rclone) Test(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := r.run(ctx, "lsd", r.cfg.RemoteName+":"); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}
