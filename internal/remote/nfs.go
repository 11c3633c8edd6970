package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
)

// NFS replicates artifacts onto a network-filesystem export consumed
// through a local mount point. When the export is not mounted and a host is
// configured, mounting is attempted once.
type NFS struct {
	cfg config.NFSConfig
	log logger.Logger
}

var _ Provider = (*NFS)(nil)

func newNFS(cfg config.NFSConfig, log logger.Logger) *NFS {
	return &NFS{cfg: cfg, log: log}
}

func (n *NFS) Name() string { return "nfs" }

func (n *NFS) targetDir() string {
	return filepath.Join(n.cfg.MountPoint, n.cfg.RemotePath)
}

func (n *NFS) ensureMounted(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "mountpoint", "-q", n.cfg.MountPoint).Run(); err == nil {
		return nil
	}
	if n.cfg.Host == "" {
		return fmt.Errorf("mount point %q is not mounted and no NFS host is configured", n.cfg.MountPoint)
	}

	if err := os.MkdirAll(n.cfg.MountPoint, 0o755); err != nil {
		return fmt.Errorf("create mount point %q: %w", n.cfg.MountPoint, err)
	}
	args := []string{"-t", "nfs"}
	if n.cfg.Options != "" {
		args = append(args, "-o", n.cfg.Options)
	}
	args = append(args, fmt.Sprintf("%s:%s", n.cfg.Host, n.cfg.ExportPath), n.cfg.MountPoint)

	n.log.Info("mounting NFS export", "host", n.cfg.Host, "export", n.cfg.ExportPath, "mount_point", n.cfg.MountPoint)
	if out, err := exec.CommandContext(ctx, "mount", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("mount %s:%s: %v: %s", n.cfg.Host, n.cfg.ExportPath, err, out)
	}
	return nil
}

func (n *NFS) Upload(ctx context.Context, localPath string) error {
	if err := n.ensureMounted(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	dir := n.targetDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer src.Close()

	// Write then rename so a torn copy never carries an artifact name.
	dest := filepath.Join(dir, filepath.Base(localPath))
	tmp := dest + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: copy to %q: %v", ErrUpload, tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}

	n.log.Info("uploaded artifact", "provider", "nfs", "remote", dest)
	return nil
}

func (n *NFS) Verify(ctx context.Context, localPath string) (VerifyResult, error) {
	local, err := os.Stat(localPath)
	if err != nil {
		return VerifyUnknown, err
	}
	remote, err := os.Stat(filepath.Join(n.targetDir(), filepath.Base(localPath)))
	if err != nil {
		return VerifyUnknown, err
	}
	if remote.Size() != local.Size() {
		return VerifyMismatch, nil
	}
	return VerifyMatch, nil
}

func (n *NFS) Cleanup(ctx context.Context, unit string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(n.targetDir())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCleanup, err)
	}

	var artifacts []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && isArtifactFor(e.Name(), unit) {
			artifacts = append(artifacts, e)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		ii, _ := artifacts[i].Info()
		ji, _ := artifacts[j].Info()
		return ii.ModTime().After(ji.ModTime())
	})

	for _, old := range artifacts[min(keep, len(artifacts)):] {
		p := filepath.Join(n.targetDir(), old.Name())
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("%w: remove %q: %v", ErrCleanup, p, err)
		}
		n.log.Info("removed remote artifact", "provider", "nfs", "remote", p)
	}
	return nil
}

func (n *NFS) Test(ctx context.Context) error {
	if err := n.ensureMounted(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if _, err := os.ReadDir(n.cfg.MountPoint); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}
