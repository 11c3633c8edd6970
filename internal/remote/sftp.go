package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
)

// SFTP replicates artifacts over a secure-shell connection. Each operation
// dials a fresh session; per-run call volume is tiny.
type SFTP struct {
	cfg config.SFTPConfig
	log logger.Logger
}

var _ Provider = (*SFTP)(nil)

func newSFTP(cfg config.SFTPConfig, log logger.Logger) *SFTP {
	return &SFTP{cfg: cfg, log: log}
}

func (s *SFTP) Name() string { return "sftp" }

func (s *SFTP) connect() (*gossh.Client, *sftp.Client, error) {
	auth := []gossh.AuthMethod{}
	if s.cfg.KeyFile != "" {
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := gossh.ParsePrivateKey(key)
		if err != nil {
			return nil, nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, gossh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, gossh.Password(s.cfg.Password))
	}

	sshCfg := &gossh.ClientConfig{
		User:            s.cfg.Username,
		Auth:            auth,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	conn, err := gossh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("sftp session: %w", err)
	}
	return conn, client, nil
}

func (s *SFTP) Upload(ctx context.Context, localPath string) error {
	conn, client, err := s.connect()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer conn.Close()
	defer client.Close()

	if err := client.MkdirAll(s.cfg.RemotePath); err != nil {
		return fmt.Errorf("%w: mkdir %q: %v", ErrUpload, s.cfg.RemotePath, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer src.Close()

	remotePath := path.Join(s.cfg.RemotePath, filepath.Base(localPath))
	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrUpload, remotePath, err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: copy to %q: %v", ErrUpload, remotePath, err)
	}

	s.log.Info("uploaded artifact", "provider", "sftp", "remote", remotePath, "bytes", n)
	return nil
}

func (s *SFTP) Verify(ctx context.Context, localPath string) (VerifyResult, error) {
	local, err := os.Stat(localPath)
	if err != nil {
		return VerifyUnknown, err
	}

	conn, client, err := s.connect()
	if err != nil {
		return VerifyUnknown, err
	}
	defer conn.Close()
	defer client.Close()

	remotePath := path.Join(s.cfg.RemotePath, filepath.Base(localPath))
	info, err := client.Stat(remotePath)
	if err != nil {
		return VerifyUnknown, fmt.Errorf("stat %q: %w", remotePath, err)
	}
	if info.Size() != local.Size() {
		return VerifyMismatch, nil
	}
	return VerifyMatch, nil
}

func (s *SFTP) Cleanup(ctx context.Context, unit string, keep int) error {
	if keep <= 0 {
		return nil
	}
	conn, client, err := s.connect()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	defer conn.Close()
	defer client.Close()

	entries, err := client.ReadDir(s.cfg.RemotePath)
	if err != nil {
		return fmt.Errorf("%w: list %q: %v", ErrCleanup, s.cfg.RemotePath, err)
	}

	var artifacts []os.FileInfo
	for _, e := range entries {
		if !e.IsDir() && isArtifactFor(e.Name(), unit) {
			artifacts = append(artifacts, e)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime().After(artifacts[j].ModTime())
	})

	for _, old := range artifacts[min(keep, len(artifacts)):] {
		remotePath := path.Join(s.cfg.RemotePath, old.Name())
		if err := client.Remove(remotePath); err != nil {
			return fmt.Errorf("%w: remove %q: %v", ErrCleanup, remotePath, err)
		}
		s.log.Info("removed remote artifact", "provider", "sftp", "remote", remotePath)
	}
	return nil
}

func (s *SFTP) Test(ctx context.Context) error {
	conn, client, err := s.connect()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer conn.Close()
	defer client.Close()

	if _, err := client.ReadDir("."); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}
