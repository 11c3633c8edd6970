package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
)

// FTP replicates artifacts over plain FTP. Many FTP servers expose little
// metadata, so Verify degrades to unknown when SIZE is unsupported.
type FTP struct {
	cfg config.FTPConfig
	log logger.Logger
}

var _ Provider = (*FTP)(nil)

func newFTP(cfg config.FTPConfig, log logger.Logger) *FTP {
	return &FTP{cfg: cfg, log: log}
}

func (f *FTP) Name() string { return "ftp" }

func (f *FTP) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port)
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", addr, err)
	}
	if err := conn.Login(f.cfg.Username, f.cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return conn, nil
}

// ensureDirs creates the remote path one segment at a time. Existing
// segments answer with an error we ignore.
func (f *FTP) ensureDirs(conn *ftp.ServerConn) {
	cur := ""
	for _, seg := range strings.Split(strings.Trim(f.cfg.RemotePath, "/"), "/") {
		if seg == "" {
			continue
		}
		cur = path.Join(cur, seg)
		_ = conn.MakeDir(cur)
	}
}

func (f *FTP) Upload(ctx context.Context, localPath string) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer conn.Quit()

	f.ensureDirs(conn)

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer src.Close()

	remotePath := path.Join(f.cfg.RemotePath, filepath.Base(localPath))
	if err := conn.Stor(remotePath, src); err != nil {
		return fmt.Errorf("%w: stor %q: %v", ErrUpload, remotePath, err)
	}
	f.log.Info("uploaded artifact", "provider", "ftp", "remote", remotePath)
	return nil
}

func (f *FTP) Verify(ctx context.Context, localPath string) (VerifyResult, error) {
	local, err := os.Stat(localPath)
	if err != nil {
		return VerifyUnknown, err
	}

	conn, err := f.connect(ctx)
	if err != nil {
		return VerifyUnknown, err
	}
	defer conn.Quit()

	remotePath := path.Join(f.cfg.RemotePath, filepath.Base(localPath))
	size, err := conn.FileSize(remotePath)
	if err != nil {
		// SIZE is an extension; absence is not evidence of a bad upload.
		f.log.Warn("remote size unavailable", "provider", "ftp", "remote", remotePath, "error", err.Error())
		return VerifyUnknown, nil
	}
	if size != local.Size() {
		return VerifyMismatch, nil
	}
	return VerifyMatch, nil
}

func (f *FTP) Cleanup(ctx context.Context, unit string, keep int) error {
	if keep <= 0 {
		return nil
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	defer conn.Quit()

	entries, err := conn.List(f.cfg.RemotePath)
	if err != nil {
		return fmt.Errorf("%w: list %q: %v", ErrCleanup, f.cfg.RemotePath, err)
	}

	var artifacts []*ftp.Entry
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile && isArtifactFor(e.Name, unit) {
			artifacts = append(artifacts, e)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Time.After(artifacts[j].Time)
	})

	for _, old := range artifacts[min(keep, len(artifacts)):] {
		remotePath := path.Join(f.cfg.RemotePath, old.Name)
		if err := conn.Delete(remotePath); err != nil {
			return fmt.Errorf("%w: delete %q: %v", ErrCleanup, remotePath, err)
		}
		f.log.Info("removed remote artifact", "provider", "ftp", "remote", remotePath)
	}
	return nil
}

func (f *FTP) Test(ctx context.Context) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer conn.Quit()

	if _, err := conn.CurrentDir(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}
