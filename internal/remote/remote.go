// Package remote replicates backup artifacts to a configured storage
// provider and enforces remote retention. Providers form a closed set:
// adding one means adding a variant here, not editing dispatch sites.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
)

var (
	ErrUnknownProvider = errors.New("unknown remote provider")
	ErrUpload          = errors.New("remote upload failed")
	ErrCleanup         = errors.New("remote cleanup failed")
	ErrConnection      = errors.New("remote connection test failed")
)

// VerifyResult is the outcome of comparing the uploaded artifact against
// the local one. Unknown is a pass-through, never a success.
type VerifyResult int

const (
	VerifyUnknown VerifyResult = iota
	VerifyMatch
	VerifyMismatch
)

func (v VerifyResult) String() string {
	switch v {
	case VerifyMatch:
		return "match"
	case VerifyMismatch:
		return "mismatch"
	}
	return "unknown"
}

// Provider is the uniform replication contract every storage variant
// satisfies. Upload is idempotent under re-invocation with the same
// artifact name (overwrite semantics).
type Provider interface {
	Name() string
	Upload(ctx context.Context, localPath string) error
	Verify(ctx context.Context, localPath string) (VerifyResult, error)
	Cleanup(ctx context.Context, unit string, keep int) error
	Test(ctx context.Context) error
}

// New builds the provider selected by cfg.Provider. Credentials are
// expected to be resolved (Vault or YAML) before this point.
func New(ctx context.Context, cfg config.RemoteConfig, log logger.Logger) (Provider, error) {
	switch cfg.Provider {
	case "sftp":
		return newSFTP(cfg.SFTP, log), nil
	case "s3":
		return newS3(ctx, cfg.S3, log)
	case "ftp":
		return newFTP(cfg.FTP, log), nil
	case "nfs":
		return newNFS(cfg.NFS, log), nil
	case "rclone":
		return newRclone(cfg.Rclone, log), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}

var artifactExts = []string{".tar.gz", ".tar.zst", ".tar"}

// isArtifactFor recognizes remote entries named for a unit.
func isArtifactFor(name, unit string) bool {
	if !strings.HasPrefix(name, unit+"_") {
		return false
	}
	for _, ext := range artifactExts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
