// Package operations sequences one unit's backup run: verification,
// lifecycle control, compression, ledger, replication, retention.
package operations

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediback/mediback/internal/config"
	"github.com/mediback/mediback/internal/logger"
	"github.com/mediback/mediback/internal/remote"
	"github.com/mediback/mediback/internal/runtime"
	"github.com/mediback/mediback/internal/vault"
)

// Failure taxonomy. Integrity, lifecycle and compression failures are fatal
// for a unit's run; replication and retention failures are not.
var (
	ErrIntegrity        = errors.New("integrity check failed")
	ErrLifecycleTimeout = errors.New("unit lifecycle transition failed")
	ErrCompression      = errors.New("compression failed")
	ErrReplication      = errors.New("replication failed")
	ErrRetention        = errors.New("retention failed")
	ErrAborted          = errors.New("aborted by operator")
	ErrNoUnits          = errors.New("no units configured")
)

// Confirmer answers a destructive-action prompt. Injected so the engine
// never blocks on a terminal read itself.
type Confirmer func(prompt string) bool

// Operator drives backup runs. One logical thread of control per unit;
// batches are strictly sequential.
type Operator struct {
	ctx      context.Context
	cfg      config.Config
	log      logger.Logger
	rt       runtime.Runtime
	provider remote.Provider
	confirm  Confirmer

	autoApprove bool
	dryRun      bool
	skipStop    bool
	skipVerify  bool
	localOnly   bool
	progress    bool
}

// Option adjusts Operator construction.
type Option func(*Operator)

// WithRuntime injects a container runtime (tests use fakes).
func WithRuntime(rt runtime.Runtime) Option {
	return func(o *Operator) { o.rt = rt }
}

// WithProvider injects a remote provider, bypassing the factory.
func WithProvider(p remote.Provider) Option {
	return func(o *Operator) { o.provider = p }
}

// WithConfirmer injects the approval callback.
func WithConfirmer(c Confirmer) Option {
	return func(o *Operator) { o.confirm = c }
}

// WithAutoApprove answers every prompt with the policy default and records
// that choice in the ledger.
func WithAutoApprove() Option {
	return func(o *Operator) { o.autoApprove = true }
}

// WithDryRun logs every action and mutates nothing.
func WithDryRun() Option {
	return func(o *Operator) { o.dryRun = true }
}

// WithSkipStop leaves units running regardless of the stop policy.
func WithSkipStop() Option {
	return func(o *Operator) { o.skipStop = true }
}

// WithSkipVerify skips the integrity check.
func WithSkipVerify() Option {
	return func(o *Operator) { o.skipVerify = true }
}

// WithLocalOnly disables replication for this invocation.
func WithLocalOnly() Option {
	return func(o *Operator) { o.localOnly = true }
}

// WithProgress enables the progress meter stage.
func WithProgress() Option {
	return func(o *Operator) { o.progress = true }
}

// NewOperator wires the engine: container runtime, optional Vault
// credential resolution, and the configured remote provider.
func NewOperator(ctx context.Context, cfg config.Config, opts ...Option) (*Operator, error) {
	o := &Operator{
		ctx:     ctx,
		cfg:     cfg,
		log:     logger.Global(),
		confirm: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.rt == nil {
		rt, err := runtime.NewDocker(o.log)
		if err != nil {
			return nil, err
		}
		o.rt = rt
	}

	if o.provider == nil && cfg.Remote.Enabled && !o.localOnly {
		remoteCfg, err := resolveCredentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p, err := remote.New(ctx, remoteCfg, o.log)
		if err != nil {
			return nil, err
		}
		o.provider = p
	}

	return o, nil
}

// approve gates a destructive action. Non-interactive runs approve by
// policy default; the ledger records which path was taken.
func (o *Operator) approve(prompt string) bool {
	if o.autoApprove {
		o.log.Info("auto-approved", "action", prompt)
		return true
	}
	return o.confirm(prompt)
}

// resolveCredentials fills provider secrets from Vault when a block points
// at a KV path. YAML values stay authoritative for fields the secret omits.
func resolveCredentials(ctx context.Context, cfg config.Config) (config.RemoteConfig, error) {
	rc := cfg.Remote

	vaultPath := ""
	switch rc.Provider {
	case "sftp":
		vaultPath = rc.SFTP.VaultPath
	case "s3":
		vaultPath = rc.S3.VaultPath
	case "ftp":
		vaultPath = rc.FTP.VaultPath
	}
	if vaultPath == "" {
		return rc, nil
	}

	client, err := vault.NewClient(ctx,
		vault.WithAddress(cfg.Vault.Address),
		vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
	)
	if err != nil {
		return rc, fmt.Errorf("vault client init: %w", err)
	}
	creds, err := client.GetRemoteCredentials(ctx, vaultPath)
	if err != nil {
		return rc, fmt.Errorf("vault read %q: %w", vaultPath, err)
	}

	switch rc.Provider {
	case "sftp":
		if creds.Username != "" {
			rc.SFTP.Username = creds.Username
		}
		if creds.Password != "" {
			rc.SFTP.Password = creds.Password
		}
	case "s3":
		if creds.AccessKey != "" {
			rc.S3.AccessKey = creds.AccessKey
		}
		if creds.SecretKey != "" {
			rc.S3.SecretKey = creds.SecretKey
		}
	case "ftp":
		if creds.Username != "" {
			rc.FTP.Username = creds.Username
		}
		if creds.Password != "" {
			rc.FTP.Password = creds.Password
		}
	}
	return rc, nil
}
