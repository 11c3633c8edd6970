package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config represents the top-level YAML configuration file. It is built once
// at process start and passed by value into every component.
type Config struct {
	Include []string `mapstructure:"include" yaml:"include,omitempty"`

	Backup      BackupConfig      `mapstructure:"backup"      yaml:"backup"`
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Retention   RetentionConfig   `mapstructure:"retention"   yaml:"retention"`
	Remote      RemoteConfig      `mapstructure:"remote"      yaml:"remote"`
	Vault       VaultConfig       `mapstructure:"vault"       yaml:"vault"`
	Log         LogConfig         `mapstructure:"log"         yaml:"log"`

	Units []UnitConfig `mapstructure:"units" yaml:"units"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	Root            string        `mapstructure:"root"             yaml:"root"`
	StopForBackup   bool          `mapstructure:"stop_for_backup"  yaml:"stop_for_backup"`
	VerifyIntegrity bool          `mapstructure:"verify_integrity" yaml:"verify_integrity"`
	TimestampFormat string        `mapstructure:"timestamp_format" yaml:"timestamp_format"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"     yaml:"stop_timeout"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"     yaml:"settle_delay"`
}

// CompressionConfig selects the compressor for the archive pipeline.
type CompressionConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Format  string `mapstructure:"format"  yaml:"format"` // "gzip" or "zstd"
	Level   int    `mapstructure:"level"   yaml:"level"`
	Workers int    `mapstructure:"workers" yaml:"workers"` // 1 forces the single-threaded compressor, 0 means one per CPU
}

// RetentionConfig specifies how many artifacts to keep per tier.
// Zero disables cleanup for that tier; it never means "delete all".
type RetentionConfig struct {
	LocalKeep  int `mapstructure:"local_keep"  yaml:"local_keep"`
	RemoteKeep int `mapstructure:"remote_keep" yaml:"remote_keep"`
}

// RemoteConfig holds the replication policy plus one block per provider.
type RemoteConfig struct {
	Enabled                bool   `mapstructure:"enabled"                   yaml:"enabled"`
	Provider               string `mapstructure:"provider"                  yaml:"provider"`
	AutoUpload             bool   `mapstructure:"auto_upload"               yaml:"auto_upload"`
	VerifyUpload           bool   `mapstructure:"verify_upload"             yaml:"verify_upload"`
	DeleteLocalAfterUpload bool   `mapstructure:"delete_local_after_upload" yaml:"delete_local_after_upload"`

	SFTP   SFTPConfig   `mapstructure:"sftp"   yaml:"sftp"`
	S3     S3Config     `mapstructure:"s3"     yaml:"s3"`
	FTP    FTPConfig    `mapstructure:"ftp"    yaml:"ftp"`
	NFS    NFSConfig    `mapstructure:"nfs"    yaml:"nfs"`
	Rclone RcloneConfig `mapstructure:"rclone" yaml:"rclone"`
}

// SFTPConfig configures the secure-shell transfer provider.
type SFTPConfig struct {
	Host       string `mapstructure:"host"        yaml:"host"`
	Port       int    `mapstructure:"port"        yaml:"port"`
	Username   string `mapstructure:"username"    yaml:"username"`
	Password   string `mapstructure:"password"    yaml:"password,omitempty"`
	KeyFile    string `mapstructure:"key_file"    yaml:"key_file,omitempty"`
	RemotePath string `mapstructure:"remote_path" yaml:"remote_path"`
	VaultPath  string `mapstructure:"vault_path"  yaml:"vault_path,omitempty"`
}

// S3Config configures the object-storage provider.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"     yaml:"bucket"`
	Endpoint  string `mapstructure:"endpoint"   yaml:"endpoint,omitempty"`
	Region    string `mapstructure:"region"     yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Prefix    string `mapstructure:"prefix"     yaml:"prefix,omitempty"`
	VaultPath string `mapstructure:"vault_path" yaml:"vault_path,omitempty"`
}

// FTPConfig configures the legacy file-transfer provider.
type FTPConfig struct {
	Host       string `mapstructure:"host"        yaml:"host"`
	Port       int    `mapstructure:"port"        yaml:"port"`
	Username   string `mapstructure:"username"    yaml:"username"`
	Password   string `mapstructure:"password"    yaml:"password,omitempty"`
	RemotePath string `mapstructure:"remote_path" yaml:"remote_path"`
	VaultPath  string `mapstructure:"vault_path"  yaml:"vault_path,omitempty"`
}

// NFSConfig configures the network-filesystem provider.
type NFSConfig struct {
	Host       string `mapstructure:"host"        yaml:"host"`
	ExportPath string `mapstructure:"export_path" yaml:"export_path"`
	MountPoint string `mapstructure:"mount_point" yaml:"mount_point"`
	Options    string `mapstructure:"options"     yaml:"options,omitempty"`
	RemotePath string `mapstructure:"remote_path" yaml:"remote_path,omitempty"`
}

// RcloneConfig configures the generic cloud-remote provider.
type RcloneConfig struct {
	RemoteName string `mapstructure:"remote_name" yaml:"remote_name"`
	RemotePath string `mapstructure:"remote_path" yaml:"remote_path"`
	Binary     string `mapstructure:"binary"      yaml:"binary,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address,omitempty"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
}

// LogConfig points the session log at a file.
type LogConfig struct {
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// UnitConfig names a managed container and, optionally, its data root. When
// DataRoot is empty it is discovered from the container's mounts.
type UnitConfig struct {
	Name     string `mapstructure:"name"      yaml:"name"`
	DataRoot string `mapstructure:"data_root" yaml:"data_root,omitempty"`
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	// Unmarshal into the Config struct
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backup.stop_for_backup", true)
	v.SetDefault("backup.verify_integrity", true)
	v.SetDefault("backup.timestamp_format", "2006-01-02_15-04-05")
	v.SetDefault("backup.stop_timeout", "30s")
	v.SetDefault("backup.settle_delay", "3s")
	v.SetDefault("compression.enabled", true)
	v.SetDefault("compression.format", "gzip")
	v.SetDefault("compression.level", 6)
	v.SetDefault("compression.workers", 0)
	v.SetDefault("retention.local_keep", 7)
	v.SetDefault("retention.remote_keep", 7)
	v.SetDefault("remote.auto_upload", true)
	v.SetDefault("remote.sftp.port", 22)
	v.SetDefault("remote.ftp.port", 21)
	v.SetDefault("remote.s3.region", "us-east-1")
	v.SetDefault("remote.rclone.binary", "rclone")
}

// Validate rejects configurations the engine cannot run with. It fails
// before any unit is touched.
func (c *Config) Validate() error {
	if c.Backup.Root == "" {
		return fmt.Errorf("%w: backup.root is required", ErrValidateConfig)
	}
	if c.Retention.LocalKeep < 0 || c.Retention.RemoteKeep < 0 {
		return fmt.Errorf("%w: retention counts must be non-negative", ErrValidateConfig)
	}
	switch c.Compression.Format {
	case "gzip", "zstd", "":
	default:
		return fmt.Errorf("%w: unknown compression format %q", ErrValidateConfig, c.Compression.Format)
	}
	if c.Remote.Enabled {
		switch c.Remote.Provider {
		case "sftp", "s3", "ftp", "nfs", "rclone":
		case "":
			return fmt.Errorf("%w: remote.provider is required when remote is enabled", ErrValidateConfig)
		default:
			return fmt.Errorf("%w: unknown remote provider %q", ErrValidateConfig, c.Remote.Provider)
		}
	}
	return nil
}
