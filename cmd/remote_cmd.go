package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mediback/mediback/internal/operations"
	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Remote storage helpers",
}

var remoteTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Probe the configured remote provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Remote.Enabled {
			return fmt.Errorf("remote storage is disabled in the configuration")
		}
		op, err := operations.NewOperator(context.Background(), cfg)
		if err != nil {
			return err
		}
		if err := op.RemoteTest(); err != nil {
			return fmt.Errorf("remote test failed: %w", err)
		}
		fmt.Printf("remote %q reachable\n", cfg.Remote.Provider)
		return nil
	},
}

var remoteConfigureCmd = &cobra.Command{
	Use:       "configure <provider>",
	Short:     "Append a provider block skeleton to the config file",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"sftp", "s3", "ftp", "nfs", "rclone"},
	RunE: func(cmd *cobra.Command, args []string) error {
		skeleton, ok := providerSkeletons[args[0]]
		if !ok {
			return fmt.Errorf("unknown provider %q", args[0])
		}
		f, err := os.OpenFile(ConfigFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "\n%s", skeleton); err != nil {
			return err
		}
		fmt.Printf("wrote %s block skeleton to %s, edit before use\n", args[0], ConfigFile)
		return nil
	},
}

// One skeleton per provider. Commented out so appending to a live config
// never changes behavior until the operator edits it in.
var providerSkeletons = map[string]string{
	"sftp": `#remote:
#  enabled: true
#  provider: sftp
#  auto_upload: true
#  verify_upload: true
#  sftp:
#    host: backup.example.com
#    port: 22
#    username: backup
#    password: ""          # or key_file / vault_path
#    key_file: ""
#    remote_path: /srv/backups
#    vault_path: ""
`,
	"s3": `#remote:
#  enabled: true
#  provider: s3
#  auto_upload: true
#  verify_upload: true
#  s3:
#    bucket: media-backups
#    region: us-east-1
#    prefix: mediback
#    endpoint: ""          # set for MinIO or other S3-compatibles
#    access_key: ""        # or vault_path
#    secret_key: ""
#    vault_path: ""
`,
	"ftp": `#remote:
#  enabled: true
#  provider: ftp
#  auto_upload: true
#  verify_upload: true
#  ftp:
#    host: backup.example.com
#    port: 21
#    username: backup
#    password: ""          # or vault_path
#    remote_path: /backups
#    vault_path: ""
`,
	"nfs": `#remote:
#  enabled: true
#  provider: nfs
#  auto_upload: true
#  verify_upload: true
#  nfs:
#    host: nas.example.com
#    export_path: /export/backups
#    mount_point: /mnt/backups
#    options: vers=4
#    remote_path: mediback
`,
	"rclone": `#remote:
#  enabled: true
#  provider: rclone
#  auto_upload: true
#  verify_upload: true
#  rclone:
#    remote_name: gdrive
#    remote_path: backups/mediback
#    binary: rclone
`,
}

func init() {
	remoteCmd.AddCommand(remoteTestCmd)
	remoteCmd.AddCommand(remoteConfigureCmd)
}
