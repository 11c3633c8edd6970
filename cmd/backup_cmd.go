package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mediback/mediback/internal/operations"
	"github.com/spf13/cobra"
)

var (
	backupAll   bool
	skipStop    bool
	skipVerify  bool
	noCompress  bool
	localOnly   bool
	noRemote    bool
	dryRun      bool
	autoApprove bool
)

var backupCmd = &cobra.Command{
	Use:   "backup [unit]",
	Short: "Back up one unit, or every configured unit with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !backupAll && len(args) == 0 {
			return fmt.Errorf("a unit name or --all is required")
		}
		if backupAll && len(args) > 0 {
			return fmt.Errorf("--all and a unit name are mutually exclusive")
		}

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if noCompress {
			cfg.Compression.Enabled = false
		}
		if noRemote {
			cfg.Remote.Enabled = false
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []operations.Option{
			operations.WithConfirmer(terminalConfirmer()),
			operations.WithProgress(),
		}
		if autoApprove {
			opts = append(opts, operations.WithAutoApprove())
		}
		if dryRun {
			opts = append(opts, operations.WithDryRun())
		}
		if skipStop {
			opts = append(opts, operations.WithSkipStop())
		}
		if skipVerify {
			opts = append(opts, operations.WithSkipVerify())
		}
		if localOnly {
			opts = append(opts, operations.WithLocalOnly())
		}

		op, err := operations.NewOperator(ctx, cfg, opts...)
		if err != nil {
			return err
		}
		if backupAll {
			return op.BackupAll()
		}
		return op.BackupUnit(args[0])
	},
}

// terminalConfirmer prompts on stdout and reads one line from stdin. Only
// an explicit yes answer approves.
func terminalConfirmer() operations.Confirmer {
	reader := bufio.NewReader(os.Stdin)
	return func(prompt string) bool {
		fmt.Printf("%s [y/N]: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func init() {
	backupCmd.Flags().BoolVar(&backupAll, "all", false, "back up every configured unit")
	backupCmd.Flags().BoolVar(&skipStop, "skip-stop", false, "leave units running during the backup")
	backupCmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip the database integrity check")
	backupCmd.Flags().BoolVar(&noCompress, "no-compress", false, "archive without compression")
	backupCmd.Flags().BoolVar(&localOnly, "local-only", false, "skip replication for this run")
	backupCmd.Flags().BoolVar(&noRemote, "no-remote", false, "disable the remote provider entirely")
	backupCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would happen without doing it")
	backupCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "answer every prompt with the policy default")
}
