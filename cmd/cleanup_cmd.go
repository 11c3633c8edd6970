package cmd

import (
	"context"
	"fmt"

	"github.com/mediback/mediback/internal/operations"
	"github.com/mediback/mediback/internal/retention"
	"github.com/spf13/cobra"
)

var cleanupAllArtifacts bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [unit]",
	Short: "Apply the retention policy, or wipe all artifacts with --all-artifacts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		unit := ""
		if len(args) == 1 {
			unit = args[0]
		}

		if cleanupAllArtifacts {
			op, err := operations.NewOperator(context.Background(), cfg,
				operations.WithConfirmer(terminalConfirmer()),
				operations.WithLocalOnly(),
			)
			if err != nil {
				return err
			}
			removed, err := op.BulkCleanup(unit)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d artifacts\n", removed)
			return nil
		}

		if unit == "" {
			removed := 0
			for _, u := range cfg.Units {
				n, err := retention.Enforce(cfg.Backup.Root, u.Name, cfg.Retention.LocalKeep, cfg.Backup.TimestampFormat, log)
				if err != nil {
					return err
				}
				removed += n
			}
			fmt.Printf("removed %d artifacts\n", removed)
			return nil
		}

		removed, err := retention.Enforce(cfg.Backup.Root, unit, cfg.Retention.LocalKeep, cfg.Backup.TimestampFormat, log)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d artifacts\n", removed)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().
		BoolVar(&cleanupAllArtifacts, "all-artifacts", false, "delete every artifact, not just those beyond the keep count")
}
