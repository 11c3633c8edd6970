package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mediback/mediback/internal/retention"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [unit]",
	Short: "List local backup artifacts, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		unit := ""
		if len(args) == 1 {
			unit = args[0]
		}
		artifacts, err := retention.List(cfg.Backup.Root, unit, cfg.Backup.TimestampFormat)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			fmt.Println("no artifacts found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "UNIT\tCREATED\tSIZE\tPATH")
		for _, a := range artifacts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				a.Unit,
				a.Stamp.Format("2006-01-02 15:04:05"),
				humanize.Bytes(uint64(a.Size)),
				a.Path,
			)
		}
		return w.Flush()
	},
}
