package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X github.com/mediback/mediback/cmd.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mediback version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mediback %s\n", version)
	},
}
