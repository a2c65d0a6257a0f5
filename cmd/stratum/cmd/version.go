package cmd

import (
	"github.com/spf13/cobra"
)

// overridden at build time via -ldflags
var (
	version = "dev"
	commit  = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		infoLogger.Println("stratum", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
