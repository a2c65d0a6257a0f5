package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var pullFlags struct {
	remote string
}

var pullCmd = &cobra.Command{
	Use:   "pull TAG",
	Short: "Replicate a tag and its objects from a remote",
	Long: `Pull transfers the named tag's history and every object it reaches
from the remote repository into the local one. Re-running an
interrupted pull resumes where it left off.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		summary, err := newSyncer(pullFlags.remote).Pull(context.Background(), args[0])
		if err != nil {
			wrapFatalln("pull "+args[0], err)
			return
		}
		printSummary(summary)
	},
}

func init() {
	pullCmd.Flags().StringVar(&pullFlags.remote, "remote", "", "remote name or base URL (default from config)")
	rootCmd.AddCommand(pullCmd)
}
