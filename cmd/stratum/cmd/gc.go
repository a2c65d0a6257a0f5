package cmd

import (
	"context"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/stratumfs/stratum/pkg/gc"
)

var gcFlags struct {
	dryRun bool
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove unreachable objects",
	Long: `Gc deletes every object that no tag history and no live runtime can
reach. It takes an exclusive repository lock, so concurrent commits,
pushes and pulls wait until the sweep finishes.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := []gc.Option{gc.Logger(newLogger())}
		if gcFlags.dryRun {
			opts = append(opts, gc.DryRun())
		}
		report, err := gc.New(openRepo(), opts...).Clean(context.Background())
		if err != nil {
			wrapFatalln("collect garbage", err)
			return
		}
		verb := "removed"
		if gcFlags.dryRun {
			verb = "would remove"
		}
		infoLogger.Printf("%d objects scanned, %d reachable, %s %d (%s)",
			report.Scanned, report.Reachable, verb, report.Removed,
			units.HumanSize(float64(report.Reclaimed)))
	},
}

func init() {
	gcCmd.Flags().BoolVar(&gcFlags.dryRun, "dry-run", false, "report without deleting")
	rootCmd.AddCommand(gcCmd)
}
