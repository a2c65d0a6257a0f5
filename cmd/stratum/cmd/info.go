package cmd

import (
	"context"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarize the repository",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		r := openRepo()

		digests, err := r.Objects().Keys(ctx)
		if err != nil {
			wrapFatalln("scan objects", err)
			return
		}
		var total int64
		for _, d := range digests {
			n, err := r.Objects().Size(ctx, d)
			if err != nil {
				continue
			}
			total += n
		}
		names, err := r.Tags().Names(ctx)
		if err != nil {
			wrapFatalln("scan tags", err)
			return
		}

		infoLogger.Println("repository:", r.Root())
		infoLogger.Println("objects:   ", len(digests), "("+units.HumanSize(float64(total))+")")
		infoLogger.Println("tags:      ", len(names))
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
