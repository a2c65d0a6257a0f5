package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List runtime sessions",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		mgr := newRuntimeManager(openRepo())
		list, err := mgr.List(ctx)
		if err != nil {
			wrapFatalln("list runtimes", err)
			return
		}
		for _, rt := range list {
			infoLogger.Println(rt.ID, rt.Status, rt.Strategy, len(rt.Stack), "layers")
		}
	},
}

var runtimesRmFlags struct {
	force bool
}

var runtimesRmCmd = &cobra.Command{
	Use:   "rm RUNTIME",
	Short: "Unmount and discard a runtime session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		mgr := newRuntimeManager(openRepo())
		rt, err := mgr.Load(ctx, args[0])
		if err != nil {
			wrapFatalln("load runtime "+args[0], err)
			return
		}
		if err = mgr.Delete(ctx, rt, runtimesRmFlags.force); err != nil {
			wrapFatalln("delete runtime "+rt.ID, err)
			return
		}
	},
}

func init() {
	runtimesRmCmd.Flags().BoolVar(&runtimesRmFlags.force, "force", false, "tear down even if the mount is busy")
	runtimesCmd.AddCommand(runtimesRmCmd)
	rootCmd.AddCommand(runtimesCmd)
}
