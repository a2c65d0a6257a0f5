package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit RUNTIME",
	Short: "Make a mounted runtime editable",
	Long: `Edit provisions the runtime's writable upper directory so that
changes to the mounted view are captured for a later commit. Editing
an already editable runtime is a no-op.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		mgr := newRuntimeManager(openRepo())
		rt, err := mgr.Load(ctx, args[0])
		if err != nil {
			wrapFatalln("load runtime "+args[0], err)
			return
		}
		if err = mgr.Edit(ctx, rt); err != nil {
			wrapFatalln("make runtime editable", err)
			return
		}
		infoLogger.Println(rt.ID, "editable")
	},
}

func init() {
	rootCmd.AddCommand(editCmd)
}
