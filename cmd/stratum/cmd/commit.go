package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/stratumfs/stratum/pkg/runtime"
)

var commitFlags struct {
	tag        string
	env        []string
	message    string
	allowEmpty bool
}

var commitCmd = &cobra.Command{
	Use:   "commit RUNTIME",
	Short: "Turn captured changes into a new layer",
	Long: `Commit scans the runtime's captured changes and stores them as a new
immutable layer: created and modified paths become entries, deletions
become masks that hide lower layers when the new layer is stacked.

The runtime keeps running afterwards with the fresh layer at the top
of its stack and an empty change set.`,
	Example: `% stratum commit --tag dev/sandbox 4f1e29...
% stratum commit --env PATH=/opt/tools/bin --tag prod/tools 4f1e29...`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		mgr := newRuntimeManager(openRepo())
		rt, err := mgr.Load(ctx, args[0])
		if err != nil {
			wrapFatalln("load runtime "+args[0], err)
			return
		}
		opts := []runtime.CommitOption{}
		if commitFlags.tag != "" {
			opts = append(opts, runtime.CommitTag(commitFlags.tag))
		}
		if len(commitFlags.env) > 0 {
			opts = append(opts, runtime.CommitEnv(commitFlags.env))
		}
		if commitFlags.message != "" {
			opts = append(opts, runtime.CommitAnnotations(map[string]string{"message": commitFlags.message}))
		}
		if commitFlags.allowEmpty {
			opts = append(opts, runtime.AllowEmpty())
		}
		layer, err := mgr.Commit(ctx, rt, opts...)
		if err != nil {
			wrapFatalln("commit runtime "+rt.ID, err)
			return
		}
		infoLogger.Println(layer)
	},
}

func init() {
	commitCmd.Flags().StringVar(&commitFlags.tag, "tag", "", "also move this tag to the new layer")
	commitCmd.Flags().StringSliceVar(&commitFlags.env, "env", nil, "environment the layer contributes, KEY=VALUE")
	commitCmd.Flags().StringVarP(&commitFlags.message, "message", "m", "", "annotate the layer with a message")
	commitCmd.Flags().BoolVar(&commitFlags.allowEmpty, "allow-empty", false, "permit a layer with no changes")
	rootCmd.AddCommand(commitCmd)
}
