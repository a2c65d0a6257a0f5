package cmd

import (
	"context"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/stratumfs/stratum/pkg/model"
)

var layersCmd = &cobra.Command{
	Use:   "layers REF",
	Short: "Show the layer stack behind a reference",
	Long: `Layers resolves a tag, platform or layer reference and prints the
flattened stack bottom to top, with each layer's manifest root and
encoded size.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		r := openRepo()
		d, obj, err := r.Resolve(ctx, args[0])
		if err != nil {
			wrapFatalln("resolve "+args[0], err)
			return
		}
		var stack []model.Digest
		switch typed := obj.(type) {
		case *model.Layer:
			stack = []model.Digest{d}
		case *model.Platform:
			stack = typed.Stack
		default:
			wrapFatalWithCodef(2, "%s is a %s, expected layer or platform", d, obj.Kind())
			return
		}
		for _, layerDigest := range stack {
			layerObj, err := r.Objects().ReadObject(ctx, layerDigest, model.KindLayer)
			if err != nil {
				wrapFatalln("read layer "+layerDigest.String(), err)
				return
			}
			layer := layerObj.(*model.Layer)
			data, err := r.Objects().Get(ctx, layerDigest)
			if err != nil {
				wrapFatalln("read layer "+layerDigest.String(), err)
				return
			}
			infoLogger.Println(layerDigest, "root", layer.Root, units.HumanSize(float64(len(data))))
		}
	},
}

func init() {
	rootCmd.AddCommand(layersCmd)
}
