package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
	"github.com/stratumfs/stratum/pkg/web"
)

var serveFlags struct {
	listen string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve this repository to remote peers",
	Long: `Serve exposes the repository's objects and tags over HTTP so that
other repositories can push to and pull from it.`,
	Run: func(cmd *cobra.Command, args []string) {
		handler := web.InitRouter(web.NewServer(openRepo(), web.Logger(newLogger())))
		infoLogger.Println("listening on", serveFlags.listen)
		if err := http.ListenAndServe(serveFlags.listen, handler); err != nil {
			wrapFatalln("serve", err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.listen, "listen", ":7737", "address to listen on")
	rootCmd.AddCommand(serveCmd)
}
