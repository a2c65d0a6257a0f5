package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stratumfs/stratum/pkg/repo"
)

var initFlags struct {
	writeConfig bool
}

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Create a repository",
	Long: `Init creates the repository directory layout. With no argument it
uses the configured root. --write-config also records the location in
the user config file so later commands find it without flags.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := cliConfig.Root
		if len(args) == 1 {
			root = args[0]
		}
		r, err := repo.New(root, repo.Logger(newLogger()))
		if err != nil {
			wrapFatalln("initialize repository at "+root, err)
			return
		}
		if initFlags.writeConfig {
			home, err := os.UserHomeDir()
			if err != nil {
				wrapFatalln("locate home directory", err)
				return
			}
			cliConfig.Root = r.Root()
			path := filepath.Join(home, ".stratum", "stratum.yaml")
			if err := cliConfig.Write(path); err != nil {
				wrapFatalln("write config to "+path, err)
				return
			}
		}
		infoLogger.Println("initialized", r.Root())
	},
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.writeConfig, "write-config", false, "record the repository location in the user config")
	rootCmd.AddCommand(initCmd)
}
