package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stratumfs/stratum/pkg/config"
	"github.com/stratumfs/stratum/pkg/logger"
	"github.com/stratumfs/stratum/pkg/repo"
	"github.com/stratumfs/stratum/pkg/runtime"
	"github.com/stratumfs/stratum/pkg/storage/remote"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum composes content-addressed filesystem layers",
	Long: `Stratum stores filesystem content in a content-addressed object store
and composes tagged layers into live, mountable runtime environments.

Environments are built from stacks of immutable layers. An editable
runtime captures changes, and committing turns them into a new layer
that can be tagged and synced to other repositories.
`,
}

var (
	cliFlags struct {
		repoRoot string
		logLevel string
	}
	cliConfig *config.Config
)

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cliFlags.repoRoot, "repo", "", "repository root directory (default from config)")
	rootCmd.PersistentFlags().StringVar(&cliFlags.logLevel, "loglevel", "", "log level: info, debug or none")
}

// initConfig reads in the config file and environment.
func initConfig() {
	config.Init()
	var err error
	cliConfig, err = config.Load()
	if err != nil {
		wrapFatalln("load configuration", err)
		return
	}
	if cliFlags.repoRoot != "" {
		cliConfig.Root = cliFlags.repoRoot
	}
	if cliFlags.logLevel != "" {
		cliConfig.LogLevel = cliFlags.logLevel
	}
}

func newLogger() *zap.Logger {
	l, err := logger.New(cliConfig.LogLevel)
	if err != nil {
		wrapFatalln("create logger", err)
		return nil
	}
	return l
}

func openRepo() *repo.Repository {
	opts := []repo.Option{repo.Logger(newLogger())}
	if cliConfig.User != "" {
		opts = append(opts, repo.User(cliConfig.User))
	}
	r, err := repo.New(cliConfig.Root, opts...)
	if err != nil {
		wrapFatalln("open repository at "+cliConfig.Root, err)
		return nil
	}
	return r
}

// newRuntimeManager builds the runtime manager for CLI commands. When
// a default remote is configured, lazy mounts fault missing blobs in
// from it instead of failing on a local cache miss.
func newRuntimeManager(r *repo.Repository) *runtime.Manager {
	opts := []runtime.Option{runtime.Logger(newLogger())}
	if url, err := cliConfig.RemoteURL(""); err == nil &&
		(strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) {
		client, err := remote.New(url)
		if err != nil {
			wrapFatalln("connect to "+url, err)
			return nil
		}
		opts = append(opts, runtime.Fetcher(runtime.CachingFetcher(r, client.GetObject)))
	}
	return runtime.NewManager(r, opts...)
}
