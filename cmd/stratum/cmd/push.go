package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stratumfs/stratum/pkg/repo"
	"github.com/stratumfs/stratum/pkg/storage/remote"
	"github.com/stratumfs/stratum/pkg/sync"
)

var pushFlags struct {
	remote string
}

var pushCmd = &cobra.Command{
	Use:   "push TAG",
	Short: "Replicate a tag and its objects to a remote",
	Long: `Push transfers the named tag's history and every object it reaches to
the remote repository. Objects already present remotely are skipped,
and the tag entries land only after their objects, so an interrupted
push never leaves a tag pointing into a hole.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		summary, err := newSyncer(pushFlags.remote).Push(context.Background(), args[0])
		if err != nil {
			wrapFatalln("push "+args[0], err)
			return
		}
		printSummary(summary)
	},
}

func newSyncer(remoteName string) *sync.Syncer {
	url, err := cliConfig.RemoteURL(remoteName)
	if err != nil {
		wrapFatalln("resolve remote", err)
		return nil
	}
	var peer sync.Endpoint
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		peer, err = remote.New(url)
	} else {
		// file-based remote: another repository on a reachable path
		peer, err = repo.New(strings.TrimPrefix(url, "file://"))
	}
	if err != nil {
		wrapFatalln("connect to "+url, err)
		return nil
	}
	return sync.New(openRepo(), peer, sync.Logger(newLogger()))
}

func printSummary(s *sync.Summary) {
	infoLogger.Printf("%d objects (%d bytes), %d tag entries, %d already present",
		s.Objects, s.Bytes, s.Tags, s.Skipped)
}

func init() {
	pushCmd.Flags().StringVar(&pushFlags.remote, "remote", "", "remote name or base URL (default from config)")
	rootCmd.AddCommand(pushCmd)
}
