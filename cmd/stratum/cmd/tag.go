package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag NAME REF",
	Short: "Point a tag at a layer or platform",
	Long: `Tag appends a new entry to the named tag's history, pointing it at
the resolved reference. Histories are append-only: earlier targets
stay addressable as NAME~1, NAME~2 and so on.`,
	Example: `% stratum tag prod/base 4f1e29...
% stratum tag prod/base dev/sandbox`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		r := openRepo()
		target, _, err := r.Resolve(ctx, args[1])
		if err != nil {
			wrapFatalln("resolve "+args[1], err)
			return
		}
		entry, err := r.Tags().Push(ctx, args[0], target)
		if err != nil {
			wrapFatalln("push tag "+args[0], err)
			return
		}
		infoLogger.Println(entry.Name, "->", entry.Target)
	},
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		r := openRepo()
		names, err := r.Tags().Names(ctx)
		if err != nil {
			wrapFatalln("list tags", err)
			return
		}
		for _, name := range names {
			head, err := r.Tags().Head(ctx, name)
			if err != nil {
				wrapFatalln("read tag "+name, err)
				return
			}
			infoLogger.Println(name, head.Target)
		}
	},
}

var tagHistoryCmd = &cobra.Command{
	Use:   "history NAME",
	Short: "Show the full history of a tag",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		r := openRepo()
		history, err := r.Tags().History(ctx, args[0])
		if err != nil {
			wrapFatalln("read tag "+args[0], err)
			return
		}
		// newest first, with the back-index spec alongside
		for i := len(history) - 1; i >= 0; i-- {
			entry := history[i]
			spec := entry.Name
			if back := len(history) - 1 - i; back > 0 {
				spec = fmt.Sprintf("%s~%d", entry.Name, back)
			}
			infoLogger.Println(spec, entry.Target, entry.User, entry.Time.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagHistoryCmd)
	rootCmd.AddCommand(tagCmd)
}
