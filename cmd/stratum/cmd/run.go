package cmd

import (
	"context"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var runFlags struct {
	edit bool
	keep bool
}

var runCmd = &cobra.Command{
	Use:   "run REF... [-- COMMAND [ARG...]]",
	Short: "Compose layers into a mounted runtime",
	Long: `Run resolves the given references (tags, platforms or layer digests)
into an ordered layer stack and mounts the composed view. Later
references win on path conflicts.

With a command after "--", the command executes inside the mounted
view and the runtime is torn down when it exits. Without one, the
runtime is left mounted and its id is printed for later use with
edit, commit and runtimes rm.`,
	Example: `% stratum run prod/base prod/tools -- make test
% stratum run --edit dev/sandbox`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		refs := args
		var command []string
		if i := cmd.ArgsLenAtDash(); i >= 0 {
			refs = args[:i]
			command = args[i:]
		}
		if len(refs) == 0 {
			wrapFatalln("at least one layer reference is required", nil)
			return
		}
		ctx := context.Background()
		r := openRepo()
		mgr := newRuntimeManager(r)

		rt, err := mgr.Create(ctx, refs)
		if err != nil {
			wrapFatalln("create runtime", err)
			return
		}
		if err = mgr.Mount(ctx, rt); err != nil {
			wrapFatalln("mount runtime", err)
			return
		}
		if runFlags.edit {
			if err = mgr.Edit(ctx, rt); err != nil {
				wrapFatalln("make runtime editable", err)
				return
			}
		}
		if len(command) == 0 {
			infoLogger.Println(rt.ID, rt.MountPath())
			return
		}

		sub := exec.CommandContext(ctx, command[0], command[1:]...)
		sub.Dir = rt.MountPath()
		sub.Env = append(os.Environ(), rt.Env...)
		sub.Stdin = os.Stdin
		sub.Stdout = os.Stdout
		sub.Stderr = os.Stderr
		runErr := sub.Run()

		if !runFlags.keep {
			if err = mgr.Delete(ctx, rt, false); err != nil {
				wrapFatalln("tear down runtime "+rt.ID, err)
				return
			}
		}
		if runErr != nil {
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				osExit(exitErr.ExitCode())
				return
			}
			wrapFatalln("run command", runErr)
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.edit, "edit", false, "mount editable, capturing changes for commit")
	runCmd.Flags().BoolVar(&runFlags.keep, "keep", false, "leave the runtime mounted after the command exits")
	rootCmd.AddCommand(runCmd)
}
