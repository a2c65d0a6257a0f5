// Command stratum-enter is the narrow privileged helper behind the
// overlay mount strategy. It is meant to be installed setuid root (or
// invoked via sudo) so the main binary never needs privileges itself.
//
// Usage:
//
//	stratum-enter [-u] OVERLAY_OPTIONS
//
// The mount target comes from the STRATUM_MOUNT_TARGET environment
// variable. With -u the target is unmounted and the options argument
// is ignored. On mount, a target that is already an independent
// filesystem is unmounted first; this is the editable remount path.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	rt "github.com/stratumfs/stratum/pkg/runtime"
	"golang.org/x/sys/unix"
)

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "stratum-enter: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	unmount := flag.Bool("u", false, "unmount the target instead of mounting")
	flag.Parse()

	target := os.Getenv(rt.TargetEnv)
	if target == "" {
		fatalf("%s is not set", rt.TargetEnv)
	}
	target, err := filepath.Abs(target)
	if err != nil {
		fatalf("%v", err)
	}
	if target == "/" {
		fatalf("refusing to operate on /")
	}
	info, err := os.Stat(target)
	if err != nil {
		fatalf("%v", err)
	}
	if !info.IsDir() {
		fatalf("%s is not a directory", target)
	}

	if *unmount {
		if !isMountPoint(target) {
			return
		}
		if err := unix.Unmount(target, 0); err != nil {
			fatalf("unmount %s: %v", target, err)
		}
		return
	}

	opts := flag.Arg(0)
	if opts == "" || flag.NArg() != 1 {
		fatalf("exactly one overlay options argument is required")
	}
	if !strings.HasPrefix(opts, "lowerdir=") {
		fatalf("options must start with lowerdir=")
	}
	// remount path: drop the existing view before mounting the new one
	if isMountPoint(target) {
		if err := unix.Unmount(target, 0); err != nil {
			fatalf("unmount %s before remount: %v", target, err)
		}
	}
	if err := unix.Mount("overlay", target, "overlay", 0, opts); err != nil {
		fatalf("mount %s: %v", target, err)
	}
}

// isMountPoint reports whether the path sits on a different device
// than its parent, i.e. is itself a mount point.
func isMountPoint(p string) bool {
	var self, parent unix.Stat_t
	if err := unix.Stat(p, &self); err != nil {
		return false
	}
	if err := unix.Stat(filepath.Dir(p), &parent); err != nil {
		return false
	}
	return self.Dev != parent.Dev
}
