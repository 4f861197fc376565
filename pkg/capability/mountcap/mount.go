// Package mountcap implements capability.Mounter on top of containerd's
// mount helper, the way the teacher's pkg/mount/mount.go and
// pkg/op/mount.go build their mountOperation/MountOperation around
// containerd's mount.Mount type.
package mountcap

import (
	"fmt"

	"github.com/containerd/containerd/mount"
	"golang.org/x/sys/unix"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
)

// Linux struct implements capability.Mounter against the real kernel.
type Linux struct{}

var _ capability.Mounter = Linux{}

// BindMount bind-mounts src onto dst, the one mount primitive every MODULE
// leaf and every skeleton placeholder resolves to (spec.md §4.5).
func (Linux) BindMount(src, dst string) error {
	m := mount.Mount{
		Type:    "none",
		Source:  src,
		Options: []string{"bind"},
	}
	log.Log.Debug().Str("src", src).Str("dst", dst).Msg("bind mount")
	if err := m.Mount(dst); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", src, dst, err)
	}
	return nil
}

// MountTmpfs mounts a fresh tmpfs at target, the skeleton-synthesis
// primitive (spec.md §4.5 step 3).
func (Linux) MountTmpfs(target string) error {
	m := mount.Mount{
		Type:   "tmpfs",
		Source: "tmpfs",
	}
	log.Log.Debug().Str("target", target).Msg("mount tmpfs")
	if err := m.Mount(target); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", target, err)
	}
	return nil
}

// Unmount detaches whatever is mounted at target. Failures here are
// logged by the caller, never fatal (spec.md §7 "mount syscall failure
// during overlay").
func (Linux) Unmount(target string) error {
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

// Remount toggles target between read-write and read-only in place
// (spec.md §4.8 phase 1 step 5 "Remount / read-write", phase 2 "Remount /
// read-only").
func (Linux) Remount(target string, rw bool) error {
	flags := uintptr(unix.MS_REMOUNT)
	if !rw {
		flags |= unix.MS_RDONLY
	}
	log.Log.Debug().Str("target", target).Bool("rw", rw).Msg("remount")
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		return fmt.Errorf("remount %s (rw=%t): %w", target, rw, err)
	}
	return nil
}
