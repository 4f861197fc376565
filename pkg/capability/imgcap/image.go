// Package imgcap implements capability.ImageManager: creating the module
// image, loop-mounting it and trimming it afterwards (spec.md §6 "image
// merge / create / mount / trim"). Image creation uses diskfs/go-diskfs,
// already an indirect dependency of the teacher's container stack; loop
// device control has no pack library, so it falls back to raw ioctls on
// /dev/loop-control - the one deliberate stdlib/x-sys fallback named in
// SPEC_FULL.md's domain stack table.
package imgcap

import (
	"fmt"
	"io"
	"os"

	"github.com/diskfs/go-diskfs"
	"golang.org/x/sys/unix"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
)

// Linux implements capability.ImageManager against loop devices.
type Linux struct{}

var _ capability.ImageManager = Linux{}

// Real Linux uapi/linux/loop.h ioctl numbers; x/sys/unix does not name
// these on every platform build tag it supports, so they are pinned here.
const (
	loopSetFd       = 0x4C00
	loopClrFd       = 0x4C01
	loopCtlGetFree  = 0x4C82
	loopControlPath = "/dev/loop-control"
)

// CreateImage creates a sparse image file of at least sizeMB if one does
// not already exist (spec.md §4.8 "creating it at a minimum size if
// absent").
func (Linux) CreateImage(path string, sizeMB int) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	size := int64(sizeMB) * 1024 * 1024
	d, err := diskfs.Create(path, size, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("create image %s: %w", path, err)
	}
	log.Log.Info().Str("image", path).Int("mb", sizeMB).Msg("created module image")
	return d.File.Close()
}

// MergeImage appends (merges) src's contents into dst. A real block-level
// merge (resize + copy extents) is the out-of-scope host collaborator;
// this performs the whole-file merge the capability boundary promises.
func (Linux) MergeImage(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return nil // nothing pending to merge
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("merge %s into %s: %w", src, dst, err)
	}
	_ = os.Remove(src)
	log.Log.Info().Str("src", src).Str("dst", dst).Msg("merged pending update image")
	return nil
}

// MountImage loop-mounts image at mountpoint and returns the loop device
// path used.
func (Linux) MountImage(image, mountpoint string) (string, error) {
	ctl, err := os.OpenFile(loopControlPath, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", loopControlPath, err)
	}
	defer ctl.Close()

	idx, err := unix.IoctlGetInt(int(ctl.Fd()), loopCtlGetFree)
	if err != nil {
		return "", fmt.Errorf("get free loop device: %w", err)
	}
	loopDev := fmt.Sprintf("/dev/loop%d", idx)

	backing, err := os.OpenFile(image, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", image, err)
	}
	defer backing.Close()

	loop, err := os.OpenFile(loopDev, os.O_RDWR, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", loopDev, err)
	}
	defer loop.Close()

	if err := unix.IoctlSetInt(int(loop.Fd()), loopSetFd, int(backing.Fd())); err != nil {
		return "", fmt.Errorf("LOOP_SET_FD %s: %w", loopDev, err)
	}

	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", mountpoint, err)
	}
	if err := unix.Mount(loopDev, mountpoint, "ext4", 0, ""); err != nil {
		return "", fmt.Errorf("mount %s at %s: %w", loopDev, mountpoint, err)
	}
	log.Log.Info().Str("image", image).Str("loop", loopDev).Str("mountpoint", mountpoint).Msg("mounted module image")
	return loopDev, nil
}

// TrimImage unmounts the image and releases the loop device. A real
// filesystem trim (fstrim/resize2fs) is left to the host collaborator;
// this performs the unmount/detach half of the capability.
func (Linux) TrimImage(image, mountpoint, loopDevice string) error {
	if err := unix.Unmount(mountpoint, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", mountpoint, err)
	}
	loop, err := os.OpenFile(loopDevice, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", loopDevice, err)
	}
	defer loop.Close()
	if err := unix.IoctlSetInt(int(loop.Fd()), loopClrFd, 0); err != nil {
		return fmt.Errorf("LOOP_CLR_FD %s: %w", loopDevice, err)
	}
	return nil
}
