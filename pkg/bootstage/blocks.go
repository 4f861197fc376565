// pkg/capability/blockcap-adjacent: unlocking every block device for
// read-write access (spec.md §4.8 phase 1 step 4). jaypipes/ghw enumerates
// the physical disks the way the teacher's pkg/dag/dag_normal_boot.go
// already leans on ghw for disk discovery; the raw BLKROSET ioctl itself
// has no pack library wrapping it, so it stays a direct golang.org/x/sys
// call (documented in DESIGN.md).
package bootstage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jaypipes/ghw/pkg/block"
	"golang.org/x/sys/unix"

	"github.com/overlaycore/magicmount/internal/log"
)

// blkROSet is BLKROSET, _IO(0x12, 93) - clears the read-only flag on a
// block device.
const blkROSet = 0x125D

// LinuxBlockUnlocker implements capability.BlockUnlocker against
// jaypipes/ghw for enumeration and a raw ioctl for the unlock itself.
type LinuxBlockUnlocker struct{}

// UnlockAll clears the read-only flag on every block device ghw finds,
// resolving each disk/partition name to its node under dir (typically
// /dev/block, spec.md §4.8 step 4). A device that fails to open or
// ioctl is logged and skipped - best effort, matches the original's
// PLOGE-and-continue behavior.
func (LinuxBlockUnlocker) UnlockAll(dir string) error {
	info, err := block.New()
	if err != nil {
		return fmt.Errorf("enumerate block devices: %w", err)
	}

	var names []string
	for _, disk := range info.Disks {
		names = append(names, disk.Name)
		for _, part := range disk.Partitions {
			names = append(names, part.Name)
		}
	}

	for _, name := range names {
		devPath := filepath.Join(dir, name)
		if _, err := os.Stat(devPath); err != nil {
			continue
		}
		unlockOne(devPath)
	}
	return nil
}

func unlockOne(path string) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		log.Log.Warn().Err(err).Str("device", path).Msg("failed opening block device")
		return
	}
	defer f.Close()
	off := 0
	if err := unix.IoctlSetInt(int(f.Fd()), blkROSet, off); err != nil {
		log.Log.Warn().Err(err).Str("device", path).Msg("failed to unlock block device")
	}
}
