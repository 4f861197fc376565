// Mirror setup (spec.md §4.8 phase 1 step 7): bind-mount read-only copies
// of the live /system (or /system_root/system) and /vendor (if separate)
// trees under the mirror root, so DUMMY placeholders during skeleton
// synthesis (spec.md §4.5) and post-fs-data scripts (spec.md §4.6, PATH
// policy PathMirror) have something read-only to source from while the
// real / is still being reassembled.
package bootstage

import (
	"fmt"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
)

// SetupMirrors implements spec.md §4.8 step 7. It sets c.SeparateVendor
// when /vendor is found as its own mount point in /proc/mounts.
func (c *Controller) SetupMirrors() error {
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return fmt.Errorf("read /proc/mounts: %w", err)
	}

	systemAsRoot := false
	for _, m := range mounts {
		if m.Mountpoint == "/system_root" {
			systemAsRoot = true
			break
		}
	}

	if err := vfs.MkdirAll(c.Fsys, filepath.Join(constants.MirrorDir, "system"), 0755); err != nil {
		return fmt.Errorf("mkdir mirror/system: %w", err)
	}

	if systemAsRoot {
		if err := c.Mounter.BindMount(filepath.Join(constants.SystemRoot, "system"), filepath.Join(constants.MirrorDir, "system")); err != nil {
			return fmt.Errorf("mirror system_root/system: %w", err)
		}
		log.Log.Info().Str("path", filepath.Join(constants.MirrorDir, "system")).Msg("mount mirror")
	} else {
		for _, m := range mounts {
			if m.Mountpoint == constants.SystemMount {
				if err := c.mountRO(m.Mountpoint, filepath.Join(constants.MirrorDir, "system"), m.FSType); err != nil {
					return err
				}
				break
			}
		}
	}

	c.SeparateVendor = false
	for _, m := range mounts {
		if m.Mountpoint == constants.VendorMount {
			c.SeparateVendor = true
			if err := vfs.MkdirAll(c.Fsys, filepath.Join(constants.MirrorDir, "vendor"), 0755); err != nil {
				return fmt.Errorf("mkdir mirror/vendor: %w", err)
			}
			if err := c.mountRO(m.Mountpoint, filepath.Join(constants.MirrorDir, "vendor"), m.FSType); err != nil {
				return err
			}
			break
		}
	}
	if !c.SeparateVendor {
		if err := c.Fsys.Symlink(filepath.Join(constants.MirrorDir, "system", "vendor"), filepath.Join(constants.MirrorDir, "vendor")); err != nil {
			log.Log.Warn().Err(err).Msg("failed linking mirror/vendor to mirror/system/vendor")
		}
	}

	if err := vfs.MkdirAll(c.Fsys, constants.DataBinDir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", constants.DataBinDir, err)
	}
	if err := c.Mounter.BindMount(constants.DataBinDir, filepath.Join(constants.MirrorDir, "bin")); err != nil {
		log.Log.Warn().Err(err).Msg("failed mirroring data bin dir")
	}
	return nil
}

func (c *Controller) mountRO(source, target, fsType string) error {
	if err := c.Mounter.BindMount(source, target); err != nil {
		return fmt.Errorf("mount %s -> %s: %w", target, source, err)
	}
	log.Log.Info().Str("path", target).Str("source", source).Str("fstype", fsType).Msg("mount mirror")
	return nil
}

// InstallBusybox installs the internal shell-utility busybox if the
// framework shipped one, symlinking it in on top of the busybox install
// dir (spec.md §4.8 step 8).
func (c *Controller) InstallBusybox() error {
	busybox := filepath.Join(constants.MirrorDir, "bin", "busybox")
	if !c.exists(busybox) {
		return nil
	}
	if err := vfs.MkdirAll(c.Fsys, constants.BusyboxPath, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", constants.BusyboxPath, err)
	}
	code, err := c.Exec.Run([]string{busybox, "--install", "-s", constants.BusyboxPath}, nil, 0)
	if err != nil {
		return fmt.Errorf("busybox --install: %w", err)
	}
	if code != 0 {
		log.Log.Warn().Int("exit_code", code).Msg("busybox --install exited non-zero")
	}
	return c.Fsys.Symlink(busybox, filepath.Join(constants.BusyboxPath, "busybox"))
}
