// The /sbin overlay rebuild, supplemented from
// original_source/native/jni/daemon/bootstages.cpp's startup() (spec.md
// §4.8 phase 1 step 5, SPEC_FULL.md supplemented feature 1): preserve
// every pre-existing /sbin entry via a hard-linked scratch mirror and
// symlinks back to it, while carving out writable slots for the
// framework's own binaries and applets.
package bootstage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
)

// AppletNames are the busybox-style applet symlinks the main binary
// answers to when invoked under one of these names.
var AppletNames = []string{"su", "resetprop"}

// InitApplets are the applet symlinks the init binary answers to.
var InitApplets = []string{"magiskpolicy", "supolicy"}

const sbinWrapper = "#!/system/bin/sh\n" +
	"unset LD_LIBRARY_PATH\n" +
	"unset LD_PRELOAD\n" +
	"exec " + constants.MainBinary + " \"${0##*/}\" \"$@\"\n"

// RebuildSbinOverlay preserves the pre-existing contents of /sbin while
// giving the framework writable slots for its own binaries (spec.md §4.8
// step 5). The scratch mirror lives under constants.SbinMirror, a sibling
// of /sbin, not beneath /sbin itself - the tmpfs mount below replaces
// /sbin wholesale, which would shadow a scratch dir nested under it. The
// mirror directory is named from a fresh UUID so repeated boots never
// collide on a stale scratch path.
func (c *Controller) RebuildSbinOverlay() error {
	scratchID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("generate scratch dir uuid: %w", err)
	}
	scratch := filepath.Join(constants.SbinMirror, scratchID.String())

	if err := c.Fsys.Mkdir(scratch, 0750); err != nil {
		return fmt.Errorf("mkdir scratch %s: %w", scratch, err)
	}
	if err := c.Copier.Copy(constants.SbinDir, scratch); err != nil {
		return fmt.Errorf("clone %s -> %s: %w", constants.SbinDir, scratch, err)
	}

	magisk, err := c.readAndUnlink(filepath.Join(constants.SbinDir, "magisk"))
	if err != nil {
		return err
	}
	initBin, err := c.readAndUnlink(constants.InitApplet)
	if err != nil {
		return err
	}

	entries, err := c.Fsys.ReadDir(constants.SbinDir)
	if err != nil {
		return fmt.Errorf("readdir %s: %w", constants.SbinDir, err)
	}
	var preExisting []string
	for _, e := range entries {
		if e.Name() != "." && e.Name() != ".." {
			preExisting = append(preExisting, e.Name())
		}
	}

	log.Log.Info().Str("scratch", scratch).Msg("mounting /sbin tmpfs overlay")
	if err := c.Mounter.MountTmpfs(constants.SbinDir); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", constants.SbinDir, err)
	}
	if err := c.Fsys.Chmod(constants.SbinDir, 0755); err != nil {
		return fmt.Errorf("chmod %s: %w", constants.SbinDir, err)
	}
	if c.Labels != nil {
		if err := c.Labels.SetFileLabel(constants.SbinDir, "u:object_r:rootfs:s0"); err != nil {
			log.Log.Warn().Err(err).Msg("failed labeling /sbin tmpfs")
		}
	}

	for _, applet := range AppletNames {
		if err := c.Fsys.Symlink(filepath.Join(constants.SbinDir, "magisk"), filepath.Join(constants.SbinDir, applet)); err != nil {
			log.Log.Warn().Err(err).Str("applet", applet).Msg("failed creating applet symlink")
		}
	}

	if err := c.writeBinary(constants.MainBinary, magisk, "u:object_r:"); err != nil {
		return err
	}
	if err := c.writeFile(filepath.Join(constants.SbinDir, "magisk"), []byte(sbinWrapper), 0755); err != nil {
		return err
	}
	if err := c.writeBinary(constants.InitApplet, initBin, "u:object_r:"); err != nil {
		return err
	}
	for _, applet := range InitApplets {
		if err := c.Fsys.Symlink(constants.InitApplet, filepath.Join(constants.SbinDir, applet)); err != nil {
			log.Log.Warn().Err(err).Str("applet", applet).Msg("failed creating init applet symlink")
		}
	}

	for _, name := range preExisting {
		link := filepath.Join(constants.SbinDir, name)
		target := filepath.Join(scratch, name)
		if err := c.Fsys.Symlink(target, link); err != nil {
			log.Log.Warn().Err(err).Str("entry", name).Msg("failed relinking pre-existing /sbin entry")
		}
	}

	return nil
}

// OverrideGSIAdbd bind-mounts /system/bin/adbd over /sbin/adbd on Generic
// System Images (SPEC_FULL.md supplemented feature 2).
func (c *Controller) OverrideGSIAdbd() error {
	sbinAdbd := filepath.Join(constants.SbinDir, "adbd")
	systemAdbd := "/system/bin/adbd"
	if !c.exists(sbinAdbd) || !c.exists(systemAdbd) {
		return nil
	}
	_ = c.Mounter.Unmount(sbinAdbd)
	return c.Mounter.BindMount(systemAdbd, sbinAdbd)
}

func (c *Controller) readAndUnlink(path string) ([]byte, error) {
	data, err := c.Fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := c.Fsys.Remove(path); err != nil {
		return nil, fmt.Errorf("unlink %s: %w", path, err)
	}
	return data, nil
}

func (c *Controller) writeBinary(path string, data []byte, labelPrefix string) error {
	if err := c.writeFile(path, data, 0755); err != nil {
		return err
	}
	if c.Labels != nil {
		if err := c.Labels.SetFileLabel(path, labelPrefix+"magisk_file:s0"); err != nil {
			log.Log.Warn().Err(err).Str("path", path).Msg("failed labeling binary")
		}
	}
	return nil
}

func (c *Controller) writeFile(path string, data []byte, mode os.FileMode) error {
	f, err := c.Fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (c *Controller) exists(path string) bool {
	_, err := c.Fsys.Lstat(path)
	return err == nil
}
