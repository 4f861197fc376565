// Phase 1 - startup (spec.md §4.8 phase 1).
package bootstage

import (
	"context"
	"os"

	"github.com/spectrocloud-labs/herd"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/simplemount"
)

// BuildStartupGraph assembles the startup phase's herd.Graph (spec.md
// §4.8 phase 1): decryption/secure-dir gates, simple mount, block unlock,
// /sbin overlay rebuild, data relocation, mirror setup, busybox install,
// and finally handoff into post-fs-data.
func (c *Controller) BuildStartupGraph() *herd.Graph {
	g := herd.DAG(herd.EnableInit)

	_ = g.Add(constants.OpCheckData, herd.WithCallback(func(_ context.Context) error {
		if !c.checkData() {
			return c.unblockBootProcess()
		}
		return nil
	}))

	_ = g.Add(constants.OpCheckSecureDir, herd.WithDeps(constants.OpCheckData), herd.WithCallback(func(_ context.Context) error {
		if !c.exists(constants.SecureDir) {
			log.Log.Error().Str("path", constants.SecureDir).Msg("secure dir missing, aborting startup")
			return c.unblockBootProcess()
		}
		return nil
	}))

	_ = g.Add(constants.OpSimpleMount, herd.WithDeps(constants.OpCheckSecureDir), herd.WithCallback(func(_ context.Context) error {
		if c.exists(constants.DisableFile) {
			return nil
		}
		sm := simplemount.Mounter{Fsys: c.Fsys, SrcRoot: constants.MountPoint + "/simplemount", Attr: c.Attr, Mounter: c.Mounter}
		if err := sm.Mount(constants.SystemMount); err != nil {
			return err
		}
		return sm.Mount(constants.VendorMount)
	}))

	_ = g.Add(constants.OpUnlockBlocks, herd.WithDeps(constants.OpSimpleMount), herd.WithCallback(func(_ context.Context) error {
		if c.Blocks == nil {
			return nil
		}
		return c.Blocks.UnlockAll("/dev/block")
	}))

	_ = g.Add(constants.OpRemountRW, herd.WithDeps(constants.OpUnlockBlocks), herd.WithCallback(func(_ context.Context) error {
		if err := c.Mounter.Remount("/", true); err != nil {
			log.Log.Warn().Err(err).Msg("remount / rw failed, continuing best-effort")
		}
		_ = c.Fsys.Remove("/init.magisk.rc")
		return c.OverrideGSIAdbd()
	}))

	_ = g.Add(constants.OpSbinOverlay, herd.WithDeps(constants.OpRemountRW), herd.WithCallback(func(_ context.Context) error {
		return c.RebuildSbinOverlay()
	}))

	_ = g.Add(constants.OpRelocateData, herd.WithDeps(constants.OpSbinOverlay), herd.WithCallback(func(_ context.Context) error {
		c.RelocateFrameworkData()
		return c.legacyCleanup()
	}))

	_ = g.Add(constants.OpMirrorSetup, herd.WithDeps(constants.OpRelocateData), herd.WithCallback(func(_ context.Context) error {
		if err := c.SetupMirrors(); err != nil {
			return err
		}
		// SeparateVendor is decided here but consumed by post-fs-data, a
		// separate exec'd process - persist it across that boundary.
		c.persistState()
		return nil
	}))

	_ = g.Add(constants.OpBusyboxInstall, herd.WithDeps(constants.OpMirrorSetup), herd.WithCallback(func(_ context.Context) error {
		return c.InstallBusybox()
	}))

	_ = g.Add(constants.OpExecPostFsData, herd.WithDeps(constants.OpBusyboxInstall), herd.WithCallback(func(_ context.Context) error {
		return c.ExecPostFsData()
	}))

	return g
}

// Startup runs the startup phase to completion. A boot-blocking
// precondition failure is treated as a clean, successful exit (spec.md
// §7).
func (c *Controller) Startup(ctx context.Context) error {
	return c.runGraph(ctx, c.BuildStartupGraph())
}

// ExecPostFsData hands off to the post-fs-data phase by exec'ing the
// framework binary (spec.md §4.8 phase 1 step 9 "Hand off to
// post-fs-data"). Exposed as a method so it can be swapped out under test
// without actually replacing the process image.
var execFn = func(argv0 string, argv []string, env []string) error {
	return syscallExec(argv0, argv, env)
}

func (c *Controller) ExecPostFsData() error {
	log.Log.Info().Msg("handing off to post-fs-data")
	return execFn(constants.MainBinary, []string{constants.MainBinary, "--post-fs-data"}, os.Environ())
}

// legacyCleanup removes stale artifacts from earlier framework versions
// (SPEC_FULL.md supplemented feature 3: rm_rf("/data/magisk"), stale
// debug log, stale .img).
func (c *Controller) legacyCleanup() error {
	_ = c.Fsys.RemoveAll("/data/magisk")
	_ = c.Fsys.Remove("/data/magisk.img")
	_ = c.Fsys.Remove("/data/magisk_debug.log")
	return nil
}
