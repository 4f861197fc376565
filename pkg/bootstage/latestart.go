// Phase 3 - late_start (spec.md §4.8 phase 3).
package bootstage

import (
	"context"
	"errors"
	"io"

	"github.com/spectrocloud-labs/herd"
	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/ipc"
	"github.com/overlaycore/magicmount/pkg/registry"
	"github.com/overlaycore/magicmount/pkg/scripts"
)

// ErrRebooting is returned when late_start finds setup_done unset and
// triggers a reboot (spec.md §7 "Previous-phase incomplete... reboot the
// device").
var ErrRebooting = errors.New("rebooting: post-fs-data did not complete setup")

// BuildLateStartGraph assembles the late_start phase's herd.Graph.
func (c *Controller) BuildLateStartGraph(conn io.Writer) *herd.Graph {
	// late_start is its own exec'd process (spec.md §6 "Exit / handoff"):
	// setupDone only exists here if post-fs-data persisted it.
	c.loadState()

	g := herd.DAG(herd.EnableInit)

	_ = g.Add(constants.OpAckClient, herd.WithCallback(func(_ context.Context) error {
		return ipc.Ack(conn)
	}))

	_ = g.Add(constants.OpCheckSetupDone, herd.WithDeps(constants.OpAckClient), herd.WithCallback(func(_ context.Context) error {
		if !c.exists(constants.SecureDir) {
			_ = vfs.MkdirAll(c.Fsys, constants.SecureDir, 0700)
		}
		if !c.setupDone {
			log.Log.Error().Msg("setup did not complete, rebooting")
			_, _ = c.Exec.Run([]string{"/system/bin/reboot"}, nil, 0)
			return ErrRebooting
		}
		return nil
	}))

	_ = g.Add(constants.OpStartHide, herd.WithDeps(constants.OpCheckSetupDone), herd.WithCallback(func(_ context.Context) error {
		c.startHide()
		return nil
	}))

	_ = g.Add(constants.OpCommonScripts, herd.WithDeps(constants.OpStartHide), herd.WithCallback(func(_ context.Context) error {
		runner := scripts.Runner{Fsys: c.Fsys, CoreDir: constants.CoreDir, ModuleMount: constants.MountPoint, Exec: c.Exec}
		return runner.RunCommon(constants.StageService)
	}))

	_ = g.Add(constants.OpModuleScripts, herd.WithDeps(constants.OpCommonScripts), herd.WithCallback(func(_ context.Context) error {
		if c.exists(constants.DisableFile) {
			return nil
		}
		modules, err := c.currentModules()
		if err != nil {
			return err
		}
		runner := scripts.Runner{Fsys: c.Fsys, CoreDir: constants.CoreDir, ModuleMount: constants.MountPoint, Exec: c.Exec}
		return runner.RunModule(constants.StageService, modules)
	}))

	_ = g.Add(constants.OpInstallManager, herd.WithDeps(constants.OpModuleScripts), herd.WithCallback(func(_ context.Context) error {
		return c.installManagerIfNeeded()
	}))

	return g
}

// LateStart runs the late_start phase to completion.
func (c *Controller) LateStart(ctx context.Context, conn io.Writer) error {
	g := c.BuildLateStartGraph(conn)
	err := g.Run(ctx)
	if errors.Is(err, ErrRebooting) {
		return nil
	}
	return err
}

// installManagerIfNeeded implements spec.md §4.8 phase 3's manager
// install step: a bundled APK wins if present, otherwise fall back to
// validating the currently registered manager and, if invalid, extracting
// and installing a stub (SPEC_FULL.md supplemented feature 6).
func (c *Controller) installManagerIfNeeded() error {
	if c.exists(constants.ManagerAPK) {
		dest := constants.ManagerApkDest
		if err := c.Fsys.Rename(constants.ManagerAPK, dest); err != nil {
			return err
		}
		return c.InstallManagerAPK(dest)
	}

	if c.Manager == nil {
		return nil
	}
	valid, err := c.Manager.HasValidManager()
	if err != nil {
		log.Log.Warn().Err(err).Msg("manager validation failed, skipping stub install")
		return nil
	}
	if valid {
		return nil
	}
	return c.InstallManagerStub()
}

// currentModules re-lists the module registry for the service stage; the
// registry's own idempotent marker handling makes re-listing safe (spec.md
// §8 invariant 5 "marker idempotence").
func (c *Controller) currentModules() ([]string, error) {
	return registry.List(c.Fsys, constants.MountPoint)
}
