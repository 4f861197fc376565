// Phase 2 - post-fs-data (spec.md §4.8 phase 2).
package bootstage

import (
	"context"
	"io"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spectrocloud-labs/herd"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability/propcap"
	"github.com/overlaycore/magicmount/pkg/ipc"
	"github.com/overlaycore/magicmount/pkg/overlay"
	"github.com/overlaycore/magicmount/pkg/registry"
	"github.com/overlaycore/magicmount/pkg/scripts"
)

// prepareImage implements spec.md §4.8 phase 2's "Prepare the module
// image": merge any pending update images, create the main image at a
// minimum size if absent, loop-mount it, enumerate modules via C2, trim
// the image. Returns the active module list.
func (c *Controller) prepareImage() ([]string, error) {
	var merr *multierror.Error
	for _, alt := range constants.AltImagePaths {
		if err := c.Images.MergeImage(alt, constants.MainImage); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	if err := c.Images.CreateImage(constants.MainImage, constants.MinImageSizeMB); err != nil {
		return nil, err
	}

	loopDev, err := c.Images.MountImage(constants.MainImage, constants.MountPoint)
	if err != nil {
		return nil, err
	}

	modules, err := registry.List(c.Fsys, constants.MountPoint)
	if err != nil {
		log.Log.Warn().Err(err).Msg("module registry cleanup reported errors")
	}

	if err := c.Images.TrimImage(constants.MainImage, constants.MountPoint, loopDev); err != nil {
		log.Log.Warn().Err(err).Msg("failed trimming module image")
	}

	return modules, nil
}

// BuildPostFsDataGraph assembles the post-fs-data phase's herd.Graph.
// conn receives the client ack write (spec.md §6 "Client IPC").
func (c *Controller) BuildPostFsDataGraph(conn io.Writer) *herd.Graph {
	// This phase runs as its own exec'd process (spec.md §6 "Exit /
	// handoff"): pick up SeparateVendor as startup's mirror setup left it.
	c.loadState()

	g := herd.DAG(herd.EnableInit)
	var modules []string
	props := propcap.New(filepath.Join(constants.CoreDir, "props", "system.prop"))

	_ = g.Add(constants.OpAckClient, herd.WithCallback(func(_ context.Context) error {
		return ipc.Ack(conn)
	}))

	_ = g.Add(constants.OpRemountRO, herd.WithDeps(constants.OpAckClient), herd.WithCallback(func(_ context.Context) error {
		return c.Mounter.Remount("/", false)
	}))

	_ = g.Add(constants.OpPrepareImage, herd.WithDeps(constants.OpRemountRO), herd.WithCallback(func(_ context.Context) error {
		mods, err := c.prepareImage()
		if err != nil {
			log.Log.Error().Err(err).Msg("module image preparation failed, entering core-only mode")
			return err
		}
		modules = mods
		c.setupDone = true
		// late_start is a third exec'd process - persist setupDone so it
		// can tell a completed post-fs-data from a crashed one.
		c.persistState()
		return nil
	}))

	_ = g.Add(constants.OpRestoreDataLabels, herd.WithDeps(constants.OpPrepareImage), herd.WithCallback(func(_ context.Context) error {
		if c.Attr != nil {
			if attr, err := c.Attr.GetAttr(constants.SecureDir); err != nil {
				log.Log.Warn().Err(err).Msg("failed reading secure dir attributes")
			} else {
				attr.Mode = 0700
				if err := c.Attr.SetAttr(constants.SecureDir, attr); err != nil {
					log.Log.Warn().Err(err).Msg("chmod secure dir failed")
				}
			}
		}
		if c.Labels == nil {
			return nil
		}
		if err := c.Labels.Restorecon(constants.SecureDir); err != nil {
			log.Log.Warn().Err(err).Msg("restorecon on secure dir failed")
		}
		return nil
	}))

	_ = g.Add(constants.OpCommonScripts, herd.WithDeps(constants.OpRestoreDataLabels), herd.WithCallback(func(_ context.Context) error {
		runner := scripts.Runner{Fsys: c.Fsys, CoreDir: constants.CoreDir, ModuleMount: constants.MountPoint, Exec: c.Exec}
		return runner.RunCommon(constants.StagePostFSData)
	}))

	_ = g.Add(constants.OpModuleScripts, herd.WithDeps(constants.OpCommonScripts), herd.WithCallback(func(_ context.Context) error {
		if c.exists(constants.DisableFile) {
			return nil
		}
		runner := scripts.Runner{Fsys: c.Fsys, CoreDir: constants.CoreDir, ModuleMount: constants.MountPoint, Exec: c.Exec}
		return runner.RunModule(constants.StagePostFSData, modules)
	}))

	_ = g.Add(constants.OpBuildTree, herd.WithDeps(constants.OpModuleScripts), herd.WithCallback(func(_ context.Context) error {
		if c.exists(constants.DisableFile) {
			return nil
		}
		eng := overlay.Engine{Fsys: c.Fsys, ModuleMount: constants.MountPoint}
		root, hasModules, err := eng.BuildTree(modules, props)
		if err != nil {
			return err
		}
		if !hasModules {
			return nil
		}
		c.treeRoot = root
		return nil
	}))

	_ = g.Add(constants.OpExtractVendor, herd.WithDeps(constants.OpBuildTree), herd.WithCallback(func(_ context.Context) error {
		if c.treeRoot == nil {
			return nil
		}
		c.vendorRoot = overlay.ExtractVendor(c.treeRoot)
		return nil
	}))

	_ = g.Add(constants.OpEmitMounts, herd.WithDeps(constants.OpExtractVendor), herd.WithCallback(func(_ context.Context) error {
		if c.treeRoot == nil {
			return nil
		}
		em := overlay.Emitter{
			Fsys: c.Fsys, ModuleMount: constants.MountPoint, MirrorDir: constants.MirrorDir,
			Mounter: c.Mounter, Attr: c.Attr, Copier: c.Copier, SeparateVendor: c.SeparateVendor,
		}
		if err := em.Emit(c.treeRoot); err != nil {
			log.Log.Error().Err(err).Msg("emitting system overlay mounts failed, best-effort")
		}
		if c.vendorRoot != nil {
			if err := em.Emit(c.vendorRoot); err != nil {
				log.Log.Error().Err(err).Msg("emitting vendor overlay mounts failed, best-effort")
			}
		}
		return nil
	}))

	_ = g.Add(constants.OpCoreOnly, herd.WithDeps(constants.OpEmitMounts), herd.WithCallback(func(_ context.Context) error {
		c.CoreOnly()
		return nil
	}))

	return g
}

// PostFSData runs the post-fs-data phase to completion. Image preparation
// failure degrades to core-only mode rather than aborting the boot
// (spec.md §7 "Image preparation failure").
func (c *Controller) PostFSData(ctx context.Context, conn io.Writer) error {
	g := c.BuildPostFsDataGraph(conn)
	if err := g.Run(ctx); err != nil {
		log.Log.Warn().Err(err).Msg("post-fs-data graph reported errors, falling back to core-only")
		c.CoreOnly()
	}
	return nil
}
