// Package registry implements the Module Registry (spec.md §4.1, C2):
// enumerating active modules from the merged image and performing the
// side-effectful marker cleanup (remove/update/disable) that happens once
// per boot. Operations run against a vfs.FS so the registry can be driven
// against a real filesystem in production and a vfst fake filesystem in
// tests, the same split the teacher's internal/utils tests already use
// for cmdline/rootdir fixtures.
package registry

import (
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
)

// List enumerates module directories under mountpoint, performing the
// one-shot marker cleanup spec.md §4.1 requires:
//   - "remove" marker: delete the module directory, exclude it.
//   - "update" marker: always unlinked, one-shot flag.
//   - "disable" marker: exclude from the returned list, files untouched.
//
// The returned order is stable across calls within a boot (lexical by
// directory name) so logs are reproducible (spec.md §4.1).
func List(fsys vfs.FS, mountpoint string) ([]string, error) {
	entries, err := fsys.ReadDir(mountpoint)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Name() != "" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var merr *multierror.Error
	var modules []string
	for _, name := range names {
		if !isDirEntry(fsys, mountpoint, name) {
			continue
		}
		if constants.ReservedModuleDirs[name] {
			continue
		}
		dir := filepath.Join(mountpoint, name)

		if exists(fsys, filepath.Join(dir, constants.MarkerRemove)) {
			log.Log.Info().Str("module", name).Msg("removing module directory")
			if err := fsys.RemoveAll(dir); err != nil {
				merr = multierror.Append(merr, err)
			}
			continue
		}

		updateMarker := filepath.Join(dir, constants.MarkerUpdate)
		if exists(fsys, updateMarker) {
			if err := fsys.Remove(updateMarker); err != nil {
				merr = multierror.Append(merr, err)
			}
		}

		if exists(fsys, filepath.Join(dir, constants.MarkerDisable)) {
			log.Log.Debug().Str("module", name).Msg("module disabled, excluding")
			continue
		}

		modules = append(modules, name)
	}

	if err := ensureCoreLayout(fsys, mountpoint); err != nil {
		merr = multierror.Append(merr, err)
	}

	return modules, merr.ErrorOrNil()
}

// ensureCoreLayout creates the standard post-fs-data.d/service.d/props
// subdirectories under the core directory if absent (spec.md §4.1).
func ensureCoreLayout(fsys vfs.FS, mountpoint string) error {
	core := filepath.Join(mountpoint, ".core")
	var merr *multierror.Error
	for _, sub := range constants.CoreSubdirs {
		if err := vfs.MkdirAll(fsys, filepath.Join(core, sub), 0755); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func isDirEntry(fsys vfs.FS, mountpoint, name string) bool {
	info, err := fsys.Stat(filepath.Join(mountpoint, name))
	if err != nil {
		return false
	}
	return info.IsDir()
}

func exists(fsys vfs.FS, path string) bool {
	_, err := fsys.Lstat(path)
	return err == nil
}

// OSFS is the production filesystem, exported for callers that don't need
// to inject a fake one.
var OSFS vfs.FS = vfs.OSFS
