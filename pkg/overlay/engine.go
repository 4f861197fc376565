// Package overlay implements the Composition Engine and Mount Emitter
// (spec.md §4.3-§4.5, C4/C5): the magic-mount algorithm itself. It walks
// each active module's tree, decides MODULE/SKEL/INTER/DUMMY status node
// by node, and then emits the resulting bind-mounts and tmpfs syntheses.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability/propcap"
	"github.com/overlaycore/magicmount/pkg/pathtree"
)

// Engine builds the Path Node Tree for a set of active modules against a
// live filesystem (spec.md §4.3). Live and ModuleMount both resolve
// against Fsys, which is a real OS filesystem in production and a vfst
// fake filesystem in tests - the same split spec.md §8 calls out
// ("assume a fake filesystem for testing").
type Engine struct {
	Fsys        vfs.FS
	ModuleMount string // e.g. /sbin/.core/img
}

// BuildTree runs the module loop spec.md §4.8's post-fs-data phase
// describes: for every active module, load system.prop, skip silently if
// auto_mount or system/ is missing (spec.md §7), create the module's
// vendor symlink if it ships a vendor override (spec.md §4.4), then walk
// its tree into root. Root starts as a single INTER node representing
// /system (spec.md §4.3).
func (e Engine) BuildTree(modules []string, props *propcap.File) (root *pathtree.Node, hasModules bool, err error) {
	root = pathtree.NewRoot("system", pathtree.Inter)

	for _, module := range modules {
		moduleDir := filepath.Join(e.ModuleMount, module)

		propFile := filepath.Join(moduleDir, "system.prop")
		if props != nil {
			if loadErr := props.LoadFile(propFile); loadErr != nil {
				log.Log.Warn().Err(loadErr).Str("module", module).Msg("failed loading system.prop")
			}
		}

		if !e.exists(filepath.Join(moduleDir, "auto_mount")) {
			continue
		}
		systemDir := filepath.Join(moduleDir, "system")
		if !e.exists(systemDir) {
			continue
		}

		if e.exists(filepath.Join(systemDir, "vendor")) {
			if err := e.linkModuleVendor(moduleDir); err != nil {
				log.Log.Warn().Err(err).Str("module", module).Msg("failed linking module vendor dir")
			}
		}

		hasModules = true
		log.Log.Info().Str("module", module).Msg("constructing magic mount structure")
		if err := e.createModuleTree(module, root); err != nil {
			return nil, hasModules, err
		}
	}
	return root, hasModules, nil
}

// linkModuleVendor creates <module>/vendor -> <module>/system/vendor so
// the vendor subtree extracted from the system root (spec.md §4.4) can
// still resolve its contributions back to this module.
func (e Engine) linkModuleVendor(moduleDir string) error {
	link := filepath.Join(moduleDir, "vendor")
	target := filepath.Join(moduleDir, "system", "vendor")
	_ = e.Fsys.Remove(link)
	if err := e.Fsys.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
	}
	return nil
}

// createModuleTree recurses a module's subtree under parent, applying the
// clone condition and precedence rules of spec.md §4.3.
func (e Engine) createModuleTree(module string, parent *pathtree.Node) error {
	fullPath := parent.Path()
	dirPath := filepath.Join(e.ModuleMount, module, fullPath)

	entries, err := e.Fsys.ReadDir(dirPath)
	if err != nil {
		return nil // module doesn't contribute below this node
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		targetPath := joinPath(fullPath, name)

		info, err := entry.Info()
		if err != nil {
			continue
		}
		typ := entryType(info)
		node := pathtree.New(name, 0, typ)
		node.OwnerModule = module

		clone := e.mustClone(parent, node, targetPath)

		switch {
		case clone:
			parent.Status |= pathtree.Skel // bitwise union: never clears an existing MODULE bit
			node.Status = pathtree.Module
		case typ == pathtree.Directory:
			replaceMarker := filepath.Join(e.ModuleMount, module, targetPath, ".replace")
			if e.exists(replaceMarker) {
				node.Status = pathtree.Module
			} else {
				node.Status = pathtree.Inter
			}
		case typ == pathtree.Regular:
			node.Status = pathtree.Module
		default:
			// A non-directory, non-regular entry that survived the clone
			// check (shouldn't happen: symlinks always clone).
			node.Status = pathtree.Module
		}

		effective := parent.Insert(node)
		if effective.Status.Has(pathtree.Inter) || effective.Status.Has(pathtree.Skel) {
			if err := e.createModuleTree(module, effective); err != nil {
				return err
			}
		}
	}
	return nil
}

// mustClone implements the Clone condition of spec.md §4.3: the parent
// must be skeletonized when the module entry is a symlink, the live
// target doesn't exist, or the live target is itself a symlink - except
// for /system/vendor at the tree root, which is handled by vendor
// re-rooting instead (spec.md §4.4).
func (e Engine) mustClone(parent *pathtree.Node, node *pathtree.Node, targetPath string) bool {
	if node.Type == pathtree.Symlink {
		return true
	}
	if !e.exists(targetPath) {
		return true
	}
	if parent.Parent == nil && node.Name == "vendor" {
		return false
	}
	return e.isSymlink(targetPath)
}

func (e Engine) exists(path string) bool {
	_, err := e.Fsys.Lstat(path)
	return err == nil
}

func (e Engine) isSymlink(path string) bool {
	info, err := e.Fsys.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

func entryType(info os.FileInfo) pathtree.EntryType {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return pathtree.Symlink
	case info.IsDir():
		return pathtree.Directory
	default:
		return pathtree.Regular
	}
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}
