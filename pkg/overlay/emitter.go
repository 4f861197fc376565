// Mount Emitter (spec.md §4.5, C5): a depth-first walk of the finished
// Path Node Tree that performs the actual bind-mounts and tmpfs
// synthesis, acting on each node before its children.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
	"github.com/overlaycore/magicmount/pkg/pathtree"
)

// Emitter walks a finished tree and performs mounts (spec.md §4.5).
type Emitter struct {
	Fsys        vfs.FS
	ModuleMount string
	MirrorDir   string // read-only mirror root, e.g. /sbin/.core/mirror
	Mounter     capability.Mounter
	Attr        capability.Attributer
	Copier      capability.Copier

	// SeparateVendor is true when /vendor is its own mount point
	// (spec.md §4.8 seperate_vendor flag, threaded explicitly per §9's
	// design note rather than as a process global).
	SeparateVendor bool
}

// Emit dispatches on node's status, highest-precedence bit wins (spec.md
// §4.5):
//   - MODULE (leaf): bind-mount from the module's file to node's path.
//   - SKEL: synthesize a skeleton; does not descend further (synthesis
//     materializes children itself).
//   - INTER: recurse into children, no mount at this node.
//   - DUMMY: unreachable at top level, only appears inside a skeleton.
func (em Emitter) Emit(node *pathtree.Node) error {
	if node.Extracted {
		return nil
	}
	switch {
	case node.Status.Has(pathtree.Module):
		src := filepath.Join(em.ModuleMount, node.OwnerModule, node.Path())
		return em.Mounter.BindMount(src, node.Path())
	case node.Status.Has(pathtree.Skel):
		return em.synthesizeSkeleton(node)
	case node.Status.Has(pathtree.Inter):
		for _, child := range node.Children() {
			if err := em.Emit(child); err != nil {
				log.Log.Error().Err(err).Str("path", child.Path()).Msg("mount failed, continuing best-effort")
			}
		}
		return nil
	default:
		return fmt.Errorf("node %s has unexpected status %s at top level", node.Path(), node.Status)
	}
}

// synthesizeSkeleton implements spec.md §4.5's skeleton synthesis:
// capture attributes, populate DUMMY placeholders for unaffected
// siblings from the mirror, mount a fresh tmpfs, restore attributes, then
// recreate and mount every child.
func (em Emitter) synthesizeSkeleton(node *pathtree.Node) error {
	path := node.Path()

	attr, err := em.Attr.GetAttr(path)
	if err != nil {
		return fmt.Errorf("capture attrs of %s: %w", path, err)
	}

	if err := em.populateDummies(node); err != nil {
		return err
	}

	log.Log.Info().Str("path", path).Msg("mnt_tmpfs")
	if err := em.Mounter.MountTmpfs(path); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", path, err)
	}
	if err := em.Attr.SetAttr(path, attr); err != nil {
		return fmt.Errorf("restore attrs of %s: %w", path, err)
	}

	for _, child := range node.Children() {
		if err := em.materializeChild(node, child); err != nil {
			log.Log.Error().Err(err).Str("path", child.Path()).Msg("skeleton child failed, continuing best-effort")
		}
	}
	return nil
}

// populateDummies enumerates mirror/P for every child not already present
// in node's children and inserts a DUMMY placeholder reflecting the
// mirror's type (spec.md §4.5 step 2).
func (em Emitter) populateDummies(node *pathtree.Node) error {
	mirrorPath := filepath.Join(em.MirrorDir, node.Path())
	entries, err := em.Fsys.ReadDir(mirrorPath)
	if err != nil {
		return nil // nothing live to mirror, e.g. a brand new directory
	}
	for _, e := range entries {
		if _, ok := node.Child(e.Name()); ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dummy := pathtree.New(e.Name(), pathtree.Dummy, entryType(info))
		node.Insert(dummy)
	}
	return nil
}

// materializeChild creates the placeholder for child under node's
// (now-tmpfs) directory and mounts/recurses/copies into it, per the
// per-child dispatch of spec.md §4.5 step 4/5 and the vendor exception.
func (em Emitter) materializeChild(node, child *pathtree.Node) error {
	path := filepath.Join(node.Path(), child.Name)

	// Vendor exception: skip during skeleton synthesis at the root, it is
	// handled by the extracted vendor tree (spec.md §4.5 step 6, §4.4).
	if node.Parent == nil && child.Name == "vendor" {
		if em.SeparateVendor {
			mirrorVendor := filepath.Join(em.MirrorDir, "system", "vendor")
			if err := em.Copier.Copy(mirrorVendor, path); err != nil {
				return fmt.Errorf("copy mirror vendor into %s: %w", path, err)
			}
			log.Log.Info().Str("path", path).Msg("copy_link vendor")
		}
		return nil
	}

	if child.Type == pathtree.Symlink {
		return em.copySymlink(node, child, path)
	}

	switch child.Type {
	case pathtree.Directory:
		if err := em.Fsys.Mkdir(path, 0755); err != nil {
			return fmt.Errorf("mkdir placeholder %s: %w", path, err)
		}
	case pathtree.Regular:
		f, err := em.Fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("create placeholder %s: %w", path, err)
		}
		_ = f.Close()
	}

	switch {
	case child.Status.Has(pathtree.Module):
		src := filepath.Join(em.ModuleMount, child.OwnerModule, path)
		return em.Mounter.BindMount(src, path)
	case child.Status.Has(pathtree.Skel), child.Status.Has(pathtree.Inter):
		return em.synthesizeOrRecurse(child)
	case child.Status.Has(pathtree.Dummy):
		src := filepath.Join(em.MirrorDir, path)
		return em.Mounter.BindMount(src, path)
	}
	return nil
}

// synthesizeOrRecurse continues the tree walk for a SKEL/INTER child
// found inside a skeleton (spec.md §4.5 step 5 "SKEL or INTER → recurse").
func (em Emitter) synthesizeOrRecurse(child *pathtree.Node) error {
	if child.Status.Has(pathtree.Skel) {
		return em.synthesizeSkeleton(child)
	}
	return em.Emit(child)
}

// copySymlink copies a symlink directly rather than bind-mounting it
// (spec.md §4.5 step 4 "if C is a symlink, copy the symlink from the
// appropriate source directly").
func (em Emitter) copySymlink(node, child *pathtree.Node, path string) error {
	var src string
	if child.Status.Has(pathtree.Module) {
		src = filepath.Join(em.ModuleMount, child.OwnerModule, node.Path(), child.Name)
	} else {
		src = filepath.Join(em.MirrorDir, node.Path(), child.Name)
	}
	target, err := em.Fsys.Readlink(src)
	if err != nil {
		return fmt.Errorf("readlink %s: %w", src, err)
	}
	log.Log.Info().Str("path", path).Str("target", target).Msg("copy_link")
	return em.Fsys.Symlink(target, path)
}
