// Package simplemount implements the Simple Mounter (spec.md §4.7, C7): a
// reduced, precedence-free bind-mount pass that the startup phase runs
// independently of the Composition Engine, and skips when the disable flag
// is present. Unlike the Path Node Tree, it never creates anything -
// missing targets are silently skipped.
package simplemount

import (
	"path/filepath"

	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
)

// Mounter walks a flat override directory tree and bind-mounts every
// regular file whose target already exists on the live filesystem
// (spec.md §4.7).
type Mounter struct {
	Fsys    vfs.FS
	SrcRoot string // e.g. /sbin/.core/img/simplemount
	Attr    capability.Attributer
	Mounter capability.Mounter
}

// Mount recurses target (e.g. "/system", "/vendor") under m.SrcRoot,
// cloning attributes from the live target onto the override file and
// bind-mounting the override over it. Directories are always recursed;
// missing targets - files or directories - are silently skipped, never
// created (spec.md §4.7 "Missing targets are silently skipped").
func (m Mounter) Mount(target string) error {
	srcDir := filepath.Join(m.SrcRoot, target)
	entries, err := m.Fsys.ReadDir(srcDir)
	if err != nil {
		return nil // nothing staged for this target
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		targetPath := filepath.Join(target, name)

		if !m.exists(targetPath) {
			continue
		}

		if entry.IsDir() {
			if err := m.Mount(targetPath); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}

		srcPath := filepath.Join(srcDir, name)
		if m.Attr != nil {
			attr, err := m.Attr.GetAttr(targetPath)
			if err != nil {
				log.Log.Warn().Err(err).Str("path", targetPath).Msg("simple mount: failed reading target attrs")
			} else if err := m.Attr.SetAttr(srcPath, attr); err != nil {
				log.Log.Warn().Err(err).Str("path", srcPath).Msg("simple mount: failed cloning attrs")
			}
		}

		log.Log.Info().Str("path", targetPath).Msg("simple_mount")
		if err := m.Mounter.BindMount(srcPath, targetPath); err != nil {
			log.Log.Error().Err(err).Str("path", targetPath).Msg("simple mount: bind mount failed, continuing best-effort")
		}
	}
	return nil
}

func (m Mounter) exists(path string) bool {
	_, err := m.Fsys.Lstat(path)
	return err == nil
}
