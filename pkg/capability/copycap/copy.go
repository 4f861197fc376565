// Package copycap implements capability.Copier with otiai10/copy, the
// cp_afc-equivalent recursive, attribute-preserving copy (spec.md §6
// "recursive copy / remove / link-dir") used by the /sbin scratch-mirror
// clone, the framework data relocation and skeleton synthesis's
// vendor-tree copy (spec.md §4.5 vendor exception).
package copycap

import (
	"fmt"

	"github.com/otiai10/copy"

	"github.com/overlaycore/magicmount/pkg/capability"
)

// OtiaiCopier implements capability.Copier.
type OtiaiCopier struct{}

var _ capability.Copier = OtiaiCopier{}

// Copy recursively copies src onto dst, preserving mode bits.
func (OtiaiCopier) Copy(src, dst string) error {
	if err := copy.Copy(src, dst, copy.Options{PreserveTimes: true, PreserveOwner: true}); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return nil
}
