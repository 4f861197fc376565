package overlay

import "github.com/overlaycore/magicmount/pkg/pathtree"

// ExtractVendor detaches the "vendor" child from the system root, if
// present, so the vendor partition overlays directly instead of dragging
// a whole-/system skeletonization along with it (spec.md §4.4). Returns
// nil if no module contributed under system/vendor.
func ExtractVendor(systemRoot *pathtree.Node) *pathtree.Node {
	return systemRoot.Extract("vendor")
}
