// Alternative-binary-path relocation (spec.md §4.8 phase 1 step 6,
// SPEC_FULL.md supplemented feature 4). The original scans a fixed
// priority list of candidate data directories and relocates whichever one
// is found to the canonical DataBinDir. spec.md §9's Open Question flags
// a bug in the original: it copies from bin_path before bin_path is ever
// assigned, so the first-iteration copy uses a null source. This
// implementation does NOT replicate that bug: the copy only happens after
// a candidate path has actually been selected.
package bootstage

import (
	"os"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
)

// RelocateFrameworkData finds the first candidate in constants.AltBinPaths
// that exists and isn't a symlink, and relocates it to DataBinDir. If no
// candidate is found, DataBinDir is left untouched (spec.md §4.8 "Locate
// the framework's data directory among a fixed priority list and relocate
// it to the canonical location").
func (c *Controller) RelocateFrameworkData() {
	var selected string
	for _, candidate := range constants.AltBinPaths {
		st, err := c.Fsys.Lstat(candidate)
		if err != nil || st.Mode()&os.ModeSymlink != 0 {
			continue
		}
		selected = candidate
		break
	}
	if selected == "" {
		return
	}

	_ = c.Fsys.RemoveAll(constants.DataBinDir)
	if err := c.Copier.Copy(selected, constants.DataBinDir); err != nil {
		log.Log.Warn().Err(err).Str("from", selected).Msg("failed relocating framework data dir")
		return
	}
	_ = c.Fsys.RemoveAll(selected)
	log.Log.Info().Str("from", selected).Str("to", constants.DataBinDir).Msg("relocated framework data dir")
}
