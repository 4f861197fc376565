// Core-only mode (spec.md §7 "Image preparation failure", §4.8 core_only
// mention; SPEC_FULL.md supplemented feature 7): the degraded boot path
// entered whenever module composition can't or shouldn't run - systemless
// hosts support plus the hide daemon, nothing else.
package bootstage

import (
	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
)

// CoreOnly runs the two things that survive even a fully failed module
// pipeline: systemless hosts support and the hide daemon (spec.md §7,
// §4.8 "install systemless hosts if present, start the hide daemon").
func (c *Controller) CoreOnly() {
	if c.exists(constants.HostsFile) {
		log.Log.Info().Msg("enabling systemless hosts file support")
		if err := c.Mounter.BindMount(constants.HostsFile, "/system/etc/hosts"); err != nil {
			log.Log.Warn().Err(err).Msg("failed enabling systemless hosts")
		}
	}
	c.startHide()
}

// startHide launches the hide daemon on a detached parallel thread if the
// hide property isn't explicitly disabled (spec.md §5 "the hide daemon is
// launched on a detached parallel thread and does not interact with the
// mount engine's data structures").
func (c *Controller) startHide() {
	if c.Hide == nil {
		return
	}
	if c.Props != nil && c.Props.Get("persist.magisk.hide") == "0" {
		return
	}
	go c.Hide.Start()
}
