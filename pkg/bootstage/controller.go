// Package bootstage implements the Boot Stage Controller (spec.md §4.8,
// C8): the startup -> post-fs-data -> late_start -> boot_complete state
// machine that drives module discovery, tree composition and mount
// emission. Each phase is built as a herd.Graph of named, dependency
// ordered steps, the same orchestration idiom the teacher's pkg/mount
// package uses for its own mount DAG, repurposed here to sequence script
// runs, image prep, tree construction and mount emission instead of
// filesystem mount stanzas.
package bootstage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/moby/sys/mountinfo"
	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
	"github.com/overlaycore/magicmount/pkg/pathtree"
)

// ErrBootUnblocked is returned internally by a boot-blocking precondition
// step (spec.md §7 "Boot-blocking precondition failure"). It is never
// surfaced to the caller of Controller.Startup as a failure: the
// controller logs it and returns nil, since signalling unblock and
// exiting cleanly is the correct, successful outcome of that path.
var ErrBootUnblocked = errors.New("boot unblocked: precondition not met, deferring to next boot")

// stateKeySetupDone and stateKeySeparateVendor name the two flags
// persisted to constants.SetupStateFile (see persistState/loadState).
const (
	stateKeySetupDone      = "setup_done"
	stateKeySeparateVendor = "separate_vendor"
)

// Controller drives the four boot phases. Every field is a capability
// interface (spec.md §6) except SeparateVendor and setupDone, which are
// the two flags spec.md §4.8/§9 calls out - threaded here as explicit
// controller state instead of process globals, per the design note in
// spec.md §9. Each phase still runs as its own exec'd process though, so
// that state additionally round-trips through persistState/loadState
// across the process boundary between phases.
type Controller struct {
	Fsys vfs.FS

	Mounter capability.Mounter
	Attr    capability.Attributer
	Labels  capability.SELinuxLabeler
	Props   capability.PropertyStore
	Images  capability.ImageManager
	Copier  capability.Copier
	Exec    capability.CommandRunner
	Blocks  capability.BlockUnlocker
	Hide    capability.HideDaemon
	Manager capability.ManagerValidator

	// SeparateVendor is set true during mirror setup (Phase 1 step 7) when
	// /vendor is its own mount point (spec.md §4.8 "seperate_vendor").
	SeparateVendor bool

	// setupDone mirrors spec.md's "setup_done" flag: set once post-fs-data
	// reaches successful image preparation, checked by late_start before
	// running any service scripts.
	setupDone bool

	unblocked bool

	// treeRoot/vendorRoot hold the composed tree across the post-fs-data
	// graph's build-tree / extract-vendor / emit-mounts steps.
	treeRoot   *pathtree.Node
	vendorRoot *pathtree.Node
}

// unblockBootProcess implements spec.md §4.8/§7's boot-blocking exit: it
// writes the sentinel file that lets init proceed without the framework's
// overlay applied this boot, and marks the controller so the calling
// phase treats the graph's resulting error as a clean, non-fatal exit
// rather than a real failure.
func (c *Controller) unblockBootProcess() error {
	c.unblocked = true
	f, err := c.Fsys.OpenFile(constants.UnblockFile, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", constants.UnblockFile, err)
	}
	_ = f.Close()
	return ErrBootUnblocked
}

// checkData implements the decryption gate of spec.md §7: /data is usable
// if /proc/mounts has a non-tmpfs /data entry AND either
// ro.crypto.state is "unencrypted", unset (assumed unencrypted), or the
// decryption service property is populated.
func (c *Controller) checkData() bool {
	mounts, err := mountinfo.GetMounts(func(m *mountinfo.Info) (skip, stop bool) {
		return m.Mountpoint != "/data", false
	})
	if err != nil {
		return false
	}
	mounted := false
	for _, m := range mounts {
		if m.FSType != "tmpfs" {
			mounted = true
		}
	}
	if !mounted {
		return false
	}

	crypto := c.Props.Get("ro.crypto.state")
	switch crypto {
	case "", "unencrypted":
		return true
	default:
		return c.Props.Get("init.svc.vold") != ""
	}
}

// persistState writes setupDone/SeparateVendor to constants.SetupStateFile
// so the next phase's process - a fresh exec, not this same Controller -
// can pick them up. Called once mirror setup has established
// SeparateVendor (startup) and again once image preparation has decided
// setupDone (post-fs-data). Goes through c.Fsys rather than godotenv's own
// os-backed Write, keeping this on the same fake-filesystem seam as the
// rest of the controller's state.
func (c *Controller) persistState() {
	values := map[string]string{
		stateKeySetupDone:      strconv.FormatBool(c.setupDone),
		stateKeySeparateVendor: strconv.FormatBool(c.SeparateVendor),
	}
	marshaled, err := godotenv.Marshal(values)
	if err != nil {
		log.Log.Warn().Err(err).Msg("failed marshaling boot stage state")
		return
	}
	f, err := c.Fsys.OpenFile(constants.SetupStateFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		log.Log.Warn().Err(err).Msg("failed persisting boot stage state")
		return
	}
	defer f.Close()
	if _, err := f.Write([]byte(marshaled)); err != nil {
		log.Log.Warn().Err(err).Msg("failed persisting boot stage state")
	}
}

// loadState restores setupDone/SeparateVendor from constants.SetupStateFile.
// A missing file (the very first phase of a fresh boot, before anything
// has been persisted yet) just leaves both flags false.
func (c *Controller) loadState() {
	raw, err := c.Fsys.ReadFile(constants.SetupStateFile)
	if err != nil {
		return
	}
	values, err := godotenv.Unmarshal(string(raw))
	if err != nil {
		return
	}
	c.setupDone = values[stateKeySetupDone] == "true"
	c.SeparateVendor = values[stateKeySeparateVendor] == "true"
}

// runGraph runs g and turns an unblocked-boot outcome into a nil, clean
// return (spec.md §7 "the only externally observable outcome is 'boot
// unblocked'... versus [failure]").
func (c *Controller) runGraph(ctx context.Context, g interface{ Run(context.Context) error }) error {
	err := g.Run(ctx)
	if c.unblocked {
		log.Log.Info().Msg("boot unblocked, deferring module application to next boot")
		return nil
	}
	return err
}
