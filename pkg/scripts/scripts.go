// Package scripts implements the Script Runner (spec.md §4.6, C6): common
// per-stage ".d" scripts and per-module "stage.sh" scripts, run
// sequentially under a stage-specific PATH policy.
package scripts

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/twpayne/go-vfs/v4"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
)

// PathPolicy selects the PATH a stage's scripts run under (spec.md §9
// "Script PATH policy"): post-fs-data runs while /system is still mounted
// read-only off the live root, so scripts need the mirror binaries; every
// later stage gets a lighter PATH built from the framework's own busybox.
type PathPolicy int

const (
	// PathMirror prefixes PATH with the mirror's system/vendor bin dirs,
	// used for the post-fs-data stage.
	PathMirror PathPolicy = iota
	// PathNormal prefixes the inherited PATH with the framework's busybox
	// install dir, used for every stage after post-fs-data.
	PathNormal
)

func policyFor(stage string) PathPolicy {
	if stage == constants.StagePostFSData {
		return PathMirror
	}
	return PathNormal
}

func env(policy PathPolicy) []string {
	base := os.Environ()
	var path string
	switch policy {
	case PathMirror:
		path = constants.DataBinDir + ":" + constants.SbinDir + ":" +
			constants.MirrorDir + "/system/bin:" +
			constants.MirrorDir + "/system/xbin:" +
			constants.MirrorDir + "/vendor/bin"
	default:
		path = constants.BusyboxPath + ":" + os.Getenv("PATH")
	}
	out := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if len(kv) >= 5 && kv[:5] == "PATH=" {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "PATH="+path)
	return out
}

// Runner executes stage scripts sequentially via a capability.CommandRunner
// (spec.md §5 "no script runs concurrently with another script or with the
// mount engine").
type Runner struct {
	Fsys        vfs.FS
	CoreDir     string
	ModuleMount string
	Exec        capability.CommandRunner
}

// RunCommon executes every executable regular file in <core_dir>/<stage>.d,
// in lexical order, under the stage's PATH policy. Non-executable entries
// are skipped; non-zero exits are logged but never abort the sequence
// (spec.md §4.6).
func (r Runner) RunCommon(stage string) error {
	dir := filepath.Join(r.CoreDir, stage+".d")
	entries, err := r.Fsys.ReadDir(dir)
	if err != nil {
		return nil // no common scripts staged for this phase
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	policy := policyFor(stage)
	for _, name := range names {
		script := filepath.Join(dir, name)
		if !r.executable(script) {
			continue
		}
		log.Log.Info().Str("stage", stage).Str("script", name).Msg("exec common script")
		r.run(script, policy)
	}
	return nil
}

// RunModule executes <module>/<stage>.sh for every module in modules that
// has the script and is not disabled, in registry order, under the stage's
// PATH policy (spec.md §4.6).
func (r Runner) RunModule(stage string, modules []string) error {
	policy := policyFor(stage)
	for _, module := range modules {
		script := filepath.Join(r.ModuleMount, module, stage+".sh")
		disableMarker := filepath.Join(r.ModuleMount, module, constants.MarkerDisable)
		if !r.exists(script) || r.exists(disableMarker) {
			continue
		}
		log.Log.Info().Str("module", module).Str("stage", stage).Msg("exec module script")
		r.run(script, policy)
	}
	return nil
}

// run spawns a shell on script and waits for it to exit, logging but never
// propagating a non-zero exit (spec.md §4.6, §9 "Individual script
// non-zero exit: log, continue").
func (r Runner) run(script string, policy PathPolicy) {
	code, err := r.Exec.Run([]string{"sh", script}, env(policy), 0)
	if err != nil {
		log.Log.Error().Err(err).Str("script", script).Msg("script failed to spawn")
		return
	}
	if code != 0 {
		log.Log.Warn().Int("exit_code", code).Str("script", script).Msg("script exited non-zero")
	}
}

func (r Runner) exists(path string) bool {
	_, err := r.Fsys.Lstat(path)
	return err == nil
}

// executable reports whether path is a regular file with at least one
// execute bit set (spec.md §4.6 "non-executable files are skipped").
func (r Runner) executable(path string) bool {
	info, err := r.Fsys.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode()&0111 != 0
}
