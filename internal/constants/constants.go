// Package constants collects every path, marker filename and herd step name
// named by the boot-time overlay core's filesystem contract.
package constants

import "time"

// Framework root layout. MountPoint is where the merged module image is
// loop-mounted; CoreDir holds the framework's own scripts/props; MirrorDir
// holds the read-only mirrors of the live system/vendor trees used as the
// DUMMY source during skeleton synthesis.
const (
	FrameworkRoot = "/sbin/.core"
	MountPoint    = FrameworkRoot + "/img"
	CoreDir       = MountPoint + "/.core"
	MirrorDir     = FrameworkRoot + "/mirror"
	DataBinDir    = FrameworkRoot + "/bin"
	BusyboxPath   = FrameworkRoot + "/.magisk/busybox"
	BlockDir      = FrameworkRoot + "/.magisk/block"

	SystemMount = "/system"
	VendorMount = "/vendor"
	SystemRoot  = "/system_root"

	SbinDir = "/sbin"
	// SbinMirror is the hard-linked scratch mirror of pre-existing /sbin
	// contents, rooted outside /sbin itself (at the sibling top-level /root)
	// so it survives the tmpfs mount RebuildSbinOverlay then places over
	// /sbin - mirroring it under /sbin would get shadowed by that very
	// mount.
	SbinMirror = "/root"
	MainBinary = "/sbin/magisk.bin"
	InitApplet = "/sbin/magiskinit"
)

// SetupStateFile persists setupDone/SeparateVendor across the boot-stage
// controller's phases, each of which runs as its own exec'd process
// (startup hands off to post-fs-data, which exits before late_start is
// invoked) rather than a single long-lived one - in-memory Controller
// fields alone can't cross that boundary.
const SetupStateFile = FrameworkRoot + "/.setup_state"

// AltImagePaths are module image candidates, merged in order into the main
// image (§6).
var AltImagePaths = []string{
	"/cache/magisk.img",
	"/data/magisk_merge.img",
	"/data/adb/magisk_merge.img",
}

// MainImage is the merged, canonical module image.
const MainImage = "/data/adb/magisk.img"

// MinImageSizeMB is the minimum size used when creating the main image
// from scratch.
const MinImageSizeMB = 64

// AltBinPaths are alternative locations the framework's data directory may
// be relocated from during startup, in priority order.
var AltBinPaths = []string{
	"/cache/data_bin",
	"/data/magisk",
	"/data/data/com.topjohnwu.magisk/install",
	"/data/user_de/0/com.topjohnwu.magisk/install",
}

// Global marker files (§6).
const (
	SecureDir     = "/data/adb"
	DisableFile   = "/cache/.disable_magisk"
	BootCountFile = "/cache/.magisk_boot_count"
	HostsFile     = CoreDir + "/hosts"
	ManagerAPK    = MountPoint + "/.core/manager.apk"
	ManagerApkDest = "/data/magisk.apk"
	UnblockFile   = "/dev/.booted_without_magisk"
)

// Per-module marker files (§6), read relative to a module's directory.
const (
	MarkerDisable   = "disable"
	MarkerRemove    = "remove"
	MarkerUpdate    = "update"
	MarkerAutoMount = "auto_mount"
	MarkerReplace   = ".replace"
	SystemProp      = "system.prop"
)

// ReservedModuleDirs are special module-registry directory names that are
// never modules (§4.1).
var ReservedModuleDirs = map[string]bool{
	".core":      true,
	"lost+found": true,
	".":          true,
	"..":         true,
}

// CoreSubdirs are standard subdirectories the module registry guarantees
// exist under the core directory (§4.1).
var CoreSubdirs = []string{"post-fs-data.d", "service.d", "props"}

// Boot stage names, used both as herd phase labels and script-runner stage
// identifiers (§4.6).
const (
	StagePostFSData = "post-fs-data"
	StageService    = "service"
)

// herd step names.
const (
	OpCheckData         = "check-data"
	OpCheckSecureDir    = "check-secure-dir"
	OpSimpleMount       = "simple-mount"
	OpUnlockBlocks      = "unlock-blocks"
	OpRemountRW         = "remount-rw"
	OpSbinOverlay       = "sbin-overlay"
	OpRelocateData      = "relocate-data"
	OpMirrorSetup       = "mirror-setup"
	OpBusyboxInstall    = "busybox-install"
	OpExecPostFsData    = "exec-post-fs-data"
	OpAckClient         = "ack-client"
	OpRemountRO         = "remount-ro"
	OpPrepareImage      = "prepare-image"
	OpRestoreDataLabels = "restore-data-labels"
	OpCommonScripts     = "common-scripts"
	OpModuleScripts     = "module-scripts"
	OpLoadModuleProps   = "load-module-props"
	OpBuildTree         = "build-tree"
	OpExtractVendor     = "extract-vendor"
	OpEmitMounts        = "emit-mounts"
	OpCoreOnly          = "core-only"
	OpCheckSetupDone    = "check-setup-done"
	OpStartHide         = "start-hide"
	OpInstallManager    = "install-manager"
	OpClearBootCount    = "clear-boot-count"
)

// InstallRetryDelay is the cadence of the manager-app install retry loop
// (§4.8 phase 3, §9 "retry-until-success install loop").
const InstallRetryDelay = 5 * time.Second

// InstallRetryAttempts bounds the install loop. The original has no bound
// at all; this is the retry budget the spec's Design Notes flags as
// missing (§9).
const InstallRetryAttempts = 60
