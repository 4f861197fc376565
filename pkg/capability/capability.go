// Package capability declares the host-provided primitives the overlay
// core is built on: syscall wrappers, image mounting, attribute/label I/O,
// property access and process spawning (spec.md §6). These are the
// external collaborators spec.md scopes out of the core algorithm; this
// package gives them a Go-shaped boundary and, where a pack dependency can
// serve it, a concrete implementation.
package capability

import "time"

// Attr is the set of filesystem attributes that must survive a node being
// synthesized into a skeleton tmpfs (spec.md §4.5 step 1/3, §8 round-trip
// property).
type Attr struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Label string // SELinux context, empty if SELinux is disabled/unsupported.
}

// Mounter performs the actual mount syscalls behind bind-mounts and tmpfs
// synthesis (spec.md §4.5, §4.7).
type Mounter interface {
	BindMount(src, dst string) error
	MountTmpfs(target string) error
	Unmount(target string) error
	// Remount toggles a mounted target between read-write and read-only in
	// place (spec.md §4.8 phase 1 step 5 "Remount / read-write", phase 2
	// "Remount / read-only").
	Remount(target string, rw bool) error
}

// Attributer captures and restores filesystem attributes (spec.md §4.5
// step 1/3).
type Attributer interface {
	GetAttr(path string) (Attr, error)
	SetAttr(path string, a Attr) error
}

// SELinuxLabeler restores SELinux contexts on a subtree (spec.md §4.8
// "restore SELinux contexts on the framework's data tree").
type SELinuxLabeler interface {
	Restorecon(path string) error
	SetFileLabel(path, label string) error
}

// PropertyStore is the Android property system client (get/set), consumed
// here only as an interface per spec.md §1/§6.
type PropertyStore interface {
	Get(name string) string
	Set(name, value string) error
}

// ImageManager handles the module image lifecycle: merge pending update
// images into the main image, create it at a minimum size if absent,
// loop-mount it, and trim it back down after module cleanup (spec.md §6).
type ImageManager interface {
	MergeImage(src, dst string) error
	CreateImage(path string, sizeMB int) error
	MountImage(image, mountpoint string) (loopDevice string, err error)
	TrimImage(image, mountpoint, loopDevice string) error
}

// Copier performs recursive attribute-preserving copies (spec.md §6
// "recursive copy / remove / link-dir").
type Copier interface {
	Copy(src, dst string) error
}

// CommandRunner spawns a child process and waits for it to exit (spec.md
// §6 "spawn + wait child").
type CommandRunner interface {
	Run(argv []string, env []string, timeout time.Duration) (exitCode int, err error)
}

// ManagerValidator checks whether a valid manager application is already
// registered. Backed by the database collaborator spec.md names in §1 and
// explicitly scopes out; no concrete implementation lives in this module.
type ManagerValidator interface {
	HasValidManager() (bool, error)
}

// HideDaemon launches the "hide" subsystem. It is started on a detached
// thread and never interacts with the mount engine's data structures
// (spec.md §5, §1 "the separate hide subsystem"). No concrete
// implementation lives in this module; the subsystem itself is out of
// scope.
type HideDaemon interface {
	Start()
}

// BlockUnlocker clears the read-only flag on every block device under a
// directory (spec.md §4.8 phase 1 step 4).
type BlockUnlocker interface {
	UnlockAll(dir string) error
}
