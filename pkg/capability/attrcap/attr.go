// Package attrcap implements capability.Attributer and
// capability.SELinuxLabeler, the mode/owner/SELinux-context capture and
// restore primitives skeleton synthesis depends on (spec.md §4.5 step 1/3,
// §8 round-trip property).
package attrcap

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/opencontainers/selinux/go-selinux"

	"github.com/overlaycore/magicmount/pkg/capability"
)

// Linux implements capability.Attributer and capability.SELinuxLabeler.
type Linux struct{}

var (
	_ capability.Attributer     = Linux{}
	_ capability.SELinuxLabeler = Linux{}
)

// GetAttr captures mode, owner and SELinux label exactly as they live on
// the current filesystem entry at path.
func (Linux) GetAttr(path string) (capability.Attr, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return capability.Attr{}, fmt.Errorf("stat %s: %w", path, err)
	}
	a := capability.Attr{Mode: uint32(info.Mode().Perm())}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		a.UID = st.Uid
		a.GID = st.Gid
	}
	if selinux.GetEnabled() {
		label, err := selinux.FileLabel(path)
		if err == nil {
			a.Label = label
		}
	}
	return a, nil
}

// SetAttr restores a previously captured Attr onto path. Used to give a
// synthesized tmpfs node the exact attributes of the directory it
// replaced (spec.md §4.5 step 3).
func (Linux) SetAttr(path string, a capability.Attr) error {
	if err := os.Chmod(path, os.FileMode(a.Mode)); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Chown(path, int(a.UID), int(a.GID)); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	if a.Label != "" && selinux.GetEnabled() {
		if err := selinux.SetFileLabel(path, a.Label); err != nil {
			return fmt.Errorf("setfilecon %s: %w", path, err)
		}
	}
	return nil
}

// Restorecon relabels path and everything under it using the active
// SELinux policy's file-contexts database (spec.md §4.8 "Restore SELinux
// contexts on the framework's data tree"). opencontainers/selinux has no
// pure-Go matchpathcon equivalent, so this shells out to the restorecon(8)
// binary when present and is a no-op otherwise - the policy lookup itself
// stays an out-of-scope host collaborator per spec.md §1/§6.
func (Linux) Restorecon(path string) error {
	if !selinux.GetEnabled() {
		return nil
	}
	bin, err := exec.LookPath("restorecon")
	if err != nil {
		return nil
	}
	cmd := exec.Command(bin, "-R", "-F", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("restorecon %s: %w", path, err)
	}
	return nil
}

// SetFileLabel sets the SELinux context of a single path.
func (Linux) SetFileLabel(path, label string) error {
	if !selinux.GetEnabled() {
		return nil
	}
	if err := selinux.SetFileLabel(path, label); err != nil {
		return fmt.Errorf("setfilecon %s: %w", path, err)
	}
	return nil
}
