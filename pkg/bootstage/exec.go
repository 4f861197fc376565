package bootstage

import "golang.org/x/sys/unix"

// syscallExec replaces the current process image, the exec() half of
// spec.md §6's "Exit / handoff" contract ("startup ends by exec'ing the
// framework binary with --post-fs-data").
func syscallExec(argv0 string, argv []string, env []string) error {
	return unix.Exec(argv0, argv, env)
}
