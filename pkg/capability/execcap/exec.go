// Package execcap implements capability.CommandRunner: synchronous
// fork/exec/wait with no timeout policy by default, exactly the blocking
// contract spec.md §5/§6 describes ("spawn + wait child", "there is no
// timeout policy - a hung script hangs the stage").
package execcap

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/pkg/capability"
)

// OS implements capability.CommandRunner against os/exec.
type OS struct{}

var _ capability.CommandRunner = OS{}

// Run spawns argv[0] with argv[1:], waits for it to exit, and returns its
// exit code. A zero timeout blocks indefinitely, matching the spec's
// documented lack of a timeout policy; callers that want a bound (e.g. the
// manager-app install loop) pass one explicitly.
func (OS) Run(argv []string, env []string, timeout time.Duration) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("empty argv")
	}
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(env) > 0 {
		cmd.Env = env
	}
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		log.Log.Debug().Str("argv0", argv[0]).Str("output", string(out)).Msg("command output")
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("run %v: %w", argv, err)
	}
	return 0, nil
}
