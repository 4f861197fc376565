// The manager application install loop (spec.md §4.8 phase 3): install
// either a bundled APK or a stub extracted from the init applet when no
// valid manager is registered. The original has no bounded retry at all
// (spec.md §5, §9 "Retry-until-success install loop"); avast/retry-go
// gives it the bounded budget the spec's Design Notes flags as missing.
package bootstage

import (
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/internal/log"
)

// InstallManagerAPK installs apk via pm, retrying while the package
// manager is not yet online (spec.md §5 "sleep 5s and retry exec...
// package manager may not yet be online; no shared state is touched").
// Deletes apk on success or on exhausting the retry budget.
func (c *Controller) InstallManagerAPK(apk string) error {
	if c.Labels != nil {
		if err := c.Labels.SetFileLabel(apk, "u:object_r:apk_data_file:s0"); err != nil {
			log.Log.Warn().Err(err).Str("apk", apk).Msg("failed labeling manager apk")
		}
	}

	err := retry.Do(
		func() error {
			code, runErr := c.Exec.Run([]string{"/system/bin/pm", "install", "-r", apk}, nil, 30*time.Second)
			if runErr != nil {
				return runErr
			}
			if code != 0 {
				return fmt.Errorf("pm install exited %d", code)
			}
			return nil
		},
		retry.Delay(constants.InstallRetryDelay),
		retry.Attempts(constants.InstallRetryAttempts),
		retry.DelayType(retry.FixedDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Log.Debug().Uint("attempt", n).Err(err).Msg("apk_install: attempting to install APK")
		}),
	)
	if err != nil {
		log.Log.Error().Err(err).Str("apk", apk).Msg("manager apk install exhausted retry budget")
	}
	_ = c.Fsys.Remove(apk)
	return err
}

// InstallManagerStub extracts a stub manager APK from the init applet and
// installs it, used when no valid manager is registered in the database
// (spec.md §4.8 phase 3, SPEC_FULL.md supplemented feature 6).
func (c *Controller) InstallManagerStub() error {
	code, err := c.Exec.Run([]string{constants.InitApplet, "-x", "manager", constants.ManagerApkDest}, nil, 30*time.Second)
	if err != nil {
		return fmt.Errorf("extract manager stub: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("extract manager stub exited %d", code)
	}
	return c.InstallManagerAPK(constants.ManagerApkDest)
}
