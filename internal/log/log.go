// Package log sets up the process-wide zerolog logger.
package log

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the logger every package in this module logs through.
var Log zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// Setup configures the global log level from the environment. Debug is
// enabled either via MAGICMOUNT_DEBUG or the androidboot.magicmount.debug
// kernel cmdline stanza.
func Setup() {
	level := zerolog.InfoLevel
	if os.Getenv("MAGICMOUNT_DEBUG") != "" || len(ReadCmdlineArg("androidboot.magicmount.debug")) > 0 {
		level = zerolog.DebugLevel
	}
	Log = Log.Level(level)
}

// ReadCmdlineArg returns the values of every kernel cmdline stanza starting
// with arg (e.g. "androidboot.verifiedbootstate="). Bare stanzas with no
// "=" return a single empty-string match.
func ReadCmdlineArg(arg string) []string {
	cmdline, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return nil
	}
	var res []string
	for _, f := range strings.Fields(string(cmdline)) {
		if strings.HasPrefix(f, arg) {
			res = append(res, strings.TrimPrefix(f, arg))
		}
	}
	return res
}
