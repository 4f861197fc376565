package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/overlaycore/magicmount/internal/log"
	"github.com/overlaycore/magicmount/internal/version"
	"github.com/overlaycore/magicmount/pkg/bootstage"
	"github.com/overlaycore/magicmount/pkg/capability/attrcap"
	"github.com/overlaycore/magicmount/pkg/capability/copycap"
	"github.com/overlaycore/magicmount/pkg/capability/execcap"
	"github.com/overlaycore/magicmount/pkg/capability/imgcap"
	"github.com/overlaycore/magicmount/pkg/capability/mountcap"
	"github.com/overlaycore/magicmount/pkg/capability/propcap"
	"github.com/overlaycore/magicmount/pkg/registry"
)

// newController wires the production capability implementations into a
// bootstage.Controller (spec.md §6: everything below the boundary is a
// concrete adapter over a real host collaborator).
func newController() *bootstage.Controller {
	return &bootstage.Controller{
		Fsys:    registry.OSFS,
		Mounter: mountcap.Linux{},
		Attr:    attrcap.Linux{},
		Labels:  attrcap.Linux{},
		Props:   propcap.New("/dev/.magisk_props"),
		Images:  imgcap.Linux{},
		Copier:  copycap.OtiaiCopier{},
		Exec:    execcap.OS{},
		Blocks:  bootstage.LinuxBlockUnlocker{},
	}
}

// clientConn resolves the IPC entry point's connected socket from an
// inherited file descriptor number (spec.md §6 "Client IPC. Entry points
// ... receive a connected socket descriptor"). Falls back to stdout when no
// --fd is given, so the ack write is still observable without a real caller.
func clientConn(c *cli.Context) *os.File {
	fd := c.Int("fd")
	if fd <= 0 {
		return os.Stdout
	}
	return os.NewFile(uintptr(fd), "client")
}

func main() {
	app := cli.NewApp()
	app.Name = "magicmount"
	app.Usage = "boot-time magic mount overlay core"
	app.Version = version.GetVersion()
	app.Authors = []*cli.Author{{Name: "overlaycore authors"}}
	app.Copyright = "overlaycore authors"

	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "dry-run", Usage: "print the planned mount/script graph without performing it"},
	}

	// The default action is the startup phase: init invokes the binary
	// with no arguments at early boot (spec.md §4.8 phase 1).
	app.Action = func(c *cli.Context) error {
		log.Setup()
		ctrl := newController()
		g := ctrl.BuildStartupGraph()
		if c.Bool("dry-run") {
			g.Analyze()
			fmt.Println(bootstage.WriteDAG(g))
			return nil
		}
		return ctrl.Startup(context.Background())
	}

	app.Commands = []*cli.Command{
		{
			Name:  "post-fs-data",
			Usage: "run the post-fs-data phase",
			Flags: []cli.Flag{&cli.IntFlag{Name: "fd", Usage: "inherited client socket fd"}},
			Action: func(c *cli.Context) error {
				log.Setup()
				ctrl := newController()
				conn := clientConn(c)
				if c.Bool("dry-run") {
					g := ctrl.BuildPostFsDataGraph(conn)
					g.Analyze()
					fmt.Println(bootstage.WriteDAG(g))
					return nil
				}
				return ctrl.PostFSData(context.Background(), conn)
			},
		},
		{
			Name:  "late_start",
			Usage: "run the late_start phase",
			Flags: []cli.Flag{&cli.IntFlag{Name: "fd", Usage: "inherited client socket fd"}},
			Action: func(c *cli.Context) error {
				log.Setup()
				ctrl := newController()
				conn := clientConn(c)
				if c.Bool("dry-run") {
					g := ctrl.BuildLateStartGraph(conn)
					g.Analyze()
					fmt.Println(bootstage.WriteDAG(g))
					return nil
				}
				return ctrl.LateStart(context.Background(), conn)
			},
		},
		{
			Name:  "boot_complete",
			Usage: "run the boot_complete phase",
			Flags: []cli.Flag{&cli.IntFlag{Name: "fd", Usage: "inherited client socket fd"}},
			Action: func(c *cli.Context) error {
				log.Setup()
				ctrl := newController()
				conn := clientConn(c)
				return ctrl.BootComplete(context.Background(), conn)
			},
		},
		{
			Name:  "version",
			Usage: "print version information",
			Action: func(c *cli.Context) error {
				fmt.Println(version.GetVersion())
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Log.Error().Err(err).Msg("magicmount exited with error")
		os.Exit(1)
	}
}
