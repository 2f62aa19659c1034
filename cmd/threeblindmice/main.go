package main

import (
	"log"
	"os"

	"github.com/psryland/three-blind-mice/cmd/internal/app"
	"github.com/psryland/three-blind-mice/cmd/internal/display"

	"github.com/docopt/docopt-go"
)

const Version = "0.1.0"

const usage = `Three Blind Mice overlay.

Shows the pointers of everyone in a session on top of this desktop.

Usage:
    threeblindmice [<launch>] [--log-level=<level>]
    threeblindmice -h | --help
    threeblindmice --version

Arguments:
    <launch>    Session code (4-8 letters/digits) or threeblindmice://CODE URI.
                Falls back to TBM_SESSION.

Options:
    -h --help               Show this screen.
    --version               Show version.
    --log-level=<level>     debug, info, warn or error (overrides TBM_LOG_LEVEL).`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		log.Fatal(err)
	}

	launchArg, _ := opts.String("<launch>")
	logLevel, _ := opts.String("--log-level")

	err = app.Run(app.RunOptions{
		Launch:   launchArg,
		LogLevel: logLevel,
		Display: func(l app.Logger) app.Display {
			return display.NewRobotgo(l)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}
