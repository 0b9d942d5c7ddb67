package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/lorasense/cmd/lorasense/console"
	"github.com/temoto/lorasense/cmd/lorasense/frame"
	"github.com/temoto/lorasense/cmd/lorasense/run"
	"github.com/temoto/lorasense/cmd/lorasense/subcmd"
	"github.com/temoto/lorasense/internal/state"
	"github.com/temoto/lorasense/log2"
)

var log = log2.NewStderr(log2.LDebug)
var BuildVersion string = "unknown" // set by ldflags -X

var modules = []subcmd.Mod{
	run.Mod,
	frame.BuildMod,
	frame.VerifyMod,
	console.Mod,
}

func main() {
	flags := flag.NewFlagSet("lorasense", flag.ExitOnError)
	flagConfig := flags.String("config", "lorasense.hcl", "")
	flagVersion := flags.Bool("version", false, "print build version and exit")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: lorasense [options] [command] [args]\n\nCommands:\n%s\nOptions:\n", subcmd.Usage(modules))
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])
	if *flagVersion {
		fmt.Printf("lorasense %s\n", BuildVersion)
		return
	}

	command := flags.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Fatal(err)
	}
	var args []string
	if flags.NArg() > 1 {
		args = flags.Args()[1:]
	}

	if subcmd.SdNotify("start") {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	if mod.Name != run.Mod.Name {
		log.SetLevel(log2.LInfo)
	}

	log.Debugf("lorasense version=%s starting command=%s", BuildVersion, mod.Name)
	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if err := mod.Main(ctx, config, args); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
