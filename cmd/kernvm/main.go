package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vkngwrapper/kernvm/boot"
	"github.com/vkngwrapper/kernvm/vfs"
	"golang.org/x/exp/slog"
)

var configFile = flag.String("c", "", "boot config file (JSON)")
var root = flag.String("r", ".", "host directory program paths are resolved against")
var exitCode = flag.Int("x", 0, "exit code each program exits with")
var forks = flag.Int("f", 0, "children each program forks and reaps before exiting")
var dumpAS = flag.Bool("a", false, "print each program's address space on entry")
var dumpMap = flag.Bool("m", false, "print the coremap's frame map at shutdown")
var verbose = flag.Bool("v", false, "log at debug level")

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "kernvm: %+v\n", err)
	os.Exit(1)
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: kernvm [-c config.json] [-r root] [-x code] [-f forks] [-a] [-m] [-v] <program> [args...]")
		os.Exit(2)
	}

	config := boot.DefaultConfig()
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			fatal(err)
		}
		config, err = boot.ParseConfig(data)
		if err != nil {
			fatal(err)
		}
	}
	if *verbose {
		config.LogLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel}))

	user := &traceEntry{
		logger:   logger,
		exitCode: *exitCode,
		forks:    *forks,
	}
	if *dumpAS {
		user.dumpAS = os.Stdout
	}

	machine, err := boot.Boot(logger, config, vfs.New(logger, os.DirFS(*root)), user)
	if err != nil {
		fatal(err)
	}
	user.kernel = machine.Kernel

	program := flag.Arg(0)
	if _, err := machine.Run(program, flag.Args()); err != nil {
		fatal(err)
	}

	if err := machine.Shutdown(); err != nil {
		fatal(err)
	}

	if *dumpMap {
		fmt.Println(machine.Coremap.BuildStatsString(true))
	}
}
