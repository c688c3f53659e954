// crownstone drives a sphere of Crownstones from the command line.
//
// Usage:
//
//	crownstone [options] <command>
//
// Options:
//
//	-config  Fleet file, TOML or YAML (default: fleet.toml)
//
// Commands:
//
//	broadcast  Advertise the configured commands until their retry budgets
//	           are spent and print every frame sent.
//	sync       Synchronize the configured local rule set with an emulated
//	           Crownstone and print the resulting rules.
//
// Example:
//
//	crownstone -config fleet.toml broadcast
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "fleet.toml", "Fleet file (.toml, .yaml, .yml)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		pterm.Error.Println(err)
		return 1
	}
	lf, closeLog, err := newLoggerFactory(cfg.Log)
	if err != nil {
		pterm.Error.Println(err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := flag.Arg(0); cmd {
	case "broadcast":
		err = runBroadcast(ctx, cfg, lf)
	case "sync":
		err = runSync(ctx, cfg, lf)
	default:
		pterm.Error.Printfln("unknown command %q", cmd)
		usage()
		return 2
	}
	if err != nil {
		pterm.Error.Println(err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] broadcast|sync\n\nOptions:\n", os.Args[0])
	flag.PrintDefaults()
}
