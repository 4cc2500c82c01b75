// Command idxtool is a one-shot CLI over a disk-resident B-tree index
// file: create, insert, search, bulk load, print, and extract. Each
// invocation opens the index, performs exactly one operation, and exits.
package main

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

func main() {
	args := os.Args[1:]

	debug := false
	opts := Options{}
	var rest []string
	for _, a := range args {
		switch a {
		case "-debug":
			debug = true
		case "-stats":
			opts.StatsOut = os.Stderr
		default:
			rest = append(rest, a)
		}
	}

	level := hclog.Warn
	if debug {
		level = hclog.Debug
	}
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "idxtool",
		Level: level,
	})

	os.Exit(Run(rest, os.Stdout, os.Stderr, log, opts))
}
