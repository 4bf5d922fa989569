package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

// Build information. Populated by the linker.
var (
	Version = "(development build)"
	Commit  = ""
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "analyze":
		return NewAnalyzeCommand().Run(ctx, args)
	case "version":
		if Commit != "" {
			fmt.Printf("flow %s, commit=%s\n", Version, Commit)
		} else {
			fmt.Printf("flow %s\n", Version)
		}
		return nil
	default:
		return fmt.Errorf(`flow %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Flow is a tool for symbolic execution of stack machine methods.

Usage:

	flow <command> [arguments]

The commands are:

	analyze     explore every path of the methods in a file
	version     print the version
	help        this screen
`[1:])
}
