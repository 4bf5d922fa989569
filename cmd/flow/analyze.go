package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/flow"
	"github.com/benbjohnson/flow/asm"
	"github.com/benbjohnson/flow/z3"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// AnalyzeCommand represents a command for analyzing methods in assembly files.
type AnalyzeCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewAnalyzeCommand returns a new instance of AnalyzeCommand.
func NewAnalyzeCommand() *AnalyzeCommand {
	return &AnalyzeCommand{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the "analyze" subcommand.
func (cmd *AnalyzeCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("flow-analyze", flag.ContinueOnError)
	fs.SetOutput(cmd.Stderr)
	verbose := fs.Bool("v", false, "verbose")
	configPath := fs.String("config", "", "config file")
	search := fs.String("search", "", "search strategy")
	naive := fs.Bool("naive", false, "reassert constraints on every query")
	maxDepth := fs.Int("max-depth", 0, "maximum path depth")
	timeout := fs.Duration("timeout", 0, "solver timeout per query")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("file required")
	}

	config := flow.DefaultConfig()
	if *configPath != "" {
		c, err := flow.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		config = c
	}

	// Flags override the config file only when set explicitly.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "search":
			config.Search = *search
		case "naive":
			config.Incremental = !*naive
		case "max-depth":
			config.MaxDepth = *maxDepth
		case "timeout":
			config.SolverTimeout = *timeout
		}
	})
	if err := config.Validate(); err != nil {
		return err
	}

	logger := cmd.newLogger(*verbose)

	// Parse every file before analyzing so syntax errors are reported early.
	var methods []*flow.Method
	paths := make(map[*flow.Method]string)
	for _, path := range fs.Args() {
		prog, err := parseFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		logger.Debug().Str("file", path).Int("methods", len(prog.Methods)).Msg("parsed")

		for _, m := range prog.Methods {
			methods = append(methods, m)
			paths[m] = path
		}
	}

	var mu sync.Mutex
	reports := make(map[*flow.Method]string)
	err := flow.AnalyzeAll(ctx, newSolver, methods, func(a *flow.Analysis) error {
		var buf bytes.Buffer
		writeReport(&buf, paths[a.Method], a)

		mu.Lock()
		defer mu.Unlock()
		reports[a.Method] = buf.String()
		return nil
	}, flow.WithConfig(config), flow.WithLogger(logger))

	// Reports are written in file order regardless of completion order.
	for _, m := range methods {
		if s, ok := reports[m]; ok {
			fmt.Fprint(cmd.Stdout, s)
		}
	}

	var failure *flow.AssertionFailure
	if errors.As(err, &failure) && len(failure.Witness) > 0 {
		logger.Error().
			Str("method", failure.Method).
			Int("pc", failure.PC).
			Strs("witness", witnessStrings(failure.Witness)).
			Msg("assertion failed")
	}
	return err
}

// witnessStrings returns "name=value" pairs sorted by placeholder.
func witnessStrings(m map[*flow.PlaceholderExpr]*flow.LiteralExpr) []string {
	a := make([]string, 0, len(m))
	for p, v := range m {
		a = append(a, fmt.Sprintf("%s=%s", p, v))
	}
	sort.Strings(a)
	return a
}

// newLogger returns a human readable logger when stderr is a terminal and
// a JSON logger otherwise.
func (cmd *AnalyzeCommand) newLogger(verbose bool) zerolog.Logger {
	w := cmd.Stderr
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.TraceLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func (cmd *AnalyzeCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: flow analyze [arguments] FILE...

Arguments:

	-v
	    Enable trace logging.
	-config PATH
	    Read engine settings from a YAML file.
	-search STRATEGY
	    Search strategy: "dfs" or "bfs".
	-naive
	    Reassert every path constraint on each query.
	-max-depth N
	    Maximum number of snapshots on a single path.
	-timeout DURATION
	    Solver timeout per query.
`[1:])
}

func parseFile(path string) (*asm.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return asm.Parse(f)
}

func newSolver() (flow.Solver, error) {
	s, err := z3.NewSolver()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// writeReport writes the exit points, unreachable instructions and solver
// statistics of an analysis.
func writeReport(w io.Writer, path string, a *flow.Analysis) {
	fmt.Fprintf(w, "%s: %s\n", path, a.Method)

	returns := a.Returns()
	fmt.Fprintf(w, "\texits: %d\n", len(a.ExitPoints))
	for i, s := range a.ExitPoints {
		if returns != nil {
			fmt.Fprintf(w, "\t\t%s: %s\n", s, returns[i])
		} else {
			fmt.Fprintf(w, "\t\t%s\n", s)
		}
	}

	if indices := a.Unreachable(); len(indices) == 0 {
		fmt.Fprintln(w, "\tunreachable: none")
	} else {
		a := make([]string, len(indices))
		for i, index := range indices {
			a[i] = strconv.Itoa(index)
		}
		fmt.Fprintf(w, "\tunreachable: %s\n", strings.Join(a, " "))
	}

	stats := a.Engine().Stats()
	fmt.Fprintf(w, "\tsnapshots=%d queries=%d assertions=%d pushes=%d pops=%d solve_time=%s\n",
		stats.Snapshots, stats.Queries, stats.Assertions, stats.Pushes, stats.Pops, stats.SolveTime)
}
