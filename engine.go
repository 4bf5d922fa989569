package flow

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine analyzes methods against a single solver session. An engine is not
// safe for concurrent use; see AnalyzeAll for parallel analysis.
type Engine struct {
	config      Config
	logger      zerolog.Logger
	newSearcher func() (Searcher, error)

	solver   Solver
	ce       *ConstraintEngine
	arena    *arena
	analyses map[*Method]*Analysis
	closed   bool
}

// Option represents a functional option for an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) { e.config = config }
}

// WithLogger sets the logger used for execution tracing and statistics.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSearcher overrides the configured search strategy. The function is
// called once per analyzed method.
func WithSearcher(fn func() Searcher) Option {
	return func(e *Engine) {
		e.newSearcher = func() (Searcher, error) { return fn(), nil }
	}
}

// timeoutSetter is implemented by solvers that support per-query timeouts.
type timeoutSetter interface {
	SetTimeout(d time.Duration) error
}

// NewEngine returns a new engine that owns solver.
func NewEngine(solver Solver, opts ...Option) (*Engine, error) {
	if solver == nil {
		return nil, ErrNoSolver
	}

	e := newEngine(opts...)
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if e.newSearcher == nil {
		e.newSearcher = func() (Searcher, error) { return NewSearcher(e.config.Search) }
	}

	if e.config.SolverTimeout > 0 {
		if s, ok := solver.(timeoutSetter); ok {
			if err := s.SetTimeout(e.config.SolverTimeout); err != nil {
				return nil, &SolverError{Op: "timeout", Err: err}
			}
		}
	}

	e.solver = solver
	e.ce = NewConstraintEngine(solver, e.config.Incremental)
	e.ce.logger = e.logger
	return e, nil
}

func newEngine(opts ...Option) *Engine {
	e := &Engine{
		config:   DefaultConfig(),
		logger:   zerolog.Nop(),
		arena:    &arena{},
		analyses: make(map[*Method]*Analysis),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close closes the underlying solver session.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.solver.Close()
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() Stats {
	stats := e.ce.Stats()
	stats.Snapshots = len(e.arena.snapshots)
	return stats
}

// Analyze explores every feasible path through m and returns the result.
// Methods are analyzed at most once per engine; callees are analyzed on
// demand. A failed analysis is not retained.
func (e *Engine) Analyze(ctx context.Context, m *Method) (*Analysis, error) {
	if e.closed {
		return nil, ErrEngineClosed
	} else if err := checkRecursion(m); err != nil {
		return nil, err
	}
	return e.analyze(ctx, m)
}

func (e *Engine) analyze(ctx context.Context, m *Method) (*Analysis, error) {
	if a := e.analyses[m]; a != nil {
		return a, nil
	}

	x, err := newExecutor(e, m)
	if err != nil {
		return nil, err
	}

	start := e.Stats()
	if err := x.run(ctx); err != nil {
		return nil, err
	}
	e.analyses[m] = x.analysis

	stats := e.Stats()
	e.logger.Debug().
		Str("method", m.Name).
		Int("exits", len(x.analysis.ExitPoints)).
		Int("snapshots", stats.Snapshots-start.Snapshots).
		Int("queries", stats.Queries-start.Queries).
		Int("assertions", stats.Assertions-start.Assertions).
		Int("pushes", stats.Pushes-start.Pushes).
		Int("pops", stats.Pops-start.Pops).
		Dur("solve_time", stats.SolveTime-start.SolveTime).
		Msg("analyzed")
	return x.analysis, nil
}

// IsReachable returns true unless the path to s is known to be infeasible.
func (e *Engine) IsReachable(s *Snapshot) (bool, error) {
	if e.closed {
		return false, ErrEngineClosed
	}
	return e.ce.IsReachable(s)
}

// Classify returns the classification of a boolean expression at s.
func (e *Engine) Classify(s *Snapshot, expr Expr) (Classification, error) {
	if e.closed {
		return Unknown, ErrEngineClosed
	}
	return e.ce.Classify(s, expr)
}

// checkRecursion returns a *RecursionError if any method reachable from root
// calls itself directly or transitively.
func checkRecursion(root *Method) error {
	index := make(map[*Method]uint)
	var collect func(m *Method)
	collect = func(m *Method) {
		if _, ok := index[m]; ok {
			return
		}
		index[m] = uint(len(index))
		for _, callee := range m.Callees() {
			collect(callee)
		}
	}
	collect(root)

	visited := bitset.New(uint(len(index)))
	active := bitset.New(uint(len(index)))
	var stack []*Method

	var visit func(m *Method) error
	visit = func(m *Method) error {
		i := index[m]
		if active.Test(i) {
			var cycle []string
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j] == m {
					for _, other := range stack[j:] {
						cycle = append(cycle, other.Name)
					}
					break
				}
			}
			return &RecursionError{Cycle: append(cycle, m.Name)}
		} else if visited.Test(i) {
			return nil
		}

		visited.Set(i)
		active.Set(i)
		stack = append(stack, m)
		for _, callee := range m.Callees() {
			if err := visit(callee); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		active.Clear(i)
		return nil
	}
	return visit(root)
}

// AnalyzeAll analyzes each method with its own engine and solver session and
// calls fn with each result while its engine is still open. Methods are
// analyzed concurrently up to the configured parallelism; fn may be called
// from multiple goroutines.
func AnalyzeAll(ctx context.Context, newSolver func() (Solver, error), methods []*Method, fn func(*Analysis) error, opts ...Option) error {
	n := newEngine(opts...).config.Parallelism
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for _, m := range methods {
		m := m
		g.Go(func() (err error) {
			solver, err := newSolver()
			if err != nil {
				return err
			}
			e, err := NewEngine(solver, opts...)
			if err != nil {
				return errors.Join(err, solver.Close())
			}
			defer func() {
				if cerr := e.Close(); err == nil {
					err = cerr
				}
			}()

			a, err := e.Analyze(ctx, m)
			if err != nil {
				return err
			}
			return fn(a)
		})
	}
	return g.Wait()
}

// Analysis holds the snapshot tree of a single method.
type Analysis struct {
	Method *Method

	// Symbolic values of the method's parameters.
	Args []*PlaceholderExpr

	EntryPoint *Snapshot
	ExitPoints []*Snapshot

	// Every snapshot of the method in creation order, excluding trial snapshots.
	Snapshots []*Snapshot

	engine  *Engine
	before  [][]*Snapshot
	after   [][]*Snapshot
	covered *bitset.BitSet
}

// Engine returns the engine that produced the analysis.
func (a *Analysis) Engine() *Engine { return a.engine }

// Before returns the snapshots that executed instruction i.
func (a *Analysis) Before(i int) []*Snapshot {
	if i < 0 || i >= len(a.before) {
		return nil
	}
	return a.before[i]
}

// After returns the snapshots produced by instruction i.
func (a *Analysis) After(i int) []*Snapshot {
	if i < 0 || i >= len(a.after) {
		return nil
	}
	return a.after[i]
}

// AfterLabel returns the snapshots that passed label l.
func (a *Analysis) AfterLabel(l *Label) []*Snapshot {
	return a.After(l.Index())
}

// Covered returns true if instruction i was executed on any path.
func (a *Analysis) Covered(i int) bool {
	return i >= 0 && a.covered.Test(uint(i))
}

// Unreachable returns the indices of instructions never executed.
func (a *Analysis) Unreachable() []int {
	var indices []int
	for i := range a.Method.Instrs {
		if !a.covered.Test(uint(i)) {
			indices = append(indices, i)
		}
	}
	return indices
}

// Returns returns the return value at each exit point. Returns nil for
// methods without a return value.
func (a *Analysis) Returns() []Expr {
	if TypesEqual(a.Method.Return, Empty) {
		return nil
	}
	values := make([]Expr, len(a.ExitPoints))
	for i, s := range a.ExitPoints {
		values[i] = s.ReturnValue()
	}
	return values
}

// ClassifyAt combines the classification of the expression returned by fn for
// each snapshot produced by instruction i. A nil expression skips the
// snapshot.
func (a *Analysis) ClassifyAt(i int, fn func(*Snapshot) Expr) (Classification, error) {
	var verdicts []Classification
	for _, s := range a.After(i) {
		expr := fn(s)
		if expr == nil {
			continue
		}
		c, err := a.engine.Classify(s, expr)
		if err != nil {
			return Unknown, err
		}
		verdicts = append(verdicts, c)
	}
	return CombineClassifications(verdicts...), nil
}
