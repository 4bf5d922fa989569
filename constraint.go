package flow

import (
	"time"

	"github.com/rs/zerolog"
)

// Stats holds counters for the work performed by a constraint engine.
type Stats struct {
	Queries    int           `json:"queries"`
	Assertions int           `json:"assertions"`
	Pushes     int           `json:"pushes"`
	Pops       int           `json:"pops"`
	Snapshots  int           `json:"snapshots"`
	SolveTime  time.Duration `json:"solve_time"`
}

// Add returns the sum of both sets of counters.
func (s Stats) Add(other Stats) Stats {
	s.Queries += other.Queries
	s.Assertions += other.Assertions
	s.Pushes += other.Pushes
	s.Pops += other.Pops
	s.Snapshots += other.Snapshots
	s.SolveTime += other.SolveTime
	return s
}

// ConstraintEngine answers reachability and classification queries against
// a single solver session.
//
// In incremental mode the session's assertion stack mirrors the path to the
// most recently queried snapshot: one layer per snapshot that carries its own
// constraints. Moving to another snapshot pops back to the deepest layer the
// two paths share and pushes the remainder. In naive mode every query
// reasserts the full path inside a single temporary layer.
type ConstraintEngine struct {
	solver      Solver
	incremental bool
	logger      zerolog.Logger

	path   []*Snapshot // snapshots with pushed layers, root first
	onPath map[int]int // snapshot id to position in path

	stats Stats
	err   error // sticky; the session is out of sync after a failure
}

// NewConstraintEngine returns a new instance of ConstraintEngine.
func NewConstraintEngine(solver Solver, incremental bool) *ConstraintEngine {
	return &ConstraintEngine{
		solver:      solver,
		incremental: incremental,
		logger:      zerolog.Nop(),
		onPath:      make(map[int]int),
	}
}

// Stats returns a copy of the engine's counters.
func (ce *ConstraintEngine) Stats() Stats { return ce.stats }

// IsReachable returns true unless the constraints on the path to s are
// unsatisfiable. An undetermined answer counts as reachable.
func (ce *ConstraintEngine) IsReachable(s *Snapshot) (bool, error) {
	result, err := ce.query(s, nil)
	if err != nil {
		return false, err
	}
	return result != Unsat, nil
}

// Classify returns the classification of the boolean expr under the
// constraints on the path to s. The snapshot's constraints are unaffected.
func (ce *ConstraintEngine) Classify(s *Snapshot, expr Expr) (Classification, error) {
	if !TypesEqual(ExprType(expr), Boolean) {
		return Unknown, &TypeError{Op: "classify", Want: "bool", Got: []ValueType{ExprType(expr)}}
	}

	// Literals need only a reachability check.
	if lit, ok := expr.(*LiteralExpr); ok {
		if reachable, err := ce.IsReachable(s); err != nil {
			return Unknown, err
		} else if !reachable {
			return Unreachable, nil
		} else if lit.Bool() {
			return AlwaysTrue, nil
		}
		return AlwaysFalse, nil
	}

	t, err := ce.query(s, expr)
	if err != nil {
		return Unknown, err
	}
	f, err := ce.query(s, NewNotExpr(expr))
	if err != nil {
		return Unknown, err
	}
	return classify(t, f), nil
}

// modeler is implemented by solvers that can report satisfying values after
// a successful check.
type modeler interface {
	Model(placeholders []*PlaceholderExpr) (map[*PlaceholderExpr]*LiteralExpr, error)
}

// Witness returns values for the placeholders on the path to s under which
// expr holds. Returns nil if the solver cannot produce models or no such
// values exist.
func (ce *ConstraintEngine) Witness(s *Snapshot, expr Expr) (map[*PlaceholderExpr]*LiteralExpr, error) {
	m, ok := ce.solver.(modeler)
	if !ok {
		return nil, nil
	} else if ce.err != nil {
		return nil, ce.err
	}

	placeholders := Placeholders(append(s.Constraints(), expr)...)
	if len(placeholders) == 0 {
		return nil, nil
	}

	ce.stats.Queries++
	if ce.incremental {
		if err := ce.sync(s); err != nil {
			return nil, ce.fail(err)
		} else if err := ce.push(); err != nil {
			return nil, ce.fail(err)
		}
	} else {
		if err := ce.push(); err != nil {
			return nil, ce.fail(err)
		}
		for _, c := range s.Constraints() {
			if err := ce.assert(c); err != nil {
				return nil, ce.fail(err)
			}
		}
	}
	if err := ce.assert(expr); err != nil {
		return nil, ce.fail(err)
	}

	result, err := ce.check()
	if err != nil {
		return nil, err
	}

	var values map[*PlaceholderExpr]*LiteralExpr
	if result == Sat {
		if values, err = m.Model(placeholders); err != nil {
			return nil, ce.fail(&SolverError{Op: "model", Err: err})
		}
	}
	if err := ce.pop(); err != nil {
		return nil, ce.fail(err)
	}
	return values, nil
}

// query checks the satisfiability of the path to s, conjoined with extra if
// it is non-nil.
func (ce *ConstraintEngine) query(s *Snapshot, extra Expr) (Result, error) {
	if ce.err != nil {
		return Undef, ce.err
	}
	ce.stats.Queries++

	if !ce.incremental {
		return ce.queryNaive(s, extra)
	}

	if err := ce.sync(s); err != nil {
		return Undef, ce.fail(err)
	}
	if extra == nil {
		return ce.check()
	}

	if err := ce.push(); err != nil {
		return Undef, ce.fail(err)
	} else if err := ce.assert(extra); err != nil {
		return Undef, ce.fail(err)
	}
	result, err := ce.check()
	if err != nil {
		return Undef, err
	} else if err := ce.pop(); err != nil {
		return Undef, ce.fail(err)
	}
	return result, nil
}

func (ce *ConstraintEngine) queryNaive(s *Snapshot, extra Expr) (Result, error) {
	if err := ce.push(); err != nil {
		return Undef, ce.fail(err)
	}
	for _, expr := range s.Constraints() {
		if err := ce.assert(expr); err != nil {
			return Undef, ce.fail(err)
		}
	}
	if extra != nil {
		if err := ce.assert(extra); err != nil {
			return Undef, ce.fail(err)
		}
	}
	result, err := ce.check()
	if err != nil {
		return Undef, err
	} else if err := ce.pop(); err != nil {
		return Undef, ce.fail(err)
	}
	return result, nil
}

// sync aligns the session with the path to s.
func (ce *ConstraintEngine) sync(s *Snapshot) error {
	// Collect constrained snapshots up to the first one already on the path.
	shared := -1
	var pending []*Snapshot
	for p := s; p != nil; p = p.Predecessor() {
		if i, ok := ce.onPath[p.id]; ok {
			shared = i
			break
		}
		if len(p.own) > 0 {
			pending = append(pending, p)
		}
	}

	for len(ce.path) > shared+1 {
		last := ce.path[len(ce.path)-1]
		if err := ce.pop(); err != nil {
			return err
		}
		delete(ce.onPath, last.id)
		ce.path = ce.path[:len(ce.path)-1]
	}

	for i := len(pending) - 1; i >= 0; i-- {
		p := pending[i]
		if err := ce.push(); err != nil {
			return err
		}
		for _, expr := range p.own {
			if err := ce.assert(expr); err != nil {
				return err
			}
		}
		ce.onPath[p.id] = len(ce.path)
		ce.path = append(ce.path, p)
	}
	return nil
}

func (ce *ConstraintEngine) push() error {
	ce.stats.Pushes++
	if err := ce.solver.Push(); err != nil {
		return &SolverError{Op: "push", Err: err}
	}
	return nil
}

func (ce *ConstraintEngine) pop() error {
	ce.stats.Pops++
	if err := ce.solver.Pop(); err != nil {
		return &SolverError{Op: "pop", Err: err}
	}
	return nil
}

func (ce *ConstraintEngine) assert(expr Expr) error {
	ce.stats.Assertions++
	if err := ce.solver.Assert(expr); err != nil {
		return &SolverError{Op: "assert", Err: err}
	}
	return nil
}

func (ce *ConstraintEngine) check() (Result, error) {
	t := time.Now()
	result, err := ce.solver.Check()
	ce.stats.SolveTime += time.Since(t)
	if err != nil {
		return Undef, ce.fail(&SolverError{Op: "check", Err: err})
	}
	if result == Undef {
		event := ce.logger.Debug()
		if r, ok := ce.solver.(interface{ ReasonUnknown() string }); ok {
			event = event.Str("reason", r.ReasonUnknown())
		}
		event.Msg("solver returned unknown")
	}
	return result, nil
}

func (ce *ConstraintEngine) fail(err error) error {
	ce.err = err
	return err
}
