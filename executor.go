package flow

import (
	"context"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"
)

// executor explores every feasible path through a single method.
type executor struct {
	engine   *Engine
	analysis *Analysis
	searcher Searcher
	logger   zerolog.Logger
}

func newExecutor(e *Engine, m *Method) (*executor, error) {
	searcher, err := e.newSearcher()
	if err != nil {
		return nil, err
	}

	// Arguments are symbolic and occupy the first variable slots.
	args := make([]*PlaceholderExpr, len(m.Args))
	values := make([]Expr, len(m.Args))
	for i, typ := range m.Args {
		args[i] = NewPlaceholder(fmt.Sprintf("%s.arg%d", m.Name, i), typ)
		values[i] = args[i]
	}

	root := e.arena.root(m, values)
	a := &Analysis{
		Method:     m,
		Args:       args,
		EntryPoint: root,
		Snapshots:  []*Snapshot{root},
		engine:     e,
		before:     make([][]*Snapshot, len(m.Instrs)),
		after:      make([][]*Snapshot, len(m.Instrs)),
		covered:    bitset.New(uint(len(m.Instrs))),
	}
	searcher.AddSnapshots(root)

	return &executor{
		engine:   e,
		analysis: a,
		searcher: searcher,
		logger:   e.logger.With().Str("method", m.Name).Logger(),
	}, nil
}

// run executes snapshots until none remain.
func (x *executor) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s := x.searcher.SelectSnapshot()
		if s == nil {
			return nil
		}
		if err := x.executeSnapshot(ctx, s); err != nil {
			return err
		}
	}
}

// executeSnapshot executes the instruction at the snapshot's program counter
// and schedules the resulting successors.
func (x *executor) executeSnapshot(ctx context.Context, s *Snapshot) error {
	m := x.analysis.Method
	assert(s.pc < len(m.Instrs), "no instruction available: %s", s)

	instr := m.Instrs[s.pc]
	x.analysis.before[s.pc] = append(x.analysis.before[s.pc], s)
	x.analysis.covered.Set(uint(s.pc))
	x.logger.Trace().Int("snapshot", s.id).Int("pc", s.pc).Str("instr", instr.String()).Msg("exec")

	succs, err := x.executeInstr(ctx, s, instr)
	if err != nil {
		return err
	}

	var next []*Snapshot
	for _, succ := range succs {
		if succ.depth > x.engine.config.MaxDepth {
			return &LimitError{Method: m.Name, Depth: succ.depth}
		}
		x.analysis.after[s.pc] = append(x.analysis.after[s.pc], succ)
		x.analysis.Snapshots = append(x.analysis.Snapshots, succ)

		if succ.IsExitPoint() {
			x.logger.Trace().Int("snapshot", succ.id).Msg("exit")
			x.analysis.ExitPoints = append(x.analysis.ExitPoints, succ)
			continue
		}
		next = append(next, succ)
	}
	if len(next) > 1 {
		x.logger.Trace().Int("snapshot", s.id).Int("n", len(next)).Msg("fork")
	}
	x.searcher.AddSnapshots(next...)
	return nil
}

func (x *executor) executeInstr(ctx context.Context, s *Snapshot, instr Instruction) ([]*Snapshot, error) {
	switch instr := instr.(type) {
	case *Label:
		return []*Snapshot{s.successor(instr, s.pc+1)}, nil
	case *PushInstr:
		return x.executePushInstr(s, instr)
	case *DupInstr:
		return x.executeDupInstr(s, instr)
	case *PopInstr:
		return x.executePopInstr(s, instr)
	case *UnaryInstr:
		return x.executeUnaryInstr(s, instr)
	case *BinaryInstr:
		return x.executeBinaryInstr(s, instr)
	case *LoadInstr:
		return x.executeLoadInstr(s, instr)
	case *StoreInstr:
		return x.executeStoreInstr(s, instr)
	case *AssignInstr:
		return x.executeAssignInstr(s, instr)
	case *BranchInstr:
		return x.executeBranchInstr(s, instr)
	case *JumpInstr:
		return x.executeJumpInstr(s, instr)
	case *CallInstr:
		return x.executeCallInstr(ctx, s, instr)
	case *ReturnInstr:
		return x.executeReturnInstr(s, instr)
	case *AssertInstr:
		return x.executeAssertInstr(s, instr)
	default:
		return nil, fmt.Errorf("illegal instruction: %T", instr)
	}
}

func (x *executor) executePushInstr(s *Snapshot, instr *PushInstr) ([]*Snapshot, error) {
	succ := s.successor(instr, s.pc+1)
	succ.push(instr.Value)
	return []*Snapshot{succ}, nil
}

func (x *executor) executeDupInstr(s *Snapshot, instr *DupInstr) ([]*Snapshot, error) {
	succ := s.successor(instr, s.pc+1)
	succ.push(s.Top())
	return []*Snapshot{succ}, nil
}

func (x *executor) executePopInstr(s *Snapshot, instr *PopInstr) ([]*Snapshot, error) {
	succ := s.successor(instr, s.pc+1)
	succ.pop(1)
	return []*Snapshot{succ}, nil
}

func (x *executor) executeUnaryInstr(s *Snapshot, instr *UnaryInstr) ([]*Snapshot, error) {
	succ := s.successor(instr, s.pc+1)
	operand := succ.pop(1)
	expr, err := NewUnaryExpr(instr.Op, operand[0])
	if err != nil {
		return nil, err
	}
	succ.push(expr)
	return []*Snapshot{succ}, nil
}

func (x *executor) executeBinaryInstr(s *Snapshot, instr *BinaryInstr) ([]*Snapshot, error) {
	succ := s.successor(instr, s.pc+1)
	operands := succ.pop(2)
	expr, err := NewBinaryExpr(instr.Op, operands[0], operands[1])
	if err != nil {
		return nil, err
	}
	succ.push(expr)
	return []*Snapshot{succ}, nil
}

func (x *executor) executeLoadInstr(s *Snapshot, instr *LoadInstr) ([]*Snapshot, error) {
	v, ok := s.Variable(instr.Slot)
	assert(ok, "load of undefined slot %d: %s", instr.Slot, s)

	succ := s.successor(instr, s.pc+1)
	succ.push(v)
	return []*Snapshot{succ}, nil
}

func (x *executor) executeStoreInstr(s *Snapshot, instr *StoreInstr) ([]*Snapshot, error) {
	succ := s.successor(instr, s.pc+1)
	succ.store(instr.Slot, succ.pop(1)[0])
	return []*Snapshot{succ}, nil
}

func (x *executor) executeAssignInstr(s *Snapshot, instr *AssignInstr) ([]*Snapshot, error) {
	succ := s.successor(instr, s.pc+1)
	succ.require(NewEqExpr(instr.Var, succ.pop(1)[0]))

	// Reassigning a variable on the same path may contradict an earlier value.
	if ok, err := x.reachable(succ); err != nil || !ok {
		return nil, err
	}
	return []*Snapshot{succ}, nil
}

// executeBranchInstr splits the path on a boolean condition. The fall-through
// successor comes first. Literal conditions produce a single successor.
func (x *executor) executeBranchInstr(s *Snapshot, instr *BranchInstr) ([]*Snapshot, error) {
	cond := s.Top()
	target := instr.Label.Index()

	if lit, ok := cond.(*LiteralExpr); ok {
		pc := s.pc + 1
		if lit.Bool() {
			pc = target
		}
		succ := s.successor(instr, pc)
		succ.pop(1)
		return []*Snapshot{succ}, nil
	}

	var succs []*Snapshot
	for _, branch := range []struct {
		pc   int
		cond Expr
		name string
	}{
		{s.pc + 1, NewNotExpr(cond), "false"},
		{target, cond, "true"},
	} {
		succ := s.successor(instr, branch.pc)
		succ.pop(1)
		succ.require(branch.cond)

		if ok, err := x.reachable(succ); err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		x.logger.Trace().Int("snapshot", succ.id).Str("cond", branch.name).Msg("branch")
		succs = append(succs, succ)
	}
	return succs, nil
}

func (x *executor) executeJumpInstr(s *Snapshot, instr *JumpInstr) ([]*Snapshot, error) {
	return []*Snapshot{s.successor(instr, instr.Label.Index())}, nil
}

// executeCallInstr links the caller to every feasible exit point of the
// callee. Each successor replaces the arguments with the callee's return
// value as seen from that exit point.
func (x *executor) executeCallInstr(ctx context.Context, s *Snapshot, instr *CallInstr) ([]*Snapshot, error) {
	callee := instr.Method
	n := len(callee.Args)
	stack := s.Stack()
	args := stack[len(stack)-n:]

	a, err := x.engine.analyze(ctx, callee)
	if err != nil {
		return nil, err
	}

	if TypesEqual(callee.Return, Empty) {
		succ := s.successor(instr, s.pc+1)
		succ.pop(n)
		return []*Snapshot{succ}, nil
	}

	var succs []*Snapshot
	for _, exit := range a.ExitPoints {
		constraints, ret, err := link(a, exit, args)
		if err != nil {
			return nil, err
		}

		trial := s.disconnected()
		for _, expr := range constraints {
			trial.require(expr)
		}
		if ok, err := x.reachable(trial); err != nil {
			return nil, err
		} else if !ok {
			continue
		}

		succ := s.successor(instr, s.pc+1)
		succ.pop(n)
		succ.push(ret)
		succ.own = trial.own
		succ.weak = exit.id
		succs = append(succs, succ)
	}
	return succs, nil
}

func (x *executor) executeReturnInstr(s *Snapshot, instr *ReturnInstr) ([]*Snapshot, error) {
	return []*Snapshot{s.successor(instr, len(x.analysis.Method.Instrs))}, nil
}

// executeAssertInstr checks the classification of the condition on top of the
// stack against the expected value.
func (x *executor) executeAssertInstr(s *Snapshot, instr *AssertInstr) ([]*Snapshot, error) {
	cond := s.Top()
	actual, err := x.engine.ce.Classify(s, cond)
	if err != nil {
		return nil, err
	}

	ok := actual == instr.Expect
	if instr.Expect == AnyValue {
		ok = actual != Unreachable && actual != Unknown
	}
	if !ok {
		failure := &AssertionFailure{
			Method:   x.analysis.Method.Name,
			PC:       s.pc,
			Expr:     cond,
			Expected: instr.Expect,
			Actual:   actual,
		}

		// Report inputs under which the condition takes the other value.
		var violation Expr
		switch {
		case instr.Expect == AlwaysTrue && (actual == AnyValue || actual == AlwaysFalse):
			violation = NewNotExpr(cond)
		case instr.Expect == AlwaysFalse && (actual == AnyValue || actual == AlwaysTrue):
			violation = cond
		}
		if violation != nil {
			if failure.Witness, err = x.engine.ce.Witness(s, violation); err != nil {
				return nil, err
			}
		}
		return nil, failure
	}

	succ := s.successor(instr, s.pc+1)
	succ.pop(1)
	return []*Snapshot{succ}, nil
}

// reachable returns true if s may be reached. Snapshots without constraints of
// their own are reachable if their predecessor is.
func (x *executor) reachable(s *Snapshot) (bool, error) {
	if len(s.own) == 0 {
		return true, nil
	} else if s.infeasible() {
		x.logger.Trace().Int("snapshot", s.id).Msg("prune")
		return false, nil
	}

	ok, err := x.engine.ce.IsReachable(s)
	if err != nil {
		return false, err
	} else if !ok {
		x.logger.Trace().Int("snapshot", s.id).Msg("prune")
	}
	return ok, nil
}

// link translates the constraints and return value of a callee exit point
// into the caller's terms. Parameters are replaced by the arguments and every
// other placeholder is renamed to a fresh one, so each call gets its own
// instance of the callee's internal values.
func link(a *Analysis, exit *Snapshot, args []Expr) ([]Expr, Expr, error) {
	m := make(map[*PlaceholderExpr]Expr, len(args))
	for i, p := range a.Args {
		m[p] = args[i]
	}
	rename := func(expr Expr) Expr {
		p, ok := expr.(*PlaceholderExpr)
		if !ok {
			return nil
		}
		if v, ok := m[p]; ok {
			return v
		}
		v := NewPlaceholder(p.Name, p.Type)
		m[p] = v
		return v
	}

	var constraints []Expr
	for _, expr := range exit.Constraints() {
		other, err := Translate(expr, rename)
		if err != nil {
			return nil, nil, err
		}
		constraints = append(constraints, other)
	}

	ret, err := Translate(exit.ReturnValue(), rename)
	if err != nil {
		return nil, nil, err
	}
	return constraints, ret, nil
}
