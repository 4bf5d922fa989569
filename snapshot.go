package flow

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Snapshot represents the machine state between two instructions on a single
// path through a method. Snapshots form a tree rooted at a method's entry
// point and are never modified once they have been handed to the searcher.
type Snapshot struct {
	id    int
	arena *arena

	method *Method
	instr  Instruction // instruction that produced this snapshot; nil at entry
	pc     int         // index of the next instruction

	// Operand stack, bottom first, and variable slots.
	stack *immutable.List
	vars  *immutable.SortedMap

	// Constraints added by the producing instruction.
	own []Expr

	// Tree links are arena indices; -1 when absent.
	pred  int
	weak  int
	depth int
	succs []int

	// Trial snapshots are derived to answer a query and never executed.
	trial bool
}

// ID returns the arena-wide identifier of the snapshot.
func (s *Snapshot) ID() int { return s.id }

// Method returns the method the snapshot belongs to.
func (s *Snapshot) Method() *Method { return s.method }

// Instr returns the instruction that produced the snapshot.
// Returns nil for an entry point.
func (s *Snapshot) Instr() Instruction { return s.instr }

// PC returns the index of the next instruction to execute.
func (s *Snapshot) PC() int { return s.pc }

// Depth returns the number of strong predecessors.
func (s *Snapshot) Depth() int { return s.depth }

// Stack returns a copy of the operand stack, bottom first.
func (s *Snapshot) Stack() []Expr {
	a := make([]Expr, 0, s.stack.Len())
	for itr := s.stack.Iterator(); !itr.Done(); {
		_, v := itr.Next()
		a = append(a, v.(Expr))
	}
	return a
}

// Top returns the value on top of the stack or nil if the stack is empty.
func (s *Snapshot) Top() Expr {
	if n := s.stack.Len(); n > 0 {
		return s.stack.Get(n - 1).(Expr)
	}
	return nil
}

// Variable returns the value stored in a variable slot.
func (s *Snapshot) Variable(slot int) (Expr, bool) {
	v, ok := s.vars.Get(slot)
	if !ok {
		return nil, false
	}
	return v.(Expr), true
}

// Slots returns the defined variable slots in ascending order.
func (s *Snapshot) Slots() []int {
	a := make([]int, 0, s.vars.Len())
	for itr := s.vars.Iterator(); !itr.Done(); {
		k, _ := itr.Next()
		a = append(a, k.(int))
	}
	return a
}

// OwnConstraints returns the constraints added by the producing instruction.
func (s *Snapshot) OwnConstraints() []Expr {
	a := make([]Expr, len(s.own))
	copy(a, s.own)
	return a
}

// Constraints returns every constraint on the path from the method entry to
// s, root first.
func (s *Snapshot) Constraints() []Expr {
	var chain []*Snapshot
	for p := s; p != nil; p = p.Predecessor() {
		chain = append(chain, p)
	}

	var a []Expr
	for i := len(chain) - 1; i >= 0; i-- {
		a = append(a, chain[i].own...)
	}
	return a
}

// Predecessor returns the snapshot this one was derived from.
func (s *Snapshot) Predecessor() *Snapshot { return s.arena.get(s.pred) }

// WeakPredecessor returns the callee exit point a call successor was linked
// to. Returns nil for all other snapshots.
func (s *Snapshot) WeakPredecessor() *Snapshot { return s.arena.get(s.weak) }

// Successors returns the snapshots derived from s in execution order.
func (s *Snapshot) Successors() []*Snapshot {
	a := make([]*Snapshot, len(s.succs))
	for i, id := range s.succs {
		a[i] = s.arena.get(id)
	}
	return a
}

// IsExitPoint returns true if the snapshot was produced by a return.
func (s *Snapshot) IsExitPoint() bool {
	_, ok := s.instr.(*ReturnInstr)
	return ok
}

// ReturnValue returns the value returned at an exit point, if any.
func (s *Snapshot) ReturnValue() Expr {
	if !s.IsExitPoint() {
		return nil
	}
	return s.Top()
}

// String returns a short identifier for the snapshot.
func (s *Snapshot) String() string {
	return fmt.Sprintf("#%d %s@%d", s.id, s.method.Name, s.pc)
}

// Dump returns the contents of the snapshot as a string.
func (s *Snapshot) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "SNAPSHOT #%d\n", s.id)
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "method=%s\n", s.method)
	fmt.Fprintf(&buf, "pc=%d depth=%d\n", s.pc, s.depth)
	if s.instr != nil {
		fmt.Fprintf(&buf, "instr=%s\n", s.instr)
	}
	if p := s.Predecessor(); p != nil {
		fmt.Fprintf(&buf, "pred=#%d\n", p.id)
	}
	if w := s.WeakPredecessor(); w != nil {
		fmt.Fprintf(&buf, "weak=#%d (%s)\n", w.id, w.method.Name)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== STACK")
	stack := s.Stack()
	for i := len(stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "%d. %s\n", i, stack[i])
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== VARIABLES")
	for itr := s.vars.Iterator(); !itr.Done(); {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%d = %s\n", k, v)
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.Constraints() {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}
	return buf.String()
}

// successor returns an unpublished copy of s linked as its next successor.
// The stack and variables are shared structurally with s.
func (s *Snapshot) successor(instr Instruction, pc int) *Snapshot {
	other := s.derive(instr, pc)
	s.succs = append(s.succs, other.id)
	return other
}

// disconnected returns a copy of s that carries its constraints but is not
// part of the successor tree. It is used to test the feasibility of a state
// before committing to it.
func (s *Snapshot) disconnected() *Snapshot {
	other := s.derive(s.instr, s.pc)
	other.trial = true
	return other
}

func (s *Snapshot) derive(instr Instruction, pc int) *Snapshot {
	return s.arena.add(&Snapshot{
		method: s.method,
		instr:  instr,
		pc:     pc,
		stack:  s.stack,
		vars:   s.vars,
		pred:   s.id,
		weak:   -1,
		depth:  s.depth + 1,
	})
}

func (s *Snapshot) push(expr Expr) {
	s.stack = s.stack.Append(expr)
}

// pop removes n values from the top of the stack and returns them in stack
// order.
func (s *Snapshot) pop(n int) []Expr {
	l := s.stack.Len()
	assert(l >= n, "stack underflow: %s: need %d, have %d", s, n, l)

	a := make([]Expr, n)
	for i := range a {
		a[i] = s.stack.Get(l - n + i).(Expr)
	}
	s.stack = s.stack.Slice(0, l-n)
	return a
}

func (s *Snapshot) store(slot int, expr Expr) {
	s.vars = s.vars.Set(slot, expr)
}

// require adds expr to the snapshot's own constraints. Conjunctions are split
// into separate constraints and literal true is dropped.
func (s *Snapshot) require(expr Expr) {
	if IsLiteralTrue(expr) {
		return
	}
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND {
		s.require(expr.LHS)
		s.require(expr.RHS)
		return
	}
	s.own = append(s.own, expr)
}

// infeasible returns true if one of the snapshot's own constraints is the
// literal false.
func (s *Snapshot) infeasible() bool {
	for _, expr := range s.own {
		if IsLiteralFalse(expr) {
			return true
		}
	}
	return false
}

// arena owns every snapshot created by an engine.
type arena struct {
	snapshots []*Snapshot
}

// root adds an entry point snapshot for m with args in the first slots.
func (a *arena) root(m *Method, args []Expr) *Snapshot {
	vars := immutable.NewSortedMap(&slotComparer{})
	for i, arg := range args {
		vars = vars.Set(i, arg)
	}
	return a.add(&Snapshot{
		method: m,
		stack:  immutable.NewList(),
		vars:   vars,
		pred:   -1,
		weak:   -1,
	})
}

func (a *arena) add(s *Snapshot) *Snapshot {
	s.id = len(a.snapshots)
	s.arena = a
	a.snapshots = append(a.snapshots, s)
	return s
}

func (a *arena) get(id int) *Snapshot {
	if id < 0 {
		return nil
	}
	return a.snapshots[id]
}

// slotComparer compares two variable slot numbers. Implements immutable.Comparer.
type slotComparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not an int.
func (c *slotComparer) Compare(a, b interface{}) int {
	if i, j := a.(int), b.(int); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
