package flow

import (
	"fmt"
)

// Instruction represents a single stack machine instruction.
type Instruction interface {
	instr()
	String() string
}

func (*AssertInstr) instr() {}
func (*AssignInstr) instr() {}
func (*BinaryInstr) instr() {}
func (*BranchInstr) instr() {}
func (*CallInstr) instr()   {}
func (*DupInstr) instr()    {}
func (*JumpInstr) instr()   {}
func (*Label) instr()       {}
func (*LoadInstr) instr()   {}
func (*PopInstr) instr()    {}
func (*PushInstr) instr()   {}
func (*ReturnInstr) instr() {}
func (*StoreInstr) instr()  {}
func (*UnaryInstr) instr()  {}

// PushInstr pushes a constant onto the stack.
type PushInstr struct {
	Value *LiteralExpr
}

func (i *PushInstr) String() string { return "push " + TypeString(i.Value.Type) + " " + i.Value.String() }

// DupInstr duplicates the value on top of the stack.
type DupInstr struct{}

func (i *DupInstr) String() string { return "dup" }

// PopInstr discards the value on top of the stack.
type PopInstr struct{}

func (i *PopInstr) String() string { return "pop" }

// UnaryInstr replaces the top of the stack with the result of an operation.
type UnaryInstr struct {
	Op UnaryOp
}

func (i *UnaryInstr) String() string { return i.Op.String() }

// BinaryInstr pops the right then the left operand and pushes the result.
type BinaryInstr struct {
	Op BinaryOp
}

func (i *BinaryInstr) String() string { return i.Op.String() }

// LoadInstr pushes the value of a variable slot.
type LoadInstr struct {
	Slot int
}

func (i *LoadInstr) String() string { return fmt.Sprintf("load %d", i.Slot) }

// StoreInstr pops the top of the stack into a variable slot.
type StoreInstr struct {
	Slot int
}

func (i *StoreInstr) String() string { return fmt.Sprintf("store %d", i.Slot) }

// AssignInstr pops the top of the stack and constrains a named placeholder
// to be equal to it. The placeholder can later be used in queries.
type AssignInstr struct {
	Var *PlaceholderExpr
}

func (i *AssignInstr) String() string { return "assign " + i.Var.String() }

// BranchInstr pops a boolean and jumps to Label if it is true.
type BranchInstr struct {
	Label *Label
}

func (i *BranchInstr) String() string { return "branch " + i.Label.String() }

// JumpInstr unconditionally jumps to Label.
type JumpInstr struct {
	Label *Label
}

func (i *JumpInstr) String() string { return "jump " + i.Label.String() }

// CallInstr invokes another method. Arguments are taken from the top of the
// stack in declaration order.
type CallInstr struct {
	Method *Method
}

func (i *CallInstr) String() string { return "call " + i.Method.Name }

// ReturnInstr exits the method. The stack holds the return value, if any.
type ReturnInstr struct{}

func (i *ReturnInstr) String() string { return "return" }

// AssertInstr pops a boolean and checks that it classifies as Expect.
type AssertInstr struct {
	Expect Classification
}

func (i *AssertInstr) String() string { return "assert " + i.Expect.String() }

// Label marks a position in the instruction list. It does not affect state.
type Label struct {
	Name  string
	index int // position in method; -1 if unbound

	// Abstract state recorded by the builder when the label is first
	// referenced or bound.
	state *blockState
}

// NewLabel returns a new unbound label.
func NewLabel(name string) *Label {
	return &Label{Name: name, index: -1}
}

// Index returns the position of the label within its method.
// Returns -1 if the label has not been bound.
func (l *Label) Index() int { return l.index }

func (l *Label) String() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("L%p", l)
}

// isTerminator returns true if control never falls through instr.
func isTerminator(instr Instruction) bool {
	switch instr.(type) {
	case *JumpInstr, *ReturnInstr:
		return true
	default:
		return false
	}
}
