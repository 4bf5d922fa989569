package flow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
)

// Method represents a typed instruction sequence. Methods are created by a
// Builder and are immutable afterward.
type Method struct {
	Name   string
	Args   []ValueType
	Return ValueType
	Instrs []Instruction
}

// Callees returns the distinct methods called by m in order of first call.
func (m *Method) Callees() []*Method {
	var a []*Method
	seen := make(map[*Method]struct{})
	for _, instr := range m.Instrs {
		if instr, ok := instr.(*CallInstr); ok {
			if _, ok := seen[instr.Method]; !ok {
				seen[instr.Method] = struct{}{}
				a = append(a, instr.Method)
			}
		}
	}
	return a
}

// String returns the method signature.
func (m *Method) String() string {
	return fmt.Sprintf("%s%s %s", m.Name, typeList(m.Args), TypeString(m.Return))
}

// Dump returns an instruction listing of the method.
func (m *Method) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "method %s\n", m)
	for i, instr := range m.Instrs {
		if _, ok := instr.(*Label); ok {
			fmt.Fprintf(&buf, "%4d %s:\n", i, instr)
			continue
		}
		fmt.Fprintf(&buf, "%4d \t%s\n", i, instr)
	}
	return buf.String()
}

// blockState is the abstract state tracked while building: the types on the
// stack and the types of the defined variable slots.
type blockState struct {
	stack []ValueType
	vars  map[int]ValueType
}

func (s *blockState) clone() *blockState {
	other := &blockState{
		stack: make([]ValueType, len(s.stack)),
		vars:  make(map[int]ValueType, len(s.vars)),
	}
	copy(other.stack, s.stack)
	for k, v := range s.vars {
		other.vars[k] = v
	}
	return other
}

// intersect removes variable slots that are not defined with the same type
// in other.
func (s *blockState) intersect(other *blockState) {
	for k, v := range s.vars {
		if t, ok := other.vars[k]; !ok || !TypesEqual(t, v) {
			delete(s.vars, k)
		}
	}
}

type blockKind int

const (
	blockIf blockKind = iota + 1
	blockLoop
)

// block is an open structured control flow construct.
type block struct {
	kind    blockKind
	start   *Label // loop only
	els     *Label // if only
	end     *Label
	hasElse bool
}

// Builder constructs a Method while type checking every instruction against
// an abstract stack. The first error is retained; subsequent calls are
// ignored and the error is returned from Build().
type Builder struct {
	method *Method
	state  *blockState
	dead   bool // previous instruction never falls through
	orphan bool // dead code following an unreferenced label
	blocks []*block
	labels []*Label
	labelN int
	err    error
}

// NewBuilder returns a builder for a method with the given signature.
// Argument i is available in variable slot i.
func NewBuilder(name string, args []ValueType, ret ValueType) *Builder {
	b := &Builder{
		method: &Method{
			Name:   name,
			Args:   args,
			Return: ret,
		},
		state: &blockState{vars: make(map[int]ValueType)},
	}
	for i, typ := range args {
		if TypesEqual(typ, Empty) {
			b.err = &TypeError{Op: "argument", Want: "value type", Got: []ValueType{typ}}
		}
		b.state.vars[i] = typ
	}
	return b
}

// Err returns the first error encountered while building.
func (b *Builder) Err() error { return b.err }

// Stack returns a copy of the current abstract stack.
func (b *Builder) Stack() []ValueType {
	a := make([]ValueType, len(b.state.stack))
	copy(a, b.state.stack)
	return a
}

// Build finalizes the method. A return is appended if the method has no
// return value and control may reach the end of the body.
func (b *Builder) Build() (*Method, error) {
	if b.err != nil {
		return nil, b.err
	} else if len(b.blocks) > 0 {
		return nil, fmt.Errorf("%s: unterminated block", b.method.Name)
	}

	if !b.dead {
		if !TypesEqual(b.method.Return, Empty) {
			return nil, fmt.Errorf("%s: %w", b.method.Name, ErrMissingReturn)
		} else if b.Return(); b.err != nil {
			return nil, b.err
		}
	}

	for _, l := range b.labels {
		if l.index < 0 {
			return nil, fmt.Errorf("%s: %w: %s", b.method.Name, ErrUnboundLabel, l)
		}
	}
	return b.method, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Method {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

func (b *Builder) emit(instr Instruction) *Builder {
	b.method.Instrs = append(b.method.Instrs, instr)
	return b
}

func (b *Builder) push(t ValueType) {
	b.state.stack = append(b.state.stack, t)
}

// pop removes and returns n types from the top of the stack. Sets a type
// error if the stack is too shallow.
func (b *Builder) pop(op string, n int) []ValueType {
	if len(b.state.stack) < n {
		b.err = &TypeError{Op: op, Want: fmt.Sprintf("%d operand(s)", n), Got: b.Stack()}
		return nil
	}
	a := b.state.stack[len(b.state.stack)-n:]
	b.state.stack = b.state.stack[:len(b.state.stack)-n:len(b.state.stack)-n]
	return a
}

// popType removes the top of the stack, requiring it to be of type want.
func (b *Builder) popType(op string, want ValueType) bool {
	if n := len(b.state.stack); n == 0 || !TypesEqual(b.state.stack[n-1], want) {
		b.err = &TypeError{Op: op, Want: TypeString(want), Got: b.Stack()}
		return false
	}
	b.pop(op, 1)
	return true
}

// Push appends an instruction that pushes a literal.
func (b *Builder) Push(v *LiteralExpr) *Builder {
	if b.err != nil {
		return b
	}
	b.push(v.Type)
	return b.emit(&PushInstr{Value: v})
}

func (b *Builder) PushBool(v bool) *Builder     { return b.Push(NewBoolLiteral(v)) }
func (b *Builder) PushInt(v int64) *Builder     { return b.Push(NewIntegerLiteral(v)) }
func (b *Builder) PushString(v string) *Builder { return b.Push(NewStringLiteral(v)) }

// PushReal pushes the rational value num/denom.
func (b *Builder) PushReal(num, denom int64) *Builder {
	if denom == 0 {
		if b.err == nil {
			b.err = errors.New("real literal: zero denominator")
		}
		return b
	}
	return b.Push(NewRealLiteral(big.NewRat(num, denom)))
}

// Dup duplicates the top of the stack.
func (b *Builder) Dup() *Builder {
	if b.err != nil {
		return b
	}
	a := b.pop("dup", 1)
	if a == nil {
		return b
	}
	b.push(a[0])
	b.push(a[0])
	return b.emit(&DupInstr{})
}

// Pop discards the top of the stack.
func (b *Builder) Pop() *Builder {
	if b.err != nil {
		return b
	} else if b.pop("pop", 1) == nil {
		return b
	}
	return b.emit(&PopInstr{})
}

// Unary appends a unary operation on the top of the stack.
func (b *Builder) Unary(op UnaryOp) *Builder {
	if b.err != nil {
		return b
	}
	a := b.pop(op.String(), 1)
	if a == nil {
		return b
	}
	t, err := UnaryResultType(op, a[0])
	if err != nil {
		b.err = err
		return b
	}
	b.push(t)
	return b.emit(&UnaryInstr{Op: op})
}

func (b *Builder) Not() *Builder       { return b.Unary(NOT) }
func (b *Builder) Neg() *Builder       { return b.Unary(NEG) }
func (b *Builder) IntToReal() *Builder { return b.Unary(ITOR) }
func (b *Builder) RealToInt() *Builder { return b.Unary(RTOI) }

// Binary appends a binary operation on the two values on top of the stack.
func (b *Builder) Binary(op BinaryOp) *Builder {
	if b.err != nil {
		return b
	}
	a := b.pop(op.String(), 2)
	if a == nil {
		return b
	}
	t, err := BinaryResultType(op, a[0], a[1])
	if err != nil {
		b.err = err
		return b
	}
	b.push(t)
	return b.emit(&BinaryInstr{Op: op})
}

func (b *Builder) Add() *Builder { return b.Binary(ADD) }
func (b *Builder) Sub() *Builder { return b.Binary(SUB) }
func (b *Builder) Mul() *Builder { return b.Binary(MUL) }
func (b *Builder) Div() *Builder { return b.Binary(DIV) }
func (b *Builder) Mod() *Builder { return b.Binary(MOD) }
func (b *Builder) And() *Builder { return b.Binary(AND) }
func (b *Builder) Or() *Builder  { return b.Binary(OR) }
func (b *Builder) Xor() *Builder { return b.Binary(XOR) }
func (b *Builder) Eq() *Builder  { return b.Binary(EQ) }
func (b *Builder) Lt() *Builder  { return b.Binary(LT) }
func (b *Builder) Gt() *Builder  { return b.Binary(GT) }

// Load pushes the value of a defined variable slot.
func (b *Builder) Load(slot int) *Builder {
	if b.err != nil {
		return b
	}
	t, ok := b.state.vars[slot]
	if !ok {
		b.err = &TypeError{Op: fmt.Sprintf("load %d", slot), Want: "defined variable slot", Got: nil}
		return b
	}
	b.push(t)
	return b.emit(&LoadInstr{Slot: slot})
}

// Store pops the top of the stack into a variable slot.
func (b *Builder) Store(slot int) *Builder {
	if b.err != nil {
		return b
	} else if slot < 0 {
		b.err = fmt.Errorf("store: invalid slot: %d", slot)
		return b
	}
	a := b.pop(fmt.Sprintf("store %d", slot), 1)
	if a == nil {
		return b
	}
	b.state.vars[slot] = a[0]
	return b.emit(&StoreInstr{Slot: slot})
}

// Assign pops the top of the stack and constrains v to equal it.
func (b *Builder) Assign(v *PlaceholderExpr) *Builder {
	if b.err != nil {
		return b
	} else if !b.popType("assign "+v.String(), v.Type) {
		return b
	}
	return b.emit(&AssignInstr{Var: v})
}

// NewLabel returns a new label owned by the builder.
func (b *Builder) NewLabel() *Label {
	b.labelN++
	return NewLabel(fmt.Sprintf("L%d", b.labelN))
}

// Bind places l at the current position. Control flowing into the label
// from a jump must carry the same stack as the current position.
func (b *Builder) Bind(l *Label) *Builder {
	if b.err != nil {
		return b
	} else if l.index >= 0 {
		b.err = fmt.Errorf("label already bound: %s", l)
		return b
	}

	// A label that is not yet referenced and follows a terminator remains
	// unreachable until a later jump targets it. Code after such a label may
	// still fall through into the next one so its stack must agree.
	switch {
	case l.state == nil:
		l.state = b.state.clone()
		b.orphan = b.orphan || b.dead
	case b.dead && !b.orphan:
		b.state = l.state.clone()
		b.dead = false
	default:
		if !typesEqual(l.state.stack, b.state.stack) {
			b.err = &StackMismatchError{Label: l.String(), Want: l.state.stack, Got: b.Stack()}
			return b
		}
		l.state.intersect(b.state)
		b.state = l.state.clone()
		b.dead, b.orphan = false, false
	}

	b.addLabel(l)
	l.index = len(b.method.Instrs)
	return b.emit(l)
}

// reference records the current state as an incoming edge of l.
func (b *Builder) reference(l *Label) {
	b.addLabel(l)

	if l.state == nil {
		l.state = b.state.clone()
		return
	} else if !typesEqual(l.state.stack, b.state.stack) {
		b.err = &StackMismatchError{Label: l.String(), Want: l.state.stack, Got: b.Stack()}
		return
	}

	// Backward edges must define every slot the label's code relies on.
	if l.index >= 0 {
		for _, slot := range sortedSlots(l.state.vars) {
			if t, ok := b.state.vars[slot]; !ok || !TypesEqual(t, l.state.vars[slot]) {
				b.err = &TypeError{Op: "jump " + l.String(), Want: fmt.Sprintf("slot %d of type %s", slot, TypeString(l.state.vars[slot])), Got: nil}
				return
			}
		}
		return
	}
	l.state.intersect(b.state)
}

func (b *Builder) addLabel(l *Label) {
	for _, other := range b.labels {
		if other == l {
			return
		}
	}
	b.labels = append(b.labels, l)
}

// Branch pops a boolean and jumps to l if it is true.
func (b *Builder) Branch(l *Label) *Builder {
	if b.err != nil {
		return b
	} else if !b.popType("branch "+l.String(), Boolean) {
		return b
	}
	if b.reference(l); b.err != nil {
		return b
	}
	return b.emit(&BranchInstr{Label: l})
}

// Jump unconditionally jumps to l.
func (b *Builder) Jump(l *Label) *Builder {
	if b.err != nil {
		return b
	}
	if b.reference(l); b.err != nil {
		return b
	}
	b.dead, b.orphan = true, false
	return b.emit(&JumpInstr{Label: l})
}

// Call invokes m with arguments taken from the top of the stack.
func (b *Builder) Call(m *Method) *Builder {
	if b.err != nil {
		return b
	}

	op := "call " + m.Name
	n := len(b.state.stack)
	if n < len(m.Args) || !typesEqual(b.state.stack[n-len(m.Args):], m.Args) {
		b.err = &TypeError{Op: op, Want: typeList(m.Args), Got: b.Stack()}
		return b
	}
	b.pop(op, len(m.Args))
	if !TypesEqual(m.Return, Empty) {
		b.push(m.Return)
	}
	return b.emit(&CallInstr{Method: m})
}

// Return exits the method. The stack must hold exactly the return value,
// or nothing for methods without one.
func (b *Builder) Return() *Builder {
	if b.err != nil {
		return b
	}

	want := []ValueType{}
	if !TypesEqual(b.method.Return, Empty) {
		want = []ValueType{b.method.Return}
	}
	if !typesEqual(b.state.stack, want) {
		b.err = &StackMismatchError{Label: "return", Want: want, Got: b.Stack()}
		return b
	}
	b.state.stack = nil
	b.dead, b.orphan = true, false
	return b.emit(&ReturnInstr{})
}

// Assert pops a boolean and checks during analysis that it classifies as
// expect. Defaults to AlwaysTrue.
func (b *Builder) Assert(expect ...Classification) *Builder {
	if b.err != nil {
		return b
	}
	c := AlwaysTrue
	if len(expect) > 0 {
		c = expect[0]
	}
	if !b.popType("assert", Boolean) {
		return b
	}
	return b.emit(&AssertInstr{Expect: c})
}

// If pops a boolean and begins a block executed when it is true. The block
// is closed by End() and may contain an Else().
func (b *Builder) If() *Builder {
	if b.err != nil {
		return b
	}
	blk := &block{kind: blockIf, els: b.NewLabel(), end: b.NewLabel()}
	if b.Not().Branch(blk.els); b.err != nil {
		return b
	}
	b.blocks = append(b.blocks, blk)
	return b
}

// Else begins the alternative of the innermost If().
func (b *Builder) Else() *Builder {
	if b.err != nil {
		return b
	}
	blk := b.top()
	if blk == nil || blk.kind != blockIf || blk.hasElse {
		b.err = errors.New("else without if")
		return b
	}
	blk.hasElse = true
	if !b.dead {
		b.Jump(blk.end)
	}
	return b.Bind(blk.els)
}

// Loop begins a block that repeats until exited with Break() or BreakIf().
func (b *Builder) Loop() *Builder {
	if b.err != nil {
		return b
	}
	blk := &block{kind: blockLoop, start: b.NewLabel(), end: b.NewLabel()}
	if b.Bind(blk.start); b.err != nil {
		return b
	}
	b.blocks = append(b.blocks, blk)
	return b
}

// Break exits the innermost loop.
func (b *Builder) Break() *Builder {
	if blk := b.loop("break"); blk != nil {
		b.Jump(blk.end)
	}
	return b
}

// BreakIf pops a boolean and exits the innermost loop if it is true.
func (b *Builder) BreakIf() *Builder {
	if blk := b.loop("breakif"); blk != nil {
		b.Branch(blk.end)
	}
	return b
}

// Continue jumps to the start of the innermost loop.
func (b *Builder) Continue() *Builder {
	if blk := b.loop("continue"); blk != nil {
		b.Jump(blk.start)
	}
	return b
}

// End closes the innermost If() or Loop().
func (b *Builder) End() *Builder {
	if b.err != nil {
		return b
	}
	blk := b.top()
	if blk == nil {
		b.err = errors.New("end without block")
		return b
	}
	b.blocks = b.blocks[:len(b.blocks)-1]

	switch blk.kind {
	case blockIf:
		if !blk.hasElse {
			return b.Bind(blk.els)
		}
		return b.Bind(blk.end)
	default:
		if !b.dead {
			b.Jump(blk.start)
		}
		return b.Bind(blk.end)
	}
}

func (b *Builder) top() *block {
	if len(b.blocks) == 0 {
		return nil
	}
	return b.blocks[len(b.blocks)-1]
}

func (b *Builder) loop(op string) *block {
	if b.err != nil {
		return nil
	}
	for i := len(b.blocks) - 1; i >= 0; i-- {
		if b.blocks[i].kind == blockLoop {
			return b.blocks[i]
		}
	}
	b.err = fmt.Errorf("%s outside of loop", op)
	return nil
}

func sortedSlots(m map[int]ValueType) []int {
	a := make([]int, 0, len(m))
	for k := range m {
		a = append(a, k)
	}
	sort.Ints(a)
	return a
}
