package flow

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Expr represents a symbolic expression. Expressions are immutable once
// constructed.
type Expr interface {
	expr()
	String() string
}

func (*BinaryExpr) expr()      {}
func (*LiteralExpr) expr()     {}
func (*PlaceholderExpr) expr() {}
func (*UnaryExpr) expr()       {}

// ExprType returns the type of the expression.
func ExprType(expr Expr) ValueType {
	switch expr := expr.(type) {
	case *LiteralExpr:
		return expr.Type
	case *PlaceholderExpr:
		return expr.Type
	case *UnaryExpr:
		switch expr.Op {
		case ITOR:
			return Real
		case RTOI:
			return Integer
		default:
			return ExprType(expr.X)
		}
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return Boolean
		}
		return ExprType(expr.LHS)
	default:
		panic("unreachable")
	}
}

// UnaryOp represents a unary expression operation.
type UnaryOp int

// UnaryExpr operations.
const (
	NOT UnaryOp = iota + 1
	NEG
	ITOR // integer to real
	RTOI // real to integer, rounding down
)

var unaryOps = [...]string{
	NOT:  "not",
	NEG:  "neg",
	ITOR: "itor",
	RTOI: "rtoi",
}

// String returns the string representation of the operation.
func (op UnaryOp) String() string {
	if op >= 0 && op < UnaryOp(len(unaryOps)) && unaryOps[op] != "" {
		return unaryOps[op]
	}
	return fmt.Sprintf("UnaryOp<%d>", op)
}

// UnaryResultType returns the result type of op applied to an operand of
// type x. Returns a *TypeError if the operand is not accepted.
func UnaryResultType(op UnaryOp, x ValueType) (ValueType, error) {
	switch op {
	case NOT:
		if TypesEqual(x, Boolean) {
			return Boolean, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "bool", Got: []ValueType{x}}
	case NEG:
		if IsNumeric(x) {
			return x, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "int or real", Got: []ValueType{x}}
	case ITOR:
		if TypesEqual(x, Integer) {
			return Real, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "int", Got: []ValueType{x}}
	case RTOI:
		if TypesEqual(x, Real) {
			return Integer, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "real", Got: []ValueType{x}}
	default:
		return nil, fmt.Errorf("invalid unary operation: %s", op)
	}
}

// UnaryExpr represents an operation on a single expression.
type UnaryExpr struct {
	Op UnaryOp
	X  Expr
}

// NewUnaryExpr returns a new unary expression. Constant operands are folded.
func NewUnaryExpr(op UnaryOp, x Expr) (Expr, error) {
	if _, err := UnaryResultType(op, ExprType(x)); err != nil {
		return nil, err
	}

	switch op {
	case NOT:
		return newNotExpr(x), nil
	case NEG:
		return newNegExpr(x), nil
	case ITOR:
		if lit, ok := x.(*LiteralExpr); ok {
			return NewRealLiteral(new(big.Rat).SetInt64(lit.Int())), nil
		}
	case RTOI:
		if lit, ok := x.(*LiteralExpr); ok {
			r := lit.Rat()
			q := new(big.Int).Div(r.Num(), r.Denom()) // euclidean, denominator is positive
			if q.IsInt64() {
				return NewIntegerLiteral(q.Int64()), nil
			}
		}
	}
	return &UnaryExpr{Op: op, X: x}, nil
}

// NewNotExpr returns the negation of a boolean expression.
// Panics if expr is not a boolean.
func NewNotExpr(expr Expr) Expr {
	assert(TypesEqual(ExprType(expr), Boolean), "not expr: boolean required: %s", TypeString(ExprType(expr)))
	return newNotExpr(expr)
}

func newNotExpr(x Expr) Expr {
	if lit, ok := x.(*LiteralExpr); ok {
		return NewBoolLiteral(!lit.Bool())
	} else if other, ok := x.(*UnaryExpr); ok && other.Op == NOT {
		return other.X
	}
	return &UnaryExpr{Op: NOT, X: x}
}

func newNegExpr(x Expr) Expr {
	if lit, ok := x.(*LiteralExpr); ok {
		if v, ok := lit.Value.(int64); ok {
			if v != math.MinInt64 {
				return NewIntegerLiteral(-v)
			}
		} else {
			return NewRealLiteral(new(big.Rat).Neg(lit.Rat()))
		}
	} else if other, ok := x.(*UnaryExpr); ok && other.Op == NEG {
		return other.X
	}
	return &UnaryExpr{Op: NEG, X: x}
}

// String returns the string representation of the expression.
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("(%s %s)", e.Op, e.X)
}

// BinaryOp represents a binary expression operation.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	DIV
	MOD
	arithmetic_op_end

	logical_op_begin
	AND
	OR
	XOR
	logical_op_end

	compare_op_begin
	EQ
	LT
	GT
	compare_op_end
)

var binaryOps = [...]string{
	ADD: "add",
	SUB: "sub",
	MUL: "mul",
	DIV: "div",
	MOD: "mod",
	AND: "and",
	OR:  "or",
	XOR: "xor",
	EQ:  "eq",
	LT:  "lt",
	GT:  "gt",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsLogical returns true if op is a boolean connective.
func (op BinaryOp) IsLogical() bool {
	return op > logical_op_begin && op < logical_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryResultType returns the result type of op applied to operands of type
// lhs & rhs. Returns a *TypeError if the operands are not accepted.
func BinaryResultType(op BinaryOp, lhs, rhs ValueType) (ValueType, error) {
	got := []ValueType{lhs, rhs}
	same := TypesEqual(lhs, rhs)

	switch op {
	case EQ:
		if same && !TypesEqual(lhs, Empty) {
			return Boolean, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "operands of equal type", Got: got}
	case LT, GT:
		if same && IsNumeric(lhs) {
			return Boolean, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "int or real operands", Got: got}
	case ADD:
		if same && (IsNumeric(lhs) || TypesEqual(lhs, String)) {
			return lhs, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "int, real or string operands", Got: got}
	case SUB, MUL, DIV:
		if same && IsNumeric(lhs) {
			return lhs, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "int or real operands", Got: got}
	case MOD:
		if same && TypesEqual(lhs, Integer) {
			return Integer, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "int operands", Got: got}
	case AND, OR, XOR:
		if same && TypesEqual(lhs, Boolean) {
			return Boolean, nil
		}
		return nil, &TypeError{Op: op.String(), Want: "bool operands", Got: got}
	default:
		return nil, fmt.Errorf("invalid binary operation: %s", op)
	}
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a new binary expression. Constant operands are folded
// and trivial identities are simplified.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) (Expr, error) {
	if _, err := BinaryResultType(op, ExprType(lhs), ExprType(rhs)); err != nil {
		return nil, err
	}

	switch op {
	case ADD:
		return newAddExpr(lhs, rhs), nil
	case SUB:
		return newSubExpr(lhs, rhs), nil
	case MUL:
		return newMulExpr(lhs, rhs), nil
	case DIV:
		return newDivExpr(lhs, rhs), nil
	case MOD:
		return newModExpr(lhs, rhs), nil
	case AND:
		return newAndExpr(lhs, rhs), nil
	case OR:
		return newOrExpr(lhs, rhs), nil
	case XOR:
		return newXorExpr(lhs, rhs), nil
	case EQ:
		return newEqExpr(lhs, rhs), nil
	case LT:
		return newLtExpr(lhs, rhs), nil
	case GT:
		return newGtExpr(lhs, rhs), nil
	default:
		panic("unreachable")
	}
}

// MustBinaryExpr is like NewBinaryExpr but panics on a type error.
func MustBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	expr, err := NewBinaryExpr(op, lhs, rhs)
	if err != nil {
		panic(err)
	}
	return expr
}

// NewEqExpr returns an equality expression between two expressions of the
// same type. Panics if the types differ.
func NewEqExpr(lhs, rhs Expr) Expr {
	return MustBinaryExpr(EQ, lhs, rhs)
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// newAddExpr returns the expression representing the sum of lhs & rhs.
func newAddExpr(lhs, rhs Expr) Expr {
	// String concatenation is not commutative.
	if TypesEqual(ExprType(lhs), String) {
		l, lok := lhs.(*LiteralExpr)
		r, rok := rhs.(*LiteralExpr)
		switch {
		case lok && rok:
			return NewStringLiteral(l.Str() + r.Str())
		case lok && l.Str() == "":
			return rhs
		case rok && r.Str() == "":
			return lhs
		}
		return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
	}

	// Move literal expression to left hand side.
	if !IsLiteralExpr(lhs) && IsLiteralExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*LiteralExpr); ok {
		if lhs.isZero() {
			return rhs
		} else if rhs, ok := rhs.(*LiteralExpr); ok {
			if v, ok := lhs.add(rhs); ok {
				return v
			}
		}

		// X + (Y+z) == (X+Y) + z
		if rhs, ok := rhs.(*BinaryExpr); ok && rhs.Op == ADD {
			if y, ok := rhs.LHS.(*LiteralExpr); ok {
				if v, ok := lhs.add(y); ok {
					return newAddExpr(v, rhs.RHS)
				}
			}
		}
	}

	return &BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs}
}

// newSubExpr returns an expression representing the difference of lhs & rhs.
func newSubExpr(lhs, rhs Expr) Expr {
	// Subtracting a value from itself is zero.
	if CompareExpr(lhs, rhs) == 0 {
		return zeroLiteral(ExprType(lhs))
	}

	if rhs, ok := rhs.(*LiteralExpr); ok {
		if rhs.isZero() {
			return lhs
		} else if lhs, ok := lhs.(*LiteralExpr); ok {
			if v, ok := lhs.sub(rhs); ok {
				return v
			}
		}
	}
	return &BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs}
}

// newMulExpr returns an expression representing the product of lhs & rhs.
func newMulExpr(lhs, rhs Expr) Expr {
	if !IsLiteralExpr(lhs) && IsLiteralExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*LiteralExpr); ok {
		if lhs.isZero() {
			return lhs
		} else if lhs.isOne() {
			return rhs
		} else if rhs, ok := rhs.(*LiteralExpr); ok {
			if v, ok := lhs.mul(rhs); ok {
				return v
			}
		}
	}
	return &BinaryExpr{Op: MUL, LHS: lhs, RHS: rhs}
}

// newDivExpr returns an expression representing the quotient of lhs & rhs.
// Division by a literal zero is left to the solver.
func newDivExpr(lhs, rhs Expr) Expr {
	if rhs, ok := rhs.(*LiteralExpr); ok && !rhs.isZero() {
		if rhs.isOne() {
			return lhs
		} else if lhs, ok := lhs.(*LiteralExpr); ok {
			if v, ok := lhs.div(rhs); ok {
				return v
			}
		}
	}
	return &BinaryExpr{Op: DIV, LHS: lhs, RHS: rhs}
}

// newModExpr returns an expression representing the euclidean remainder.
func newModExpr(lhs, rhs Expr) Expr {
	if rhs, ok := rhs.(*LiteralExpr); ok && !rhs.isZero() {
		if lhs, ok := lhs.(*LiteralExpr); ok {
			_, r := euclidean(lhs.Int(), rhs.Int())
			return NewIntegerLiteral(r)
		}
	}
	return &BinaryExpr{Op: MOD, LHS: lhs, RHS: rhs}
}

func newAndExpr(lhs, rhs Expr) Expr {
	if !IsLiteralExpr(lhs) && IsLiteralExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if l, ok := lhs.(*LiteralExpr); ok {
		if !l.Bool() {
			return l // false and x == false
		}
		return rhs // true and x == x
	} else if CompareExpr(lhs, rhs) == 0 {
		return lhs
	}
	return &BinaryExpr{Op: AND, LHS: lhs, RHS: rhs}
}

func newOrExpr(lhs, rhs Expr) Expr {
	if !IsLiteralExpr(lhs) && IsLiteralExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if l, ok := lhs.(*LiteralExpr); ok {
		if l.Bool() {
			return l // true or x == true
		}
		return rhs // false or x == x
	} else if CompareExpr(lhs, rhs) == 0 {
		return lhs
	}
	return &BinaryExpr{Op: OR, LHS: lhs, RHS: rhs}
}

func newXorExpr(lhs, rhs Expr) Expr {
	if !IsLiteralExpr(lhs) && IsLiteralExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if l, ok := lhs.(*LiteralExpr); ok {
		if r, ok := rhs.(*LiteralExpr); ok {
			return NewBoolLiteral(l.Bool() != r.Bool())
		} else if l.Bool() {
			return newNotExpr(rhs)
		}
		return rhs
	} else if CompareExpr(lhs, rhs) == 0 {
		return NewBoolLiteral(false)
	}
	return &BinaryExpr{Op: XOR, LHS: lhs, RHS: rhs}
}

func newEqExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolLiteral(true)
	}

	if !IsLiteralExpr(lhs) && IsLiteralExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	if lhs, ok := lhs.(*LiteralExpr); ok {
		if rhs, ok := rhs.(*LiteralExpr); ok {
			return NewBoolLiteral(compareLiteralExpr(lhs, rhs) == 0)
		}

		// Reduce boolean equality against a constant.
		if v, ok := lhs.Value.(bool); ok {
			if v {
				return rhs
			}
			return newNotExpr(rhs)
		}
	}
	return &BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs}
}

func newLtExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolLiteral(false)
	}
	if lhs, ok := lhs.(*LiteralExpr); ok {
		if rhs, ok := rhs.(*LiteralExpr); ok {
			return NewBoolLiteral(compareLiteralExpr(lhs, rhs) < 0)
		}
	}
	return &BinaryExpr{Op: LT, LHS: lhs, RHS: rhs}
}

func newGtExpr(lhs, rhs Expr) Expr {
	if CompareExpr(lhs, rhs) == 0 {
		return NewBoolLiteral(false)
	}
	if lhs, ok := lhs.(*LiteralExpr); ok {
		if rhs, ok := rhs.(*LiteralExpr); ok {
			return NewBoolLiteral(compareLiteralExpr(lhs, rhs) > 0)
		}
	}
	return &BinaryExpr{Op: GT, LHS: lhs, RHS: rhs}
}

// LiteralExpr represents a constant value. The value is a bool, int64,
// *big.Rat or string depending on the type.
type LiteralExpr struct {
	Type  ValueType
	Value interface{}
}

// NewBoolLiteral returns a new boolean literal.
func NewBoolLiteral(v bool) *LiteralExpr {
	return &LiteralExpr{Type: Boolean, Value: v}
}

// NewIntegerLiteral returns a new integer literal.
func NewIntegerLiteral(v int64) *LiteralExpr {
	return &LiteralExpr{Type: Integer, Value: v}
}

// NewRealLiteral returns a new real literal. The value is copied.
func NewRealLiteral(v *big.Rat) *LiteralExpr {
	return &LiteralExpr{Type: Real, Value: new(big.Rat).Set(v)}
}

// NewStringLiteral returns a new string literal.
func NewStringLiteral(v string) *LiteralExpr {
	return &LiteralExpr{Type: String, Value: v}
}

// Bool returns the boolean value. Panics if the literal is not a boolean.
func (e *LiteralExpr) Bool() bool { return e.Value.(bool) }

// Int returns the integer value. Panics if the literal is not an integer.
func (e *LiteralExpr) Int() int64 { return e.Value.(int64) }

// Rat returns a copy of the real value. Panics if the literal is not real.
func (e *LiteralExpr) Rat() *big.Rat { return new(big.Rat).Set(e.Value.(*big.Rat)) }

// Str returns the string value. Panics if the literal is not a string.
func (e *LiteralExpr) Str() string { return e.Value.(string) }

// String returns the string representation of the expression.
func (e *LiteralExpr) String() string {
	switch v := e.Value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case *big.Rat:
		return v.RatString()
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (e *LiteralExpr) isZero() bool {
	switch v := e.Value.(type) {
	case int64:
		return v == 0
	case *big.Rat:
		return v.Sign() == 0
	default:
		return false
	}
}

func (e *LiteralExpr) isOne() bool {
	switch v := e.Value.(type) {
	case int64:
		return v == 1
	case *big.Rat:
		return v.IsInt() && v.Num().IsInt64() && v.Num().Int64() == 1
	default:
		return false
	}
}

// add returns e+other. Returns false if the integer result overflows.
func (e *LiteralExpr) add(other *LiteralExpr) (*LiteralExpr, bool) {
	switch v := e.Value.(type) {
	case int64:
		w := other.Int()
		if (w > 0 && v > math.MaxInt64-w) || (w < 0 && v < math.MinInt64-w) {
			return nil, false
		}
		return NewIntegerLiteral(v + w), true
	case *big.Rat:
		return NewRealLiteral(new(big.Rat).Add(v, other.Value.(*big.Rat))), true
	default:
		return nil, false
	}
}

func (e *LiteralExpr) sub(other *LiteralExpr) (*LiteralExpr, bool) {
	switch v := e.Value.(type) {
	case int64:
		w := other.Int()
		if (w < 0 && v > math.MaxInt64+w) || (w > 0 && v < math.MinInt64+w) {
			return nil, false
		}
		return NewIntegerLiteral(v - w), true
	case *big.Rat:
		return NewRealLiteral(new(big.Rat).Sub(v, other.Value.(*big.Rat))), true
	default:
		return nil, false
	}
}

func (e *LiteralExpr) mul(other *LiteralExpr) (*LiteralExpr, bool) {
	switch v := e.Value.(type) {
	case int64:
		p := new(big.Int).Mul(big.NewInt(v), big.NewInt(other.Int()))
		if !p.IsInt64() {
			return nil, false
		}
		return NewIntegerLiteral(p.Int64()), true
	case *big.Rat:
		return NewRealLiteral(new(big.Rat).Mul(v, other.Value.(*big.Rat))), true
	default:
		return nil, false
	}
}

// div returns e/other. The divisor must be non-zero.
func (e *LiteralExpr) div(other *LiteralExpr) (*LiteralExpr, bool) {
	switch v := e.Value.(type) {
	case int64:
		w := other.Int()
		if v == math.MinInt64 && w == -1 {
			return nil, false
		}
		q, _ := euclidean(v, w)
		return NewIntegerLiteral(q), true
	case *big.Rat:
		return NewRealLiteral(new(big.Rat).Quo(v, other.Value.(*big.Rat))), true
	default:
		return nil, false
	}
}

// euclidean returns the quotient and remainder such that a = b*q + r and
// 0 <= r < |b|. This matches integer division in SMT-LIB.
func euclidean(a, b int64) (q, r int64) {
	q, r = a/b, a%b
	if r < 0 {
		if b > 0 {
			q, r = q-1, r+b
		} else {
			q, r = q+1, r-b
		}
	}
	return q, r
}

func zeroLiteral(t ValueType) *LiteralExpr {
	switch t.(type) {
	case *IntegerType:
		return NewIntegerLiteral(0)
	case *RealType:
		return NewRealLiteral(new(big.Rat))
	default:
		panic(fmt.Sprintf("no zero value for type: %s", TypeString(t)))
	}
}

// IsLiteralExpr returns true if expr is a literal.
func IsLiteralExpr(expr Expr) bool {
	_, ok := expr.(*LiteralExpr)
	return ok
}

// IsLiteralTrue returns true if expr is the literal true.
func IsLiteralTrue(expr Expr) bool {
	v, ok := expr.(*LiteralExpr)
	return ok && v.Value == true
}

// IsLiteralFalse returns true if expr is the literal false.
func IsLiteralFalse(expr Expr) bool {
	v, ok := expr.(*LiteralExpr)
	return ok && v.Value == false
}

var placeholderID uint64

// PlaceholderExpr represents an unknown value of a given type. Two
// placeholders are the same value only if they are the same object.
type PlaceholderExpr struct {
	id   uint64
	Name string
	Type ValueType
}

// NewPlaceholder returns a new, distinct placeholder.
func NewPlaceholder(name string, typ ValueType) *PlaceholderExpr {
	assert(!TypesEqual(typ, Empty), "placeholder: empty type")
	return &PlaceholderExpr{
		id:   atomic.AddUint64(&placeholderID, 1),
		Name: name,
		Type: typ,
	}
}

// ID returns a process-wide unique identifier for the placeholder.
func (e *PlaceholderExpr) ID() uint64 { return e.id }

// String returns the string representation of the expression.
func (e *PlaceholderExpr) String() string {
	if e.Name == "" {
		return fmt.Sprintf("{_%d}", e.id)
	}
	return "{" + e.Name + "}"
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *LiteralExpr:
		return compareLiteralExpr(a, b.(*LiteralExpr))
	case *PlaceholderExpr:
		return compareUint64(a.id, b.(*PlaceholderExpr).id)
	case *UnaryExpr:
		return compareUnaryExpr(a, b.(*UnaryExpr))
	case *BinaryExpr:
		return compareBinaryExpr(a, b.(*BinaryExpr))
	default:
		panic("unreachable")
	}
}

// ExprEqual returns true if a and b are structurally equal.
func ExprEqual(a, b Expr) bool {
	return CompareExpr(a, b) == 0
}

func compareLiteralExpr(a, b *LiteralExpr) int {
	if ak, bk := typeKind(a.Type), typeKind(b.Type); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch av := a.Value.(type) {
	case bool:
		bv := b.Value.(bool)
		if av == bv {
			return 0
		} else if !av {
			return -1
		}
		return 1
	case int64:
		bv := b.Value.(int64)
		if av < bv {
			return -1
		} else if av > bv {
			return 1
		}
		return 0
	case *big.Rat:
		return av.Cmp(b.Value.(*big.Rat))
	case string:
		bv := b.Value.(string)
		if av < bv {
			return -1
		} else if av > bv {
			return 1
		}
		return 0
	default:
		panic("unreachable")
	}
}

func compareUnaryExpr(a, b *UnaryExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	return CompareExpr(a.X, b.X)
}

func compareBinaryExpr(a, b *BinaryExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.RHS, b.RHS)
}

func compareUint64(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *LiteralExpr:
		return 1
	case *PlaceholderExpr:
		return 2
	case *UnaryExpr:
		return 3
	case *BinaryExpr:
		return 4
	default:
		panic("unreachable")
	}
}

func typeKind(t ValueType) int {
	switch t.(type) {
	case *BooleanType:
		return 1
	case *IntegerType:
		return 2
	case *RealType:
		return 3
	case *StringType:
		return 4
	case *ArrayType:
		return 5
	case *StructureType:
		return 6
	default:
		return 0
	}
}

// ExprHash returns a structural hash of the expression. Placeholders hash by
// identity so structurally equal expressions hash equally.
func ExprHash(expr Expr) uint64 {
	d := xxhash.New()
	hashExpr(d, expr)
	return d.Sum64()
}

func hashExpr(d *xxhash.Digest, expr Expr) {
	var buf [9]byte
	buf[0] = byte(exprKind(expr))

	switch expr := expr.(type) {
	case *LiteralExpr:
		d.Write(buf[:1])
		d.WriteString(TypeString(expr.Type))
		d.WriteString(":")
		d.WriteString(expr.String())
	case *PlaceholderExpr:
		binary.BigEndian.PutUint64(buf[1:], expr.id)
		d.Write(buf[:])
	case *UnaryExpr:
		binary.BigEndian.PutUint64(buf[1:], uint64(expr.Op))
		d.Write(buf[:])
		hashExpr(d, expr.X)
	case *BinaryExpr:
		binary.BigEndian.PutUint64(buf[1:], uint64(expr.Op))
		d.Write(buf[:])
		hashExpr(d, expr.LHS)
		hashExpr(d, expr.RHS)
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return nil to skip the children.
	Visit(expr Expr) ExprVisitor
}

// WalkExpr traverses an expression tree in depth-first order.
func WalkExpr(v ExprVisitor, expr Expr) {
	if v = v.Visit(expr); v == nil {
		return
	}

	switch expr := expr.(type) {
	case *UnaryExpr:
		WalkExpr(v, expr.X)
	case *BinaryExpr:
		WalkExpr(v, expr.LHS)
		WalkExpr(v, expr.RHS)
	}
}

// Placeholders returns the distinct placeholders in the given expressions in
// order of first appearance.
func Placeholders(exprs ...Expr) []*PlaceholderExpr {
	v := &placeholderVisitor{m: make(map[*PlaceholderExpr]struct{})}
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}
	return v.a
}

type placeholderVisitor struct {
	m map[*PlaceholderExpr]struct{}
	a []*PlaceholderExpr
}

func (v *placeholderVisitor) Visit(expr Expr) ExprVisitor {
	if expr, ok := expr.(*PlaceholderExpr); ok {
		if _, ok := v.m[expr]; !ok {
			v.m[expr] = struct{}{}
			v.a = append(v.a, expr)
		}
	}
	return v
}

// Translate returns a new expression with sub-expressions substituted. The
// mapping function is called for each node from the root down; a non-nil
// return value replaces that node and its children are not visited. Nodes
// are rebuilt through the folding constructors. Returns a *TypeError if a
// replacement changes the type of a node.
func Translate(expr Expr, fn func(Expr) Expr) (Expr, error) {
	if other := fn(expr); other != nil {
		return other, nil
	}

	switch expr := expr.(type) {
	case *UnaryExpr:
		x, err := Translate(expr.X, fn)
		if err != nil {
			return nil, err
		} else if x == expr.X {
			return expr, nil
		}
		return NewUnaryExpr(expr.Op, x)
	case *BinaryExpr:
		lhs, err := Translate(expr.LHS, fn)
		if err != nil {
			return nil, err
		}
		rhs, err := Translate(expr.RHS, fn)
		if err != nil {
			return nil, err
		} else if lhs == expr.LHS && rhs == expr.RHS {
			return expr, nil
		}
		return NewBinaryExpr(expr.Op, lhs, rhs)
	default:
		return expr, nil
	}
}

// ExprEvaluator evaluates expressions using known placeholder values.
type ExprEvaluator struct {
	m map[*PlaceholderExpr]*LiteralExpr
}

// NewExprEvaluator returns a new instance of ExprEvaluator with the given
// placeholder bindings.
func NewExprEvaluator(bindings map[*PlaceholderExpr]*LiteralExpr) *ExprEvaluator {
	for p, v := range bindings {
		assert(TypesEqual(p.Type, v.Type), "binding type mismatch: %s != %s", TypeString(p.Type), TypeString(v.Type))
	}
	return &ExprEvaluator{m: bindings}
}

// Evaluate evaluates expr to a literal. Returns an error if an unbound
// placeholder is encountered or if the result cannot be computed exactly,
// such as on division by zero or integer overflow.
func (ee *ExprEvaluator) Evaluate(expr Expr) (*LiteralExpr, error) {
	switch expr := expr.(type) {
	case *LiteralExpr:
		return expr, nil
	case *PlaceholderExpr:
		v, ok := ee.m[expr]
		if !ok {
			return nil, fmt.Errorf("placeholder not bound: %s", expr)
		}
		return v, nil
	case *UnaryExpr:
		x, err := ee.Evaluate(expr.X)
		if err != nil {
			return nil, err
		}
		return ee.literal(NewUnaryExpr(expr.Op, x))
	case *BinaryExpr:
		lhs, err := ee.Evaluate(expr.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := ee.Evaluate(expr.RHS)
		if err != nil {
			return nil, err
		}
		return ee.literal(NewBinaryExpr(expr.Op, lhs, rhs))
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}

func (ee *ExprEvaluator) literal(expr Expr, err error) (*LiteralExpr, error) {
	if err != nil {
		return nil, err
	} else if lit, ok := expr.(*LiteralExpr); ok {
		return lit, nil
	}
	return nil, fmt.Errorf("cannot evaluate: %s", expr)
}
