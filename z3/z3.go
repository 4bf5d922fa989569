package z3

import (
	"fmt"
	"math/big"
	"time"
	"unsafe"

	"github.com/benbjohnson/flow"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
#include <stdio.h>
*/
import "C"

// Ensure solver implements interface.
var _ flow.Solver = (*Solver)(nil)

// Solver represents an incremental solver session backed by an embedded Z3
// context. A solver is not safe for concurrent use.
type Solver struct {
	ctx    *Context
	raw    C.Z3_solver
	reason string
	stats  Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() (*Solver, error) {
	ctx := NewContext()
	raw := C.Z3_mk_solver(ctx.raw)
	if err := ctx.err("Z3_mk_solver"); err != nil {
		ctx.Close()
		return nil, err
	}
	C.Z3_solver_inc_ref(ctx.raw, raw)
	return &Solver{ctx: ctx, raw: raw}, nil
}

// Close releases the solver and deletes the underlying Z3 context.
func (s *Solver) Close() error {
	C.Z3_solver_dec_ref(s.ctx.raw, s.raw)
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	stats := s.stats
	stats.Terms = s.ctx.n
	return stats
}

// ReasonUnknown returns the reason reported for the last undetermined check.
func (s *Solver) ReasonUnknown() string { return s.reason }

// SetTimeout limits the duration of each check. Checks that time out
// return flow.Undef.
func (s *Solver) SetTimeout(d time.Duration) error {
	params := C.Z3_mk_params(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_params"); err != nil {
		return err
	}
	C.Z3_params_inc_ref(s.ctx.raw, params)
	defer C.Z3_params_dec_ref(s.ctx.raw, params)

	cname := C.CString("timeout")
	defer C.free(unsafe.Pointer(cname))
	C.Z3_params_set_uint(s.ctx.raw, params, C.Z3_mk_string_symbol(s.ctx.raw, cname), C.uint(d/time.Millisecond))
	if err := s.ctx.err("Z3_params_set_uint"); err != nil {
		return err
	}

	C.Z3_solver_set_params(s.ctx.raw, s.raw, params)
	return s.ctx.err("Z3_solver_set_params")
}

// Push opens a new assertion scope.
func (s *Solver) Push() error {
	C.Z3_solver_push(s.ctx.raw, s.raw)
	return s.ctx.err("Z3_solver_push")
}

// Pop retracts every assertion made since the matching Push.
func (s *Solver) Pop() error {
	C.Z3_solver_pop(s.ctx.raw, s.raw, 1)
	return s.ctx.err("Z3_solver_pop")
}

// Assert adds a boolean expression to the current scope.
func (s *Solver) Assert(expr flow.Expr) error {
	ast, err := s.ctx.toAST(expr)
	if err != nil {
		return err
	}
	C.Z3_solver_assert(s.ctx.raw, s.raw, ast)
	if err := s.ctx.err("Z3_solver_assert"); err != nil {
		return err
	}
	s.stats.AssertN++
	return nil
}

// Check returns the satisfiability of every assertion in scope.
func (s *Solver) Check() (flow.Result, error) {
	t := time.Now()
	defer func() {
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
	}()

	ret := C.Z3_solver_check(s.ctx.raw, s.raw)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return flow.Undef, err
	}

	switch ret {
	case C.Z3_L_TRUE:
		return flow.Sat, nil
	case C.Z3_L_FALSE:
		return flow.Unsat, nil
	default:
		s.stats.UnknownN++
		s.reason = C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, s.raw))
		return flow.Undef, nil
	}
}

// Model returns values for the given placeholders that satisfy the
// assertions of the last successful check. Placeholders that do not appear
// in any assertion, and values of sorts without a literal form, are omitted.
func (s *Solver) Model(placeholders []*flow.PlaceholderExpr) (map[*flow.PlaceholderExpr]*flow.LiteralExpr, error) {
	model := C.Z3_solver_get_model(s.ctx.raw, s.raw)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return nil, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	values := make(map[*flow.PlaceholderExpr]*flow.LiteralExpr)
	for _, p := range placeholders {
		ast, ok := s.ctx.terms[p]
		if !ok {
			continue
		}

		var out C.Z3_ast
		C.Z3_model_eval(s.ctx.raw, model, ast, C.bool(true), &out)
		if err := s.ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}

		v, err := s.ctx.literal(p.Type, out)
		if err != nil {
			return nil, err
		} else if v != nil {
			values[p] = v
		}
	}
	return values, nil
}

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw C.Z3_context

	// Terms are cached by expression identity and by structure.
	terms  map[flow.Expr]C.Z3_ast
	hashed map[uint64][]cachedTerm
	sorts  map[string]C.Z3_sort
	n      int // distinct terms created
}

type cachedTerm struct {
	expr flow.Expr
	ast  C.Z3_ast
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{
		raw:    raw,
		terms:  make(map[flow.Expr]C.Z3_ast),
		hashed: make(map[uint64][]cachedTerm),
		sorts:  make(map[string]C.Z3_sort),
	}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// toAST returns the Z3 term for a flow expression.
func (ctx *Context) toAST(expr flow.Expr) (C.Z3_ast, error) {
	if ast, ok := ctx.terms[expr]; ok {
		return ast, nil
	}

	// Placeholders are distinct by identity only.
	var h uint64
	if _, ok := expr.(*flow.PlaceholderExpr); !ok {
		h = flow.ExprHash(expr)
		for _, term := range ctx.hashed[h] {
			if flow.ExprEqual(term.expr, expr) {
				ctx.terms[expr] = term.ast
				return term.ast, nil
			}
		}
	}

	ast, err := ctx.newAST(expr)
	if err != nil {
		return nil, err
	}

	ctx.n++
	ctx.terms[expr] = ast
	if _, ok := expr.(*flow.PlaceholderExpr); !ok {
		ctx.hashed[h] = append(ctx.hashed[h], cachedTerm{expr: expr, ast: ast})
	}
	return ast, nil
}

func (ctx *Context) newAST(expr flow.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *flow.LiteralExpr:
		return ctx.toLiteralAST(expr)
	case *flow.PlaceholderExpr:
		return ctx.toPlaceholderAST(expr)
	case *flow.UnaryExpr:
		return ctx.toUnaryAST(expr)
	case *flow.BinaryExpr:
		return ctx.toBinaryAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toLiteralAST(expr *flow.LiteralExpr) (C.Z3_ast, error) {
	switch v := expr.Value.(type) {
	case bool:
		if v {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	case int64:
		t, err := ctx.sort(flow.Integer)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_int64(ctx.raw, C.int64_t(v), t), ctx.err("Z3_mk_int64")
	case *big.Rat:
		return ctx.makeReal(v)
	case string:
		cs := C.CString(v)
		defer C.free(unsafe.Pointer(cs))
		return C.Z3_mk_lstring(ctx.raw, C.uint(len(v)), cs), ctx.err("Z3_mk_lstring")
	default:
		return nil, fmt.Errorf("z3.Context.toLiteralAST: invalid literal type: %T", v)
	}
}

// makeReal returns a real numeral. Z3 parses only non-negative fractions so
// the sign is applied separately.
func (ctx *Context) makeReal(v *big.Rat) (C.Z3_ast, error) {
	t, err := ctx.sort(flow.Real)
	if err != nil {
		return nil, err
	}

	cs := C.CString(new(big.Rat).Abs(v).String())
	defer C.free(unsafe.Pointer(cs))
	ast := C.Z3_mk_numeral(ctx.raw, cs, t)
	if err := ctx.err("Z3_mk_numeral"); err != nil {
		return nil, err
	} else if v.Sign() >= 0 {
		return ast, nil
	}
	return C.Z3_mk_unary_minus(ctx.raw, ast), ctx.err("Z3_mk_unary_minus")
}

func (ctx *Context) toPlaceholderAST(expr *flow.PlaceholderExpr) (C.Z3_ast, error) {
	t, err := ctx.sort(expr.Type)
	if err != nil {
		return nil, err
	}

	prefix := expr.Name
	if prefix == "" {
		prefix = "p"
	}
	cprefix := C.CString(prefix)
	defer C.free(unsafe.Pointer(cprefix))
	return C.Z3_mk_fresh_const(ctx.raw, cprefix, t), ctx.err("Z3_mk_fresh_const")
}

func (ctx *Context) toUnaryAST(expr *flow.UnaryExpr) (C.Z3_ast, error) {
	x, err := ctx.toAST(expr.X)
	if err != nil {
		return nil, err
	}

	switch expr.Op {
	case flow.NOT:
		return C.Z3_mk_not(ctx.raw, x), ctx.err("Z3_mk_not")
	case flow.NEG:
		return C.Z3_mk_unary_minus(ctx.raw, x), ctx.err("Z3_mk_unary_minus")
	case flow.ITOR:
		return C.Z3_mk_int2real(ctx.raw, x), ctx.err("Z3_mk_int2real")
	case flow.RTOI:
		return C.Z3_mk_real2int(ctx.raw, x), ctx.err("Z3_mk_real2int")
	default:
		return nil, fmt.Errorf("z3.Context.toUnaryAST: unexpected operation: %s", expr.Op)
	}
}

func (ctx *Context) toBinaryAST(expr *flow.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	args := []C.Z3_ast{lhs, rhs}

	switch expr.Op {
	case flow.ADD:
		if flow.TypesEqual(flow.ExprType(expr), flow.String) {
			return C.Z3_mk_seq_concat(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_seq_concat")
		}
		return C.Z3_mk_add(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_add")
	case flow.SUB:
		return C.Z3_mk_sub(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_sub")
	case flow.MUL:
		return C.Z3_mk_mul(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_mul")
	case flow.DIV:
		return C.Z3_mk_div(ctx.raw, lhs, rhs), ctx.err("Z3_mk_div")
	case flow.MOD:
		return C.Z3_mk_mod(ctx.raw, lhs, rhs), ctx.err("Z3_mk_mod")
	case flow.AND:
		return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
	case flow.OR:
		return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
	case flow.XOR:
		return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
	case flow.EQ:
		return C.Z3_mk_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_eq")
	case flow.LT:
		return C.Z3_mk_lt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_lt")
	case flow.GT:
		return C.Z3_mk_gt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_gt")
	default:
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
}

// sort returns the Z3 sort for a value type. Arrays are indexed by integers
// and structures are uninterpreted sorts named after the structure.
func (ctx *Context) sort(typ flow.ValueType) (C.Z3_sort, error) {
	key := flow.TypeString(typ)
	if t, ok := ctx.sorts[key]; ok {
		return t, nil
	}

	var t C.Z3_sort
	switch typ := typ.(type) {
	case *flow.BooleanType:
		t = C.Z3_mk_bool_sort(ctx.raw)
	case *flow.IntegerType:
		t = C.Z3_mk_int_sort(ctx.raw)
	case *flow.RealType:
		t = C.Z3_mk_real_sort(ctx.raw)
	case *flow.StringType:
		t = C.Z3_mk_string_sort(ctx.raw)
	case *flow.ArrayType:
		domain, err := ctx.sort(flow.Integer)
		if err != nil {
			return nil, err
		}
		elem, err := ctx.sort(typ.Elem)
		if err != nil {
			return nil, err
		}
		t = C.Z3_mk_array_sort(ctx.raw, domain, elem)
	case *flow.StructureType:
		cname := C.CString(typ.Name)
		defer C.free(unsafe.Pointer(cname))
		t = C.Z3_mk_uninterpreted_sort(ctx.raw, C.Z3_mk_string_symbol(ctx.raw, cname))
	default:
		return nil, fmt.Errorf("z3.Context.sort: invalid type: %s", key)
	}
	if err := ctx.err("Z3_mk_sort[" + key + "]"); err != nil {
		return nil, err
	}

	ctx.sorts[key] = t
	return t, nil
}

// literal converts an evaluated model value into a flow literal. Returns nil
// for sorts that have no literal form.
func (ctx *Context) literal(typ flow.ValueType, ast C.Z3_ast) (*flow.LiteralExpr, error) {
	switch typ.(type) {
	case *flow.BooleanType:
		v := C.Z3_get_bool_value(ctx.raw, ast)
		if err := ctx.err("Z3_get_bool_value"); err != nil {
			return nil, err
		}
		return flow.NewBoolLiteral(v == C.Z3_L_TRUE), nil
	case *flow.IntegerType:
		var v C.int64_t
		if !C.Z3_get_numeral_int64(ctx.raw, ast, &v) {
			return nil, fmt.Errorf("z3: integer out of range: %s", ctx.astToString(ast))
		}
		return flow.NewIntegerLiteral(int64(v)), ctx.err("Z3_get_numeral_int64")
	case *flow.RealType:
		s := C.GoString(C.Z3_get_numeral_string(ctx.raw, ast))
		if err := ctx.err("Z3_get_numeral_string"); err != nil {
			return nil, err
		}
		v, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, fmt.Errorf("z3: invalid real numeral: %q", s)
		}
		return flow.NewRealLiteral(v), nil
	default:
		return nil, nil
	}
}

func (ctx *Context) astToString(ast C.Z3_ast) string {
	return C.GoString(C.Z3_ast_to_string(ctx.raw, ast))
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)

// Stats holds counters for a solver session.
type Stats struct {
	AssertN   int
	SolveN    int
	UnknownN  int
	Terms     int
	SolveTime time.Duration
}
