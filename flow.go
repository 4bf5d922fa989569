// Package flow implements a symbolic executor for a small typed stack machine.
//
// Methods are constructed with a Builder, which type checks every instruction
// as it is appended. An Engine explores every feasible path through a method,
// recording a tree of Snapshots, and answers reachability and classification
// queries against an incremental SMT solver session.
package flow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnboundLabel  = errors.New("unbound label")
	ErrMissingReturn = errors.New("missing return")
	ErrNoSolver      = errors.New("solver required")
	ErrEngineClosed  = errors.New("engine closed")
)

// Result represents the outcome of a satisfiability check.
type Result int

const (
	Undef Result = iota
	Sat
	Unsat
)

// String returns the string representation of the result.
func (r Result) String() string {
	switch r {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	default:
		return "unknown"
	}
}

// Solver represents an incremental logical constraint solver.
//
// Assertions made after a Push() are retracted by the matching Pop(). The
// solver is responsible for translating expressions into its own terms.
type Solver interface {
	Push() error
	Pop() error
	Assert(expr Expr) error

	// Returns the satisfiability of all assertions currently in scope.
	// Timeouts and resource limits are reported as Undef, not as errors.
	Check() (Result, error)

	Close() error
}

// Classification is the verdict for a boolean expression at a snapshot.
type Classification int

const (
	Unreachable Classification = iota
	AlwaysTrue
	AlwaysFalse
	AnyValue
	Unknown
)

var classifications = [...]string{
	Unreachable: "unreachable",
	AlwaysTrue:  "always-true",
	AlwaysFalse: "always-false",
	AnyValue:    "any-value",
	Unknown:     "unknown",
}

// String returns the string representation of the classification.
func (c Classification) String() string {
	if c >= 0 && int(c) < len(classifications) {
		return classifications[c]
	}
	return fmt.Sprintf("Classification<%d>", c)
}

// ParseClassification returns the classification for the given name.
func ParseClassification(s string) (Classification, error) {
	switch strings.ToLower(s) {
	case "unreachable":
		return Unreachable, nil
	case "true", "always-true":
		return AlwaysTrue, nil
	case "false", "always-false":
		return AlwaysFalse, nil
	case "any", "any-value":
		return AnyValue, nil
	case "unknown":
		return Unknown, nil
	default:
		return 0, fmt.Errorf("invalid classification: %q", s)
	}
}

// classify combines the outcomes of the "true" and "false" queries.
func classify(t, f Result) Classification {
	switch {
	case t == Undef || f == Undef:
		return Unknown
	case t == Sat && f == Sat:
		return AnyValue
	case t == Sat:
		return AlwaysTrue
	case f == Sat:
		return AlwaysFalse
	default:
		return Unreachable
	}
}

// CombineClassifications joins the verdicts of several paths reaching the
// same program point. Unreachable paths do not contribute.
func CombineClassifications(a ...Classification) Classification {
	result := Unreachable
	for _, c := range a {
		switch {
		case c == Unknown:
			return Unknown
		case c == Unreachable:
			continue
		case result == Unreachable:
			result = c
		case result != c:
			result = AnyValue
		}
	}
	return result
}

// TypeError is returned when an operand does not satisfy an instruction's
// or operator's type contract.
type TypeError struct {
	Op   string
	Want string
	Got  []ValueType
}

// Error returns the error as a string.
func (e *TypeError) Error() string {
	a := make([]string, len(e.Got))
	for i, t := range e.Got {
		a[i] = TypeString(t)
	}
	return fmt.Sprintf("type error: %s: expected %s, got [%s]", e.Op, e.Want, strings.Join(a, " "))
}

// StackMismatchError is returned when two control flow edges meeting at the
// same label carry different abstract stacks.
type StackMismatchError struct {
	Label string
	Want  []ValueType
	Got   []ValueType
}

// Error returns the error as a string.
func (e *StackMismatchError) Error() string {
	return fmt.Sprintf("stack mismatch at %s: %s != %s", e.Label, typeList(e.Want), typeList(e.Got))
}

// AssertionFailure is returned when a debug assertion does not classify as
// its expected value.
type AssertionFailure struct {
	Method   string
	PC       int
	Expr     Expr
	Expected Classification
	Actual   Classification

	// Placeholder values that violate the assertion, if the solver
	// produces models.
	Witness map[*PlaceholderExpr]*LiteralExpr
}

// Error returns the error as a string.
func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("assertion failed: %s@%d: %s: expected %s, got %s", e.Method, e.PC, e.Expr, e.Expected, e.Actual)
}

// SolverError wraps an error returned by the solver backend.
type SolverError struct {
	Op  string
	Err error
}

// Error returns the error as a string.
func (e *SolverError) Error() string {
	return fmt.Sprintf("solver: %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *SolverError) Unwrap() error { return e.Err }

// RecursionError is returned when a method transitively calls itself.
type RecursionError struct {
	Cycle []string
}

// Error returns the error as a string.
func (e *RecursionError) Error() string {
	return fmt.Sprintf("recursive call graph: %s", strings.Join(e.Cycle, " -> "))
}

// LimitError is returned when a path exceeds the configured depth.
type LimitError struct {
	Method string
	Depth  int
}

// Error returns the error as a string.
func (e *LimitError) Error() string {
	return fmt.Sprintf("path depth limit exceeded: %s: %d", e.Method, e.Depth)
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
