package flow_test

import (
	"errors"
	"testing"

	"github.com/benbjohnson/flow"
	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	t.Run("IfElse", func(t *testing.T) {
		m := NewAbsMethod(t)
		if diff := cmp.Diff([]string{
			"load 0", "push int 0", "lt", "not", "branch L1",
			"load 0", "neg", "return",
			"L1", "load 0", "return",
			"L2",
		}, instrStrings(m)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Loop", func(t *testing.T) {
		m := flow.NewBuilder("count", []flow.ValueType{flow.Integer}, flow.Integer).
			PushInt(0).Store(1).
			Loop().
			Load(1).Load(0).Lt().Not().BreakIf().
			Load(1).PushInt(1).Add().Store(1).
			End().
			Load(1).Return().
			MustBuild()

		if diff := cmp.Diff([]string{
			"push int 0", "store 1",
			"L1", "load 1", "load 0", "lt", "not", "branch L2",
			"load 1", "push int 1", "add", "store 1", "jump L1",
			"L2", "load 1", "return",
		}, instrStrings(m)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("ImplicitReturn", func(t *testing.T) {
		m := flow.NewBuilder("f", []flow.ValueType{flow.Integer}, flow.Empty).
			Load(0).Pop().
			MustBuild()
		if diff := cmp.Diff([]string{"load 0", "pop", "return"}, instrStrings(m)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Labels", func(t *testing.T) {
		b := flow.NewBuilder("f", nil, flow.Integer)
		l := b.NewLabel()
		m := b.PushBool(true).Branch(l).
			PushInt(1).Return().
			Bind(l).PushInt(2).Return().
			MustBuild()
		if l.Index() != 4 {
			t.Fatalf("unexpected index: %d", l.Index())
		}
		if diff := cmp.Diff([]string{"push bool true", "branch L1", "push int 1", "return", "L1", "push int 2", "return"}, instrStrings(m)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Join", func(t *testing.T) {
		// Slot 1 is defined on both paths; slot 2 only on one.
		b := flow.NewBuilder("f", []flow.ValueType{flow.Boolean}, flow.Empty).
			Load(0).If().
			PushInt(1).Store(1).PushInt(1).Store(2).
			Else().
			PushInt(2).Store(1).
			End()
		if b.Load(1).Pop(); b.Err() != nil {
			t.Fatal(b.Err())
		}
		b.Load(2)
		if err := b.Err(); err == nil || err.Error() != "type error: load 2: expected defined variable slot, got []" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("RevivedLabel", func(t *testing.T) {
		// L1 follows a jump and is only reached by the later backward branch.
		b := flow.NewBuilder("f", nil, flow.Empty)
		l1, l2 := b.NewLabel(), b.NewLabel()
		m := b.PushInt(0).Store(0).Jump(l2).
			Bind(l1).PushInt(1).Store(0).
			Bind(l2).Load(0).PushInt(0).Eq().Branch(l1).
			MustBuild()

		if diff := cmp.Diff([]string{
			"push int 0", "store 0", "jump L2",
			"L1", "push int 1", "store 0",
			"L2", "load 0", "push int 0", "eq", "branch L1",
			"return",
		}, instrStrings(m)); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Callees", func(t *testing.T) {
		inc := NewIncMethod(t)
		log := flow.NewBuilder("log", []flow.ValueType{flow.Integer}, flow.Empty).MustBuild()
		m := flow.NewBuilder("f", []flow.ValueType{flow.Integer}, flow.Integer).
			Load(0).Call(inc).Call(inc).Dup().Call(log).
			Return().
			MustBuild()

		if diff := cmp.Diff([]string{"inc", "log"}, methodNames(m.Callees())); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Stack", func(t *testing.T) {
		b := flow.NewBuilder("f", []flow.ValueType{flow.Integer}, flow.Empty).Load(0).Dup().IntToReal()
		if got, want := typeStrings(b.Stack()), []string{"int", "real"}; !cmp.Equal(got, want) {
			t.Fatal(cmp.Diff(want, got))
		}
	})

	t.Run("AssertDefault", func(t *testing.T) {
		m := flow.NewBuilder("f", nil, flow.Empty).PushBool(true).Assert().PushBool(false).Assert(flow.AlwaysFalse).MustBuild()
		if c := m.Instrs[1].(*flow.AssertInstr).Expect; c != flow.AlwaysTrue {
			t.Fatalf("unexpected classification: %s", c)
		} else if c := m.Instrs[3].(*flow.AssertInstr).Expect; c != flow.AlwaysFalse {
			t.Fatalf("unexpected classification: %s", c)
		}
	})
}

func TestBuilder_Err(t *testing.T) {
	t.Run("TypeError", func(t *testing.T) {
		b := flow.NewBuilder("f", nil, flow.Empty).PushInt(1).PushBool(true).Add()
		var typeErr *flow.TypeError
		if err := b.Err(); !errors.As(err, &typeErr) {
			t.Fatalf("unexpected error: %#v", err)
		} else if err.Error() != "type error: add: expected int, real or string operands, got [int bool]" {
			t.Fatalf("unexpected error: %s", err)
		}

		// Errors are sticky.
		if _, err := b.Pop().Pop().Build(); !errors.As(err, &typeErr) || typeErr.Op != "add" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("StackMismatch", func(t *testing.T) {
		_, err := flow.NewBuilder("f", []flow.ValueType{flow.Boolean}, flow.Empty).
			Load(0).If().PushInt(1).End().
			Build()
		var mismatch *flow.StackMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("unexpected error: %#v", err)
		} else if err.Error() != "stack mismatch at L1: [] != [int]" {
			t.Fatalf("unexpected error: %s", err)
		}
	})

	t.Run("StackMismatchAfterTerminator", func(t *testing.T) {
		// Code after L1 is entered from the backward branch and falls into L2
		// with an extra value on the stack.
		b := flow.NewBuilder("f", nil, flow.Integer)
		l1, l2 := b.NewLabel(), b.NewLabel()
		_, err := b.PushInt(0).Store(1).Jump(l2).
			Bind(l1).PushInt(1).Store(1).PushInt(42).
			Bind(l2).Load(1).PushInt(0).Eq().Branch(l1).
			Load(1).Return().
			Build()
		var mismatch *flow.StackMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("unexpected error: %#v", err)
		} else if err.Error() != "stack mismatch at L2: [] != [int]" {
			t.Fatalf("unexpected error: %s", err)
		}
	})

	t.Run("ReturnMismatch", func(t *testing.T) {
		_, err := flow.NewBuilder("f", nil, flow.Integer).PushBool(true).Return().Build()
		if err == nil || err.Error() != "stack mismatch at return: [int] != [bool]" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("MissingReturn", func(t *testing.T) {
		_, err := flow.NewBuilder("f", nil, flow.Integer).PushInt(1).Build()
		if !errors.Is(err, flow.ErrMissingReturn) {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("UnboundLabel", func(t *testing.T) {
		_, err := flow.NewBuilder("f", nil, flow.Empty).Jump(flow.NewLabel("x")).Build()
		if !errors.Is(err, flow.ErrUnboundLabel) {
			t.Fatalf("unexpected error: %v", err)
		} else if err.Error() != "f: unbound label: x" {
			t.Fatalf("unexpected error: %s", err)
		}
	})

	t.Run("LabelAlreadyBound", func(t *testing.T) {
		l := flow.NewLabel("x")
		if err := flow.NewBuilder("f", nil, flow.Empty).Bind(l).Bind(l).Err(); err == nil || err.Error() != "label already bound: x" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("UndefinedSlot", func(t *testing.T) {
		var typeErr *flow.TypeError
		if err := flow.NewBuilder("f", nil, flow.Empty).Load(3).Err(); !errors.As(err, &typeErr) || typeErr.Op != "load 3" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("CallArgs", func(t *testing.T) {
		err := flow.NewBuilder("f", nil, flow.Empty).PushBool(true).Call(NewIncMethod(t)).Err()
		if err == nil || err.Error() != "type error: call inc: expected [int], got [bool]" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("EmptyArg", func(t *testing.T) {
		if err := flow.NewBuilder("f", []flow.ValueType{flow.Empty}, flow.Empty).Err(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("ElseWithoutIf", func(t *testing.T) {
		if err := flow.NewBuilder("f", nil, flow.Empty).Else().Err(); err == nil || err.Error() != "else without if" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("BreakOutsideLoop", func(t *testing.T) {
		if err := flow.NewBuilder("f", nil, flow.Empty).Break().Err(); err == nil || err.Error() != "break outside of loop" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("UnterminatedBlock", func(t *testing.T) {
		_, err := flow.NewBuilder("f", nil, flow.Empty).Loop().Build()
		if err == nil || err.Error() != "f: unterminated block" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ZeroDenominator", func(t *testing.T) {
		if err := flow.NewBuilder("f", nil, flow.Empty).PushReal(1, 0).Err(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestMethod_String(t *testing.T) {
	if s := NewAbsMethod(t).String(); s != "abs[int] int" {
		t.Fatalf("unexpected string: %s", s)
	}
}

// NewAbsMethod returns a method computing the absolute value of its argument.
func NewAbsMethod(tb testing.TB) *flow.Method {
	tb.Helper()
	m, err := flow.NewBuilder("abs", []flow.ValueType{flow.Integer}, flow.Integer).
		Load(0).PushInt(0).Lt().
		If().
		Load(0).Neg().Return().
		Else().
		Load(0).Return().
		End().
		Build()
	if err != nil {
		tb.Fatal(err)
	}
	return m
}

// NewIncMethod returns a method adding one to its argument.
func NewIncMethod(tb testing.TB) *flow.Method {
	tb.Helper()
	m, err := flow.NewBuilder("inc", []flow.ValueType{flow.Integer}, flow.Integer).
		Load(0).PushInt(1).Add().Return().
		Build()
	if err != nil {
		tb.Fatal(err)
	}
	return m
}

func instrStrings(m *flow.Method) []string {
	a := make([]string, len(m.Instrs))
	for i, instr := range m.Instrs {
		a[i] = instr.String()
	}
	return a
}

func methodNames(methods []*flow.Method) []string {
	a := make([]string, len(methods))
	for i, m := range methods {
		a[i] = m.Name
	}
	return a
}

func typeStrings(types []flow.ValueType) []string {
	a := make([]string, len(types))
	for i, t := range types {
		a[i] = flow.TypeString(t)
	}
	return a
}
