package flow_test

import (
	"testing"

	"github.com/benbjohnson/flow"
)

func TestCombineClassifications(t *testing.T) {
	for _, tt := range []struct {
		in   []flow.Classification
		want flow.Classification
	}{
		{nil, flow.Unreachable},
		{[]flow.Classification{flow.Unreachable, flow.Unreachable}, flow.Unreachable},
		{[]flow.Classification{flow.AlwaysTrue}, flow.AlwaysTrue},
		{[]flow.Classification{flow.AlwaysTrue, flow.Unreachable, flow.AlwaysTrue}, flow.AlwaysTrue},
		{[]flow.Classification{flow.Unreachable, flow.AlwaysFalse}, flow.AlwaysFalse},
		{[]flow.Classification{flow.AlwaysTrue, flow.AlwaysFalse}, flow.AnyValue},
		{[]flow.Classification{flow.AnyValue, flow.AlwaysTrue}, flow.AnyValue},
		{[]flow.Classification{flow.AlwaysTrue, flow.Unknown, flow.AlwaysTrue}, flow.Unknown},
		{[]flow.Classification{flow.Unknown, flow.Unreachable}, flow.Unknown},
	} {
		if got := flow.CombineClassifications(tt.in...); got != tt.want {
			t.Errorf("combine(%v)=%s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseClassification(t *testing.T) {
	for s, want := range map[string]flow.Classification{
		"unreachable":  flow.Unreachable,
		"true":         flow.AlwaysTrue,
		"always-true":  flow.AlwaysTrue,
		"FALSE":        flow.AlwaysFalse,
		"always-false": flow.AlwaysFalse,
		"any":          flow.AnyValue,
		"any-value":    flow.AnyValue,
		"unknown":      flow.Unknown,
	} {
		if got, err := flow.ParseClassification(s); err != nil {
			t.Fatal(err)
		} else if got != want {
			t.Fatalf("%s: unexpected classification: %s", s, got)
		}
	}

	if _, err := flow.ParseClassification("maybe"); err == nil || err.Error() != `invalid classification: "maybe"` {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassification_String(t *testing.T) {
	for c := flow.Unreachable; c <= flow.Unknown; c++ {
		other, err := flow.ParseClassification(c.String())
		if err != nil {
			t.Fatal(err)
		} else if other != c {
			t.Fatalf("unexpected classification: %s", other)
		}
	}
	if got, want := flow.Classification(100).String(), "Classification<100>"; got != want {
		t.Fatalf("String()=%s, want %s", got, want)
	}
}

func TestResult_String(t *testing.T) {
	for r, want := range map[flow.Result]string{flow.Sat: "sat", flow.Unsat: "unsat", flow.Undef: "unknown"} {
		if got := r.String(); got != want {
			t.Fatalf("String()=%s, want %s", got, want)
		}
	}
}
