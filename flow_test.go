package fireproof

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseFlowScalar(t *testing.T) {
	flow, err := ParseFlow("basic_auth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Op != OpScalar || flow.Name != "basic_auth" {
		t.Fatalf("expected scalar basic_auth, got %v", flow)
	}
	if flow.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", flow.Depth())
	}
}

func TestParseFlowFlattening(t *testing.T) {
	flow, err := ParseFlow("a || b || c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Op != OpOr {
		t.Fatalf("expected OR node, got %v", flow.Op)
	}
	if len(flow.Children) != 3 {
		t.Fatalf("expected one ternary OR, got %d children", len(flow.Children))
	}
	if flow.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", flow.Depth())
	}
}

func TestParseFlowPrecedence(t *testing.T) {
	flow, err := ParseFlow("a && b || c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Op != OpOr || len(flow.Children) != 2 {
		t.Fatalf("expected OR(AND(a,b), c), got %s", flow)
	}
	if flow.Children[0].Op != OpAnd || len(flow.Children[0].Children) != 2 {
		t.Fatalf("expected first child AND(a,b), got %s", flow.Children[0])
	}
	if flow.Children[1].Name != "c" {
		t.Fatalf("expected second child c, got %s", flow.Children[1])
	}
}

func TestParseFlowGroupedNotCollapsed(t *testing.T) {
	flow, err := ParseFlow("a || (b || c)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flow.Children) != 2 {
		t.Fatalf("expected grouped OR preserved as child, got %d children", len(flow.Children))
	}
	if flow.Children[1].Op != OpOr {
		t.Fatalf("expected second child to stay an OR group, got %v", flow.Children[1].Op)
	}
	if flow.Depth() != 3 {
		t.Fatalf("expected depth 3, got %d", flow.Depth())
	}
}

func TestParseFlowErrors(t *testing.T) {
	cases := []string{
		"!a",
		"a && !b",
		"a & b",
		"a | b",
		"a &&",
		"(a || b",
		"a b",
		"",
		"a @ b",
	}
	for _, expr := range cases {
		if _, err := ParseFlow(expr); !errors.Is(err, ErrFlowSyntax) {
			t.Fatalf("expected ErrFlowSyntax for %q, got %v", expr, err)
		}
	}
}

func TestFlowEvaluate(t *testing.T) {
	cases := []struct {
		expr    string
		results map[string]bool
		want    bool
	}{
		{"a", map[string]bool{"a": true}, true},
		{"a", map[string]bool{}, false},
		{"a && b", map[string]bool{"a": true, "b": true}, true},
		{"a && b", map[string]bool{"a": true, "b": false}, false},
		{"a || b", map[string]bool{"a": false, "b": true}, true},
		{"a || b", map[string]bool{"a": false, "b": false}, false},
		{"a && (b || c)", map[string]bool{"a": true, "b": false, "c": true}, true},
		{"a && (b || c)", map[string]bool{"a": true, "b": false, "c": false}, false},
		{"(a || b) && (c || d)", map[string]bool{"b": true, "d": true}, true},
		{"(a || b) && (c || d)", map[string]bool{"b": true}, false},
		{"a || b && c", map[string]bool{"b": true, "c": true}, true},
		{"a || b && c", map[string]bool{"b": true}, false},
	}
	for _, tc := range cases {
		flow, err := ParseFlow(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		if got := flow.Evaluate(tc.results); got != tc.want {
			t.Fatalf("%q under %v: expected %v, got %v", tc.expr, tc.results, tc.want, got)
		}
	}
}

func TestFlowEvaluateRepeatedName(t *testing.T) {
	flow, err := ParseFlow("a || (a && b)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flow.Evaluate(map[string]bool{"a": true}) {
		t.Fatal("expected repeated name to evaluate consistently")
	}
}

func TestFlowNames(t *testing.T) {
	flow, err := ParseFlow("b && a || b && c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"b", "a", "c"}
	if got := flow.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected names %v, got %v", want, got)
	}
}

func TestFlowString(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"a", "a"},
		{"a&&b", "a && b"},
		{"a || b && c", "a || (b && c)"},
		{"(a || b) && c", "(a || b) && c"},
	}
	for _, tc := range cases {
		flow, err := ParseFlow(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		if got := flow.String(); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}
