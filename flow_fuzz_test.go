package fireproof

import (
	"testing"
)

// FuzzParseFlow exercises the flow expression parser with arbitrary inputs.
// Goal: no panics, graceful errors on malformed expressions, and a stable
// parse/render round-trip on accepted ones.
func FuzzParseFlow(f *testing.F) {
	// Seed with valid expressions at every nesting level the parser accepts.
	f.Add("api_key")
	f.Add("api_key && oauth2")
	f.Add("api_key || oauth2")
	f.Add("session || (api_key && bearer)")
	f.Add("(a && b) || (c && d) || e")
	f.Add("a || b && c")

	// Malformed inputs the parser must reject cleanly.
	f.Add("")
	f.Add("   ")
	f.Add("&&")
	f.Add("a &&")
	f.Add("a & b")
	f.Add("((a)")
	f.Add("a))")
	f.Add("a && (b || c) && d)")
	f.Add("!@#$%")

	f.Fuzz(func(t *testing.T, expr string) {
		// Must not panic. Errors are expected for malformed input.
		flow, err := ParseFlow(expr)
		if err != nil {
			return
		}
		if flow == nil {
			t.Fatal("expected non-nil flow on successful parse")
		}

		// An accepted expression must render back to something the parser
		// accepts again, and the second render must match the first.
		rendered := flow.String()
		reparsed, err := ParseFlow(rendered)
		if err != nil {
			t.Fatalf("reparse of %q failed: %v", rendered, err)
		}
		if got := reparsed.String(); got != rendered {
			t.Fatalf("expected stable round-trip, got %q then %q", rendered, got)
		}
	})
}
